package dos

import "sync"

// BStr is a BCPL-style string: length-prefixed, not NUL-terminated.
// Filesystem packets carry names in this form; the handler copies them
// into ordinary strings before use rather than terminating them in
// place.
type BStr []byte

// MakeBStr builds a BCPL string from a Go string, truncating at 255
// bytes.
func MakeBStr(s string) BStr {
	if len(s) > 255 {
		s = s[:255]
	}
	b := make(BStr, len(s)+1)
	b[0] = byte(len(s))
	copy(b[1:], s)
	return b
}

// String returns the Go form of the BCPL string.
func (b BStr) String() string {
	if len(b) == 0 {
		return ""
	}
	n := int(b[0])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return string(b[1 : 1+n])
}

// SetString stores s into the fixed-capacity BCPL buffer b, truncating
// to capacity minus the length byte and terminator.
func (b BStr) SetString(s string) {
	max := len(b) - 2
	if len(s) > max {
		s = s[:max]
	}
	b[0] = byte(len(s))
	copy(b[1:], s)
	b[1+len(s)] = 0
}

// TicksPerSecond is the DateStamp tick rate.
const TicksPerSecond = 50

// unixToAmigaEpoch is the offset between the Unix epoch and the Amiga
// epoch of 1-Jan-1978 (2922 days).
const unixToAmigaEpoch = 2922 * 24 * 60 * 60

// DateStamp is the AmigaDOS time representation.
type DateStamp struct {
	Days   int32
	Minute int32
	Tick   int32
}

// DateStampFromUnix converts seconds since 1970 to a DateStamp.
// Times before the Amiga epoch clamp to zero days.
func DateStampFromUnix(sec uint32) DateStamp {
	if sec >= unixToAmigaEpoch {
		sec -= unixToAmigaEpoch
	} else {
		sec = 0
	}
	return DateStamp{
		Days:   int32(sec / 86400),
		Minute: int32(sec % 86400 / 60),
		Tick:   int32(sec % 60 * TicksPerSecond),
	}
}

// Unix converts a DateStamp back to seconds since 1970.
func (ds DateStamp) Unix() uint32 {
	return uint32(ds.Days)*86400 + uint32(ds.Minute)*60 +
		uint32(ds.Tick)/TicksPerSecond + unixToAmigaEpoch
}

// FileInfoBlock is the examine result structure. FileName and Comment
// are BCPL-style fixed buffers.
type FileInfoBlock struct {
	DiskKey      uint32
	DirEntryType int32
	FileName     [108]byte
	Protection   uint32
	EntryType    int32
	Size         uint32
	NumBlocks    uint32
	Date         DateStamp
	Comment      [80]byte
	OwnerUID     uint16
	OwnerGID     uint16
}

// FileAttr is the NFS-style attribute record filled for the AS225
// extended examine packets.
type FileAttr struct {
	Type      uint32
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Size      uint32
	BlockSize uint32
	Rdev      uint32
	Blocks    uint32
	FSID      uint32
	FileID    uint32
	Atime     uint32
	AtimeUS   uint32
	Mtime     uint32
	MtimeUS   uint32
	Ctime     uint32
	CtimeUS   uint32
}

// InfoData is the disk information structure.
type InfoData struct {
	NumSoftErrors uint32
	UnitNumber    uint32
	DiskState     uint32
	NumBlocks     uint32
	NumBlocksUsed uint32
	BytesPerBlock uint32
	DiskType      uint32
	VolumeNode    *DeviceList
	InUse         uint32
}

// FileHandle is the caller-visible file handle a Find packet fills in.
// Arg1 carries the handler's private file record.
type FileHandle struct {
	Port interface{} // non-nil only for interactive handlers
	Type *MsgPort    // handler message port
	Arg1 interface{} // filesystem-internal file identifier
}

// DeviceList is one node of the DOS device list: a volume or device
// entry published by a handler. LockList anchors the handler's lock
// chain for the volume.
type DeviceList struct {
	Next       *DeviceList
	Type       int
	Task       *MsgPort
	Name       string
	DiskType   uint32
	VolumeDate DateStamp
	LockList   interface{}
}

// DevInfo is the global device list. Mutation happens under the lock,
// the analogue of the Forbid/Permit window a real handler uses.
type DevInfo struct {
	mu   sync.Mutex
	head *DeviceList
}

// Lock takes the list lock.
func (di *DevInfo) Lock() { di.mu.Lock() }

// Unlock drops the list lock.
func (di *DevInfo) Unlock() { di.mu.Unlock() }

// Add chains a node onto the head of the list. The caller holds the
// lock.
func (di *DevInfo) Add(node *DeviceList) {
	node.Next = di.head
	di.head = node
}

// Remove unchains a node. The caller holds the lock. It reports whether
// the node was found.
func (di *DevInfo) Remove(node *DeviceList) bool {
	removed := false
	var parent *DeviceList
	for cur := di.head; cur != nil; {
		if cur == node {
			removed = true
			cur.Task = nil
			if parent == nil {
				di.head = cur.Next
			} else {
				parent.Next = cur.Next
			}
			cur = cur.Next
		} else {
			parent = cur
			cur = cur.Next
		}
	}
	return removed
}

// NamePresent reports whether a node by the given name (compared
// case-insensitively, as AmigaDOS does) exists, excluding ignore. The
// caller holds the lock.
func (di *DevInfo) NamePresent(name string, ignore *DeviceList) bool {
	for cur := di.head; cur != nil; cur = cur.Next {
		if cur != ignore && strEqFold(cur.Name, name) {
			return true
		}
	}
	return false
}

// strEqFold is an ASCII case-insensitive compare matching the
// filesystem's name rules.
func strEqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca != cb && ca|32 != cb|32 {
			return false
		}
	}
	return true
}
