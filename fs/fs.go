// Package fs holds the wire-level definitions shared by every layer of
// smashfs: Kicksmash command and status codes, the remote message header,
// file operation codes, type and mode bits, and directory entries.
package fs

import "fmt"

// Kicksmash command codes. These travel in the 16-bit command field of a
// bus frame.
const (
	KSCmdNull     = 0x00 // Do nothing
	KSCmdNop      = 0x01 // Do nothing but reply
	KSCmdID       = 0x02 // Reply with Kicksmash ID and configuration
	KSCmdUptime   = 0x03 // Report Kicksmash uptime in microseconds
	KSCmdMsgInfo  = 0x20 // Query message queue sizes
	KSCmdMsgSend  = 0x21 // Send a remote message
	KSCmdMsgRecv  = 0x22 // Receive a remote message
	KSCmdMsgLock  = 0x23 // Lock or unlock message buffers
	KSCmdMsgFlush = 0x24 // Discard pending messages in both directions
	KSCmdAppState = 0x25 // Get or set application state words
)

// Command modifiers (upper byte of the command field).
const (
	KSMsgAltBuf   = 0x0100 // Operate on the alternate message buffer
	KSMsgUnlock   = 0x0100 // Unlock instead of lock
	KSAppStateSet = 0x0100 // Set application state instead of get
)

// Kicksmash status codes. The high byte is always non-zero for errors so
// that the three status ranges (remote file, Kicksmash, local) stay
// disjoint.
const (
	KSStatusOK     = 0x0000
	KSStatusFail   = 0x0100
	KSStatusCRC    = 0x0200
	KSStatusUnkCmd = 0x0300
	KSStatusBadArg = 0x0400
	KSStatusBadLen = 0x0500
	KSStatusNoData = 0x0600
	KSStatusLocked = 0x0700
)

// Status codes detected locally by the transport. These live near the top
// of the 32-bit range so they cannot collide with peer-generated codes.
const (
	StatusNoReply   = 0xfffffff9 // No reply magic seen on the bus
	StatusBadLength = 0xfffffff8 // Reply length exceeds the receive buffer
	StatusBadCRC    = 0xfffffff7 // Reply CRC mismatch
	StatusBadData   = 0xfffffff6 // Reply data invalid
	StatusPrgTmout  = 0xfffffff5 // Program/erase timeout
	StatusPrgFail   = 0xfffffff4 // Program/erase failure
	StatusNoMem     = 0xfffffff3 // No memory available
)

// Remote message operation codes (km_op field of MsgHdr).
const (
	OpNull      = 0x00 // Do nothing (discard message)
	OpNop       = 0x01 // Do nothing but reply
	OpID        = 0x02 // Report app ID and configuration
	OpLoopback  = 0x06 // Message loopback
	OpFOpen     = 0x10 // File storage open
	OpFClose    = 0x11 // File storage close
	OpFRead     = 0x12 // File storage read
	OpFWrite    = 0x13 // File storage write
	OpFSeek     = 0x14 // File storage seek
	OpFCreate   = 0x15 // File storage create
	OpFDelete   = 0x16 // File storage delete
	OpFRename   = 0x17 // File storage rename
	OpFPath     = 0x18 // File storage get path to handle
	OpFSetPerms = 0x19 // File storage set permissions
	OpFSetOwn   = 0x1a // File storage set owner / group
	OpFSetDate  = 0x1b // File storage set date

	OpReply = 0x80 // Reply flag, ORed into the request op
)

// Remote file status codes (km_status field of a reply MsgHdr).
const (
	StatusOK       = 0x00
	StatusFail     = 0x01 // General failure
	StatusEOF      = 0x02 // End of file (or directory) reached
	StatusUnkCmd   = 0x03 // Unknown command
	StatusPerm     = 0x04 // Permission failure
	StatusInvalid  = 0x05 // Invalid mode for operation
	StatusNotEmpty = 0x06 // Directory not empty
	StatusNoExist  = 0x07 // Object does not exist
	StatusExist    = 0x08 // Object already exists
	StatusUnavail  = 0x09 // File service unavailable
)

// Application state bits. Each side advertises a 16-bit word.
const (
	AppStateServiceUp    = 0x0001 // Message service is alive
	AppStateHaveLoopback = 0x0002 // Side answers OpLoopback
	AppStateHaveFile     = 0x0004 // Side offers file service
)

// File and directory type codes.
const (
	TypeUnknown = 0x0000
	TypeFile    = 0x0001
	TypeDir     = 0x0002
	TypeLink    = 0x0003 // Symbolic (soft) link
	TypeHLink   = 0x0004 // Hard link
	TypeBDev    = 0x0005 // Block device
	TypeCDev    = 0x0006 // Character device
	TypeFifo    = 0x0007
	TypeSocket  = 0x0008
	TypeWhtout  = 0x0009 // Whiteout entry
	TypeVolume  = 0x000a // Disk volume
	TypeVolDir  = 0x000b // Volume directory
)

// Open mode bits.
const (
	ModeRead     = 0x0001
	ModeWrite    = 0x0002
	ModeRdWr     = 0x0003
	ModeAppend   = 0x0004
	ModeCreate   = 0x0100 // Create file if it doesn't exist
	ModeTrunc    = 0x0200 // Truncate file at open
	ModeDir      = 0x0800 // Read directory entry in parent (stat)
	ModeReadDir  = ModeDir | ModeRead
	ModeNoFollow = 0x1000 // Do not follow symlink on ModeReadDir
	ModeLink     = 0x2000 // Symlink
	ModeReadLink = ModeLink | ModeRead
)

// Read flags.
const (
	FlagSeek0 = 0x0001 // Seek to the start of file before read
)

// Timestamp selectors for the set-date operation: even values set, odd
// values only fetch the previous value.
const (
	DateSetMtime = 0
	DateGetMtime = 1
	DateSetCtime = 2
	DateGetCtime = 3
	DateSetAtime = 4
	DateGetAtime = 5
)

// Handle identifies an open object on the remote side. Two values are
// special as parent handles and never returned from an open: 0 names the
// volume directory of the current volume and HandleDefVolume names the
// default volume.
type Handle = uint32

// HandleDefVolume selects the peer's default volume when used as a parent.
const HandleDefVolume Handle = 0xffffffff

// MsgHdrSize is the encoded size of a MsgHdr.
const MsgHdrSize = 4

// MsgHdr is the header carried by every remote message. Replies echo the
// request tag and set OpReply in Op.
type MsgHdr struct {
	Op     uint8
	Status uint8
	Tag    uint16
}

// Encode appends the wire form of the header to b.
func (h MsgHdr) Encode(b []byte) []byte {
	return append(b, h.Op, h.Status, byte(h.Tag>>8), byte(h.Tag))
}

// DecodeMsgHdr reads a header from the start of b, which must hold at
// least MsgHdrSize bytes.
func DecodeMsgHdr(b []byte) MsgHdr {
	return MsgHdr{
		Op:     b[0],
		Status: b[1],
		Tag:    uint16(b[2])<<8 | uint16(b[3]),
	}
}

// IsReply reports whether the header describes a reply message.
func (h MsgHdr) IsReply() bool {
	return h.Op&OpReply != 0
}

func (h MsgHdr) String() string {
	return fmt.Sprintf("op=%02x status=%02x tag=%04x", h.Op, h.Status, h.Tag)
}

// StatusText returns a readable form of a status code from any of the
// three ranges.
func StatusText(status uint32) string {
	if name, ok := statusNames[status]; ok {
		return fmt.Sprintf("%d %s", int32(status), name)
	}
	return fmt.Sprintf("%d Unknown", int32(status))
}

var statusNames = map[uint32]string{
	StatusOK:       "OK",
	StatusFail:     "FAIL",
	StatusEOF:      "EOF",
	StatusUnkCmd:   "UNKCMD",
	StatusPerm:     "PERM",
	StatusInvalid:  "INVALID",
	StatusNotEmpty: "NOTEMPTY",
	StatusNoExist:  "NOEXIST",
	StatusExist:    "EXIST",
	StatusUnavail:  "UNAVAIL",

	KSStatusFail:   "KS failure",
	KSStatusCRC:    "KS reports CRC bad",
	KSStatusUnkCmd: "KS detected unknown command",
	KSStatusBadArg: "KS reports bad command argument",
	KSStatusBadLen: "KS reports bad message length",
	KSStatusNoData: "KS reports no data available",
	KSStatusLocked: "KS reports resource locked",

	StatusNoReply:   "no reply from Kicksmash",
	StatusBadLength: "bad length detected",
	StatusBadCRC:    "CRC failure detected",
	StatusBadData:   "invalid data",
	StatusPrgTmout:  "program/erase timeout",
	StatusPrgFail:   "program/erase failure",
	StatusNoMem:     "no memory available",
}
