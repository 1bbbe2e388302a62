package peer

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
	"github.com/kicksmash/smashfs/msgq"
)

// readCap bounds one read reply's data so a single request cannot pin
// an arbitrary amount of memory. Larger reads loop on the Amiga side.
const readCap = 30000

// Mount maps an advertised volume name onto a host directory.
type Mount struct {
	Name string // volume name as advertised to the Amiga
	Root string // host directory backing the volume
}

// svcFile is one open handle: either a byte-oriented file, a directory
// entry stream, or a symlink-text read.
type svcFile struct {
	vol  *Mount
	rel  string // path within the volume, "" at the root
	typ  uint16
	f    *os.File
	ents []*fs.DirEnt // non-nil for entry streams
	pos  int          // stream position
	link *string      // symlink text, consumed by one read
}

// Service is the host side of the file protocol: it drains the
// Amiga -> USB queue, executes file operations against its mounts and
// replies through the USB -> Amiga queue. One reader goroutine consumes
// inbound messages and one keepalive goroutine refreshes the
// application state.
type Service struct {
	mcu    *MCU
	mounts []Mount

	mu      sync.Mutex
	handles map[fs.Handle]*svcFile
	next    fs.Handle
}

// NewService returns a Service exporting the given mounts. The first
// mount is the default volume.
func NewService(mcu *MCU, mounts []Mount) *Service {
	return &Service{
		mcu:     mcu,
		mounts:  mounts,
		handles: make(map[fs.Handle]*svcFile),
		next:    0x1000,
	}
}

func (s *Service) String() string {
	return "file service"
}

// Run advertises the service and processes messages until the context
// ends.
func (s *Service) Run(ctx context.Context) error {
	const state = fs.AppStateServiceUp | fs.AppStateHaveFile | fs.AppStateHaveLoopback
	s.mcu.SetHostState(0xffff, state)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.reader(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(msgq.KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.mcu.SetHostState(0xffff, state)
			}
		}
	})
	return g.Wait()
}

// reader drains the Amiga -> USB queue.
func (s *Service) reader(ctx context.Context) error {
	for {
		msg := s.mcu.HostRecv()
		if msg == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.mcu.HostReady():
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		s.process(msg)
	}
}

// send queues one reply, streaming fragments and pacing when the buffer
// is full.
func (s *Service) send(msg []byte) {
	lead := msg
	if len(lead) > msgq.SendMax {
		lead = lead[:msgq.SendMax]
	}
	s.sendFrag(lead)
	for _, frag := range msgq.Fragments(msg[len(lead):], msg[:fs.MsgHdrSize]) {
		s.sendFrag(frag)
	}
}

func (s *Service) sendFrag(frag []byte) {
	for try := 0; try < 200; try++ {
		if s.mcu.HostSend(frag) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	log.Errorf(s, "reply dropped: buffer full")
}

// reply builds and sends a reply message for the request header.
func (s *Service) reply(hdr fs.MsgHdr, status uint8, body []byte) {
	out := make([]byte, 0, fs.MsgHdrSize+len(body))
	out = fs.MsgHdr{Op: hdr.Op | fs.OpReply, Status: status, Tag: hdr.Tag}.Encode(out)
	out = append(out, body...)
	s.send(out)
}

// process dispatches one inbound message.
func (s *Service) process(msg []byte) {
	if len(msg) < fs.MsgHdrSize {
		log.Warnf(s, "runt message of %d bytes", len(msg))
		return
	}
	hdr := fs.DecodeMsgHdr(msg)
	if hdr.IsReply() {
		log.Debugf(s, "unexpected reply %v", hdr)
		return
	}
	body := msg[fs.MsgHdrSize:]

	switch hdr.Op {
	case fs.OpNull, fs.OpNop:
		s.reply(hdr, fs.StatusOK, nil)
	case fs.OpLoopback:
		s.reply(hdr, fs.StatusOK, body)
	case fs.OpID:
		id := make([]byte, 32)
		binary.BigEndian.PutUint16(id[0:], 1) // protocol revision
		s.reply(hdr, fs.StatusOK, id)
	case fs.OpFOpen:
		s.opFOpen(hdr, body)
	case fs.OpFClose:
		s.opFClose(hdr, body)
	case fs.OpFRead:
		s.opFRead(hdr, body)
	case fs.OpFWrite:
		s.opFWrite(hdr, body)
	case fs.OpFSeek:
		s.opFSeek(hdr, body)
	case fs.OpFCreate:
		s.opFCreate(hdr, body)
	case fs.OpFDelete:
		s.opFDelete(hdr, body)
	case fs.OpFRename:
		s.opFRename(hdr, body)
	case fs.OpFPath:
		s.opFPath(hdr, body)
	case fs.OpFSetPerms:
		s.opFSetPerms(hdr, body)
	case fs.OpFSetOwn:
		s.opFSetOwn(hdr, body)
	case fs.OpFSetDate:
		s.opFSetDate(hdr, body)
	default:
		log.Warnf(s, "unknown op %#02x", hdr.Op)
		s.reply(hdr, fs.StatusUnkCmd, nil)
	}
}

// errStatus translates a host filesystem error to a protocol status.
func errStatus(err error) uint8 {
	switch {
	case err == nil:
		return fs.StatusOK
	case errors.Is(err, os.ErrNotExist):
		return fs.StatusNoExist
	case errors.Is(err, syscall.ENOTEMPTY):
		// Checked first: ENOTEMPTY also satisfies os.ErrExist.
		return fs.StatusNotEmpty
	case errors.Is(err, os.ErrExist):
		return fs.StatusExist
	case errors.Is(err, os.ErrPermission):
		return fs.StatusPerm
	case errors.Is(err, io.EOF):
		return fs.StatusEOF
	case isNotEmpty(err):
		return fs.StatusNotEmpty
	case errors.Is(err, syscall.ENOTDIR):
		return fs.StatusNoExist
	case errors.Is(err, os.ErrInvalid), errors.Is(err, syscall.EINVAL):
		return fs.StatusInvalid
	}
	return fs.StatusFail
}

// lookupMount finds a mount by advertised name, case-insensitively.
func (s *Service) lookupMount(name string) *Mount {
	for i := range s.mounts {
		if strings.EqualFold(s.mounts[i].Name, name) {
			return &s.mounts[i]
		}
	}
	return nil
}

func (s *Service) getHandle(h fs.Handle) *svcFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[h]
}

func (s *Service) putHandle(f *svcFile) fs.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	s.handles[h] = f
	return h
}

// resolve turns a parent handle plus a request name into a mount and a
// volume-relative path. "::" prefixes an absolute Volume:path name, ":"
// is relative to the parent's volume root, an embedded ':' names a
// volume, and anything else is relative to the parent object.
func (s *Service) resolve(parent fs.Handle, name string) (*Mount, string, uint8) {
	name = strings.TrimPrefix(name, "::")

	// Volume-qualified name.
	if idx := strings.IndexByte(name, ':'); idx > 0 {
		vol := s.lookupMount(name[:idx])
		if vol == nil {
			return nil, "", fs.StatusNoExist
		}
		return vol, cleanRel(name[idx+1:]), fs.StatusOK
	}

	var vol *Mount
	base := ""
	switch parent {
	case 0:
		// Volume directory: the first path component names a volume.
		name = strings.TrimPrefix(name, ":")
		rel := cleanRel(name)
		if rel == "" {
			return nil, "", fs.StatusOK // the volume directory itself
		}
		first, rest, _ := strings.Cut(rel, "/")
		vol = s.lookupMount(first)
		if vol == nil {
			return nil, "", fs.StatusNoExist
		}
		return vol, rest, fs.StatusOK
	case fs.HandleDefVolume:
		if len(s.mounts) == 0 {
			return nil, "", fs.StatusUnavail
		}
		vol = &s.mounts[0]
	default:
		pf := s.getHandle(parent)
		if pf == nil {
			return nil, "", fs.StatusNoExist
		}
		if pf.vol == nil {
			// Parent is the volume directory handle.
			return s.resolve(0, name)
		}
		vol = pf.vol
		base = pf.rel
	}

	if strings.HasPrefix(name, ":") {
		// Volume-relative through the parent handle.
		return vol, cleanRel(name[1:]), fs.StatusOK
	}
	return vol, cleanRel(path.Join(base, name)), fs.StatusOK
}

// cleanRel normalises a volume-relative path, refusing escapes.
func cleanRel(rel string) string {
	rel = path.Clean(strings.TrimPrefix(rel, "/"))
	if rel == "." {
		return ""
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return ".."
	}
	return rel
}

// hostPath is the backing path for a volume-relative name.
func hostPath(vol *Mount, rel string) string {
	return filepath.Join(vol.Root, filepath.FromSlash(rel))
}

// typeOf maps a file mode to the protocol type code.
func typeOf(mode os.FileMode) uint16 {
	switch {
	case mode.IsRegular():
		return fs.TypeFile
	case mode.IsDir():
		return fs.TypeDir
	case mode&os.ModeSymlink != 0:
		return fs.TypeLink
	case mode&os.ModeNamedPipe != 0:
		return fs.TypeFifo
	case mode&os.ModeSocket != 0:
		return fs.TypeSocket
	case mode&os.ModeDevice != 0:
		if mode&os.ModeCharDevice != 0 {
			return fs.TypeCDev
		}
		return fs.TypeBDev
	}
	return fs.TypeUnknown
}

// direntFor builds the protocol directory entry for one object.
func direntFor(fi os.FileInfo, name string, typ uint16) *fs.DirEnt {
	d := &fs.DirEnt{
		Type:    typ,
		Size:    uint64(fi.Size()),
		BlkSize: 512,
		Blocks:  uint32((fi.Size() + 511) / 512),
		Mtime:   uint32(fi.ModTime().Unix()),
		Atime:   uint32(fi.ModTime().Unix()),
		Ctime:   uint32(fi.ModTime().Unix()),
		APerms:  apermsFromMode(fi.Mode()),
		Mode:    uint32(fi.Mode().Perm()),
		Nlink:   1,
		Name:    name,
	}
	fillSys(d, fi)
	return d
}

// volumeEntry is the self entry of a volume root, carrying the
// pseudo-geometry DISK_INFO reports.
func volumeEntry(vol *Mount) (*fs.DirEnt, error) {
	fi, err := os.Stat(vol.Root)
	if err != nil {
		return nil, err
	}
	d := direntFor(fi, vol.Name, fs.TypeVolume)
	d.Size = 1 << 20  // pseudo block count
	d.Blocks = 1 << 19
	d.BlkSize = 512
	return d, nil
}

// statStream is the single-entry stream describing the object itself,
// used by stat-mode opens. A volume root's entry carries the
// pseudo-geometry disk info reports.
func (s *Service) statStream(vol *Mount, rel string, nofollow bool) ([]*fs.DirEnt, uint16, error) {
	full := hostPath(vol, rel)
	statf := os.Stat
	if nofollow {
		statf = os.Lstat
	}
	fi, err := statf(full)
	if err != nil {
		return nil, 0, err
	}
	if rel == "" {
		self, err := volumeEntry(vol)
		if err != nil {
			return nil, 0, err
		}
		return []*fs.DirEnt{self}, fs.TypeVolume, nil
	}
	typ := typeOf(fi.Mode())
	return []*fs.DirEnt{direntFor(fi, path.Base(rel), typ)}, typ, nil
}

// childStream lists a directory's entries in directory order. The
// object's own entry is not part of it; that belongs to the stat
// stream.
func (s *Service) childStream(vol *Mount, rel string) ([]*fs.DirEnt, uint16, error) {
	full := hostPath(vol, rel)
	fi, err := os.Stat(full)
	if err != nil {
		return nil, 0, err
	}
	typ := typeOf(fi.Mode())
	if rel == "" {
		typ = fs.TypeVolume
	}
	names, err := readDirNames(full)
	if err != nil {
		return nil, 0, err
	}
	var ents []*fs.DirEnt
	for _, name := range names {
		cfi, err := os.Lstat(filepath.Join(full, name))
		if err != nil {
			// Raced away; skip it.
			continue
		}
		ents = append(ents, direntFor(cfi, name, typeOf(cfi.Mode())))
	}
	return ents, typ, nil
}

func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	names, err := f.Readdirnames(-1)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// volDirStream lists the mounted volumes.
func (s *Service) volDirStream() []*fs.DirEnt {
	var ents []*fs.DirEnt
	for i := range s.mounts {
		if ent, err := volumeEntry(&s.mounts[i]); err == nil {
			ents = append(ents, ent)
		}
	}
	return ents
}
