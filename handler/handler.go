// Package handler implements the Amiga filesystem packet engine: it
// consumes DOS packets from a volume's message port and translates them
// into remote-file operations, managing locks and open file records.
package handler

import (
	"context"
	"strings"
	"sync"

	"github.com/kicksmash/smashfs/dos"
	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
	"github.com/kicksmash/smashfs/rfile"
)

// Handler dispatches filesystem packets. Dispatch is serialised: the
// command channel underneath is a shared resource, and AmigaDOS
// handlers process one packet at a time.
type Handler struct {
	mu      sync.Mutex
	rf      *rfile.Client
	running bool
}

// New returns a Handler speaking through the given remote-file client.
func New(rf *rfile.Client) *Handler {
	return &Handler{rf: rf, running: true}
}

func (h *Handler) String() string {
	return "handler"
}

// Running reports whether the handler still accepts work. It goes false
// on an ActionDie packet.
func (h *Handler) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Dispatch processes one packet for the given volume, filling in Res1
// and Res2. The caller replies to the packet's port afterwards.
func (h *Handler) Dispatch(ctx context.Context, vol VolumeContext, pkt *dos.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Debugf(h, "vol=%s type=%d", vol.Name(), pkt.Type)

	if !h.running {
		switch pkt.Type {
		case dos.ActionFreeLock, dos.ActionEnd:
			// Still allowed: they release resources.
		default:
			pkt.Res1 = dos.DOSFalse
			pkt.Res2 = dos.ErrorDeviceNotMounted
			return
		}
	}

	pkt.Res2 = 0
	switch pkt.Type {
	case dos.ActionNil:
		pkt.Res1 = dos.DOSTrue
	case dos.ActionCopyDir:
		pkt.Res1 = h.actionCopyDir(ctx, vol, pkt)
	case dos.ActionCreateDir:
		pkt.Res1 = h.actionCreateDir(ctx, vol, pkt)
	case dos.ActionCurrentVolume:
		pkt.Res1 = vol.VolNode()
	case dos.ActionDeleteObject:
		pkt.Res1 = h.actionDeleteObject(ctx, vol, pkt)
	case dos.ActionDie:
		h.running = false
		pkt.Res1 = dos.DOSTrue
	case dos.ActionDiskInfo, dos.ActionInfo:
		pkt.Res1 = h.actionDiskInfo(ctx, vol, pkt)
	case dos.ActionEnd:
		pkt.Res1 = h.actionEnd(ctx, vol, pkt)
	case dos.ActionExamineObject, dos.ActionExObject:
		pkt.Res1 = h.actionExamineObject(ctx, vol, pkt)
	case dos.ActionExamineNext, dos.ActionExNext:
		pkt.Res1 = h.actionExamineNext(ctx, vol, pkt)
	case dos.ActionFindInput, dos.ActionFindUpdate:
		pkt.Res1 = h.actionFindInput(ctx, vol, pkt)
	case dos.ActionFindOutput:
		pkt.Res1 = h.actionFindOutput(ctx, vol, pkt)
	case dos.ActionFlush:
		pkt.Res1 = dos.DOSTrue
	case dos.ActionFreeDiskFSSM:
		// No FSSM exists, nothing to free.
		pkt.Res1 = dos.DOSTrue
	case dos.ActionFreeLock:
		pkt.Res1 = h.actionFreeLock(ctx, vol, pkt)
	case dos.ActionGetDiskFSSM:
		// Not backed by a block device, so there is no startup
		// message to hand out.
		pkt.Res1 = pkt.Fail(dos.ErrorObjectWrongType)
	case dos.ActionIsFilesystem:
		pkt.Res1 = dos.DOSTrue
	case dos.ActionLocateObject:
		pkt.Res1 = h.actionLocateObject(ctx, vol, pkt)
	case dos.ActionMakeLink:
		pkt.Res1 = h.actionMakeLink(ctx, vol, pkt)
	case dos.ActionParent:
		pkt.Res1 = h.actionParent(ctx, vol, pkt)
	case dos.ActionRead:
		pkt.Res1 = h.actionRead(ctx, vol, pkt)
	case dos.ActionReadLink:
		pkt.Res1 = h.actionReadLink(ctx, vol, pkt)
	case dos.ActionRenameObject:
		pkt.Res1 = h.actionRenameObject(ctx, vol, pkt)
	case dos.ActionSeek:
		pkt.Res1 = h.actionSeek(ctx, vol, pkt)
	case dos.ActionSetProtect:
		pkt.Res1 = h.actionSetProtect(ctx, vol, pkt)
	case dos.ActionSameLock:
		pkt.Res1 = h.actionSameLock(ctx, vol, pkt)
	case dos.ActionUndiskInfo:
		pkt.Res1 = dos.DOSTrue
	case dos.ActionWrite:
		pkt.Res1 = h.actionWrite(ctx, vol, pkt)
	default:
		pkt.Res1 = pkt.Fail(dos.ErrorActionNotKnown)
	}
}

// lockArg fetches a lock argument, which may be nil for the volume
// root.
func lockArg(pkt *dos.Packet, i int) *Lock {
	l, _ := pkt.Arg(i).(*Lock)
	return l
}

// parentOf resolves the parent handle a packet refers to: the lock's
// handle, or the volume root when no lock is given.
func parentOf(vol VolumeContext, lock *Lock) fs.Handle {
	if lock == nil {
		return vol.Handle()
	}
	return lock.Key
}

func (h *Handler) actionLocateObject(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	name := pkt.BStrArg(1).String()
	access := int(pkt.IntArg(2))
	phandle := parentOf(vol, lock)

	var mode uint16
	switch access {
	case dos.AccessWrite:
		mode = fs.ModeWrite
	default:
		// Some programs pass invalid access modes; treat as read.
		mode = fs.ModeRead
	}

	if name == "" {
		name = "."
	}
	log.Debugf(h, "LOCATE_OBJECT phandle=%#x name=%q access=%d", phandle, name, access)

	handle, _, err := h.rf.Open(ctx, phandle, name, mode, 0)
	if err != nil {
		// Not openable for plain access; try a stat open.
		handle, _, err = h.rf.Open(ctx, phandle, name, mode|fs.ModeReadDir, 0)
	}
	if err != nil {
		if err == fs.RemoteFileError(fs.StatusUnavail) {
			return pkt.Fail(dos.ErrorDeviceNotMounted)
		}
		return pkt.Fail(dos.ErrorObjectNotFound)
	}
	newlock := h.createLock(vol, pkt, handle, phandle, access)
	if newlock == nil {
		_ = h.rf.Close(ctx, handle)
		return dos.DOSFalse
	}
	return newlock
}

func (h *Handler) actionCopyDir(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	phandle := parentOf(vol, lock)
	var pphandle fs.Handle
	if lock != nil {
		pphandle = lock.PHandle
	}

	handle, _, err := h.rf.Open(ctx, phandle, "", 0, 0)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	newlock := h.createLock(vol, pkt, handle, pphandle, dos.SharedLock)
	if newlock == nil {
		_ = h.rf.Close(ctx, handle)
		return dos.DOSFalse
	}
	return newlock
}

func (h *Handler) actionCreateDir(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	name := pkt.BStrArg(1).String()
	phandle := parentOf(vol, lock)

	log.Debugf(h, "CREATE_DIR phandle=%#x name=%q", phandle, name)
	err := h.rf.Create(ctx, phandle, name, "", fs.TypeDir, 0)
	var handle fs.Handle
	if err == nil {
		// A plain open so the lock can iterate the new directory;
		// stat opens read only the object's own entry.
		handle, _, err = h.rf.Open(ctx, phandle, name, fs.ModeRead, 0)
	}
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	newlock := h.createLock(vol, pkt, handle, phandle, dos.SharedLock)
	if newlock == nil {
		_ = h.rf.Close(ctx, handle)
		return dos.DOSFalse
	}
	return newlock
}

func (h *Handler) actionFreeLock(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	if lock == nil {
		return pkt.Fail(dos.ErrorFileNotObject)
	}
	_ = h.rf.Close(ctx, lock.Key)
	h.freeLock(vol, pkt, lock)
	return dos.DOSTrue
}

func (h *Handler) actionDeleteObject(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	name := pkt.BStrArg(1).String()
	phandle := parentOf(vol, lock)

	log.Debugf(h, "DELETE_OBJECT phandle=%#x name=%q", phandle, name)
	if err := h.rf.Delete(ctx, phandle, name); err != nil {
		return pkt.Fail(mapErr(err))
	}
	return dos.DOSTrue
}

func (h *Handler) actionRenameObject(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	slock := lockArg(pkt, 0)
	sname := pkt.BStrArg(1).String()
	dlock := lockArg(pkt, 2)
	dname := pkt.BStrArg(3).String()

	if sname == "" || dname == "" {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}
	shandle := parentOf(vol, slock)
	dhandle := parentOf(vol, dlock)

	log.Debugf(h, "RENAME_OBJECT %#x %q -> %#x %q", shandle, sname, dhandle, dname)
	if err := h.rf.Rename(ctx, shandle, sname, dhandle, dname); err != nil {
		return pkt.Fail(mapErr(err))
	}
	return dos.DOSTrue
}

// examineCommon opens the locked object for stat, reads its single
// directory entry and fills the caller's structures. A directory target
// arms the lock's rewind flag for the ExamineNext that follows.
func (h *Handler) examineCommon(ctx context.Context, pkt *dos.Packet, lock *Lock, fib *dos.FileInfoBlock, fattr *dos.FileAttr) interface{} {
	handle, typ, err := h.rf.Open(ctx, lock.Key, "", fs.ModeReadDir|fs.ModeNoFollow, 0)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	dent, derr := h.rf.ReadDirEnt(ctx, handle, 0)
	if derr != nil {
		_ = h.rf.Close(ctx, handle)
		if _, ok := derr.(fs.RemoteFileError); ok {
			return pkt.Fail(mapErr(derr))
		}
		return pkt.Fail(dos.ErrorBadTemplate)
	}
	fillInfoBlock(fib, fattr, dent)

	if typ == fs.TypeDir {
		// The directory iterator must restart for ExamineNext.
		lock.needsRewind = true
	}
	_ = h.rf.Close(ctx, handle)
	return dos.DOSTrue
}

func (h *Handler) actionExamineObject(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	fib, _ := pkt.Arg(1).(*dos.FileInfoBlock)
	if lock == nil || fib == nil {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}
	var fattr *dos.FileAttr
	if pkt.Type == dos.ActionExObject {
		fattr, _ = pkt.Arg(2).(*dos.FileAttr)
	}
	return h.examineCommon(ctx, pkt, lock, fib, fattr)
}

func (h *Handler) actionExamineNext(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	fib, _ := pkt.Arg(1).(*dos.FileInfoBlock)
	if lock == nil || fib == nil {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}
	var fattr *dos.FileAttr
	if pkt.Type == dos.ActionExNext {
		fattr, _ = pkt.Arg(2).(*dos.FileAttr)
	}

	var flags uint16
	if lock.needsRewind {
		lock.needsRewind = false
		flags |= fs.FlagSeek0
	}
	dent, err := h.rf.ReadDirEnt(ctx, lock.Key, flags)
	if err != nil {
		if _, ok := err.(fs.RemoteFileError); ok {
			return pkt.Fail(mapErr(err))
		}
		return pkt.Fail(dos.ErrorBadTemplate)
	}
	fillInfoBlock(fib, fattr, dent)
	return dos.DOSTrue
}

func (h *Handler) actionFindInput(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	fh, _ := pkt.Arg(0).(*dos.FileHandle)
	lock := lockArg(pkt, 1)
	name := pkt.BStrArg(2).String()
	phandle := parentOf(vol, lock)

	mode := uint16(fs.ModeRead)
	if pkt.Type == dos.ActionFindUpdate {
		mode = fs.ModeRead | fs.ModeWrite
	}
	log.Debugf(h, "FINDINPUT phandle=%#x name=%q mode=%#x", phandle, name, mode)

	handle, _, err := h.rf.Open(ctx, phandle, name, mode, 0)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	return h.newFilePos(ctx, vol, pkt, fh, handle, phandle, dos.SharedLock)
}

func (h *Handler) actionFindOutput(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	fh, _ := pkt.Arg(0).(*dos.FileHandle)
	lock := lockArg(pkt, 1)
	name := pkt.BStrArg(2).String()
	phandle := parentOf(vol, lock)

	log.Debugf(h, "FINDOUTPUT phandle=%#x name=%q", phandle, name)
	handle, _, err := h.rf.Open(ctx, phandle, name, fs.ModeWrite|fs.ModeCreate|fs.ModeTrunc, 0)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	return h.newFilePos(ctx, vol, pkt, fh, handle, phandle, dos.ExclusiveLock)
}

// newFilePos builds the lock and file-position record behind a
// successful Find open and wires them into the caller's FileHandle.
func (h *Handler) newFilePos(ctx context.Context, vol VolumeContext, pkt *dos.Packet, fh *dos.FileHandle, handle fs.Handle, phandle fs.Handle, mode int) interface{} {
	newlock := h.createLock(vol, pkt, handle, phandle, mode)
	if newlock == nil {
		_ = h.rf.Close(ctx, handle)
		return dos.DOSFalse
	}
	fp := &FilePos{
		lock:   newlock,
		fh:     fh,
		handle: handle,
	}
	if fh != nil {
		fh.Port = nil // not interactive
		fh.Type = vol.Port()
		fh.Arg1 = fp
	}
	return dos.DOSTrue
}

func (h *Handler) actionEnd(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	fp, _ := pkt.Arg(0).(*FilePos)
	if fp != nil {
		_ = h.rf.Close(ctx, fp.handle)
		if fp.lock != nil {
			h.freeLock(vol, pkt, fp.lock)
		}
	}
	return dos.DOSTrue
}

func (h *Handler) actionRead(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	fp, _ := pkt.Arg(0).(*FilePos)
	buf, _ := pkt.Arg(1).([]byte)
	length := int(pkt.IntArg(2))
	if fp == nil || buf == nil {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}
	if length > len(buf) {
		length = len(buf)
	}
	log.Debugf(h, "READ %#x at pos=%d len=%d", fp.handle, fp.posCur, length)

	count := 0
	var err error
	for count < length {
		var data []byte
		data, err = h.rf.Read(ctx, fp.handle, length-count, 0)
		if len(data) == 0 {
			break
		}
		if len(data) > length-count {
			data = data[:length-count]
		}
		copy(buf[count:], data)
		count += len(data)
		fp.posCur += uint64(len(data))
		if fp.posMax < fp.posCur {
			fp.posMax = fp.posCur
		}
		if err == fs.RemoteFileError(fs.StatusEOF) {
			break
		}
		if err != nil {
			break
		}
	}
	if err != nil && err != fs.RemoteFileError(fs.StatusEOF) {
		return pkt.Fail(mapErr(err))
	}
	if count == 0 {
		return pkt.Fail(dos.ErrorSeekError)
	}
	return int32(count)
}

func (h *Handler) actionWrite(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	fp, _ := pkt.Arg(0).(*FilePos)
	buf, _ := pkt.Arg(1).([]byte)
	length := int(pkt.IntArg(2))
	if fp == nil || buf == nil {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}
	if length > len(buf) {
		length = len(buf)
	}
	log.Debugf(h, "WRITE %#x at pos=%d len=%d", fp.handle, fp.posCur, length)

	if err := h.rf.Write(ctx, fp.handle, buf[:length], 0); err != nil {
		return pkt.Fail(mapErr(err))
	}
	fp.posCur += uint64(length)
	if fp.posMax < fp.posCur {
		fp.posMax = fp.posCur
	}
	return int32(length)
}

func (h *Handler) actionSeek(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	fp, _ := pkt.Arg(0).(*FilePos)
	offset := pkt.IntArg(1)
	mode := int(pkt.IntArg(2))
	if fp == nil {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}

	// Fix up bad apps which supply out-of-range modes.
	if mode < 0 {
		mode = dos.OffsetBeginning
	} else if mode > 0 {
		mode = dos.OffsetEnd
	}

	newPos, prevPos, err := h.rf.Seek(ctx, fp.handle, offset, mode)
	if err != nil {
		return pkt.Fail(dos.ErrorSeekError)
	}
	fp.posCur = newPos
	if fp.posMax < fp.posCur {
		fp.posMax = fp.posCur
	}
	if prevPos > 0xffffffff {
		prevPos = 0xffffffff
	}
	return int32(uint32(prevPos))
}

func (h *Handler) actionMakeLink(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	name := pkt.BStrArg(1).String()
	linkType := int(pkt.IntArg(3))
	phandle := parentOf(vol, lock)

	var target string
	var typ uint16
	if linkType == dos.LinkSoft {
		target, _ = pkt.Arg(2).(string)
		typ = fs.TypeLink
	} else {
		tlock := lockArg(pkt, 2)
		thandle := parentOf(vol, tlock)
		var err error
		target, err = h.rf.Path(ctx, thandle)
		if err != nil {
			return pkt.Fail(mapErr(err))
		}
		typ = fs.TypeHLink
	}
	log.Debugf(h, "MAKE_LINK phandle=%#x name=%q target=%q", phandle, name, target)

	if err := h.rf.Create(ctx, phandle, name, target, typ, 0); err != nil {
		return pkt.Fail(mapErr(err))
	}
	return dos.DOSTrue
}

func (h *Handler) actionReadLink(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	name, _ := pkt.Arg(1).(string)
	buf, _ := pkt.Arg(2).([]byte)
	if lock == nil || name == "" || buf == nil {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}

	handle, _, err := h.rf.Open(ctx, lock.Key, name, fs.ModeReadLink, 0)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	data, err := h.rf.Read(ctx, handle, 1024, 0)
	if err != nil && err != fs.RemoteFileError(fs.StatusEOF) {
		_ = h.rf.Close(ctx, handle)
		return pkt.Fail(mapErr(err))
	}
	if len(data) > len(buf)-1 {
		data = data[:len(buf)-1]
	}
	copy(buf, data)
	buf[len(data)] = 0
	_ = h.rf.Close(ctx, handle)
	return int32(len(data))
}

func (h *Handler) actionParent(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 0)
	phandle := parentOf(vol, lock)

	path, err := h.rf.Path(ctx, phandle)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	path = strings.TrimSuffix(path, "/")
	if strings.HasSuffix(path, ":") {
		// Already at the root of the volume.
		pkt.Res2 = 0
		return int32(0)
	}
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	} else if idx := strings.LastIndexByte(path, ':'); idx >= 0 {
		// Volume root is the parent.
		path = path[:idx+1]
	}
	log.Debugf(h, "PARENT of %#x = %q", phandle, path)

	handle, _, err := h.rf.Open(ctx, vol.Handle(), path, fs.ModeRead, 0)
	if err != nil {
		return pkt.Fail(dos.ErrorDirNotFound)
	}
	newlock := h.createLock(vol, pkt, handle, phandle, dos.SharedLock)
	if newlock == nil {
		_ = h.rf.Close(ctx, handle)
		return dos.DOSFalse
	}
	return newlock
}

func (h *Handler) actionSameLock(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock1 := lockArg(pkt, 0)
	lock2 := lockArg(pkt, 1)
	handle1 := parentOf(vol, lock1)
	handle2 := parentOf(vol, lock2)

	if handle1 == handle2 {
		pkt.Res2 = dos.LockSame
		return dos.DOSTrue
	}

	// Compare paths. The first result must be copied before the second
	// call; successive Path replies are not simultaneously valid.
	path1, err := h.rf.Path(ctx, handle1)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}
	path1 = strings.Clone(path1)
	path2, err := h.rf.Path(ctx, handle2)
	if err != nil {
		return pkt.Fail(mapErr(err))
	}

	switch {
	case path1 == path2:
		pkt.Res2 = dos.LockSame
		return dos.DOSTrue
	case lock1 != nil && lock2 != nil && lock1.Volume == lock2.Volume:
		pkt.Res2 = dos.LockSameVolume
		return dos.DOSFalse
	default:
		pkt.Res2 = dos.LockDifferent
		return dos.DOSFalse
	}
}

func (h *Handler) actionDiskInfo(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	var info *dos.InfoData
	if pkt.Type == dos.ActionInfo {
		info, _ = pkt.Arg(1).(*dos.InfoData)
	} else {
		info, _ = pkt.Arg(0).(*dos.InfoData)
	}
	if info == nil {
		return pkt.Fail(dos.ErrorRequiredArgMissing)
	}

	// Pseudo-geometry: the volume's own directory entry carries size,
	// used and block size figures from the peer.
	numBlocks := uint32(1 << 20)
	numUsed := uint32(1 << 19)
	blkSize := uint32(1024)
	if dent, err := h.rf.ReadDirEnt(ctx, vol.Handle(), fs.FlagSeek0); err == nil {
		numBlocks = uint32(dent.Size)
		numUsed = dent.Blocks
		blkSize = dent.BlkSize
	}

	*info = dos.InfoData{
		UnitNumber:    vol.Handle(),
		DiskState:     dos.IDValidated,
		NumBlocks:     numBlocks,
		NumBlocksUsed: numUsed,
		BytesPerBlock: blkSize,
		DiskType:      dos.IDFFSDisk,
		VolumeNode:    vol.VolNode(),
		InUse:         uint32(vol.UseCount()),
	}
	return dos.DOSTrue
}

func (h *Handler) actionSetProtect(ctx context.Context, vol VolumeContext, pkt *dos.Packet) interface{} {
	lock := lockArg(pkt, 1)
	name := pkt.BStrArg(2).String()
	prot := uint32(pkt.IntArg(3))
	phandle := parentOf(vol, lock)

	log.Debugf(h, "SET_PROTECT phandle=%#x name=%q prot=%#x", phandle, name, prot)
	if err := h.rf.SetPerms(ctx, phandle, name, prot); err != nil {
		return pkt.Fail(dos.ErrorObjectNotFound)
	}
	return dos.DOSTrue
}
