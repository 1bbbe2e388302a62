package peer

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
)

// body field offsets (relative to the start of the body, after the
// message header).
const (
	bodyHandle = 0
	openType   = 4
	openMode   = 6
	openPerms  = 8
	openName   = 12
	rwLength   = 4
	rwFlag     = 8
	rwData     = 12
	seekOffHi  = 4
	seekOffLo  = 8
	seekOldHi  = 12
	seekOldLo  = 16
	seekWhence = 20
	dateWhich  = 4
	dateSecs   = 8
	dateNsecs  = 12
	dateName   = 16
	ownUID     = 4
	ownGID     = 8
	ownName    = 12
	renameDst  = 4
	renameName = 8
)

// bodyString pulls a NUL-terminated string out of a body at off.
func bodyString(body []byte, off int) (string, int) {
	if off >= len(body) {
		return "", off
	}
	b := body[off:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), off + i + 1
		}
	}
	return string(b), len(body)
}

func u32(body []byte, off int) uint32 {
	if off+4 > len(body) {
		return 0
	}
	return binary.BigEndian.Uint32(body[off:])
}

func u16(body []byte, off int) uint16 {
	if off+2 > len(body) {
		return 0
	}
	return binary.BigEndian.Uint16(body[off:])
}

// openBody is the reply body of an open: handle, type, and two unused
// fields matching the request layout.
func openBody(handle fs.Handle, typ uint16) []byte {
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:], handle)
	binary.BigEndian.PutUint16(body[4:], typ)
	return body
}

// handleBody is the reply body carrying just a handle.
func handleBody(handle fs.Handle) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, handle)
	return body
}

// rwBody is the read/write reply body: handle, data length, flags.
func rwBody(handle fs.Handle, length int, data []byte) []byte {
	body := make([]byte, rwData, rwData+len(data))
	binary.BigEndian.PutUint32(body[0:], handle)
	binary.BigEndian.PutUint32(body[4:], uint32(length))
	return append(body, data...)
}

func (s *Service) opFOpen(hdr fs.MsgHdr, body []byte) {
	if len(body) < openName {
		s.reply(hdr, fs.StatusFail, nil)
		return
	}
	parent := u32(body, bodyHandle)
	mode := u16(body, openMode)
	aperms := u32(body, openPerms)
	name, _ := bodyString(body, openName)

	handle, typ, status := s.open(parent, name, mode, aperms)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	s.reply(hdr, fs.StatusOK, openBody(handle, typ))
}

// open resolves and opens one object, returning its new handle and
// type.
func (s *Service) open(parent fs.Handle, name string, mode uint16, aperms uint32) (fs.Handle, uint16, uint8) {
	vol, rel, status := s.resolve(parent, name)
	if status != fs.StatusOK {
		return 0, 0, status
	}
	if vol == nil {
		// The volume directory itself.
		f := &svcFile{typ: fs.TypeVolDir, ents: s.volDirStream()}
		return s.putHandle(f), fs.TypeVolDir, fs.StatusOK
	}
	if rel == ".." {
		return 0, 0, fs.StatusNoExist
	}
	full := hostPath(vol, rel)

	// Symlink text read.
	if mode&fs.ModeLink != 0 {
		link, err := os.Readlink(full)
		if err != nil {
			return 0, 0, errStatus(err)
		}
		f := &svcFile{vol: vol, rel: rel, typ: fs.TypeLink, link: &link}
		return s.putHandle(f), fs.TypeLink, fs.StatusOK
	}

	// Stat open: the stream is the object's own entry.
	if mode&fs.ModeDir != 0 {
		ents, typ, err := s.statStream(vol, rel, mode&fs.ModeNoFollow != 0)
		if err != nil {
			return 0, 0, errStatus(err)
		}
		f := &svcFile{vol: vol, rel: rel, typ: typ, ents: ents}
		return s.putHandle(f), typ, fs.StatusOK
	}

	fi, err := os.Stat(full)
	if err == nil && fi.IsDir() {
		// A plain open of a directory iterates its children.
		ents, typ, err := s.childStream(vol, rel)
		if err != nil {
			return 0, 0, errStatus(err)
		}
		f := &svcFile{vol: vol, rel: rel, typ: typ, ents: ents}
		return s.putHandle(f), typ, fs.StatusOK
	}
	if err != nil && mode&fs.ModeCreate == 0 {
		return 0, 0, errStatus(err)
	}

	flags := 0
	switch mode & fs.ModeRdWr {
	case fs.ModeRead:
		flags = os.O_RDONLY
	case fs.ModeWrite:
		flags = os.O_WRONLY
	case fs.ModeRdWr:
		flags = os.O_RDWR
	}
	if mode&fs.ModeAppend != 0 {
		flags |= os.O_APPEND
	}
	if mode&fs.ModeCreate != 0 {
		flags |= os.O_CREATE
	}
	if mode&fs.ModeTrunc != 0 {
		flags |= os.O_TRUNC
	}
	perm := modeFromAperms(aperms)
	fh, err := os.OpenFile(full, flags, perm)
	if err != nil {
		return 0, 0, errStatus(err)
	}
	f := &svcFile{vol: vol, rel: rel, typ: fs.TypeFile, f: fh}
	return s.putHandle(f), fs.TypeFile, fs.StatusOK
}

func (s *Service) opFClose(hdr fs.MsgHdr, body []byte) {
	handle := u32(body, bodyHandle)
	s.mu.Lock()
	f := s.handles[handle]
	delete(s.handles, handle)
	s.mu.Unlock()
	if f == nil {
		s.reply(hdr, fs.StatusNoExist, nil)
		return
	}
	if f.f != nil {
		_ = f.f.Close()
	}
	s.reply(hdr, fs.StatusOK, handleBody(handle))
}

func (s *Service) opFRead(hdr fs.MsgHdr, body []byte) {
	handle := u32(body, bodyHandle)
	length := int(u32(body, rwLength))
	flags := u16(body, rwFlag)

	f := s.getHandle(handle)
	if f == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}

	// Symlink text: one read delivers the whole target.
	if f.link != nil {
		data := []byte(*f.link)
		f.link = nil
		s.reply(hdr, fs.StatusOK, rwBody(handle, len(data), data))
		return
	}

	// Entry stream: deliver whole entries, at least one per request.
	if f.ents != nil {
		if flags&fs.FlagSeek0 != 0 {
			f.pos = 0
		}
		if f.pos >= len(f.ents) {
			s.reply(hdr, fs.StatusEOF, rwBody(handle, 0, nil))
			return
		}
		var data []byte
		for ; f.pos < len(f.ents); f.pos++ {
			enc := f.ents[f.pos].Encode(nil)
			if len(data) > 0 && len(data)+len(enc) > length {
				break
			}
			data = append(data, enc...)
			if len(data) >= length {
				f.pos++
				break
			}
		}
		s.reply(hdr, fs.StatusOK, rwBody(handle, len(data), data))
		return
	}

	if f.f == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	if length > readCap {
		length = readCap
	}
	buf := make([]byte, length)
	n, err := f.f.Read(buf)
	if n == 0 {
		if err == io.EOF || err == nil {
			s.reply(hdr, fs.StatusEOF, rwBody(handle, 0, nil))
		} else {
			s.reply(hdr, errStatus(err), nil)
		}
		return
	}
	s.reply(hdr, fs.StatusOK, rwBody(handle, n, buf[:n]))
}

// recvCont pulls the continuation fragments of a streamed inbound
// message directly from the queue.
func (s *Service) recvCont(tag uint16, buf []byte) uint8 {
	cur := 0
	deadline := time.Now().Add(5 * time.Second)
	for cur < len(buf) {
		msg := s.mcu.HostRecv()
		if msg == nil {
			if time.Now().After(deadline) {
				log.Errorf(s, "write stream stalled at %d of %d bytes", cur, len(buf))
				return fs.StatusFail
			}
			select {
			case <-s.mcu.HostReady():
			case <-time.After(time.Millisecond):
			}
			continue
		}
		if len(msg) < fs.MsgHdrSize {
			continue
		}
		if fs.DecodeMsgHdr(msg).Tag != tag {
			log.Warnf(s, "interleaved message %v during write stream", fs.DecodeMsgHdr(msg))
			continue
		}
		n := copy(buf[cur:], msg[fs.MsgHdrSize:])
		cur += n
	}
	return fs.StatusOK
}

func (s *Service) opFWrite(hdr fs.MsgHdr, body []byte) {
	handle := u32(body, bodyHandle)
	length := int(u32(body, rwLength))
	data := body[min(rwData, len(body)):]

	if length > len(data) {
		// The message was streamed; gather the rest before writing.
		buf := make([]byte, length)
		n := copy(buf, data)
		if status := s.recvCont(hdr.Tag, buf[n:]); status != fs.StatusOK {
			s.reply(hdr, status, nil)
			return
		}
		data = buf
	} else {
		data = data[:length]
	}

	f := s.getHandle(handle)
	if f == nil || f.f == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	n, err := f.f.Write(data)
	if err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	s.reply(hdr, fs.StatusOK, rwBody(handle, n, nil))
}

func (s *Service) opFSeek(hdr fs.MsgHdr, body []byte) {
	handle := u32(body, bodyHandle)
	offset := int64(uint64(u32(body, seekOffHi))<<32 | uint64(u32(body, seekOffLo)))
	whence := int8(0)
	if seekWhence < len(body) {
		whence = int8(body[seekWhence])
	}

	f := s.getHandle(handle)
	if f == nil || f.f == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	prev, err := f.f.Seek(0, io.SeekCurrent)
	if err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	var w int
	switch {
	case whence < 0:
		w = io.SeekStart
	case whence > 0:
		w = io.SeekEnd
	default:
		w = io.SeekCurrent
	}
	newPos, err := f.f.Seek(offset, w)
	if err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}

	out := make([]byte, 24)
	binary.BigEndian.PutUint32(out[0:], handle)
	binary.BigEndian.PutUint32(out[seekOffHi:], uint32(uint64(newPos)>>32))
	binary.BigEndian.PutUint32(out[seekOffLo:], uint32(uint64(newPos)))
	binary.BigEndian.PutUint32(out[seekOldHi:], uint32(uint64(prev)>>32))
	binary.BigEndian.PutUint32(out[seekOldLo:], uint32(uint64(prev)))
	s.reply(hdr, fs.StatusOK, out)
}

func (s *Service) opFCreate(hdr fs.MsgHdr, body []byte) {
	parent := u32(body, bodyHandle)
	typ := u16(body, openType)
	aperms := u32(body, openPerms)
	name, next := bodyString(body, openName)
	target, _ := bodyString(body, next)

	vol, rel, status := s.resolve(parent, name)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	if vol == nil || rel == "" || rel == ".." {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	full := hostPath(vol, rel)
	perm := modeFromAperms(aperms)

	var err error
	switch typ {
	case fs.TypeFile:
		var fh *os.File
		fh, err = os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			err = fh.Close()
		}
	case fs.TypeDir:
		err = os.Mkdir(full, perm|0o100)
	case fs.TypeLink:
		err = os.Symlink(target, full)
	case fs.TypeHLink:
		tvol, trel, tstatus := s.resolve(0, target)
		if tstatus != fs.StatusOK || tvol == nil {
			s.reply(hdr, fs.StatusNoExist, nil)
			return
		}
		err = os.Link(hostPath(tvol, trel), full)
	default:
		// Devices, fifos, sockets and whiteouts are not provided by
		// this host.
		s.reply(hdr, fs.StatusUnkCmd, nil)
		return
	}
	if err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	s.reply(hdr, fs.StatusOK, handleBody(parent))
}

func (s *Service) opFDelete(hdr fs.MsgHdr, body []byte) {
	parent := u32(body, bodyHandle)
	name, _ := bodyString(body, 4)

	vol, rel, status := s.resolve(parent, name)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	if vol == nil || rel == "" || rel == ".." {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	if err := os.Remove(hostPath(vol, rel)); err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	s.reply(hdr, fs.StatusOK, handleBody(parent))
}

func (s *Service) opFRename(hdr fs.MsgHdr, body []byte) {
	sparent := u32(body, bodyHandle)
	dparent := u32(body, renameDst)
	oldName, next := bodyString(body, renameName)
	newName, _ := bodyString(body, next)

	svol, srel, status := s.resolve(sparent, oldName)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	dvol, drel, status := s.resolve(dparent, newName)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	if svol == nil || dvol == nil || srel == "" || drel == "" {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	if err := os.Rename(hostPath(svol, srel), hostPath(dvol, drel)); err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	s.reply(hdr, fs.StatusOK, handleBody(sparent))
}

func (s *Service) opFPath(hdr fs.MsgHdr, body []byte) {
	handle := u32(body, bodyHandle)
	f := s.getHandle(handle)
	if f == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	var name string
	if f.vol == nil {
		name = "::"
	} else {
		name = f.vol.Name + ":" + f.rel
	}
	out := handleBody(handle)
	out = append(out, name...)
	out = append(out, 0)
	s.reply(hdr, fs.StatusOK, out)
}

func (s *Service) opFSetPerms(hdr fs.MsgHdr, body []byte) {
	parent := u32(body, bodyHandle)
	aperms := u32(body, openPerms)
	name, _ := bodyString(body, openName)

	vol, rel, status := s.resolve(parent, name)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	if vol == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	if err := os.Chmod(hostPath(vol, rel), modeFromAperms(aperms)); err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	s.reply(hdr, fs.StatusOK, handleBody(parent))
}

func (s *Service) opFSetOwn(hdr fs.MsgHdr, body []byte) {
	parent := u32(body, bodyHandle)
	uid := u32(body, ownUID)
	gid := u32(body, ownGID)
	name, _ := bodyString(body, ownName)

	vol, rel, status := s.resolve(parent, name)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	if vol == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	if err := os.Chown(hostPath(vol, rel), int(uid), int(gid)); err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	s.reply(hdr, fs.StatusOK, handleBody(parent))
}

func (s *Service) opFSetDate(hdr fs.MsgHdr, body []byte) {
	parent := u32(body, bodyHandle)
	which := byte(0)
	if dateWhich < len(body) {
		which = body[dateWhich]
	}
	secs := u32(body, dateSecs)
	nsecs := u32(body, dateNsecs)
	name, _ := bodyString(body, dateName)

	vol, rel, status := s.resolve(parent, name)
	if status != fs.StatusOK {
		s.reply(hdr, status, nil)
		return
	}
	if vol == nil {
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	full := hostPath(vol, rel)
	fi, err := os.Stat(full)
	if err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}
	prev := uint32(fi.ModTime().Unix())
	prevNs := uint32(fi.ModTime().Nanosecond())
	switch which {
	case fs.DateGetCtime:
		prev, prevNs = direntFor(fi, "", 0).Ctime, 0
	case fs.DateSetAtime, fs.DateGetAtime:
		prev, prevNs = direntFor(fi, "", 0).Atime, 0
	}

	switch which {
	case fs.DateSetMtime:
		when := time.Unix(int64(secs), int64(nsecs))
		err = os.Chtimes(full, when, when)
	case fs.DateSetAtime:
		when := time.Unix(int64(secs), int64(nsecs))
		err = os.Chtimes(full, when, fi.ModTime())
	case fs.DateGetMtime, fs.DateGetCtime, fs.DateGetAtime:
		// Read-only; prev already carries the answer.
	default:
		s.reply(hdr, fs.StatusInvalid, nil)
		return
	}
	if err != nil {
		s.reply(hdr, errStatus(err), nil)
		return
	}

	out := make([]byte, 16)
	binary.BigEndian.PutUint32(out[0:], parent)
	binary.BigEndian.PutUint32(out[dateSecs:], prev)
	binary.BigEndian.PutUint32(out[dateNsecs:], prevNs)
	s.reply(hdr, fs.StatusOK, out)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
