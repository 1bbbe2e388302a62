// Package rfile implements the stateless remote-file protocol carried on
// the message queues: open/close/read/write/seek/create/delete/rename/
// path/setattr operations plus directory entry streaming.
//
// Every operation allocates a tag, submits one request message, waits
// for the matching reply and maps the reply status to an error. Reply
// payloads live in buffers owned by this package; callers copy out what
// they keep before issuing the next operation.
package rfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
	"github.com/kicksmash/smashfs/msgq"
)

// maxNameLen bounds a path name (or combined names) in one request.
const maxNameLen = 2000

// Encoded sizes of the request/reply bodies, message header included.
const (
	fhandleSize   = fs.MsgHdrSize + 4
	fopenSize     = fs.MsgHdrSize + 4 + 2 + 2 + 4
	freadRWSize   = fs.MsgHdrSize + 4 + 4 + 2 + 2
	frenameSize   = fs.MsgHdrSize + 4 + 4
	fseekSize     = fs.MsgHdrSize + 4 + 4 + 4 + 4 + 4 + 1 + 1 + 2
	fsetdateSize  = fs.MsgHdrSize + 4 + 1 + 1 + 2 + 4 + 4
	fsetownSize   = fs.MsgHdrSize + 4 + 4 + 4
)

// Client issues remote-file operations over a message queue client.
type Client struct {
	mq        *msgq.Client
	serviceUp int32 // atomic: non-zero when the peer offers file service
}

// New returns a remote-file client.
func New(mq *msgq.Client) *Client {
	return &Client{mq: mq}
}

func (c *Client) String() string {
	return "rfile"
}

// Service reports whether the peer advertises a live file service,
// refreshing the cached answer from the peer's application state.
func (c *Client) Service(ctx context.Context) bool {
	const want = fs.AppStateServiceUp | fs.AppStateHaveFile
	_, remote, err := c.mq.AppState(ctx)
	if err == nil && remote&want == want {
		atomic.StoreInt32(&c.serviceUp, 1)
		return true
	}
	atomic.StoreInt32(&c.serviceUp, 0)
	return false
}

// checkService consults the cached service state, re-probing the peer
// when the cache is clear.
func (c *Client) checkService(ctx context.Context) error {
	if atomic.LoadInt32(&c.serviceUp) != 0 {
		return nil
	}
	if !c.Service(ctx) {
		return fs.RemoteFileError(fs.StatusUnavail)
	}
	return nil
}

// finish recaches service state when an operation saw the peer's queue
// go silent; if the peer no longer advertises the service, the call
// reports Unavail.
func (c *Client) finish(ctx context.Context, err error) error {
	if err == fs.ChannelError(fs.KSStatusNoData) {
		atomic.StoreInt32(&c.serviceUp, 0)
		if !c.Service(ctx) {
			return fs.RemoteFileError(fs.StatusUnavail)
		}
	}
	return err
}

func appendHdr(b []byte, op uint8, tag uint16) []byte {
	return fs.MsgHdr{Op: op, Tag: tag}.Encode(b)
}

func appendName(b []byte, name string) []byte {
	b = append(b, name...)
	return append(b, 0)
}

// Open opens name relative to the parent handle and returns the new
// handle and the type of the opened object. Name prefixes: "::" is an
// absolute path, ":" is volume-relative through the parent handle, and
// an empty name reopens the object the parent handle refers to.
func (c *Client) Open(ctx context.Context, parent fs.Handle, name string, mode uint16, aperms uint32) (fs.Handle, uint16, error) {
	if err := c.checkService(ctx); err != nil {
		return 0, 0, err
	}
	if len(name)+1 > maxNameLen {
		return 0, 0, fmt.Errorf("path %q too long", name)
	}
	tag := c.mq.AllocTag()
	msg := make([]byte, 0, fopenSize+len(name)+1)
	msg = appendHdr(msg, fs.OpFOpen, tag)
	msg = binary.BigEndian.AppendUint32(msg, parent)
	msg = binary.BigEndian.AppendUint16(msg, 0) // type: unused on open
	msg = binary.BigEndian.AppendUint16(msg, mode)
	msg = binary.BigEndian.AppendUint32(msg, aperms)
	msg = appendName(msg, name)

	reply, err := c.mq.Call(ctx, msg)
	if err = c.finish(ctx, err); err != nil {
		return 0, 0, err
	}
	if len(reply) < fopenSize {
		return 0, 0, fmt.Errorf("open reply too short: %d bytes", len(reply))
	}
	handle := binary.BigEndian.Uint32(reply[fs.MsgHdrSize:])
	typ := binary.BigEndian.Uint16(reply[fs.MsgHdrSize+4:])
	return handle, typ, nil
}

// Close releases a handle. Always safe on a valid handle.
func (c *Client) Close(ctx context.Context, handle fs.Handle) error {
	if err := c.checkService(ctx); err != nil {
		return err
	}
	msg := make([]byte, 0, fhandleSize)
	msg = appendHdr(msg, fs.OpFClose, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, handle)
	_, err := c.mq.Call(ctx, msg)
	return c.finish(ctx, err)
}

// Read returns up to size bytes of file content or directory entry
// stream from handle. The remote end signals end-of-data with an EOF
// status which is returned alongside any bytes read, in the manner of
// io.Reader.
func (c *Client) Read(ctx context.Context, handle fs.Handle, size int, flags uint16) ([]byte, error) {
	if err := c.checkService(ctx); err != nil {
		return nil, err
	}
	tag := c.mq.AllocTag()
	msg := make([]byte, 0, freadRWSize)
	msg = appendHdr(msg, fs.OpFRead, tag)
	msg = binary.BigEndian.AppendUint32(msg, handle)
	msg = binary.BigEndian.AppendUint32(msg, uint32(size))
	msg = binary.BigEndian.AppendUint16(msg, flags)
	msg = binary.BigEndian.AppendUint16(msg, 0)

	reply, err := c.mq.Call(ctx, msg)
	readErr := err
	if readErr != nil && readErr != fs.RemoteFileError(fs.StatusEOF) {
		return nil, c.finish(ctx, readErr)
	}
	if len(reply) < freadRWSize {
		return nil, fmt.Errorf("read reply too short: %d bytes", len(reply))
	}
	total := int(binary.BigEndian.Uint32(reply[fs.MsgHdrSize+4:]))
	data := reply[freadRWSize:]

	if len(data) != total {
		// More fragments are inbound; gather the rest by tag.
		buf := make([]byte, total)
		copy(buf, data)
		if err := c.mq.RecvCont(ctx, tag, buf[len(data):]); err != nil {
			return nil, c.finish(ctx, err)
		}
		data = buf
	}
	return data, c.finish(ctx, readErr)
}

// Write sends data to be written at the handle's current position.
func (c *Client) Write(ctx context.Context, handle fs.Handle, data []byte, flags uint16) error {
	if err := c.checkService(ctx); err != nil {
		return err
	}
	msg := make([]byte, 0, freadRWSize+len(data))
	msg = appendHdr(msg, fs.OpFWrite, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, handle)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(data)))
	msg = binary.BigEndian.AppendUint16(msg, flags)
	msg = binary.BigEndian.AppendUint16(msg, 0)
	msg = append(msg, data...)
	_, err := c.mq.Call(ctx, msg)
	return c.finish(ctx, err)
}

// Seek whence values.
const (
	SeekBeginning = -1
	SeekCurrent   = 0
	SeekEnd       = 1
)

// Seek moves the handle's position and returns the new and previous
// positions.
func (c *Client) Seek(ctx context.Context, handle fs.Handle, offset int64, whence int) (newPos, prevPos uint64, err error) {
	if err := c.checkService(ctx); err != nil {
		return 0, 0, err
	}
	if whence < SeekBeginning {
		whence = SeekBeginning
	} else if whence > SeekEnd {
		whence = SeekEnd
	}
	msg := make([]byte, 0, fseekSize)
	msg = appendHdr(msg, fs.OpFSeek, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, handle)
	msg = binary.BigEndian.AppendUint32(msg, uint32(uint64(offset)>>32))
	msg = binary.BigEndian.AppendUint32(msg, uint32(uint64(offset)))
	msg = binary.BigEndian.AppendUint32(msg, 0) // reply: previous hi
	msg = binary.BigEndian.AppendUint32(msg, 0) // reply: previous lo
	msg = append(msg, byte(int8(whence)), 0, 0, 0)

	reply, err := c.mq.Call(ctx, msg)
	if err = c.finish(ctx, err); err != nil {
		return 0, 0, err
	}
	if len(reply) < fseekSize {
		return 0, 0, fmt.Errorf("seek reply too short: %d bytes", len(reply))
	}
	newPos = uint64(binary.BigEndian.Uint32(reply[fs.MsgHdrSize+4:]))<<32 |
		uint64(binary.BigEndian.Uint32(reply[fs.MsgHdrSize+8:]))
	prevPos = uint64(binary.BigEndian.Uint32(reply[fs.MsgHdrSize+12:]))<<32 |
		uint64(binary.BigEndian.Uint32(reply[fs.MsgHdrSize+16:]))
	return newPos, prevPos, nil
}

// Create makes a file, directory or special object. For a symbolic link
// target is the stored link text; for a hard link it is the path of the
// existing object.
func (c *Client) Create(ctx context.Context, parent fs.Handle, name, target string, typ uint16, aperms uint32) error {
	if err := c.checkService(ctx); err != nil {
		return err
	}
	if len(name)+len(target)+2 > maxNameLen {
		return fmt.Errorf("path %q too long", name)
	}
	msg := make([]byte, 0, fopenSize+len(name)+len(target)+2)
	msg = appendHdr(msg, fs.OpFCreate, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, parent)
	msg = binary.BigEndian.AppendUint16(msg, typ)
	msg = binary.BigEndian.AppendUint16(msg, 0) // mode: unused on create
	msg = binary.BigEndian.AppendUint32(msg, aperms)
	msg = appendName(msg, name)
	msg = appendName(msg, target)
	_, err := c.mq.Call(ctx, msg)
	return c.finish(ctx, err)
}

// Delete removes name under the parent handle. Directories must be
// empty.
func (c *Client) Delete(ctx context.Context, parent fs.Handle, name string) error {
	if err := c.checkService(ctx); err != nil {
		return err
	}
	if len(name)+1 > maxNameLen {
		return fmt.Errorf("path %q too long", name)
	}
	msg := make([]byte, 0, fhandleSize+len(name)+1)
	msg = appendHdr(msg, fs.OpFDelete, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, parent)
	msg = appendName(msg, name)
	_, err := c.mq.Call(ctx, msg)
	return c.finish(ctx, err)
}

// Rename moves oldName under srcParent to newName under dstParent. The
// peer may allow this to cross volume boundaries.
func (c *Client) Rename(ctx context.Context, srcParent fs.Handle, oldName string, dstParent fs.Handle, newName string) error {
	if err := c.checkService(ctx); err != nil {
		return err
	}
	if len(oldName)+len(newName)+2 > maxNameLen {
		return fmt.Errorf("paths %q and %q too long", oldName, newName)
	}
	msg := make([]byte, 0, frenameSize+len(oldName)+len(newName)+2)
	msg = appendHdr(msg, fs.OpFRename, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, srcParent)
	msg = binary.BigEndian.AppendUint32(msg, dstParent)
	msg = appendName(msg, oldName)
	msg = appendName(msg, newName)
	_, err := c.mq.Call(ctx, msg)
	return c.finish(ctx, err)
}

// Path returns the full path of the object behind handle. Successive
// results share a buffer; copy before the next operation.
func (c *Client) Path(ctx context.Context, handle fs.Handle) (string, error) {
	if err := c.checkService(ctx); err != nil {
		return "", err
	}
	msg := make([]byte, 0, fhandleSize)
	msg = appendHdr(msg, fs.OpFPath, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, handle)
	reply, err := c.mq.Call(ctx, msg)
	if err = c.finish(ctx, err); err != nil {
		return "", err
	}
	if len(reply) < fhandleSize {
		return "", fmt.Errorf("path reply too short: %d bytes", len(reply))
	}
	name := reply[fhandleSize:]
	for i, ch := range name {
		if ch == 0 {
			name = name[:i]
			break
		}
	}
	return string(name), nil
}

// SetPerms applies Amiga protection bits to name under the parent
// handle.
func (c *Client) SetPerms(ctx context.Context, parent fs.Handle, name string, aperms uint32) error {
	if err := c.checkService(ctx); err != nil {
		return err
	}
	if len(name)+1 > maxNameLen {
		return fmt.Errorf("path %q too long", name)
	}
	msg := make([]byte, 0, fopenSize+len(name)+1)
	msg = appendHdr(msg, fs.OpFSetPerms, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, parent)
	msg = binary.BigEndian.AppendUint16(msg, 0)
	msg = binary.BigEndian.AppendUint16(msg, 0)
	msg = binary.BigEndian.AppendUint32(msg, aperms)
	msg = appendName(msg, name)
	_, err := c.mq.Call(ctx, msg)
	return c.finish(ctx, err)
}

// SetOwn changes the owner and group of name under the parent handle.
func (c *Client) SetOwn(ctx context.Context, parent fs.Handle, name string, uid, gid uint32) error {
	if err := c.checkService(ctx); err != nil {
		return err
	}
	if len(name)+1 > maxNameLen {
		return fmt.Errorf("path %q too long", name)
	}
	msg := make([]byte, 0, fsetownSize+len(name)+1)
	msg = appendHdr(msg, fs.OpFSetOwn, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, parent)
	msg = binary.BigEndian.AppendUint32(msg, uid)
	msg = binary.BigEndian.AppendUint32(msg, gid)
	msg = appendName(msg, name)
	_, err := c.mq.Call(ctx, msg)
	return c.finish(ctx, err)
}

// SetDate gets or sets one of the timestamps of name under the parent
// handle and returns the previous value.
func (c *Client) SetDate(ctx context.Context, parent fs.Handle, name string, which uint8, secs, nsecs uint32) (prevSecs, prevNsecs uint32, err error) {
	if err := c.checkService(ctx); err != nil {
		return 0, 0, err
	}
	if len(name)+1 > maxNameLen {
		return 0, 0, fmt.Errorf("path %q too long", name)
	}
	msg := make([]byte, 0, fsetdateSize+len(name)+1)
	msg = appendHdr(msg, fs.OpFSetDate, c.mq.AllocTag())
	msg = binary.BigEndian.AppendUint32(msg, parent)
	msg = append(msg, which, 0, 0, 0)
	msg = binary.BigEndian.AppendUint32(msg, secs)
	msg = binary.BigEndian.AppendUint32(msg, nsecs)
	msg = appendName(msg, name)
	reply, err := c.mq.Call(ctx, msg)
	if err = c.finish(ctx, err); err != nil {
		return 0, 0, err
	}
	if len(reply) < fsetdateSize {
		return 0, 0, fmt.Errorf("set date reply too short: %d bytes", len(reply))
	}
	prevSecs = binary.BigEndian.Uint32(reply[fs.MsgHdrSize+8:])
	prevNsecs = binary.BigEndian.Uint32(reply[fs.MsgHdrSize+12:])
	return prevSecs, prevNsecs, nil
}

// ReadDirEnt reads the next directory entry from an open directory
// handle. flags may include fs.FlagSeek0 to rewind first. End of
// directory is reported as a remote EOF error. Requesting just the
// fixed header size makes the peer deliver exactly one whole entry, so
// successive calls walk the stream one entry at a time.
func (c *Client) ReadDirEnt(ctx context.Context, handle fs.Handle, flags uint16) (*fs.DirEnt, error) {
	data, err := c.Read(ctx, handle, fs.DirEntFixedSize, flags)
	if err != nil && len(data) == 0 {
		return nil, err
	}
	dent, _, derr := fs.DecodeDirEnt(data)
	if derr != nil {
		log.Debugf(c, "directory read on handle %#x: %v", handle, derr)
		return nil, derr
	}
	return dent, nil
}
