// Package msgq layers the paired Amiga<->USB message queues on top of
// the rombus command channel: tag allocation, single and multi-fragment
// message transfer, buffer lock arbitration and the application-state
// words.
package msgq

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
)

const (
	// SendMax is the largest single message the peer accepts. Larger
	// messages are streamed in fragments of this size, each carrying a
	// copy of the logical message header.
	SendMax = 2000

	// RecvMax is the receive scratch buffer size.
	RecvMax = 4200

	// recvAttempts bounds the tagged-receive loop.
	recvAttempts = 50

	// recvTimeout is the per-attempt receive timeout.
	recvTimeout = 500 * time.Millisecond

	// sendRetries bounds BADLEN retries while streaming fragments.
	sendRetries = 10

	// queuedPerOp bounds how many unmatched inbound messages are kept
	// per operation code before the oldest is dropped.
	queuedPerOp = 32
)

// Buffer lock mask bits (buffer 1/2 from the Amiga side, buffer 1/2 from
// the USB side).
const (
	LockAmiga1 = 0x1
	LockAmiga2 = 0x2
	LockUSB1   = 0x4
	LockUSB2   = 0x8
)

// Commander issues one framed command transaction. *rombus.Channel
// implements it.
type Commander interface {
	Cmd(ctx context.Context, cmd uint16, payload []byte, replyMax int) (uint32, []byte, error)
}

// Counters reports the peer's queue occupancy in bytes.
type Counters struct {
	AtouInuse uint16 // Amiga -> USB bytes queued
	AtouAvail uint16 // Amiga -> USB bytes free
	UtoaInuse uint16 // USB -> Amiga bytes queued
	UtoaAvail uint16 // USB -> Amiga bytes free
}

// Client is one side's view of the message queues.
type Client struct {
	cmd Commander
	tag uint32 // last allocated tag (low 16 bits)

	mu     sync.Mutex
	queued map[uint8][][]byte // unmatched inbound messages by op
}

// New returns a Client speaking through cmd.
func New(cmd Commander) *Client {
	return &Client{
		cmd:    cmd,
		queued: make(map[uint8][][]byte),
	}
}

func (c *Client) String() string {
	return "msgq"
}

// AllocTag returns a fresh message tag. Tags are monotonic and wrap at
// 16 bits; an outstanding request would have to survive 65k transactions
// to collide.
func (c *Client) AllocTag() uint16 {
	return uint16(atomic.AddUint32(&c.tag, 1))
}

// Info queries the queue occupancy counters.
func (c *Client) Info(ctx context.Context) (Counters, error) {
	_, reply, err := c.cmd.Cmd(ctx, fs.KSCmdMsgInfo, nil, 16)
	if err != nil {
		return Counters{}, err
	}
	if len(reply) < 8 {
		return Counters{}, fmt.Errorf("message info reply too short: %d bytes", len(reply))
	}
	return Counters{
		AtouInuse: binary.BigEndian.Uint16(reply[0:]),
		AtouAvail: binary.BigEndian.Uint16(reply[2:]),
		UtoaInuse: binary.BigEndian.Uint16(reply[4:]),
		UtoaAvail: binary.BigEndian.Uint16(reply[6:]),
	}, nil
}

// Send transmits one logical message, streaming it in SendMax fragments
// when needed. Each continuation fragment re-carries the 4-byte message
// header; the receiver knows the logical length from the lead fragment.
// A BADLEN from the peer means its buffer is momentarily full and is
// retried with brief pacing.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	if len(msg) < fs.MsgHdrSize {
		return fmt.Errorf("message shorter than header: %d bytes", len(msg))
	}
	sendlen := len(msg)
	if sendlen > SendMax {
		sendlen = SendMax
	}
	_, _, err := c.cmd.Cmd(ctx, fs.KSCmdMsgSend, msg[:sendlen], 64)
	if err != nil {
		return fmt.Errorf("send message of %d bytes: %w", len(msg), err)
	}

	frags := Fragments(msg[sendlen:], msg[:fs.MsgHdrSize])
	retries := 0
	for i := 0; i < len(frags); {
		status, _, err := c.cmd.Cmd(ctx, fs.KSCmdMsgSend, frags[i], 0)
		if status == fs.KSStatusBadLen {
			// The peer buffer is momentarily full; give it a moment.
			retries++
			if retries <= sendRetries {
				time.Sleep(time.Millisecond)
				continue
			}
			return fmt.Errorf("send buffer full streaming %d bytes: %w", len(msg), err)
		}
		if err != nil {
			return fmt.Errorf("send failed streaming %d bytes: %w", len(msg), err)
		}
		retries = 0
		i++
	}
	return nil
}

// Fragments builds the continuation fragments for the message bytes
// remaining after the lead fragment. Each fragment re-carries the
// logical message header followed by up to SendMax-4 payload bytes; the
// receiver strips the header copy and concatenates the rest.
func Fragments(rest, hdr []byte) [][]byte {
	var frags [][]byte
	for pos := 0; pos < len(rest); {
		n := len(rest) - pos
		if n > SendMax-fs.MsgHdrSize {
			n = SendMax - fs.MsgHdrSize
		}
		frag := make([]byte, fs.MsgHdrSize+n)
		copy(frag, hdr[:fs.MsgHdrSize])
		copy(frag[fs.MsgHdrSize:], rest[pos:pos+n])
		frags = append(frags, frag)
		pos += n
	}
	return frags
}

// Recv fetches one pending inbound message, header included. With no
// data pending it returns a ChannelError wrapping NODATA.
func (c *Client) Recv(ctx context.Context) ([]byte, error) {
	status, reply, err := c.cmd.Cmd(ctx, fs.KSCmdMsgRecv, nil, RecvMax)
	// The peer relays a queued message with the send command code in
	// the status field.
	if status == fs.KSCmdMsgSend {
		return reply, nil
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// RecvWait polls Recv until a message arrives or the timeout expires,
// pacing NODATA polls.
func (c *Client) RecvWait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := c.Recv(ctx)
		if err != fs.ChannelError(fs.KSStatusNoData) {
			return msg, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		time.Sleep(600 * time.Microsecond)
	}
}

// RecvTag waits for the reply bearing the given tag. Unrelated inbound
// messages are parked by op for later consumption. The returned bytes
// include the message header; the error reflects the reply's own status
// byte.
func (c *Client) RecvTag(ctx context.Context, tag uint16) ([]byte, error) {
	if msg := c.takeQueuedTag(tag); msg != nil {
		return msg, replyError(msg)
	}
	for count := 0; count < recvAttempts; count++ {
		msg, err := c.RecvWait(ctx, recvTimeout)
		if err != nil {
			var rf fs.RemoteFileError
			if !asRemoteEOF(err, &rf) {
				return nil, err
			}
		}
		if len(msg) < fs.MsgHdrSize {
			log.Warnf(c, "runt message of %d bytes discarded", len(msg))
			continue
		}
		hdr := fs.DecodeMsgHdr(msg)
		if hdr.Tag == tag {
			return msg, replyError(msg)
		}
		c.parkUnmatched(hdr, msg)
	}
	return nil, fs.RemoteFileError(fs.StatusFail)
}

// asRemoteEOF reports whether err is the remote EOF status, which is a
// valid terminal condition for a tagged receive.
func asRemoteEOF(err error, rf *fs.RemoteFileError) bool {
	e, ok := err.(fs.RemoteFileError)
	if ok && uint8(e) == fs.StatusEOF {
		*rf = e
		return true
	}
	return false
}

// replyError maps a reply message's status byte to an error.
func replyError(msg []byte) error {
	hdr := fs.DecodeMsgHdr(msg)
	if hdr.Status == fs.StatusOK {
		return nil
	}
	return fs.RemoteFileError(hdr.Status)
}

// parkUnmatched stores a message that belongs to nobody waiting right
// now. The per-op queue is bounded; the oldest entry gives way.
func (c *Client) parkUnmatched(hdr fs.MsgHdr, msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queued[hdr.Op]
	if len(q) >= queuedPerOp {
		log.Warnf(c, "dropping oldest queued message %v", fs.DecodeMsgHdr(q[0]))
		q = q[1:]
	}
	keep := make([]byte, len(msg))
	copy(keep, msg)
	c.queued[hdr.Op] = append(q, keep)
	log.Debugf(c, "queued unmatched message %v", hdr)
}

func (c *Client) takeQueuedTag(tag uint16) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	for op, q := range c.queued {
		for i, msg := range q {
			if fs.DecodeMsgHdr(msg).Tag == tag {
				c.queued[op] = append(q[:i:i], q[i+1:]...)
				return msg
			}
		}
	}
	return nil
}

// TakeQueued removes and returns the oldest parked message for op, or
// nil when none is waiting.
func (c *Client) TakeQueued(op uint8) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queued[op]
	if len(q) == 0 {
		return nil
	}
	c.queued[op] = q[1:]
	return q[0]
}

// RecvCont gathers the continuation fragments of a message whose lead
// fragment arrived via RecvTag, stripping the repeated header from each
// fragment and filling buf completely. A remote EOF status on a
// fragment is a normal end-of-data indication.
func (c *Client) RecvCont(ctx context.Context, tag uint16, buf []byte) error {
	cur := 0
	for cur < len(buf) {
		msg, err := c.RecvTag(ctx, tag)
		if err != nil {
			var rf fs.RemoteFileError
			if !asRemoteEOF(err, &rf) {
				return fmt.Errorf("continuation failed at %d of %d bytes: %w", cur, len(buf), err)
			}
		}
		n := len(msg)
		if n > len(buf)-cur+fs.MsgHdrSize {
			return fmt.Errorf("continuation fragment of %d bytes overruns %d remaining", n, len(buf)-cur)
		}
		if n >= fs.MsgHdrSize {
			n -= fs.MsgHdrSize
		} else {
			n = 0
		}
		copy(buf[cur:], msg[fs.MsgHdrSize:fs.MsgHdrSize+n])
		cur += n
	}
	return nil
}

// Call sends a request message and waits for the single reply matching
// its tag. Multi-fragment replies are continued by the caller via
// RecvCont.
func (c *Client) Call(ctx context.Context, msg []byte) ([]byte, error) {
	if err := c.Send(ctx, msg); err != nil {
		return nil, err
	}
	return c.RecvTag(ctx, fs.DecodeMsgHdr(msg).Tag)
}

// Lock acquires the given buffer lock bits on the peer.
func (c *Client) Lock(ctx context.Context, mask uint16) error {
	return c.lockOp(ctx, fs.KSCmdMsgLock, mask)
}

// Unlock releases the given buffer lock bits.
func (c *Client) Unlock(ctx context.Context, mask uint16) error {
	return c.lockOp(ctx, fs.KSCmdMsgLock|fs.KSMsgUnlock, mask)
}

func (c *Client) lockOp(ctx context.Context, cmd uint16, mask uint16) error {
	var payload [2]byte
	binary.BigEndian.PutUint16(payload[:], mask)
	_, _, err := c.cmd.Cmd(ctx, cmd, payload[:], 0)
	return err
}

// Flush discards any pending messages in both directions.
func (c *Client) Flush(ctx context.Context) error {
	_, _, err := c.cmd.Cmd(ctx, fs.KSCmdMsgFlush, nil, 0)
	return err
}
