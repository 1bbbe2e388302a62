package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicksmash/smashfs/fs"
)

// takeReply pops the service's queued reply straight off the
// USB -> Amiga ring.
func takeReply(t *testing.T, mcu *MCU) []byte {
	t.Helper()
	mcu.mu.Lock()
	defer mcu.mu.Unlock()
	msg := mcu.utoa.get()
	require.NotNil(t, msg)
	return msg
}

func TestServiceLoopback(t *testing.T) {
	mcu := NewMCU()
	s := NewService(mcu, nil)

	req := fs.MsgHdr{Op: fs.OpLoopback, Tag: 77}.Encode(nil)
	req = append(req, []byte("echo me")...)
	s.process(req)

	reply := takeReply(t, mcu)
	hdr := fs.DecodeMsgHdr(reply)
	assert.Equal(t, uint8(fs.OpLoopback|fs.OpReply), hdr.Op)
	assert.Equal(t, uint16(77), hdr.Tag)
	assert.Equal(t, []byte("echo me"), reply[fs.MsgHdrSize:])
}

func TestServiceID(t *testing.T) {
	mcu := NewMCU()
	s := NewService(mcu, nil)

	s.process(fs.MsgHdr{Op: fs.OpID, Tag: 1}.Encode(nil))
	reply := takeReply(t, mcu)
	assert.Equal(t, uint8(fs.OpID|fs.OpReply), fs.DecodeMsgHdr(reply).Op)
	assert.Len(t, reply[fs.MsgHdrSize:], 32)
}

func TestServiceIgnoresReplies(t *testing.T) {
	mcu := NewMCU()
	s := NewService(mcu, nil)

	s.process(fs.MsgHdr{Op: fs.OpNop | fs.OpReply, Tag: 3}.Encode(nil))
	mcu.mu.Lock()
	defer mcu.mu.Unlock()
	assert.Nil(t, mcu.utoa.get())
}

func TestServiceUnknownOp(t *testing.T) {
	mcu := NewMCU()
	s := NewService(mcu, nil)

	s.process(fs.MsgHdr{Op: 0x7e, Tag: 9}.Encode(nil))
	reply := takeReply(t, mcu)
	hdr := fs.DecodeMsgHdr(reply)
	assert.Equal(t, uint8(fs.StatusUnkCmd), hdr.Status)
}
