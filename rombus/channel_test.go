package rombus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/peer"
	"github.com/kicksmash/smashfs/rombus"
)

// noSpin keeps the tests fast; pacing only matters on real hardware.
func noSpin(uint) {}

func newChannel(t *testing.T) (*rombus.Channel, *peer.MCU) {
	mcu := peer.NewMCU()
	return rombus.New(mcu, rombus.Options{Spin: noSpin}), mcu
}

func TestCmdNop(t *testing.T) {
	ch, _ := newChannel(t)
	status, reply, err := ch.Cmd(context.Background(), fs.KSCmdNop, nil, 64)
	require.NoError(t, err)
	assert.Equal(t, uint32(fs.KSStatusOK), status)
	assert.Empty(t, reply)
}

func TestCmdID(t *testing.T) {
	ch, _ := newChannel(t)
	status, reply, err := ch.Cmd(context.Background(), fs.KSCmdID, nil, 64)
	require.NoError(t, err)
	assert.Equal(t, uint32(fs.KSStatusOK), status)
	assert.Len(t, reply, 32)
}

func TestCmdUnknown(t *testing.T) {
	ch, _ := newChannel(t)
	status, _, err := ch.Cmd(context.Background(), 0x7f, nil, 64)
	assert.Equal(t, uint32(fs.KSStatusUnkCmd), status)
	assert.Equal(t, fs.ChannelError(fs.KSStatusUnkCmd), err)
}

// TestCmdNoReply drops the peer's reply: the channel must classify the
// silence, run ROM recovery and stay usable.
func TestCmdNoReply(t *testing.T) {
	ch, mcu := newChannel(t)
	mcu.FaultDropReply()
	status, _, err := ch.Cmd(context.Background(), fs.KSCmdNop, nil, 64)
	assert.Equal(t, uint32(fs.StatusNoReply), status)
	assert.Equal(t, fs.ErrNoReply, err)

	// The next transaction goes through untouched.
	status, _, err = ch.Cmd(context.Background(), fs.KSCmdNop, nil, 64)
	require.NoError(t, err)
	assert.Equal(t, uint32(fs.KSStatusOK), status)
}

// TestCmdCorrupt flips a payload bit in the reply: consecutive
// transactions both fail with a CRC error, then service resumes.
func TestCmdCorrupt(t *testing.T) {
	ch, mcu := newChannel(t)

	for i := 0; i < 2; i++ {
		mcu.FaultCorruptReply()
		status, _, err := ch.Cmd(context.Background(), fs.KSCmdID, nil, 64)
		assert.Equal(t, uint32(fs.StatusBadCRC), status, "attempt %d", i)
		assert.Equal(t, fs.ErrBadCRC, err, "attempt %d", i)
	}

	_, reply, err := ch.Cmd(context.Background(), fs.KSCmdID, nil, 64)
	require.NoError(t, err)
	assert.Len(t, reply, 32)
}

func TestCmdPayloadEcho(t *testing.T) {
	// Odd-length payloads pad on the wire but the length field keeps
	// the true count.
	ch, mcu := newChannel(t)
	payload := []byte{0x01, 0x02, 0x03}
	msg := append(fs.MsgHdr{Op: fs.OpNull}.Encode(nil), payload...)
	status, _, err := ch.Cmd(context.Background(), fs.KSCmdMsgSend, msg, 64)
	require.NoError(t, err)
	assert.Equal(t, uint32(fs.KSStatusOK), status)
	assert.Equal(t, msg, mcu.HostRecv())
}
