package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicksmash/smashfs/dos"
	"github.com/kicksmash/smashfs/fs"
)

// fakeVol is a minimal volume context for exercising the lock list
// without a peer.
type fakeVol struct {
	node *dos.DeviceList
	port *dos.MsgPort
	use  int
}

func (v *fakeVol) Name() string             { return "Fake" }
func (v *fakeVol) Handle() fs.Handle        { return 1 }
func (v *fakeVol) VolNode() *dos.DeviceList { return v.node }
func (v *fakeVol) Port() *dos.MsgPort       { return v.port }
func (v *fakeVol) AddUse(delta int)         { v.use += delta }
func (v *fakeVol) UseCount() int            { return v.use }

// TestLockIdempotence: shared locks stack on an object; an exclusive
// request against any existing lock is refused with the object in use,
// as is a shared request against an exclusive holder.
func TestLockIdempotence(t *testing.T) {
	h := New(nil)
	vol := &fakeVol{node: &dos.DeviceList{}, port: dos.NewMsgPort()}

	const handle fs.Handle = 0x42
	pkt := &dos.Packet{}

	l1 := h.createLock(vol, pkt, handle, 0, dos.SharedLock)
	require.NotNil(t, l1)
	l2 := h.createLock(vol, pkt, handle, 0, dos.SharedLock)
	require.NotNil(t, l2)
	assert.Equal(t, 2, vol.UseCount())

	pkt = &dos.Packet{}
	assert.Nil(t, h.createLock(vol, pkt, handle, 0, dos.ExclusiveLock))
	assert.Equal(t, int32(dos.ErrorObjectInUse), pkt.Res2)

	h.freeLock(vol, pkt, l1)
	h.freeLock(vol, pkt, l2)
	assert.Zero(t, vol.UseCount())

	// With the object exclusively held, no further lock of either kind
	// succeeds until release.
	pkt = &dos.Packet{}
	ex := h.createLock(vol, pkt, handle, 0, dos.ExclusiveLock)
	require.NotNil(t, ex)

	pkt = &dos.Packet{}
	assert.Nil(t, h.createLock(vol, pkt, handle, 0, dos.SharedLock))
	assert.Equal(t, int32(dos.ErrorObjectInUse), pkt.Res2)

	h.freeLock(vol, pkt, ex)
	pkt = &dos.Packet{}
	again := h.createLock(vol, pkt, handle, 0, dos.SharedLock)
	require.NotNil(t, again)
	h.freeLock(vol, pkt, again)
}

// TestLockMissingNode refuses locks while the volume is withdrawn from
// the device list.
func TestLockMissingNode(t *testing.T) {
	h := New(nil)
	vol := &fakeVol{port: dos.NewMsgPort()}
	pkt := &dos.Packet{}
	assert.Nil(t, h.createLock(vol, pkt, 1, 0, dos.SharedLock))
	assert.Equal(t, int32(dos.ErrorDeviceNotMounted), pkt.Res2)
}
