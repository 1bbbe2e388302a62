package volmgr_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicksmash/smashfs/dos"
	"github.com/kicksmash/smashfs/handler"
	"github.com/kicksmash/smashfs/msgq"
	"github.com/kicksmash/smashfs/peer"
	"github.com/kicksmash/smashfs/rfile"
	"github.com/kicksmash/smashfs/rombus"
	"github.com/kicksmash/smashfs/volmgr"
)

func newManager(t *testing.T, mounts []peer.Mount) (*volmgr.Manager, *dos.DevInfo, context.Context) {
	t.Helper()
	lb := peer.NewLoopback(mounts)
	stop := lb.Start(context.Background())
	t.Cleanup(stop)

	ch := rombus.New(lb.MCU, rombus.Options{Spin: func(uint) {}})
	rf := rfile.New(msgq.New(ch))
	h := handler.New(rf)
	di := &dos.DevInfo{}
	mgr := volmgr.New(rf, h, di)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return mgr, di, ctx
}

func present(di *dos.DevInfo, name string) bool {
	di.Lock()
	defer di.Unlock()
	return di.NamePresent(name, nil)
}

// TestSyncPublishesOnce discovers the advertised volumes and publishes
// each exactly once, surviving repeated sweeps.
func TestSyncPublishesOnce(t *testing.T) {
	mgr, di, ctx := newManager(t, []peer.Mount{
		{Name: "Work", Root: t.TempDir()},
		{Name: "Data", Root: t.TempDir()},
	})

	require.NoError(t, mgr.Sync(ctx))
	assert.True(t, present(di, "Work"))
	assert.True(t, present(di, "Data"))
	assert.Equal(t, 2, mgr.InUse())

	work := mgr.Lookup("Work")
	require.NotNil(t, work)

	// Re-advertisement neither duplicates the nodes nor remounts.
	require.NoError(t, mgr.Sync(ctx))
	assert.Same(t, work, mgr.Lookup("Work"))
	assert.Same(t, work.VolNode(), mgr.Lookup("Work").VolNode())
}

// TestFlushWithdraws drops a volume which stops being advertised: the
// nodes leave the device list and, with no references, the record is
// freed.
func TestFlushWithdraws(t *testing.T) {
	mgr, di, ctx := newManager(t, []peer.Mount{{Name: "Work", Root: t.TempDir()}})
	require.NoError(t, mgr.Sync(ctx))
	require.True(t, present(di, "Work"))

	// Sweep without any advertisement in between.
	mgr.Flush(ctx)
	assert.False(t, present(di, "Work"))
	assert.Nil(t, mgr.Lookup("Work"))
	assert.Zero(t, mgr.InUse())
}

// TestFlushKeepsReferenced withdraws a still-referenced volume from the
// device list but keeps the record until the last reference drops; a
// fresh advertisement re-publishes it.
func TestFlushKeepsReferenced(t *testing.T) {
	mgr, di, ctx := newManager(t, []peer.Mount{{Name: "Work", Root: t.TempDir()}})
	require.NoError(t, mgr.Sync(ctx))

	vol := mgr.Lookup("Work")
	require.NotNil(t, vol)
	vol.AddUse(1)

	mgr.Flush(ctx)
	assert.False(t, present(di, "Work"))
	assert.Same(t, vol, mgr.Lookup("Work"))
	assert.Equal(t, 1, mgr.InUse())

	// Advertised again while referenced: republished.
	mgr.Seen(ctx, "Work", 0, 0, 0)
	assert.True(t, present(di, "Work"))

	// Reference released and no longer advertised: gone for good.
	vol.AddUse(-1)
	mgr.Flush(ctx)
	mgr.Flush(ctx)
	assert.False(t, present(di, "Work"))
	assert.Nil(t, mgr.Lookup("Work"))
}

// TestCloseForcesTeardown zeroes the reference counts so a final sweep
// can free everything.
func TestCloseForcesTeardown(t *testing.T) {
	mgr, di, ctx := newManager(t, []peer.Mount{{Name: "Work", Root: t.TempDir()}})
	require.NoError(t, mgr.Sync(ctx))
	mgr.Lookup("Work").AddUse(3)

	mgr.Close()
	mgr.Flush(ctx)
	assert.False(t, present(di, "Work"))
	assert.Nil(t, mgr.Lookup("Work"))
}

// TestNameMangling: slashes, embedded colons and spaces become DOS-safe
// names, and collisions pick up numeric suffixes.
func TestNameMangling(t *testing.T) {
	mgr, di, ctx := newManager(t, []peer.Mount{{Name: "My Vol", Root: t.TempDir()}})

	// Pre-existing unrelated node with the cleaned name forces the
	// suffix path.
	di.Lock()
	di.Add(&dos.DeviceList{Name: "My_Vol", Type: dos.DLTVolume})
	di.Unlock()

	require.NoError(t, mgr.Sync(ctx))
	assert.True(t, present(di, "My_Vol.0"))
}
