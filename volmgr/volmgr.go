// Package volmgr maintains the set of remotely advertised volumes:
// discovery through the remote volume directory, publication into the
// DOS device list, packet dispatch for each mounted volume and teardown
// when a volume disappears.
package volmgr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kicksmash/smashfs/dos"
	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
	"github.com/kicksmash/smashfs/handler"
	"github.com/kicksmash/smashfs/rfile"
)

// VolNameMax bounds a volume name.
const VolNameMax = 32

// diskType marks device list nodes owned by this handler ('SmFS').
const diskType = 0x536d4653

// Volume is one advertised volume: its remote handle, the DOS nodes
// publishing it, and bookkeeping for the advertisement sweep.
type Volume struct {
	name      string
	next      *Volume
	seen      int   // advertisements since the last sweep
	inDosList bool  // nodes currently published
	useCount  int32 // locks and open files outstanding (atomic)
	flags     uint
	bootPri   int8
	handle    fs.Handle
	volNode   *dos.DeviceList
	devNode   *dos.DeviceList
	port      *dos.MsgPort
	cancel    context.CancelFunc // stops the port drain goroutine
}

// Name returns the volume's published name.
func (v *Volume) Name() string { return v.name }

// Handle returns the remote handle of the volume's root directory.
func (v *Volume) Handle() fs.Handle { return v.handle }

// VolNode returns the published volume node, nil while withdrawn.
func (v *Volume) VolNode() *dos.DeviceList { return v.volNode }

// Port returns the volume's message port.
func (v *Volume) Port() *dos.MsgPort { return v.port }

// AddUse adjusts the volume's reference count.
func (v *Volume) AddUse(delta int) {
	atomic.AddInt32(&v.useCount, int32(delta))
}

// UseCount returns the volume's reference count.
func (v *Volume) UseCount() int {
	return int(atomic.LoadInt32(&v.useCount))
}

func (v *Volume) String() string {
	return "volume " + v.name
}

// Manager owns the volume list.
type Manager struct {
	mu      sync.Mutex
	rf      *rfile.Client
	h       *handler.Handler
	devInfo *dos.DevInfo
	vols    *Volume

	// InUse counts volumes which survived the last sweep or still hold
	// references.
	inUse int
}

// New returns a Manager publishing into devInfo and dispatching packets
// through h.
func New(rf *rfile.Client, h *handler.Handler, devInfo *dos.DevInfo) *Manager {
	return &Manager{rf: rf, h: h, devInfo: devInfo}
}

func (m *Manager) String() string {
	return "volmgr"
}

// fsName derives the DOS-legal, collision-free name for a volume:
// leading slashes are stripped, embedded ':' (except a trailing one,
// which is dropped) and spaces become '_', and an already-present name
// gains ".0", ".1", ... until unique. The caller holds the device list
// lock.
func (m *Manager) fsName(name string, ignore *dos.DeviceList) string {
	name = strings.TrimLeft(name, "/")
	name = strings.TrimSuffix(name, ":")
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case ':', ' ':
			b.WriteByte('_')
		default:
			b.WriteByte(name[i])
		}
	}
	clean := b.String()
	if !m.devInfo.NamePresent(clean, ignore) {
		return clean
	}
	for count := 0; ; count++ {
		candidate := clean + "." + strconv.Itoa(count)
		if !m.devInfo.NamePresent(candidate, ignore) {
			return candidate
		}
	}
}

// publish allocates and chains the volume's device-list nodes.
func (m *Manager) publish(vol *Volume, accessTime uint32) {
	m.devInfo.Lock()
	defer m.devInfo.Unlock()

	devName := m.fsName(vol.name, nil)
	vol.devNode = &dos.DeviceList{
		Type:       dos.DLTDevice,
		Task:       vol.port,
		Name:       devName,
		DiskType:   diskType,
		VolumeDate: dos.DateStampFromUnix(accessTime),
	}
	m.devInfo.Add(vol.devNode)

	vol.volNode = &dos.DeviceList{
		Type:       dos.DLTVolume,
		Task:       vol.port,
		Name:       m.fsName(vol.name, vol.devNode),
		DiskType:   diskType,
		VolumeDate: dos.DateStampFromUnix(accessTime),
	}
	m.devInfo.Add(vol.volNode)
}

// withdraw removes the volume's nodes from the device list.
func (m *Manager) withdraw(vol *Volume) {
	m.devInfo.Lock()
	defer m.devInfo.Unlock()
	removed := 0
	if vol.volNode != nil && m.devInfo.Remove(vol.volNode) {
		removed++
	}
	if vol.devNode != nil && m.devInfo.Remove(vol.devNode) {
		removed++
	}
	if removed == 0 {
		log.Errorf(m, "no device nodes found to withdraw for %s", vol.name)
	}
}

// Seen records one advertisement of a volume. A known volume bumps its
// sweep counter and is re-published if it had been withdrawn; a new one
// is opened on the remote, given a port and a drain goroutine, and
// published.
func (m *Manager) Seen(ctx context.Context, name string, accessTime uint32, flags uint, bootPri int8) {
	if len(name) > VolNameMax {
		name = name[:VolNameMax]
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for cur := m.vols; cur != nil; cur = cur.next {
		if cur.name == name {
			cur.seen++
			if !cur.inDosList {
				// Previously dropped out of the DOS list.
				cur.inDosList = true
				m.publish(cur, accessTime)
			}
			return
		}
	}

	handle, _, err := m.rf.Open(ctx, 0, name, fs.ModeReadDir, 0)
	if err != nil {
		log.Errorf(m, "failed open of volume %s: %v", name, err)
		return
	}

	vol := &Volume{
		name:      name,
		next:      m.vols,
		seen:      1,
		inDosList: true,
		flags:     flags,
		bootPri:   bootPri,
		handle:    handle,
		port:      dos.NewMsgPort(),
	}
	m.publish(vol, accessTime)
	m.vols = vol

	drainCtx, cancel := context.WithCancel(ctx)
	vol.cancel = cancel
	go m.drain(drainCtx, vol)
	log.Infof(m, "mounted %s (handle %#x)", vol.name, vol.handle)
}

// drain is the per-volume dispatch task: it takes each packet arriving
// on the volume's port through the handler and replies to the sender.
func (m *Manager) drain(ctx context.Context, vol *Volume) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-vol.port.C:
			m.h.Dispatch(ctx, vol, pkt)
			if pkt.Port != nil {
				pkt.Port.Put(pkt)
			}
		}
	}
}

// Flush sweeps the volume list: volumes not seen since the last sweep
// are withdrawn from the DOS list, and those with no references left
// are closed and freed. Sweep counters reset for the next cycle.
func (m *Manager) Flush(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inUse = 0
	var prev *Volume
	for cur := m.vols; cur != nil; {
		if cur.seen == 0 {
			log.Infof(m, "flushing %s", cur.name)
			if cur.inDosList {
				cur.inDosList = false
				m.withdraw(cur)
			}
			if cur.UseCount() == 0 {
				next := cur.next
				if prev == nil {
					m.vols = next
				} else {
					prev.next = next
				}
				_ = m.rf.Close(ctx, cur.handle)
				if cur.cancel != nil {
					cur.cancel()
				}
				cur.volNode = nil
				cur.devNode = nil
				cur = next
				continue
			}
			log.Debugf(m, "%s use count still %d", cur.name, cur.UseCount())
			m.inUse++
		} else {
			m.inUse++
		}
		cur.seen = 0
		prev = cur
		cur = cur.next
	}
}

// InUse reports how many volumes are live or still referenced.
func (m *Manager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}

// Lookup finds a mounted volume by name.
func (m *Manager) Lookup(name string) *Volume {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cur := m.vols; cur != nil; cur = cur.next {
		if cur.name == name {
			return cur
		}
	}
	return nil
}

// Close forces all reference counts to zero. Used on shutdown so a
// subsequent Flush can free everything.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cur := m.vols; cur != nil; cur = cur.next {
		atomic.StoreInt32(&cur.useCount, 0)
	}
}

// Sync performs one advertisement cycle: enumerate the remote volume
// directory, mark every advertised volume as seen, then sweep.
func (m *Manager) Sync(ctx context.Context) error {
	handle, _, err := m.rf.Open(ctx, 0, "", fs.ModeReadDir, 0)
	if err != nil {
		return fmt.Errorf("open volume directory: %w", err)
	}
	defer func() {
		_ = m.rf.Close(ctx, handle)
	}()

	flags := uint16(fs.FlagSeek0)
	for {
		dent, err := m.rf.ReadDirEnt(ctx, handle, flags)
		flags = 0
		if err != nil {
			if err == fs.RemoteFileError(fs.StatusEOF) {
				break
			}
			m.Flush(ctx)
			return fmt.Errorf("read volume directory: %w", err)
		}
		if dent.Type == fs.TypeVolume || dent.Type == fs.TypeVolDir {
			m.Seen(ctx, dent.Name, dent.Atime, 0, 0)
		}
	}
	m.Flush(ctx)
	return nil
}
