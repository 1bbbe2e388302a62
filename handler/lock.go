package handler

import (
	"fmt"
	"sync"

	"github.com/kicksmash/smashfs/dos"
	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
)

// Lock is the local record of a held reference to a remote object. Locks
// chain off the volume node they belong to.
type Lock struct {
	Next    *Lock
	Key     fs.Handle // remote handle
	Access  int       // dos.SharedLock or dos.ExclusiveLock
	Task    *dos.MsgPort
	Volume  *dos.DeviceList
	PHandle fs.Handle // parent handle

	// needsRewind marks a directory lock whose iterator must seek to
	// the start on the next ExamineNext.
	needsRewind bool
}

func (l *Lock) String() string {
	return fmt.Sprintf("lock %#x", l.Key)
}

// FilePos tracks an open file handle: the remote handle plus current and
// high-watermark positions. It lives only while the file is open.
type FilePos struct {
	lock   *Lock
	fh     *dos.FileHandle
	handle fs.Handle
	posCur uint64
	posMax uint64
}

// Handle returns the remote handle behind the open file.
func (fp *FilePos) Handle() fs.Handle {
	return fp.handle
}

// lockMu is the exclusion window for lock list mutation, standing in for
// the Forbid/Permit pair a real handler uses.
var lockMu sync.Mutex

// VolumeContext is the volume a packet is being dispatched for. The
// volume manager supplies it.
type VolumeContext interface {
	Name() string
	Handle() fs.Handle
	VolNode() *dos.DeviceList
	Port() *dos.MsgPort
	AddUse(delta int)
	UseCount() int
}

// createLock allocates a lock on the given remote handle and chains it
// into the volume's lock list. Exclusive access is refused while any
// lock exists on the handle; shared access is refused only against an
// exclusive holder.
func (h *Handler) createLock(vol VolumeContext, pkt *dos.Packet, handle, phandle fs.Handle, mode int) *Lock {
	volnode := vol.VolNode()
	if volnode == nil {
		pkt.Res2 = dos.ErrorDeviceNotMounted
		log.Debugf(h, "device is not mounted")
		return nil
	}

	access := 0
	lockMu.Lock()
	for cur, _ := volnode.LockList.(*Lock); cur != nil; cur = cur.Next {
		if cur.Key == handle {
			access = cur.Access
			break
		}
	}
	lockMu.Unlock()

	if mode == dos.ExclusiveLock {
		if access != 0 {
			pkt.Res2 = dos.ErrorObjectInUse
			log.Debugf(h, "exclusive: %#x already locked", handle)
			return nil
		}
	} else if access == dos.ExclusiveLock {
		pkt.Res2 = dos.ErrorObjectInUse
		log.Debugf(h, "shared: %#x already exclusive", handle)
		return nil
	}

	lock := &Lock{
		Key:     handle,
		Access:  mode,
		Task:    vol.Port(),
		Volume:  volnode,
		PHandle: phandle,
	}
	log.Debugf(h, "create lock: handle=%#x phandle=%#x mode=%d", handle, phandle, mode)

	lockMu.Lock()
	lock.Next, _ = volnode.LockList.(*Lock)
	volnode.LockList = lock
	lockMu.Unlock()

	vol.AddUse(1)
	return lock
}

// freeLock unchains a lock from its volume.
func (h *Handler) freeLock(vol VolumeContext, pkt *dos.Packet, lock *Lock) {
	if lock == nil {
		log.Errorf(h, "free of nil lock")
		return
	}
	log.Debugf(h, "free lock: handle=%#x phandle=%#x", lock.Key, lock.PHandle)

	volnode := vol.VolNode()
	found := false
	lockMu.Lock()
	var parent *Lock
	for cur, _ := volnode.LockList.(*Lock); cur != nil; cur = cur.Next {
		if cur == lock {
			if parent == nil {
				if cur.Next == nil {
					volnode.LockList = nil
				} else {
					volnode.LockList = cur.Next
				}
			} else {
				parent.Next = cur.Next
			}
			found = true
			break
		}
		parent = cur
	}
	lockMu.Unlock()

	if !found {
		log.Errorf(h, "lock %#x not in volume lock list", lock.Key)
		pkt.Res1 = dos.DOSFalse
		return
	}
	vol.AddUse(-1)
}
