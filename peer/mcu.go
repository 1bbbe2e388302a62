// Package peer emulates the far side of the ROM bus: the Kicksmash MCU
// with its paired message buffers and application-state words, and a
// host file service answering the remote-file protocol from a local
// directory tree. It backs the loopback serve mode and the end-to-end
// tests.
package peer

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
	"github.com/kicksmash/smashfs/lib/smashcrc"
	"github.com/kicksmash/smashfs/msgq"
	"github.com/kicksmash/smashfs/rombus"
)

// ringSize is the capacity of each message buffer direction.
const ringSize = 4096

// stateExpiry is how stale a host application state may grow before the
// MCU stops advertising it, matching the host's 5 second refresh cadence
// with slack for scheduling.
const stateExpiry = 3 * msgq.KeepaliveInterval

// collect states for the inbound frame decoder.
const (
	stMagic = iota
	stLen
	stCmd
	stPayload
	stCRC
)

// MCU emulates the Kicksmash microcontroller: it decodes command frames
// from the address lines of bus reads and streams replies back through
// the data lines. It implements rombus.Bus.
type MCU struct {
	mu    sync.Mutex
	shift uint

	// Inbound frame decoder.
	state    int
	magicIdx int
	inLen    uint16
	inCmd    uint16
	inBuf    []byte
	inCRC    []byte // CRC half-words as bytes

	// Outbound reply stream, 16 bits at a time.
	reply []uint16

	atou *msgRing // Amiga -> USB
	utoa *msgRing // USB -> Amiga

	// atouReady wakes the host reader when the Amiga queues a message.
	atouReady chan struct{}

	lockBits uint16

	amigaState     uint16
	amigaStateTime time.Time
	hostState      uint16
	hostStateTime  time.Time

	// Test fault hooks, one-shot.
	corruptNext bool
	dropNext    bool
}

// NewMCU returns an emulated Kicksmash with empty buffers.
func NewMCU() *MCU {
	return &MCU{
		shift:     rombus.CmdShift,
		atou:      newMsgRing(ringSize),
		utoa:      newMsgRing(ringSize),
		atouReady: make(chan struct{}, 1),
	}
}

func (m *MCU) String() string {
	return "mcu"
}

// FaultCorruptReply flips a bit in the next reply payload, for CRC fault
// injection tests.
func (m *MCU) FaultCorruptReply() {
	m.mu.Lock()
	m.corruptNext = true
	m.mu.Unlock()
}

// FaultDropReply suppresses the next reply entirely, simulating a peer
// that never answers.
func (m *MCU) FaultDropReply() {
	m.mu.Lock()
	m.dropNext = true
	m.mu.Unlock()
}

// Read32 models one blind 32-bit read of the ROM window. While a reply
// is being streamed the data lines carry the next two reply half-words;
// otherwise the address lines feed the command decoder and the data
// lines show idle ROM content.
func (m *MCU) Read32(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reply) > 0 {
		hi := m.popReply(off)
		lo := m.popReply(off | 2)
		return uint32(hi)<<16 | uint32(lo)
	}
	m.decode(uint16(off >> m.shift))
	return uint32(m.idle(off))<<16 | uint32(m.idle(off|2))
}

// Read16 models one 16-bit read.
func (m *MCU) Read16(off uint32) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reply) > 0 {
		return m.popReply(off)
	}
	m.decode(uint16(off >> m.shift))
	return m.idle(off)
}

// popReply takes the next reply half-word, padding with idle content
// once the stream runs dry mid-read.
func (m *MCU) popReply(off uint32) uint16 {
	if len(m.reply) == 0 {
		return m.idle(off)
	}
	v := m.reply[0]
	m.reply = m.reply[1:]
	return v
}

// idle is what the Kickstart ROM would drive for a given offset.
func (m *MCU) idle(off uint32) uint16 {
	switch off >> 1 {
	case 0:
		return uint16(rombus.RomIdle >> 16)
	case 1:
		return uint16(rombus.RomIdle & 0xffff)
	}
	return 0x4afc // ROMTAG marker filler
}

// decode feeds one inbound half-word through the frame state machine.
func (m *MCU) decode(v uint16) {
	switch m.state {
	case stMagic:
		if v != rombus.Magic[m.magicIdx] {
			m.magicIdx = 0
			return
		}
		m.magicIdx++
		if m.magicIdx == len(rombus.Magic) {
			m.state = stLen
		}
	case stLen:
		m.inLen = v
		m.state = stCmd
	case stCmd:
		m.inCmd = v
		m.inBuf = m.inBuf[:0]
		if m.inLen == 0 {
			m.state = stCRC
		} else {
			m.state = stPayload
		}
	case stPayload:
		m.inBuf = append(m.inBuf, byte(v>>8), byte(v))
		if len(m.inBuf) >= int(m.inLen+1)&^1 {
			m.inBuf = m.inBuf[:m.inLen]
			m.state = stCRC
		}
	case stCRC:
		m.inCRC = append(m.inCRC, byte(v>>8), byte(v))
		if len(m.inCRC) == 4 {
			m.finishFrame()
			m.state = stMagic
			m.magicIdx = 0
			m.inCRC = m.inCRC[:0]
		}
	}
}

// finishFrame verifies the inbound CRC and executes the command.
func (m *MCU) finishFrame() {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:], m.inLen)
	binary.BigEndian.PutUint16(hdr[2:], m.inCmd)
	crc := smashcrc.Update(0, hdr[:])
	crc = smashcrc.Update(crc, m.inBuf)
	wireCRC := binary.BigEndian.Uint32(m.inCRC)
	if crc != wireCRC {
		m.enqueueReply(fs.KSStatusCRC, nil)
		return
	}
	status, payload := m.execute(m.inCmd, m.inBuf)
	if m.inCmd&0xff == fs.KSCmdNull {
		return // no reply by definition
	}
	m.enqueueReply(status, payload)
}

// enqueueReply frames a reply onto the outbound stream.
func (m *MCU) enqueueReply(status uint16, payload []byte) {
	if m.dropNext {
		m.dropNext = false
		return
	}
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:], uint16(len(payload)))
	binary.BigEndian.PutUint16(hdr[2:], status)
	crc := smashcrc.Update(0, hdr[:])
	crc = smashcrc.Update(crc, payload)

	// Corrupt after the CRC is taken so the receiver sees a mismatch.
	if m.corruptNext && len(payload) > 0 {
		m.corruptNext = false
		corrupted := make([]byte, len(payload))
		copy(corrupted, payload)
		corrupted[0] ^= 0x01
		payload = corrupted
	}

	out := make([]uint16, 0, len(rombus.Magic)+4+(len(payload)+1)/2)
	out = append(out, rombus.Magic[:]...)
	out = append(out, uint16(len(payload)), status)
	for i := 0; i < len(payload); i += 2 {
		v := uint16(payload[i]) << 8
		if i+1 < len(payload) {
			v |= uint16(payload[i+1])
		}
		out = append(out, v)
	}
	out = append(out, uint16(crc>>16), uint16(crc))
	m.reply = out
}

// execute runs one Kicksmash command. Called with the MCU locked.
func (m *MCU) execute(cmd uint16, payload []byte) (uint16, []byte) {
	opts := cmd & 0xff00
	switch cmd & 0xff {
	case fs.KSCmdNull, fs.KSCmdNop:
		return fs.KSStatusOK, nil

	case fs.KSCmdID:
		id := make([]byte, 32)
		binary.BigEndian.PutUint32(id[0:], 0x0001)     // protocol revision
		binary.BigEndian.PutUint32(id[4:], 0x12091610) // USB id
		return fs.KSStatusOK, id

	case fs.KSCmdUptime:
		up := make([]byte, 8)
		binary.BigEndian.PutUint64(up, uint64(time.Since(startTime)/time.Microsecond))
		return fs.KSStatusOK, up

	case fs.KSCmdMsgInfo:
		out := make([]byte, 8)
		inuse, avail := m.atou.counters()
		binary.BigEndian.PutUint16(out[0:], inuse)
		binary.BigEndian.PutUint16(out[2:], avail)
		inuse, avail = m.utoa.counters()
		binary.BigEndian.PutUint16(out[4:], inuse)
		binary.BigEndian.PutUint16(out[6:], avail)
		return fs.KSStatusOK, out

	case fs.KSCmdMsgSend:
		if m.lockBits&LockAmiga != 0 {
			return fs.KSStatusLocked, nil
		}
		if len(payload) < fs.MsgHdrSize {
			return fs.KSStatusBadArg, nil
		}
		if !m.atou.put(payload) {
			return fs.KSStatusBadLen, nil
		}
		select {
		case m.atouReady <- struct{}{}:
		default:
		}
		return fs.KSStatusOK, nil

	case fs.KSCmdMsgRecv:
		msg := m.utoa.get()
		if msg == nil {
			return fs.KSStatusNoData, nil
		}
		// A relayed message carries the send command code as its
		// status so the receiver can tell it from an empty reply.
		return fs.KSCmdMsgSend, msg

	case fs.KSCmdMsgLock:
		if len(payload) < 2 {
			return fs.KSStatusBadArg, nil
		}
		bits := binary.BigEndian.Uint16(payload)
		if bits&^0xf != 0 {
			return fs.KSStatusBadArg, nil
		}
		if opts&fs.KSMsgUnlock != 0 {
			m.lockBits &^= bits
		} else {
			m.lockBits |= bits
		}
		return fs.KSStatusOK, nil

	case fs.KSCmdMsgFlush:
		m.atou.reset()
		m.utoa.reset()
		return fs.KSStatusOK, nil

	case fs.KSCmdAppState:
		if opts&fs.KSAppStateSet != 0 {
			if len(payload) < 4 {
				return fs.KSStatusBadArg, nil
			}
			mask := binary.BigEndian.Uint16(payload[0:])
			bits := binary.BigEndian.Uint16(payload[2:])
			m.amigaState = m.amigaState&^mask | bits&mask
			m.amigaStateTime = time.Now()
			return fs.KSStatusOK, nil
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint16(out[0:], m.amigaState)
		binary.BigEndian.PutUint16(out[2:], m.currentHostState())
		return fs.KSStatusOK, out
	}
	log.Debugf(m, "unknown command %#04x", cmd)
	return fs.KSStatusUnkCmd, nil
}

// Amiga- and USB-side lock mask aggregates.
const (
	LockAmiga = msgq.LockAmiga1 | msgq.LockAmiga2
	LockUSB   = msgq.LockUSB1 | msgq.LockUSB2
)

var startTime = time.Now()

// currentHostState ages out a host that stopped refreshing.
func (m *MCU) currentHostState() uint16 {
	if time.Since(m.hostStateTime) > stateExpiry {
		return 0
	}
	return m.hostState
}

// SetHostState updates the USB-side application state, as the host's
// keepalive does.
func (m *MCU) SetHostState(mask, bits uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostState = m.hostState&^mask | bits&mask
	m.hostStateTime = time.Now()
}

// HostSend queues one message for the Amiga (the USB -> Amiga
// direction). It reports false when the buffer is full or locked
// against USB access.
func (m *MCU) HostSend(msg []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockBits&LockUSB != 0 {
		return false
	}
	return m.utoa.put(msg)
}

// HostRecv removes the oldest Amiga -> USB message, or nil when none is
// pending.
func (m *MCU) HostRecv() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atou.get()
}

// HostReady exposes the wakeup channel the host reader blocks on.
func (m *MCU) HostReady() <-chan struct{} {
	return m.atouReady
}
