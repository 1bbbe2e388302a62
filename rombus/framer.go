package rombus

import (
	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/lib/smashcrc"
)

// Magic is the frame preamble, transmitted first half-word first.
var Magic = [4]uint16{0x0204, 0x1017, 0x0119, 0x0117}

// magicScanLimit bounds the half-word scan for a reply preamble.
const magicScanLimit = 128

// Framer serialises frames onto a Bus and picks replies back out of it.
// Frame layout: magic, length (payload bytes), command or status,
// payload rounded up to a half-word, CRC-32 high half first. The CRC
// covers length, command and the true payload bytes only.
type Framer struct {
	bus   Bus
	shift uint
	spin  Spinner
}

// NewFramer returns a Framer for the given bus. shift is the command
// address shift (CmdShift on 32-bit machines).
func NewFramer(bus Bus, shift uint, spin Spinner) *Framer {
	return &Framer{bus: bus, shift: shift, spin: spin}
}

// emit sends one half-word by reading the address that encodes it.
func (f *Framer) emit(v uint16) {
	f.bus.Read32(uint32(v) << f.shift)
}

// Send transmits one request frame.
func (f *Framer) Send(cmd uint16, payload []byte) {
	for _, m := range Magic {
		f.emit(m)
	}

	plen := uint16(len(payload))
	f.emit(plen)

	var hdr [4]byte
	hdr[0] = byte(plen >> 8)
	hdr[1] = byte(plen)
	hdr[2] = byte(cmd >> 8)
	hdr[3] = byte(cmd)
	crc := smashcrc.Update(0, hdr[:])
	crc = smashcrc.Update(crc, payload)

	f.emit(cmd)

	for i := 0; i < len(payload); i += 2 {
		hi := uint16(payload[i]) << 8
		if i+1 < len(payload) {
			hi |= uint16(payload[i+1])
		}
		f.emit(hi)
	}

	f.emit(uint16(crc >> 16))
	f.emit(uint16(crc))
}

// halfReader pulls a stream of 16-bit values out of 32-bit bus reads,
// tolerating replies that begin in either half of a longword.
type halfReader struct {
	bus  Bus
	word uint   // half-words consumed so far
	cur  uint32 // most recent 32-bit read
}

func (r *halfReader) next(off uint32) uint16 {
	var v uint16
	if r.word&1 != 0 {
		v = uint16(r.cur)
	} else {
		r.cur = r.bus.Read32(off)
		v = uint16(r.cur >> 16)
	}
	r.word++
	return v
}

// Recv scans for a reply frame and returns its status and payload. A
// reply longer than max bytes is refused with fs.StatusBadLength and no
// payload; the reported reply length is still the frame's. Failure
// statuses are fs.StatusNoReply, fs.StatusBadLength and fs.StatusBadCRC.
func (f *Framer) Recv(max int) (status uint32, payload []byte, replyLen int) {
	r := halfReader{bus: f.bus}
	var (
		matched int
		rlen    uint16
		crc     uint32
		found   bool
	)

	for r.word < magicScanLimit {
		val := r.next(PollOffset)
		if matched < len(Magic) {
			if val != Magic[matched] {
				matched = 0
				if f.spin != nil {
					f.spin(r.word)
				}
				continue
			}
		} else if matched == len(Magic) {
			rlen = val
			crc = smashcrc.Update(0, []byte{byte(val >> 8), byte(val)})
		} else {
			status = uint32(val)
			crc = smashcrc.Update(crc, []byte{byte(val >> 8), byte(val)})
			found = true
			break
		}
		matched++
	}

	if !found {
		return fs.StatusNoReply, nil, 0
	}

	replyLen = int(rlen)
	if (replyLen+1)&^1 > max {
		return fs.StatusBadLength, nil, replyLen
	}

	payload = make([]byte, 0, (replyLen+1)&^1)
	for len(payload) < replyLen {
		val := r.next(0)
		payload = append(payload, byte(val>>8), byte(val))
	}
	payload = payload[:replyLen]

	// The wire carries the CRC high half first. When the payload ended
	// mid-longword the low half of the current read starts the CRC and
	// one 16-bit read finishes it.
	var replyCRC uint32
	if r.word&1 != 0 {
		replyCRC = r.cur<<16 | uint32(f.bus.Read16(0))
	} else {
		replyCRC = f.bus.Read32(0)
	}

	// A peer-reported CRC failure is not itself CRC-checked. The wire
	// status is 16 bits, so every other status, channel-level errors
	// included, is checked.
	if status&0xffff0000 == 0 && status != fs.KSStatusCRC {
		crc = smashcrc.Update(crc, payload)
		if crc != replyCRC {
			return fs.StatusBadCRC, nil, replyLen
		}
	}
	return status, payload, replyLen
}
