package rombus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/lib/smashcrc"
)

// loopBus decodes the frame a Framer emits and offers it straight back
// as the reply, using the sent command as the reply status. It is a
// lossless transport for round-trip tests.
type loopBus struct {
	magicIdx int
	state    int // 0 magic, 1 len, 2 cmd, 3 payload, 4 crc
	length   uint16
	cmd      uint16
	payload  []byte
	crcBytes []byte

	reply []uint16
}

func (b *loopBus) feed(v uint16) {
	switch b.state {
	case 0:
		if v != Magic[b.magicIdx] {
			b.magicIdx = 0
			return
		}
		b.magicIdx++
		if b.magicIdx == len(Magic) {
			b.state = 1
		}
	case 1:
		b.length = v
		b.state = 2
	case 2:
		b.cmd = v
		b.payload = nil
		if b.length == 0 {
			b.state = 4
		} else {
			b.state = 3
		}
	case 3:
		b.payload = append(b.payload, byte(v>>8), byte(v))
		if len(b.payload) >= (int(b.length)+1)&^1 {
			b.payload = b.payload[:b.length]
			b.state = 4
		}
	case 4:
		b.crcBytes = append(b.crcBytes, byte(v>>8), byte(v))
		if len(b.crcBytes) == 4 {
			b.loopback()
			b.state = 0
			b.magicIdx = 0
			b.crcBytes = nil
		}
	}
}

// loopback enqueues the received frame as the reply.
func (b *loopBus) loopback() {
	var hdr [4]byte
	hdr[0] = byte(b.length >> 8)
	hdr[1] = byte(b.length)
	hdr[2] = byte(b.cmd >> 8)
	hdr[3] = byte(b.cmd)
	crc := smashcrc.Update(0, hdr[:])
	crc = smashcrc.Update(crc, b.payload)

	b.reply = append(b.reply, Magic[:]...)
	b.reply = append(b.reply, b.length, b.cmd)
	for i := 0; i < len(b.payload); i += 2 {
		v := uint16(b.payload[i]) << 8
		if i+1 < len(b.payload) {
			v |= uint16(b.payload[i+1])
		}
		b.reply = append(b.reply, v)
	}
	b.reply = append(b.reply, uint16(crc>>16), uint16(crc))
}

func (b *loopBus) pop(off uint32) uint16 {
	if len(b.reply) > 0 {
		v := b.reply[0]
		b.reply = b.reply[1:]
		return v
	}
	b.feed(uint16(off >> CmdShift))
	return 0x4afc
}

func (b *loopBus) Read32(off uint32) uint32 {
	if len(b.reply) > 0 {
		return uint32(b.pop(off))<<16 | uint32(b.pop(off))
	}
	b.feed(uint16(off >> CmdShift))
	return 0x4afc4afc
}

func (b *loopBus) Read16(off uint32) uint16 {
	return b.pop(off)
}

// TestFrameRoundTrip sends every command class with payloads of varied
// length through a lossless loopback and expects the identical frame
// back.
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cmd := rapid.Uint16Range(0, 0xff).Draw(t, "cmd")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 1024).Draw(t, "payload")

		bus := &loopBus{}
		f := NewFramer(bus, CmdShift, nil)
		f.Send(cmd, payload)
		status, reply, replyLen := f.Recv(2048)

		require.Equal(t, uint32(cmd), status)
		require.Equal(t, len(payload), replyLen)
		assert.Equal(t, append([]byte{}, payload...), append([]byte{}, reply...))
	})
}

// replayBus serves a fixed half-word stream, for fault injection.
type replayBus struct {
	words []uint16
}

func (b *replayBus) next() uint16 {
	if len(b.words) == 0 {
		return 0x4afc
	}
	v := b.words[0]
	b.words = b.words[1:]
	return v
}

func (b *replayBus) Read32(off uint32) uint32 {
	return uint32(b.next())<<16 | uint32(b.next())
}

func (b *replayBus) Read16(off uint32) uint16 {
	return b.next()
}

// wireFrame builds the half-word stream of a well-formed reply frame.
func wireFrame(status uint16, payload []byte) []uint16 {
	var hdr [4]byte
	hdr[0] = byte(len(payload) >> 8)
	hdr[1] = byte(len(payload))
	hdr[2] = byte(status >> 8)
	hdr[3] = byte(status)
	crc := smashcrc.Update(0, hdr[:])
	crc = smashcrc.Update(crc, payload)

	words := append([]uint16{}, Magic[:]...)
	words = append(words, uint16(len(payload)), status)
	for i := 0; i < len(payload); i += 2 {
		v := uint16(payload[i]) << 8
		if i+1 < len(payload) {
			v |= uint16(payload[i+1])
		}
		words = append(words, v)
	}
	return append(words, uint16(crc>>16), uint16(crc))
}

// TestRecvCRCSensitivity flips one bit in a well-formed frame: inside
// the magic prefix the decoder must report no reply at all; in the
// length, status or payload it must report a CRC failure. The status
// word only varies in its low byte — a high-byte flip can turn the
// status into the peer's own CRC-failure report, which is not
// CRC-checked — and the payload is an
// even number of bytes so no flip lands on the alignment pad.
func TestRecvCRCSensitivity(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30, 0x40}

	rapid.Check(t, func(t *rapid.T) {
		words := wireFrame(0, payload)
		// Don't flip inside the trailing CRC itself: that is still a
		// CRC failure, but trivially so.
		idx := rapid.IntRange(0, len(words)-3).Draw(t, "word")
		maxBit := 15
		if idx == 5 {
			maxBit = 7
		}
		bit := rapid.IntRange(0, maxBit).Draw(t, "bit")

		words[idx] ^= 1 << bit
		f := NewFramer(&replayBus{words: words}, CmdShift, nil)
		status, _, _ := f.Recv(0x11000)

		if idx < len(Magic) {
			assert.Equal(t, uint32(fs.StatusNoReply), status)
		} else {
			assert.Equal(t, uint32(fs.StatusBadCRC), status)
		}
	})
}

func TestRecvIntact(t *testing.T) {
	payload := []byte{1, 2, 3}
	f := NewFramer(&replayBus{words: wireFrame(0, payload)}, CmdShift, nil)
	status, reply, replyLen := f.Recv(256)
	require.Equal(t, uint32(fs.KSStatusOK), status)
	assert.Equal(t, 3, replyLen)
	assert.Equal(t, payload, reply)
}

// TestRecvOddAlignment prepends one noise half-word so the reply starts
// in the low half of a 32-bit read.
func TestRecvOddAlignment(t *testing.T) {
	payload := []byte{0xaa, 0xbb}
	words := append([]uint16{0x4afc}, wireFrame(0, payload)...)
	f := NewFramer(&replayBus{words: words}, CmdShift, nil)
	status, reply, _ := f.Recv(256)
	require.Equal(t, uint32(fs.KSStatusOK), status)
	assert.Equal(t, payload, reply)
}

func TestRecvNoReply(t *testing.T) {
	f := NewFramer(&replayBus{}, CmdShift, nil)
	status, _, _ := f.Recv(256)
	assert.Equal(t, uint32(fs.StatusNoReply), status)
}

func TestRecvBadLength(t *testing.T) {
	payload := make([]byte, 64)
	f := NewFramer(&replayBus{words: wireFrame(0, payload)}, CmdShift, nil)
	status, _, replyLen := f.Recv(16)
	assert.Equal(t, uint32(fs.StatusBadLength), status)
	assert.Equal(t, 64, replyLen)
}
