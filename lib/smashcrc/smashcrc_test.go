package smashcrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// Known-good values computed with an independent implementation of the
// normal-form 0x04C11DB7 CRC. The peer's hardware CRC unit produces the
// same arithmetic, so these anchor interoperability: a bit-reflected
// CRC-32 gives different answers for all of them.
func TestChecksumVectors(t *testing.T) {
	assert.Equal(t, uint32(0x04c11db7), Checksum([]byte{0x00, 0x00, 0x00, 0x01}))
	// Length 0, command 2: the canonical empty ID request.
	assert.Equal(t, uint32(0x09823b6e), Checksum([]byte{0x00, 0x00, 0x00, 0x02}))
	assert.Equal(t, uint32(0x89a1897f), Checksum([]byte("123456789")))
	assert.Equal(t, uint32(0x654dcfa7), Checksum([]byte{0x00, 0x04, 0x00, 0x21, 'a', 'b', 0x00, 'd'}))
}

func TestUpdateIncremental(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "data")
		split := rapid.IntRange(0, len(data)).Draw(t, "split")
		whole := Checksum(data)
		partial := Update(Update(0, data[:split]), data[split:])
		assert.Equal(t, whole, partial)
	})
}

func TestChecksumZeroEmpty(t *testing.T) {
	assert.Equal(t, uint32(0), Checksum(nil))
}
