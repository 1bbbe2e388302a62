package fs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgHdrRoundTrip(t *testing.T) {
	hdr := MsgHdr{Op: OpFOpen, Status: StatusOK, Tag: 0xbeef}
	b := hdr.Encode(nil)
	require.Len(t, b, MsgHdrSize)
	assert.Equal(t, hdr, DecodeMsgHdr(b))
	assert.False(t, hdr.IsReply())

	reply := MsgHdr{Op: OpFOpen | OpReply, Status: StatusNoExist, Tag: 0xbeef}
	assert.True(t, reply.IsReply())
}

func TestStatusToError(t *testing.T) {
	assert.NoError(t, StatusToError(StatusOK))

	err := StatusToError(StatusNoExist)
	var rf RemoteFileError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, uint8(StatusNoExist), uint8(rf))

	err = StatusToError(KSStatusBadLen)
	var ch ChannelError
	require.True(t, errors.As(err, &ch))
	assert.Equal(t, uint32(KSStatusBadLen), uint32(ch))

	assert.Equal(t, ErrNoReply, StatusToError(StatusNoReply))
	assert.Equal(t, ErrBadCRC, StatusToError(StatusBadCRC))
	assert.Equal(t, ErrBadLength, StatusToError(StatusBadLength))
}

func TestErrorToStatusInverse(t *testing.T) {
	for _, status := range []uint32{
		StatusFail, StatusEOF, StatusPerm, StatusUnavail,
		KSStatusFail, KSStatusCRC, KSStatusNoData, KSStatusLocked,
		StatusNoReply, StatusBadCRC, StatusBadLength,
	} {
		assert.Equal(t, status, ErrorToStatus(StatusToError(status)), "status %#x", status)
	}
	assert.Equal(t, uint32(StatusOK), ErrorToStatus(nil))
	assert.Equal(t, uint32(StatusFail), ErrorToStatus(errors.New("anything else")))
}
