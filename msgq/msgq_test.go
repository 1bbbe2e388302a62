package msgq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/msgq"
	"github.com/kicksmash/smashfs/peer"
	"github.com/kicksmash/smashfs/rombus"
)

func newClient(t interface{}) (*msgq.Client, *peer.MCU) {
	mcu := peer.NewMCU()
	ch := rombus.New(mcu, rombus.Options{Spin: func(uint) {}})
	return msgq.New(ch), mcu
}

func msgWith(op uint8, tag uint16, payload []byte) []byte {
	return append(fs.MsgHdr{Op: op, Tag: tag}.Encode(nil), payload...)
}

func TestAllocTagMonotonic(t *testing.T) {
	c, _ := newClient(t)
	last := c.AllocTag()
	for i := 0; i < 100; i++ {
		tag := c.AllocTag()
		assert.Equal(t, uint16(last+1), tag)
		last = tag
	}
}

// TestInfoAccounting checks the ring buffer arithmetic: queueing a
// message of L bytes moves exactly its wire size (length prefix plus L
// rounded up to even) from available to in-use.
func TestInfoAccounting(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c, _ := newClient(t)
		ctx := context.Background()

		before, err := c.Info(ctx)
		require.NoError(t, err)

		payload := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "payload")
		msg := msgWith(fs.OpNull, 1, payload)
		require.NoError(t, c.Send(ctx, msg))

		after, err := c.Info(ctx)
		require.NoError(t, err)

		wire := uint16(2 + (len(msg)+1)&^1)
		assert.Equal(t, before.AtouInuse+wire, after.AtouInuse)
		assert.Equal(t, before.AtouAvail-wire, after.AtouAvail)
		assert.Equal(t, before.UtoaInuse, after.UtoaInuse)
	})
}

func TestSendRecvSingle(t *testing.T) {
	c, mcu := newClient(t)
	ctx := context.Background()

	sent := msgWith(fs.OpLoopback, 42, []byte("ping"))
	require.NoError(t, c.Send(ctx, sent))
	assert.Equal(t, sent, mcu.HostRecv())

	reply := msgWith(fs.OpLoopback|fs.OpReply, 42, []byte("pong"))
	require.True(t, mcu.HostSend(reply))
	got, err := c.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestRecvNoData(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Recv(context.Background())
	assert.Equal(t, fs.ChannelError(fs.KSStatusNoData), err)
}

// TestSendFragmented streams a message just past the single-shot limit
// and reassembles it from the lead plus one continuation fragment.
func TestSendFragmented(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c, mcu := newClient(t)
		ctx := context.Background()

		// One continuation fragment; both pieces fit the peer buffer
		// without interleaved draining.
		size := rapid.IntRange(msgq.SendMax-fs.MsgHdrSize+1, 2*(msgq.SendMax-fs.MsgHdrSize)).Draw(t, "size")
		msg := msgWith(fs.OpFWrite, 7, nil)
		data := rapid.SliceOfN(rapid.Byte(), size, size).Draw(t, "data")
		msg = append(msg, data...)

		require.NoError(t, c.Send(ctx, msg))

		lead := mcu.HostRecv()
		require.NotNil(t, lead)
		require.Equal(t, msgq.SendMax, len(lead))
		got := append([]byte{}, lead...)

		frag := mcu.HostRecv()
		require.NotNil(t, frag)
		assert.Equal(t, uint16(7), fs.DecodeMsgHdr(frag).Tag)
		got = append(got, frag[fs.MsgHdrSize:]...)

		assert.Nil(t, mcu.HostRecv())
		assert.Equal(t, msg, got)
	})
}

// TestSendManyFragments pushes a message several times the buffer size
// through: the sender paces itself on BADLEN while a drainer empties
// the peer buffer, and the fragment count matches the streaming rule.
func TestSendManyFragments(t *testing.T) {
	c, mcu := newClient(t)
	ctx := context.Background()

	const size = 9000
	msg := msgWith(fs.OpFWrite, 9, nil)
	for i := 0; i < size; i++ {
		msg = append(msg, byte(i))
	}

	frags := make(chan []byte, 64)
	stop := make(chan struct{})
	go func() {
		defer close(frags)
		for {
			if m := mcu.HostRecv(); m != nil {
				frags <- m
				continue
			}
			select {
			case <-stop:
				return
			default:
				time.Sleep(200 * time.Microsecond)
			}
		}
	}()

	require.NoError(t, c.Send(ctx, msg))
	close(stop)

	var got []byte
	count := 0
	for frag := range frags {
		if count == 0 {
			got = append(got, frag...)
		} else {
			assert.Equal(t, uint16(9), fs.DecodeMsgHdr(frag).Tag)
			got = append(got, frag[fs.MsgHdrSize:]...)
		}
		count++
	}

	payload := len(msg) - fs.MsgHdrSize
	chunk := msgq.SendMax - fs.MsgHdrSize
	wantFrags := 1 + (payload-chunk+chunk-1)/chunk
	assert.Equal(t, wantFrags, count)
	assert.Equal(t, msg, got)
}

// TestRecvTagMatching multiplexes replies for several tags and checks
// each request only ever consumes its own reply; the strays stay
// queued by op.
func TestRecvTagMatching(t *testing.T) {
	c, mcu := newClient(t)
	ctx := context.Background()

	for _, tag := range []uint16{11, 22, 33} {
		require.True(t, mcu.HostSend(msgWith(fs.OpFOpen|fs.OpReply, tag, []byte{byte(tag)})))
	}

	got, err := c.RecvTag(ctx, 22)
	require.NoError(t, err)
	assert.Equal(t, uint16(22), fs.DecodeMsgHdr(got).Tag)

	got, err = c.RecvTag(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, uint16(11), fs.DecodeMsgHdr(got).Tag)

	got, err = c.RecvTag(ctx, 33)
	require.NoError(t, err)
	assert.Equal(t, uint16(33), fs.DecodeMsgHdr(got).Tag)
}

func TestRecvTagReplyStatus(t *testing.T) {
	c, mcu := newClient(t)
	require.True(t, mcu.HostSend(msgWith(fs.OpFOpen|fs.OpReply, 5, nil)))
	mcuMsg := msgWith(fs.OpFDelete|fs.OpReply, 6, nil)
	mcuMsg[1] = fs.StatusNoExist
	require.True(t, mcu.HostSend(mcuMsg))

	_, err := c.RecvTag(context.Background(), 6)
	assert.Equal(t, fs.RemoteFileError(fs.StatusNoExist), err)
}

// TestUnmatchedQueued parks unsolicited inbound messages for later
// consumption instead of dropping them.
func TestUnmatchedQueued(t *testing.T) {
	c, mcu := newClient(t)
	ctx := context.Background()

	require.True(t, mcu.HostSend(msgWith(fs.OpLoopback, 900, []byte("server push"))))
	require.True(t, mcu.HostSend(msgWith(fs.OpFRead|fs.OpReply, 77, nil)))

	got, err := c.RecvTag(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, uint16(77), fs.DecodeMsgHdr(got).Tag)

	queued := c.TakeQueued(fs.OpLoopback)
	require.NotNil(t, queued)
	assert.Equal(t, uint16(900), fs.DecodeMsgHdr(queued).Tag)
	assert.Nil(t, c.TakeQueued(fs.OpLoopback))
}

func TestLockBlocksSend(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Lock(ctx, msgq.LockAmiga1|msgq.LockAmiga2))
	err := c.Send(ctx, msgWith(fs.OpNull, 1, nil))
	assert.ErrorIs(t, err, fs.ChannelError(fs.KSStatusLocked))

	require.NoError(t, c.Unlock(ctx, msgq.LockAmiga1|msgq.LockAmiga2))
	assert.NoError(t, c.Send(ctx, msgWith(fs.OpNull, 2, nil)))
}

func TestFlush(t *testing.T) {
	c, mcu := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, msgWith(fs.OpNull, 1, []byte("x"))))
	require.True(t, mcu.HostSend(msgWith(fs.OpNull, 2, []byte("y"))))
	require.NoError(t, c.Flush(ctx))

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.AtouInuse)
	assert.Zero(t, info.UtoaInuse)
}

func TestIDAndUptime(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	id, err := c.ID(ctx)
	require.NoError(t, err)
	assert.Len(t, id, 32)

	up, err := c.Uptime(ctx)
	require.NoError(t, err)
	assert.Less(t, up, uint64(time.Hour/time.Microsecond))
}

func TestAppState(t *testing.T) {
	c, mcu := newClient(t)
	ctx := context.Background()

	mcu.SetHostState(0xffff, fs.AppStateServiceUp|fs.AppStateHaveFile)
	require.NoError(t, c.SetAppState(ctx, 0xffff, fs.AppStateServiceUp))

	local, remote, err := c.AppState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(fs.AppStateServiceUp), local)
	assert.Equal(t, uint16(fs.AppStateServiceUp|fs.AppStateHaveFile), remote)
}
