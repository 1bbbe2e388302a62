package dos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBStr(t *testing.T) {
	b := MakeBStr("Work")
	assert.Equal(t, byte(4), b[0])
	assert.Equal(t, "Work", b.String())
	assert.Equal(t, "", BStr(nil).String())

	// Fixed-capacity buffer fill truncates to capacity minus two.
	var buf [8]byte
	BStr(buf[:]).SetString("averylongname")
	assert.Equal(t, "averyl", BStr(buf[:]).String())
	assert.Equal(t, byte(6), buf[0])
}

func TestDateStampRoundTrip(t *testing.T) {
	// 2024-08-15T12:34:56Z
	const sec = 1723725296
	ds := DateStampFromUnix(sec)
	assert.Equal(t, uint32(sec), ds.Unix())

	// Pre-1978 clamps to the Amiga epoch.
	ds = DateStampFromUnix(1000)
	assert.Equal(t, int32(0), ds.Days)
}

func TestDevInfoList(t *testing.T) {
	di := &DevInfo{}
	a := &DeviceList{Name: "One", Type: DLTVolume}
	b := &DeviceList{Name: "Two", Type: DLTDevice}

	di.Lock()
	di.Add(a)
	di.Add(b)
	assert.True(t, di.NamePresent("one", nil))
	assert.True(t, di.NamePresent("TWO", nil))
	assert.False(t, di.NamePresent("one", a))
	require.True(t, di.Remove(a))
	assert.False(t, di.NamePresent("One", nil))
	assert.False(t, di.Remove(a))
	di.Unlock()
}

func TestPacketArgs(t *testing.T) {
	pkt := &Packet{Type: ActionLocateObject}
	pkt.Args[0] = nil
	pkt.Args[1] = MakeBStr("name")
	pkt.Args[2] = AccessRead

	assert.Equal(t, "name", pkt.BStrArg(1).String())
	assert.Equal(t, int64(AccessRead), pkt.IntArg(2))
	assert.Nil(t, pkt.Arg(7))

	pkt.Res1 = pkt.Fail(ErrorObjectNotFound)
	assert.False(t, pkt.Bool())
	assert.Equal(t, int32(ErrorObjectNotFound), pkt.Res2)
}
