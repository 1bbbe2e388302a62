package dos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Packet is one filesystem request. Args carry up to four machine words;
// their meaning depends on Type (locks, BCPL names, buffers, plain
// integers). Res1 holds the primary result — a boolean, a count, or an
// object reference where a real handler would return a BCPL pointer —
// and Res2 the error code.
type Packet struct {
	Type int
	Args [4]interface{}
	Res1 interface{}
	Res2 int32

	// Port is the reply port supplied by the sender; the handler sends
	// the completed packet back to it.
	Port *MsgPort
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet %d", p.Type)
}

// Arg returns the i'th argument or nil when absent.
func (p *Packet) Arg(i int) interface{} {
	if i < 0 || i >= len(p.Args) {
		return nil
	}
	return p.Args[i]
}

// IntArg returns the i'th argument as an integer, zero when absent or of
// another kind.
func (p *Packet) IntArg(i int) int64 {
	switch v := p.Arg(i).(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint32:
		return int64(v)
	}
	return 0
}

// BStrArg returns the i'th argument as a BCPL string, empty when absent.
func (p *Packet) BStrArg(i int) BStr {
	b, _ := p.Arg(i).(BStr)
	return b
}

// Fail sets a failure result with the given error code and returns
// DOSFalse for convenience.
func (p *Packet) Fail(code int32) interface{} {
	p.Res2 = code
	return DOSFalse
}

// Bool reports whether Res1 is a successful boolean result.
func (p *Packet) Bool() bool {
	v, ok := p.Res1.(int32)
	return !ok || v != DOSFalse
}

// MsgPort is a message port: a queue of packets with a process-unique
// identity.
type MsgPort struct {
	ID string
	C  chan *Packet
}

// NewMsgPort creates a port with a bounded queue.
func NewMsgPort() *MsgPort {
	return &MsgPort{
		ID: uuid.NewString(),
		C:  make(chan *Packet, 64),
	}
}

// Put enqueues a packet on the port.
func (mp *MsgPort) Put(pkt *Packet) {
	mp.C <- pkt
}

// DoPkt sends a packet with the given type and arguments to the port and
// waits for the reply, in the manner of dos.library DoPkt. It is the
// synchronous convenience used by tests and glue code.
func (mp *MsgPort) DoPkt(ctx context.Context, typ int, args ...interface{}) (*Packet, error) {
	reply := NewMsgPort()
	pkt := &Packet{Type: typ, Port: reply}
	copy(pkt.Args[:], args)
	select {
	case mp.C <- pkt:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case done := <-reply.C:
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
