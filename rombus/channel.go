package rombus

import (
	"context"
	"sync"
	"time"

	"github.com/kicksmash/smashfs/fs"
	"github.com/kicksmash/smashfs/fs/log"
)

// recoveryTimeout caps the wait for the peer to release the data bus.
const recoveryTimeout = 2 * time.Second

// Channel issues commands to the peer and collects their replies. The
// bus is exclusive to one transaction at a time; the mutex is the host
// analogue of the interrupt-disable window on the Amiga.
type Channel struct {
	mu     sync.Mutex
	bus    Bus
	framer *Framer
	spin   Spinner
}

// Options configures a Channel.
type Options struct {
	// Shift is the command address shift. Zero means CmdShift.
	Shift uint
	// Spin overrides the pacing delay. Nil gets a microsecond-scale
	// sleep matching one CIA timer tick per unit.
	Spin Spinner
}

// New returns a Channel over the given bus.
func New(bus Bus, opt Options) *Channel {
	shift := opt.Shift
	if shift == 0 {
		shift = CmdShift
	}
	spin := opt.Spin
	if spin == nil {
		spin = func(units uint) {
			time.Sleep(time.Duration(units) * 1400 * time.Nanosecond)
		}
	}
	return &Channel{
		bus:    bus,
		framer: NewFramer(bus, shift, spin),
		spin:   spin,
	}
}

func (c *Channel) String() string {
	return "rom channel"
}

// Cmd sends one command frame and returns the reply status and payload.
// The returned error is the status translated per its range; callers
// which only care about success can ignore the raw status.
func (c *Channel) Cmd(ctx context.Context, cmd uint16, payload []byte, replyMax int) (uint32, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fs.StatusFail, nil, err
	}

	c.framer.Send(cmd, payload)

	// Let the peer's DMA engines come up before polling for the reply.
	c.spin(uint(len(payload)>>3) + uint(replyMax>>5) + 10)

	status, reply, replyLen := c.framer.Recv(replyMax)
	if status&0xffffff00 != 0 {
		log.Debugf(c, "cmd %#04x status %s (reply len %d), waiting for ROM recovery", cmd, fs.StatusText(status), replyLen)
		c.recover(ctx)
	}
	return status, reply, fs.StatusToError(status)
}

// recover polls the ROM window until the peer has relinquished the data
// bus: consecutive reads of the recovery offset agree and the idle
// longword is back at the base of the window.
func (c *Channel) recover(ctx context.Context) {
	deadline := time.Now().Add(recoveryTimeout)
	var last uint32
	for stable := 0; stable < 100; stable++ {
		cur := c.bus.Read32(RecoveryOffset)
		if cur != last || c.bus.Read32(0) != RomIdle {
			if time.Now().After(deadline) || ctx.Err() != nil {
				log.Errorf(c, "ROM did not recover: bus may still be driven by peer")
				return
			}
			stable = 0
			last = cur
		}
		c.spin(14) // ~20us between probes
	}
}
