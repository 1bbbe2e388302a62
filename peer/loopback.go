package peer

import (
	"context"

	"github.com/kicksmash/smashfs/fs"
)

// Loopback bundles an emulated MCU with a file service over local
// directories. It is the in-process peer used by tests and by the serve
// command's loopback mode.
type Loopback struct {
	MCU     *MCU
	Service *Service
}

// NewLoopback builds a loopback peer exporting the given mounts.
func NewLoopback(mounts []Mount) *Loopback {
	mcu := NewMCU()
	return &Loopback{
		MCU:     mcu,
		Service: NewService(mcu, mounts),
	}
}

// Start runs the service until the returned stop function is called.
// The service is already advertised in the MCU's app state when Start
// returns.
func (l *Loopback) Start(ctx context.Context) (stop func()) {
	l.MCU.SetHostState(0xffff, fs.AppStateServiceUp|fs.AppStateHaveFile|fs.AppStateHaveLoopback)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Service.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
