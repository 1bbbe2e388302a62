package msgq

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/kicksmash/smashfs/fs"
)

// KeepaliveInterval is how often a side must refresh its application
// state before the peer assumes it has gone away.
const KeepaliveInterval = 5 * time.Second

// ID queries the peer's identification block (protocol revision,
// USB id, firmware version and build stamp).
func (c *Client) ID(ctx context.Context) ([]byte, error) {
	_, reply, err := c.cmd.Cmd(ctx, fs.KSCmdID, nil, 64)
	return reply, err
}

// Uptime reports the peer's uptime in microseconds.
func (c *Client) Uptime(ctx context.Context) (uint64, error) {
	_, reply, err := c.cmd.Cmd(ctx, fs.KSCmdUptime, nil, 16)
	if err != nil {
		return 0, err
	}
	if len(reply) < 8 {
		return 0, fmt.Errorf("uptime reply too short: %d bytes", len(reply))
	}
	return binary.BigEndian.Uint64(reply), nil
}

// AppState reads both sides' application state words: first the state
// set from this side, then the peer's.
func (c *Client) AppState(ctx context.Context) (local, remote uint16, err error) {
	_, reply, err := c.cmd.Cmd(ctx, fs.KSCmdAppState, nil, 8)
	if err != nil {
		return 0, 0, err
	}
	if len(reply) < 4 {
		return 0, 0, fmt.Errorf("app state reply too short: %d bytes", len(reply))
	}
	return binary.BigEndian.Uint16(reply[0:]), binary.BigEndian.Uint16(reply[2:]), nil
}

// SetAppState updates this side's application state bits selected by
// mask.
func (c *Client) SetAppState(ctx context.Context, mask, bits uint16) error {
	var payload [4]byte
	binary.BigEndian.PutUint16(payload[0:], mask)
	binary.BigEndian.PutUint16(payload[2:], bits)
	_, _, err := c.cmd.Cmd(ctx, fs.KSCmdAppState|fs.KSAppStateSet, payload[:], 0)
	return err
}

// Keepalive re-advertises the given state bits every KeepaliveInterval
// until the context ends. It is used by the side providing a service;
// the consuming side merely reads the peer state.
func (c *Client) Keepalive(ctx context.Context, bits uint16) {
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.SetAppState(ctx, 0xffff, bits)
		}
	}
}
