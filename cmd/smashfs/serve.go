package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kicksmash/smashfs/dos"
	"github.com/kicksmash/smashfs/fs/log"
	"github.com/kicksmash/smashfs/handler"
	"github.com/kicksmash/smashfs/msgq"
	"github.com/kicksmash/smashfs/peer"
	"github.com/kicksmash/smashfs/rfile"
	"github.com/kicksmash/smashfs/rombus"
	"github.com/kicksmash/smashfs/volmgr"
)

func setupServe(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "serve [VOLUME=dir]...",
		Short: "Run the filesystem handler against a loopback peer",
		Long: `Serve runs the complete stack against an in-process peer: the given
directories (or those from the config file) are exported as volumes,
discovered through the advertisement sweep and published. This is the
loopback mode used for development and testing; driving a real board
needs a bus transport behind the same interface.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args)
		},
	}
	root.AddCommand(cmd)
}

// parseMounts turns VOLUME=dir arguments into peer mounts.
func parseMounts(args []string) ([]peer.Mount, error) {
	var mounts []peer.Mount
	for _, arg := range args {
		name, dir, ok := strings.Cut(arg, "=")
		if !ok || name == "" || dir == "" {
			return nil, fmt.Errorf("bad volume %q, want VOLUME=dir", arg)
		}
		mounts = append(mounts, peer.Mount{Name: strings.TrimSuffix(name, ":"), Root: dir})
	}
	return mounts, nil
}

func runServe(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mounts, err := parseMounts(args)
	if err != nil {
		return err
	}
	for _, m := range cfg.Mounts {
		mounts = append(mounts, peer.Mount{Name: m.Name, Root: m.Root})
	}
	if len(mounts) == 0 {
		return errors.New("no volumes to serve")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcu := peer.NewMCU()
	svc := peer.NewService(mcu, mounts)
	go func() {
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf(svc, "stopped: %v", err)
		}
	}()

	ch := rombus.New(mcu, rombus.Options{})
	mq := msgq.New(ch)
	rf := rfile.New(mq)
	h := handler.New(rf)
	devInfo := &dos.DevInfo{}
	mgr := volmgr.New(rf, h, devInfo)

	log.Infof(nil, "serving %d volume(s), poll interval %v", len(mounts), cfg.PollInterval)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := mgr.Sync(ctx); err != nil {
			log.Errorf(mgr, "sync: %v", err)
		}
		select {
		case <-ctx.Done():
			// Drop every volume on the way out.
			mgr.Close()
			mgr.Flush(context.Background())
			return nil
		case <-ticker.C:
		}
		if !h.Running() {
			log.Infof(nil, "handler stopped")
			mgr.Close()
			mgr.Flush(context.Background())
			return nil
		}
	}
}
