// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// yetty-hostd is a headless card host for scripting and integration
// work: it speaks the full card protocol without a rendering engine.
//
// Terminal bytes arrive on stdin; everything that is not a card
// control sequence passes through to stdout unchanged. The RPC socket
// and the shared-memory region are live, so producers and yetty-card
// behave exactly as they would inside the real terminal. Card targets
// are headless stand-ins that count deliveries.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/zokrezyl/yetty-poc-sub003/card"
	"github.com/zokrezyl/yetty-poc-sub003/host"
	"github.com/zokrezyl/yetty-poc-sub003/internal/cli"
	"github.com/zokrezyl/yetty-poc-sub003/lib/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet("yetty-hostd", pflag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default: $YETTY_CONFIG)")
	socket := fs.String("socket", "", "RPC socket path (overrides config)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "yetty-hostd: %v\n", err)
		return 2
	}

	logger := cli.NewLogger(*verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		return 1
	}
	if *socket != "" {
		cfg.Socket = *socket
	}

	h, err := host.New(host.Options{
		SocketPath:       cfg.Socket,
		RegionSize:       cfg.Stream.RegionSize,
		ReadDeadline:     time.Duration(cfg.Stream.ReadDeadlineMillis) * time.Millisecond,
		MaxSequenceBytes: cfg.Limits.MaxSequenceBytes,
		Factory:          headlessFactory(logger),
		Output:           os.Stdout,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("starting host", "error", err)
		return 1
	}
	logger.Info("host ready", "socket", h.SocketPath())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stdin EOF is the session ending; treat it like a signal.
	go func() {
		defer stop()
		buf := make([]byte, 32*1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				h.Write(buf[:n])
			}
			if err != nil {
				if err != io.EOF {
					logger.Error("reading stdin", "error", err)
				}
				return
			}
		}
	}()

	if err := h.Run(ctx); err != nil {
		logger.Error("host stopped", "error", err)
		return 1
	}
	logger.Info("host stopped")
	return 0
}

// headlessFactory builds targets that log deliveries instead of
// rendering them.
func headlessFactory(logger *slog.Logger) card.Factory {
	return card.FactoryFunc(func(kind string, spec card.CreateSpec) (card.Target, error) {
		return &headlessTarget{id: spec.ID, kind: kind, logger: logger}, nil
	})
}

type headlessTarget struct {
	id      string
	kind    string
	updates int
	logger  *slog.Logger
}

func (t *headlessTarget) ApplyUpdate(args string, payload []byte) error {
	t.updates++
	t.logger.Info("card update", "id", t.id, "kind", t.kind, "n", t.updates, "bytes", len(payload))
	return nil
}

func (t *headlessTarget) Destroy(done func()) {
	t.logger.Info("card destroyed", "id", t.id, "kind", t.kind, "updates", t.updates)
	done()
}
