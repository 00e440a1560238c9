// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zokrezyl/yetty-poc-sub003/card"
	"github.com/zokrezyl/yetty-poc-sub003/lib/codec"
	"github.com/zokrezyl/yetty-poc-sub003/osc"
	"github.com/zokrezyl/yetty-poc-sub003/rpc"
	"github.com/zokrezyl/yetty-poc-sub003/stream"
)

// Options configures a Host.
type Options struct {
	// SocketPath for the RPC server. Empty uses the per-instance
	// default under the runtime directory.
	SocketPath string

	// RegionName for the shared-memory region. Empty uses the
	// per-instance default.
	RegionName string

	// RegionSize of the shared arena in bytes. Zero uses 16 MiB.
	RegionSize uint32

	// ReadDeadline bounds the render loop's seqlock spin per buffer.
	// Zero uses 2ms.
	ReadDeadline time.Duration

	// MaxSequenceBytes caps a single control-sequence body. Zero uses
	// 8 MiB.
	MaxSequenceBytes int

	// Factory instantiates card targets. Required.
	Factory card.Factory

	// Output receives the pass-through byte stream (everything that is
	// not a card control sequence): the terminal engine's parser.
	// Required.
	Output io.Writer

	// Input receives forwarded input events. Nil discards them.
	Input InputSink

	Logger *slog.Logger
}

// Host is one terminal instance's protocol core.
type Host struct {
	loop     *Loop
	registry *card.Registry
	region   *stream.Region
	streams  *stream.Handler
	server   *rpc.Server
	logger   *slog.Logger

	readDeadline time.Duration

	// The scanner is owned by whichever single goroutine calls Write —
	// the terminal reader. The mutex only guards against accidental
	// concurrent writers.
	writeMu sync.Mutex
	scanner osc.Scanner
	output  io.Writer
}

// New builds a host: creates the shared region, the registry and the
// RPC server, and wires them onto a fresh dispatch loop. Run starts
// the moving parts.
func New(opts Options) (*Host, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("host: Options.Factory is required")
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("host: Options.Output is required")
	}
	if opts.SocketPath == "" {
		opts.SocketPath = rpc.DefaultSocketPath()
	}
	if opts.RegionName == "" {
		opts.RegionName = stream.DefaultRegionName()
	}
	if opts.RegionSize == 0 {
		opts.RegionSize = 16 * 1024 * 1024
	}
	if opts.ReadDeadline == 0 {
		opts.ReadDeadline = 2 * time.Millisecond
	}
	if opts.MaxSequenceBytes == 0 {
		opts.MaxSequenceBytes = 8 * 1024 * 1024
	}
	if opts.Input == nil {
		opts.Input = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	region, err := stream.CreateRegion(opts.RegionName, opts.RegionSize)
	if err != nil {
		return nil, err
	}

	loop := NewLoop()
	h := &Host{
		loop:         loop,
		region:       region,
		logger:       opts.Logger,
		readDeadline: opts.ReadDeadline,
		output:       opts.Output,
	}
	h.scanner.MaxBody = opts.MaxSequenceBytes

	h.streams = stream.NewHandler(region, stream.HandlerOptions{
		Submit: loop.Submit,
		Lookup: func(name string) bool {
			_, ok := h.registry.Lookup(name)
			return ok
		},
		Logger: opts.Logger,
	})

	h.registry = card.NewRegistry(card.Options{
		Factory:  opts.Factory,
		Defer:    loop.Submit,
		Released: h.streams.CardReleased,
		Logger:   opts.Logger,
	})

	h.server = rpc.NewServer(opts.SocketPath, loop.Submit, opts.Logger)
	h.streams.Register(h.server)
	h.registerQuery()
	h.registerInput(opts.Input)
	return h, nil
}

func (h *Host) registerQuery() {
	h.server.Handle(rpc.ChannelQuery, "cards_list", func(conn *rpc.Conn, params codec.RawMessage) (any, error) {
		return h.registry.Snapshot(), nil
	})
}

func (h *Host) registerInput(sink InputSink) {
	h.server.Handle(rpc.ChannelInput, "key_down", func(conn *rpc.Conn, params codec.RawMessage) (any, error) {
		var ev KeyEvent
		if err := codec.Unmarshal(params, &ev); err != nil {
			return nil, err
		}
		sink.KeyDown(ev)
		return nil, nil
	})
	h.server.Handle(rpc.ChannelInput, "char_input", func(conn *rpc.Conn, params codec.RawMessage) (any, error) {
		var ev CharEvent
		if err := codec.Unmarshal(params, &ev); err != nil {
			return nil, err
		}
		sink.CharInput(ev)
		return nil, nil
	})
	for method, deliver := range map[string]func(MouseEvent){
		"mouse_move":   sink.MouseMove,
		"mouse_button": sink.MouseButton,
		"mouse_wheel":  sink.MouseWheel,
	} {
		deliver := deliver
		h.server.Handle(rpc.ChannelInput, method, func(conn *rpc.Conn, params codec.RawMessage) (any, error) {
			var ev MouseEvent
			if err := codec.Unmarshal(params, &ev); err != nil {
				return nil, err
			}
			deliver(ev)
			return nil, nil
		})
	}
}

// Write feeds terminal bytes through the scanner: pass-through goes
// straight to Output, completed command bodies are parsed and applied
// on the dispatch loop. One writer goroutine at a time — the terminal
// reader. Always reports the full chunk consumed.
func (h *Host) Write(p []byte) (int, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	passthrough, bodies := h.scanner.Scan(p)
	for _, segment := range passthrough {
		if _, err := h.output.Write(segment); err != nil {
			return len(p), fmt.Errorf("host: forwarding output: %w", err)
		}
	}
	for _, body := range bodies {
		cmd, err := osc.Parse(body)
		if err != nil {
			// Malformed producer output never disturbs the terminal.
			h.logger.Warn("dropping malformed card command", "error", err)
			continue
		}
		h.loop.Submit(func() {
			if err := h.registry.Apply(cmd); err != nil {
				h.logger.Warn("card command failed", "verb", cmd.Verb.String(), "name", cmd.Name, "error", err)
			}
		})
	}
	return len(p), nil
}

// Run serves RPC and dispatches loop work until ctx is cancelled, then
// tears down the socket and the shared region.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- h.server.Serve(ctx) }()

	h.loop.Run(ctx)
	err := <-served

	h.region.Close()
	if uerr := h.region.Unlink(); err == nil {
		err = uerr
	}
	return err
}

// Ready is closed once the RPC socket is accepting connections.
func (h *Host) Ready() <-chan struct{} { return h.server.Ready() }

// SocketPath is the RPC socket the host listens on.
func (h *Host) SocketPath() string { return h.server.SocketPath() }

// ChildEnv returns the environment additions for processes spawned
// inside this terminal.
func (h *Host) ChildEnv() []string {
	return []string{rpc.EnvSocket + "=" + h.SocketPath()}
}

// Cards returns a registry snapshot, synchronized through the loop.
// Only valid while Run is active.
func (h *Host) Cards() []card.Info {
	result := make(chan []card.Info, 1)
	h.loop.Submit(func() { result <- h.registry.Snapshot() })
	return <-result
}

// RenderPass drains the dirty set and reads each fresh frame, invoking
// visit with the stable payload bytes. Buffers whose writer abandoned
// a frame are skipped this pass. Runs on the loop; only valid while
// Run is active.
func (h *Host) RenderPass(visit func(key stream.Key, data []byte)) {
	done := make(chan struct{})
	h.loop.Submit(func() {
		defer close(done)
		for _, key := range h.streams.TakeDirty() {
			reader, err := h.streams.Reader(key)
			if err != nil {
				continue
			}
			data, err := reader.BeginRead(h.readDeadline)
			if err != nil {
				h.logger.Debug("frame skipped", "key", key.String(), "error", err)
				continue
			}
			visit(key, data)
			reader.EndRead()
		}
	})
	<-done
}

// Dropped reports how many oversized sequences the scanner discarded.
func (h *Host) Dropped() uint64 {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.scanner.Dropped()
}
