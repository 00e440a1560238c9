// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zokrezyl/yetty-poc-sub003/lib/codec"
	"github.com/zokrezyl/yetty-poc-sub003/rpc"
)

// ErrAllocationNotFound reports an RPC referencing a (card, label)
// pair with no live buffer.
var ErrAllocationNotFound = errors.New("stream: allocation not found")

// Key names one buffer: the owning card plus a producer-chosen label,
// so a card can stream several surfaces (e.g. "frame" and "overlay").
type Key struct {
	Card  string `cbor:"card"`
	Label string `cbor:"label"`
}

func (k Key) String() string { return k.Card + "/" + k.Label }

type allocation struct {
	handle Handle
	conn   uint64 // owning connection, 0 after it closed
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Submit marshals work onto the goroutine that owns the handler
	// state; the host passes its loop. Nil runs inline (tests).
	Submit func(func())

	// Lookup reports whether a card name is live. Nil skips the check.
	Lookup func(card string) bool

	Logger *slog.Logger
}

// Handler owns the host side of the streaming channel: the arena, the
// buffer table, and the dirty set. All state is confined to the
// dispatch goroutine — the RPC server runs its handlers there, and
// connection-close hooks re-enter through Submit.
type Handler struct {
	region *Region
	arena  *Arena
	submit func(func())
	lookup func(string) bool
	logger *slog.Logger

	allocs map[Key]*allocation
	byConn map[uint64]map[Key]struct{}
	dirty  map[Key]struct{}
}

// NewHandler creates the stream handler over an existing region.
func NewHandler(region *Region, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Submit == nil {
		opts.Submit = func(f func()) { f() }
	}
	return &Handler{
		region: region,
		arena:  NewArena(region),
		submit: opts.Submit,
		lookup: opts.Lookup,
		logger: opts.Logger,
		allocs: make(map[Key]*allocation),
		byConn: make(map[uint64]map[Key]struct{}),
		dirty:  make(map[Key]struct{}),
	}
}

// Register installs the stream channel methods on the server.
func (h *Handler) Register(server *rpc.Server) {
	server.Handle(rpc.ChannelStream, "stream_connect", h.connect)
	server.Handle(rpc.ChannelStream, "stream_get_buffer", h.getBuffer)
	server.Handle(rpc.ChannelStream, "stream_release_buffer", h.releaseBuffer)
	server.Handle(rpc.ChannelStream, "stream_mark_dirty", h.markDirty)
}

// ConnectInfo is the stream_connect result: everything a producer
// needs to map the region.
type ConnectInfo struct {
	Name string `cbor:"name"`
	Size uint32 `cbor:"size"`
}

func (h *Handler) connect(conn *rpc.Conn, params codec.RawMessage) (any, error) {
	id := conn.ID()
	conn.OnClose(func() {
		h.submit(func() { h.connClosed(id) })
	})
	return ConnectInfo{Name: h.region.Name(), Size: h.region.Size()}, nil
}

type getBufferParams struct {
	Card  string `cbor:"card"`
	Label string `cbor:"label"`
	Size  uint32 `cbor:"size"`
}

func (h *Handler) getBuffer(conn *rpc.Conn, params codec.RawMessage) (any, error) {
	var p getBufferParams
	if err := codec.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("stream_get_buffer: %w", err)
	}
	if p.Card == "" || p.Label == "" {
		return nil, fmt.Errorf("stream_get_buffer: card and label are required")
	}
	if h.lookup != nil && !h.lookup(p.Card) {
		return nil, fmt.Errorf("stream_get_buffer: no card named %q", p.Card)
	}
	key := Key{Card: p.Card, Label: p.Label}

	if existing, ok := h.allocs[key]; ok {
		// Idempotent re-request, including adoption after a producer
		// restart. The capacity must accommodate the new request.
		if roundUp(p.Size) > existing.handle.Size {
			return nil, fmt.Errorf("stream_get_buffer: %s exists with %d bytes, %d requested",
				key, existing.handle.Size, p.Size)
		}
		h.rebind(existing, key, conn.ID())
		return existing.handle, nil
	}

	handle, err := h.arena.Alloc(p.Size)
	if err != nil {
		return nil, err
	}
	alloc := &allocation{handle: handle}
	h.allocs[key] = alloc
	h.rebind(alloc, key, conn.ID())
	h.logger.Debug("stream buffer allocated",
		"card", p.Card, "label", p.Label, "offset", handle.Offset, "size", handle.Size)
	return handle, nil
}

// rebind moves an allocation's ownership to conn.
func (h *Handler) rebind(alloc *allocation, key Key, conn uint64) {
	if alloc.conn == conn {
		return
	}
	if owned, ok := h.byConn[alloc.conn]; ok {
		delete(owned, key)
	}
	alloc.conn = conn
	if h.byConn[conn] == nil {
		h.byConn[conn] = make(map[Key]struct{})
	}
	h.byConn[conn][key] = struct{}{}
}

func (h *Handler) releaseBuffer(conn *rpc.Conn, params codec.RawMessage) (any, error) {
	var key Key
	if err := codec.Unmarshal(params, &key); err != nil {
		return nil, fmt.Errorf("stream_release_buffer: %w", err)
	}
	alloc, ok := h.allocs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAllocationNotFound, key)
	}
	h.drop(key, alloc)
	return nil, nil
}

func (h *Handler) markDirty(conn *rpc.Conn, params codec.RawMessage) (any, error) {
	var key Key
	if err := codec.Unmarshal(params, &key); err != nil {
		return nil, fmt.Errorf("stream_mark_dirty: %w", err)
	}
	if _, ok := h.allocs[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAllocationNotFound, key)
	}
	h.dirty[key] = struct{}{}
	return nil, nil
}

// TakeDirty drains the dirty set, sorted for a stable render order.
// The render loop calls this once per frame.
func (h *Handler) TakeDirty() []Key {
	if len(h.dirty) == 0 {
		return nil
	}
	keys := make([]Key, 0, len(h.dirty))
	for key := range h.dirty {
		keys = append(keys, key)
	}
	clear(h.dirty)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Card != keys[j].Card {
			return keys[i].Card < keys[j].Card
		}
		return keys[i].Label < keys[j].Label
	})
	return keys
}

// Reader opens the consumer side of a buffer for one read pass.
func (h *Handler) Reader(key Key) (*Reader, error) {
	alloc, ok := h.allocs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAllocationNotFound, key)
	}
	return NewReader(h.region.Bytes(), alloc.handle)
}

// CardReleased frees every buffer belonging to the card. Wired to the
// registry's release hook so card teardown reclaims arena space.
func (h *Handler) CardReleased(card string) {
	for key, alloc := range h.allocs {
		if key.Card == card {
			h.drop(key, alloc)
		}
	}
}

// connClosed repairs the headers of the closing connection's buffers
// and detaches them. The allocations survive — the last published
// frame keeps rendering, and a restarted producer re-requests the same
// (card, label) to adopt them.
func (h *Handler) connClosed(conn uint64) {
	owned := h.byConn[conn]
	delete(h.byConn, conn)
	for key := range owned {
		alloc, ok := h.allocs[key]
		if !ok {
			continue
		}
		alloc.conn = 0
		buf, err := slice(h.region.Bytes(), alloc.handle)
		if err != nil {
			h.logger.Error("stream buffer unsliceable on close", "key", key.String(), "error", err)
			continue
		}
		buf.reset()
	}
	if len(owned) > 0 {
		h.logger.Debug("stream producer detached", "conn", conn, "buffers", len(owned))
	}
}

func (h *Handler) drop(key Key, alloc *allocation) {
	if owned, ok := h.byConn[alloc.conn]; ok {
		delete(owned, key)
	}
	delete(h.allocs, key)
	delete(h.dirty, key)
	h.arena.Free(alloc.handle)
}
