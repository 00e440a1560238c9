// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/zokrezyl/yetty-poc-sub003/lib/codec"
)

// HandlerFunc processes one request or notification. For requests the
// returned value (nil allowed) becomes the response result and a
// non-nil error becomes the response error string. For notifications
// both are discarded (errors are logged).
type HandlerFunc func(conn *Conn, params codec.RawMessage) (any, error)

type handlerKey struct {
	channel Channel
	method  string
}

// Conn is one producer connection as seen by handlers.
type Conn struct {
	id     uint64
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	closeMu    sync.Mutex
	closed     bool
	closeHooks []func()
}

// ID is the server-assigned connection identity. The stream layer
// keys buffer ownership on it.
func (c *Conn) ID() uint64 { return c.id }

// OnClose registers a hook run when the connection closes (for any
// reason). Hooks run on the connection's reader goroutine; keep them
// short or marshal elsewhere. If the connection is already closed the
// hook runs immediately.
func (c *Conn) OnClose(hook func()) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		hook()
		return
	}
	c.closeHooks = append(c.closeHooks, hook)
	c.closeMu.Unlock()
}

// Notify sends a server-initiated notification to this producer.
func (c *Conn) Notify(channel Channel, method string, params any) error {
	data, err := encodeNotification(channel, method, params)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Conn) close() {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	hooks := c.closeHooks
	c.closeHooks = nil
	c.closeMu.Unlock()

	c.conn.Close()
	for _, hook := range hooks {
		hook()
	}
}

// Server accepts producer connections on a Unix socket and dispatches
// their records to registered handlers.
type Server struct {
	socketPath string
	logger     *slog.Logger

	// dispatch marshals handler execution onto the consumer's single
	// mutation goroutine. The host supplies its loop's Submit; nil
	// runs handlers inline on the reader goroutine (tests).
	dispatch func(func())

	handlers map[handlerKey]HandlerFunc
	serving  bool

	ready chan struct{}

	connMu      sync.Mutex
	conns       map[uint64]*Conn
	nextConnID  uint64
	activeConns sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath. Register
// handlers with Handle before calling Serve. dispatch may be nil.
func NewServer(socketPath string, dispatch func(func()), logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		dispatch:   dispatch,
		handlers:   make(map[handlerKey]HandlerFunc),
		ready:      make(chan struct{}),
		conns:      make(map[uint64]*Conn),
	}
}

// Handle registers a handler for (channel, method). Panics if called
// after Serve has started or if the pair is already registered.
func (s *Server) Handle(channel Channel, method string, handler HandlerFunc) {
	if s.serving {
		panic("rpc.Server: Handle called after Serve")
	}
	key := handlerKey{channel: channel, method: method}
	if _, exists := s.handlers[key]; exists {
		panic(fmt.Sprintf("rpc.Server: duplicate handler for channel %d method %q", channel, method))
	}
	s.handlers[key] = handler
}

// Ready is closed once the listener is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Serve listens and accepts until ctx is cancelled, then closes all
// connections and waits for their readers to drain. Any stale socket
// file is removed first; the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	s.serving = true

	if err := removeStaleSocket(s.socketPath); err != nil {
		return err
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("rpc: listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		removeStaleSocket(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("rpc server listening", "path", s.socketPath)
	close(s.ready)

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("rpc accept failed", "error", err)
			continue
		}

		conn := s.track(netConn)
		s.activeConns.Add(1)
		go func() {
			defer s.activeConns.Done()
			s.serveConn(conn)
		}()
	}

	// Close lingering connections so their readers unblock.
	s.connMu.Lock()
	for _, conn := range s.conns {
		go conn.close()
	}
	s.connMu.Unlock()

	s.activeConns.Wait()
	return nil
}

func (s *Server) track(netConn net.Conn) *Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.nextConnID++
	conn := &Conn{id: s.nextConnID, conn: netConn, logger: s.logger}
	s.conns[conn.id] = conn
	return conn
}

func (s *Server) untrack(conn *Conn) {
	s.connMu.Lock()
	delete(s.conns, conn.id)
	s.connMu.Unlock()
}

// serveConn reads records until the connection dies or violates the
// protocol. Violations are fatal to this connection only.
func (s *Server) serveConn(conn *Conn) {
	defer s.untrack(conn)
	defer conn.close()

	s.logger.Debug("producer connected", "conn", conn.id)
	framed := newFrameReader(conn.conn)
	decoder := codec.NewDecoder(framed)
	for {
		framed.nextRecord()
		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, ErrBadFraming) {
				s.logger.Warn("closing producer connection", "conn", conn.id, "error", err)
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("producer read failed", "conn", conn.id, "error", err)
			}
			return
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			s.logger.Warn("closing producer connection",
				"conn", conn.id, "error", err, "frame", diagnoseFrame(raw))
			return
		}

		switch rec.kind {
		case kindRequest:
			s.dispatchRequest(conn, rec)
		case kindNotification:
			s.dispatchNotification(conn, rec)
		case kindResponse:
			// Producers do not answer the server.
			s.logger.Warn("closing producer connection",
				"conn", conn.id, "error", "unexpected response record")
			return
		}
	}
}

func (s *Server) dispatchRequest(conn *Conn, rec record) {
	handler, ok := s.handlers[handlerKey{channel: rec.channel, method: rec.method}]
	if !ok {
		s.respond(conn, rec.msgid,
			fmt.Sprintf("unknown method %q on channel %d", rec.method, rec.channel), nil)
		return
	}
	s.dispatch(func() {
		result, err := handler(conn, rec.payload)
		if err != nil {
			s.respond(conn, rec.msgid, err.Error(), nil)
			return
		}
		s.respond(conn, rec.msgid, "", result)
	})
}

func (s *Server) dispatchNotification(conn *Conn, rec record) {
	handler, ok := s.handlers[handlerKey{channel: rec.channel, method: rec.method}]
	if !ok {
		s.logger.Debug("unknown notification dropped",
			"conn", conn.id, "channel", rec.channel, "method", rec.method)
		return
	}
	s.dispatch(func() {
		if _, err := handler(conn, rec.payload); err != nil {
			s.logger.Debug("notification handler failed",
				"conn", conn.id, "method", rec.method, "error", err)
		}
	})
}

func (s *Server) respond(conn *Conn, msgid uint64, errMessage string, result any) {
	data, err := encodeResponse(msgid, errMessage, result)
	if err != nil {
		s.logger.Error("encoding response failed", "conn", conn.id, "error", err)
		data, _ = encodeResponse(msgid, "internal: result encoding failed", nil)
	}
	if err := conn.write(data); err != nil {
		s.logger.Debug("writing response failed", "conn", conn.id, "error", err)
	}
}
