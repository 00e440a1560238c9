// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/zokrezyl/yetty-poc-sub003/lib/codec"
)

// ResponseFunc receives the outcome of an AsyncClient call: the raw
// result on success, or a non-nil error (handler failure or transport
// loss).
type ResponseFunc func(result codec.RawMessage, err error)

// AsyncClient is the non-blocking producer-side connection: writes are
// queued, responses arrive through callbacks on a dedicated reader
// goroutine. Suited to long-running producers with their own frame or
// event loop. Same wire format as Client; the server cannot tell them
// apart.
type AsyncClient struct {
	conn net.Conn

	writeQueue chan []byte

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]ResponseFunc
	notify  map[handlerKey]NotificationFunc
	err     error
	closed  bool

	done chan struct{}
}

// DialAsync connects to the host's RPC socket in callback mode.
func DialAsync(path string) (*AsyncClient, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing %s: %w", path, err)
	}
	c := &AsyncClient{
		conn:       conn,
		writeQueue: make(chan []byte, 64),
		pending:    make(map[uint64]ResponseFunc),
		notify:     make(map[handlerKey]NotificationFunc),
		done:       make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Close tears the connection down. Pending callbacks fire with
// ErrConnectionClosed.
func (c *AsyncClient) Close() error {
	c.fail(ErrConnectionClosed)
	return nil
}

// Done is closed when the connection is gone (either direction).
func (c *AsyncClient) Done() <-chan struct{} { return c.done }

// Err returns the terminal connection error, nil while alive.
func (c *AsyncClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// HandleNotification registers a handler for server-initiated
// notifications, delivered on the reader goroutine.
func (c *AsyncClient) HandleNotification(channel Channel, method string, fn NotificationFunc) {
	c.mu.Lock()
	c.notify[handlerKey{channel: channel, method: method}] = fn
	c.mu.Unlock()
}

// Call queues a request; callback fires when the response arrives (on
// the reader goroutine) or when the connection dies.
func (c *AsyncClient) Call(channel Channel, method string, params any, callback ResponseFunc) {
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		callback(nil, err)
		return
	}
	c.nextID++
	msgid := c.nextID
	c.pending[msgid] = callback
	c.mu.Unlock()

	data, err := encodeRequest(msgid, channel, method, params)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, msgid)
		c.mu.Unlock()
		callback(nil, err)
		return
	}
	c.enqueue(data)
}

// Notify queues a notification.
func (c *AsyncClient) Notify(channel Channel, method string, params any) error {
	data, err := encodeNotification(channel, method, params)
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

func (c *AsyncClient) enqueue(data []byte) {
	select {
	case c.writeQueue <- data:
	case <-c.done:
	}
}

func (c *AsyncClient) writeLoop() {
	for {
		select {
		case data := <-c.writeQueue:
			if _, err := c.conn.Write(data); err != nil {
				c.fail(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *AsyncClient) readLoop() {
	framed := newFrameReader(c.conn)
	decoder := codec.NewDecoder(framed)
	for {
		framed.nextRecord()
		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.fail(ErrConnectionClosed)
			} else {
				c.fail(fmt.Errorf("rpc: read failed: %w", err))
			}
			return
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			c.fail(err)
			return
		}

		switch rec.kind {
		case kindResponse:
			c.mu.Lock()
			callback, ok := c.pending[rec.msgid]
			delete(c.pending, rec.msgid)
			c.mu.Unlock()
			if !ok {
				// Protocol violation: close the connection.
				c.fail(fmt.Errorf("%w: msgid %d", ErrUnmatchedResponse, rec.msgid))
				return
			}
			if rec.errText != "" {
				callback(nil, &Error{Message: rec.errText})
			} else {
				callback(rec.payload, nil)
			}

		case kindNotification:
			c.mu.Lock()
			fn := c.notify[handlerKey{channel: rec.channel, method: rec.method}]
			c.mu.Unlock()
			if fn != nil {
				fn(rec.payload)
			}

		case kindRequest:
			c.fail(fmt.Errorf("%w: server sent a request record", ErrBadFraming))
			return
		}
	}
}

// fail records the terminal error, closes the socket, and fires every
// pending callback exactly once.
func (c *AsyncClient) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.conn.Close()
	close(c.done)
	for _, callback := range pending {
		callback(nil, err)
	}
}
