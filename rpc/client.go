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

// NotificationFunc handles a server-initiated notification on a
// client.
type NotificationFunc func(params codec.RawMessage)

// Client is the blocking producer-side connection: send one request,
// read frames until its response arrives. Suited to CLI-style
// producers (connect → send → read → disconnect). Methods are safe
// for use from one goroutine at a time.
type Client struct {
	conn    net.Conn
	framed  *frameReader
	decoder *codec.Decoder

	writeMu sync.Mutex
	nextID  uint64

	notifyMu sync.Mutex
	notify   map[handlerKey]NotificationFunc
}

// Dial connects to the host's RPC socket.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing %s: %w", path, err)
	}
	framed := newFrameReader(conn)
	return &Client{
		conn:    conn,
		framed:  framed,
		decoder: codec.NewDecoder(framed),
		notify:  make(map[handlerKey]NotificationFunc),
	}, nil
}

// DialEnv connects using the YETTY_SOCKET discovery convention.
func DialEnv() (*Client, error) {
	path, err := SocketPath()
	if err != nil {
		return nil, err
	}
	return Dial(path)
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// HandleNotification registers a handler for server-initiated
// notifications. They are delivered on whatever goroutine is blocked
// in Request at the time; unhandled notifications are dropped.
func (c *Client) HandleNotification(channel Channel, method string, fn NotificationFunc) {
	c.notifyMu.Lock()
	c.notify[handlerKey{channel: channel, method: method}] = fn
	c.notifyMu.Unlock()
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(channel Channel, method string, params any) error {
	data, err := encodeNotification(channel, method, params)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Request sends a request and blocks for its response. A non-nil
// result receives the decoded result value. A handler failure is
// returned as *Error; an unmatched msgid closes the connection and
// returns ErrUnmatchedResponse.
func (c *Client) Request(channel Channel, method string, params any, result any) error {
	c.writeMu.Lock()
	c.nextID++
	msgid := c.nextID
	c.writeMu.Unlock()

	data, err := encodeRequest(msgid, channel, method, params)
	if err != nil {
		return err
	}
	if err := c.write(data); err != nil {
		return err
	}

	for {
		c.framed.nextRecord()
		var raw codec.RawMessage
		if err := c.decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: while awaiting %s", ErrConnectionClosed, method)
			}
			return fmt.Errorf("rpc: reading response for %s: %w", method, err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			c.conn.Close()
			return err
		}

		switch rec.kind {
		case kindNotification:
			c.deliverNotification(rec)
			continue
		case kindRequest:
			c.conn.Close()
			return fmt.Errorf("%w: server sent a request record", ErrBadFraming)
		case kindResponse:
			if rec.msgid != msgid {
				// Protocol violation: nothing else is outstanding on a
				// blocking client.
				c.conn.Close()
				return fmt.Errorf("%w: got msgid %d, outstanding %d", ErrUnmatchedResponse, rec.msgid, msgid)
			}
			if rec.errText != "" {
				return &Error{Method: method, Message: rec.errText}
			}
			if result != nil && !isNull(rec.payload) {
				if err := codec.Unmarshal(rec.payload, result); err != nil {
					return fmt.Errorf("rpc: decoding result of %s: %w", method, err)
				}
			}
			return nil
		}
	}
}

func (c *Client) deliverNotification(rec record) {
	c.notifyMu.Lock()
	fn := c.notify[handlerKey{channel: rec.channel, method: rec.method}]
	c.notifyMu.Unlock()
	if fn != nil {
		fn(rec.payload)
	}
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}
