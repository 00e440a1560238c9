// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"io"
	"sync"

	"github.com/zokrezyl/yetty-poc-sub003/osc"
	"github.com/zokrezyl/yetty-poc-sub003/rpc"
	"github.com/zokrezyl/yetty-poc-sub003/stream"
)

// WriteCommand emits the command's full escape sequence to the
// terminal stream, payload encoded (and compressed, if the command
// asks) on the way out.
func WriteCommand(w io.Writer, cmd osc.Command) error {
	return osc.WriteSequence(w, cmd)
}

// Client is a producer's RPC connection plus its lazily-mapped view of
// the host's shared region.
type Client struct {
	rpc *rpc.Client

	regionOnce sync.Once
	region     *stream.Region
	regionErr  error
}

// Dial connects to the host's RPC socket at an explicit path.
func Dial(path string) (*Client, error) {
	conn, err := rpc.Dial(path)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: conn}, nil
}

// DialEnv connects using the YETTY_SOCKET convention the host exports
// to its children.
func DialEnv() (*Client, error) {
	path, err := rpc.SocketPath()
	if err != nil {
		return nil, err
	}
	return Dial(path)
}

// Close drops the RPC connection and unmaps the region if it was
// mapped. Live BufferWriters become invalid.
func (c *Client) Close() error {
	err := c.rpc.Close()
	if c.region != nil {
		if cerr := c.region.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Request performs a blocking RPC on the given channel.
func (c *Client) Request(channel rpc.Channel, method string, params, result any) error {
	return c.rpc.Request(channel, method, params, result)
}

// Notify sends a fire-and-forget RPC.
func (c *Client) Notify(channel rpc.Channel, method string, params any) error {
	return c.rpc.Notify(channel, method, params)
}

// connectRegion performs stream_connect once and maps the advertised
// region.
func (c *Client) connectRegion() (*stream.Region, error) {
	c.regionOnce.Do(func() {
		var info stream.ConnectInfo
		if err := c.rpc.Request(rpc.ChannelStream, "stream_connect", nil, &info); err != nil {
			c.regionErr = fmt.Errorf("client: stream_connect: %w", err)
			return
		}
		region, err := stream.OpenRegion(info.Name)
		if err != nil {
			c.regionErr = err
			return
		}
		if region.Size() != info.Size {
			region.Close()
			c.regionErr = fmt.Errorf("client: region %s is %d bytes, host advertised %d",
				info.Name, region.Size(), info.Size)
			return
		}
		c.region = region
	})
	return c.region, c.regionErr
}

// StreamBuffer obtains (or re-adopts) the shared buffer for
// (card, label), mapping the region on first use.
func (c *Client) StreamBuffer(card, label string, size uint32) (*BufferWriter, error) {
	region, err := c.connectRegion()
	if err != nil {
		return nil, err
	}
	var handle stream.Handle
	err = c.rpc.Request(rpc.ChannelStream, "stream_get_buffer", map[string]any{
		"card":  card,
		"label": label,
		"size":  size,
	}, &handle)
	if err != nil {
		return nil, fmt.Errorf("client: stream_get_buffer %s/%s: %w", card, label, err)
	}
	writer, err := stream.NewWriter(region.Bytes(), handle)
	if err != nil {
		return nil, err
	}
	return &BufferWriter{
		client: c,
		key:    stream.Key{Card: card, Label: label},
		writer: writer,
	}, nil
}

// BufferWriter publishes frames into one shared buffer. One goroutine
// at a time.
type BufferWriter struct {
	client *Client
	key    stream.Key
	writer *stream.Writer
}

// Begin opens a write window. The host defers reads until End.
func (b *BufferWriter) Begin() { b.writer.BeginWrite() }

// Bytes is the writable payload, valid between Begin and End.
func (b *BufferWriter) Bytes() []byte { return b.writer.Bytes() }

// SetLen records the frame's used length.
func (b *BufferWriter) SetLen(n uint32) { b.writer.SetLen(n) }

// End publishes the frame.
func (b *BufferWriter) End() { b.writer.EndWrite() }

// Publish is the common whole-frame case: one write window around a
// copy of data.
func (b *BufferWriter) Publish(data []byte) error {
	if uint32(len(data)) > uint32(len(b.writer.Bytes())) {
		return fmt.Errorf("client: frame of %d bytes exceeds buffer capacity %d",
			len(data), len(b.writer.Bytes()))
	}
	b.Begin()
	n := copy(b.Bytes(), data)
	b.SetLen(uint32(n))
	b.End()
	return nil
}

// MarkDirty tells the host the buffer has a fresh frame.
func (b *BufferWriter) MarkDirty() error {
	return b.client.Notify(rpc.ChannelStream, "stream_mark_dirty", b.key)
}

// Release frees the buffer host-side. The writer must not be used
// afterwards.
func (b *BufferWriter) Release() error {
	return b.client.Request(rpc.ChannelStream, "stream_release_buffer", b.key, nil)
}
