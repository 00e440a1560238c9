// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zokrezyl/yetty-poc-sub003/lib/codec"
	"github.com/zokrezyl/yetty-poc-sub003/lib/testutil"
)

// startServer runs a server on a fresh socket and tears it down with
// the test.
func startServer(t *testing.T, configure func(*Server)) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpc.sock")
	server := NewServer(path, nil, nil)
	if configure != nil {
		configure(server)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, served, 5*time.Second, "server shutdown"); err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
	return server
}

type echoParams struct {
	Text string `cbor:"text"`
}

type echoResult struct {
	Text string `cbor:"text"`
	Seen int    `cbor:"seen"`
}

func TestRequestResponse(t *testing.T) {
	seen := 0
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelQuery, "echo", func(conn *Conn, params codec.RawMessage) (any, error) {
			var p echoParams
			if err := codec.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			seen++
			return echoResult{Text: p.Text, Seen: seen}, nil
		})
	})

	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	for i := 1; i <= 3; i++ {
		var result echoResult
		if err := client.Request(ChannelQuery, "echo", echoParams{Text: "hi"}, &result); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if result.Text != "hi" || result.Seen != i {
			t.Errorf("request %d: result = %+v", i, result)
		}
	}
}

func TestHandlerError(t *testing.T) {
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelQuery, "fail", func(conn *Conn, params codec.RawMessage) (any, error) {
			return nil, errors.New("card \"demo\" not found")
		})
	})

	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	err = client.Request(ChannelQuery, "fail", nil, nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *rpc.Error", err)
	}
	if rpcErr.Message != "card \"demo\" not found" {
		t.Errorf("message = %q", rpcErr.Message)
	}

	// The connection survives a handler error.
	if err := client.Request(ChannelQuery, "fail", nil, nil); err == nil {
		t.Error("second request should also fail cleanly")
	}
}

func TestUnknownMethod(t *testing.T) {
	server := startServer(t, nil)
	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	err = client.Request(ChannelQuery, "nope", nil, nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *rpc.Error", err)
	}
}

func TestChannelsPartitionMethods(t *testing.T) {
	// The same method name on different channels reaches different
	// handlers.
	server := startServer(t, func(s *Server) {
		for _, fixture := range []struct {
			channel Channel
			tag     string
		}{{ChannelInput, "input"}, {ChannelStream, "stream"}} {
			tag := fixture.tag
			s.Handle(fixture.channel, "status", func(conn *Conn, params codec.RawMessage) (any, error) {
				return tag, nil
			})
		}
	})

	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	var result string
	if err := client.Request(ChannelInput, "status", nil, &result); err != nil || result != "input" {
		t.Errorf("input channel: %q, %v", result, err)
	}
	if err := client.Request(ChannelStream, "status", nil, &result); err != nil || result != "stream" {
		t.Errorf("stream channel: %q, %v", result, err)
	}
}

func TestNotificationToServer(t *testing.T) {
	received := make(chan string, 1)
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelStream, "stream_mark_dirty", func(conn *Conn, params codec.RawMessage) (any, error) {
			var p struct {
				Card string `cbor:"card"`
			}
			if err := codec.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			received <- p.Card
			return nil, nil
		})
	})

	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Notify(ChannelStream, "stream_mark_dirty", map[string]any{"card": "demo"}); err != nil {
		t.Fatal(err)
	}
	card := testutil.RequireReceive(t, received, 5*time.Second, "notification delivery")
	if card != "demo" {
		t.Errorf("card = %q", card)
	}
}

func TestServerNotifyClientDuringRequest(t *testing.T) {
	// A notification interleaved before the response must be delivered
	// to the notification handler, not confused with the response.
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelQuery, "poke", func(conn *Conn, params codec.RawMessage) (any, error) {
			if err := conn.Notify(ChannelInput, "ping", nil); err != nil {
				return nil, err
			}
			return "done", nil
		})
	})

	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	pinged := false
	client.HandleNotification(ChannelInput, "ping", func(params codec.RawMessage) {
		pinged = true
	})

	var result string
	if err := client.Request(ChannelQuery, "poke", nil, &result); err != nil {
		t.Fatal(err)
	}
	if result != "done" {
		t.Errorf("result = %q", result)
	}
	if !pinged {
		t.Error("interleaved notification not delivered")
	}
}

func TestUnmatchedResponseClosesClient(t *testing.T) {
	// A hand-rolled server that answers with the wrong msgid.
	path := filepath.Join(t.TempDir(), "rogue.sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var raw codec.RawMessage
		if err := codec.NewDecoder(conn).Decode(&raw); err != nil {
			return
		}
		data, _ := encodeResponse(9999, "", nil)
		conn.Write(data)
	}()

	client, err := Dial(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	err = client.Request(ChannelQuery, "anything", nil, nil)
	if !errors.Is(err, ErrUnmatchedResponse) {
		t.Errorf("error = %v, want ErrUnmatchedResponse", err)
	}
}

func TestMalformedRecordClosesOnlyThatConnection(t *testing.T) {
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelQuery, "ok", func(conn *Conn, params codec.RawMessage) (any, error) {
			return "ok", nil
		})
	})

	// First connection sends garbage and gets dropped.
	rogue, err := net.Dial("unix", server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rogue.Write([]byte("\x83\x01\x02")); err != nil { // truncated array
		t.Fatal(err)
	}
	rogue.Write([]byte("not cbor at all")) //nolint:errcheck
	buf := make([]byte, 1)
	rogue.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := rogue.Read(buf); err == nil {
		t.Error("rogue connection not closed")
	}
	rogue.Close()

	// The server still serves well-behaved producers.
	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	var result string
	if err := client.Request(ChannelQuery, "ok", nil, &result); err != nil || result != "ok" {
		t.Errorf("healthy connection broken: %q, %v", result, err)
	}
}

func TestOversizedRecordClosesConnection(t *testing.T) {
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelQuery, "ok", func(conn *Conn, params codec.RawMessage) (any, error) {
			return "ok", nil
		})
	})

	// A record over the cap must be rejected while it is still being
	// read, not buffered whole and measured afterwards. The payload
	// alone fills the cap; the envelope pushes the record past it.
	huge, err := encodeNotification(ChannelStream, "stream_mark_dirty", make([]byte, maxRecordSize))
	if err != nil {
		t.Fatal(err)
	}
	rogue, err := net.Dial("unix", server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer rogue.Close()
	rogue.SetDeadline(time.Now().Add(10 * time.Second))
	rogue.Write(huge) //nolint:errcheck // the server may hang up mid-write
	if _, err := rogue.Read(make([]byte, 1)); err == nil {
		t.Error("oversized record did not close the connection")
	}

	// The server still serves well-behaved producers.
	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	var result string
	if err := client.Request(ChannelQuery, "ok", nil, &result); err != nil || result != "ok" {
		t.Errorf("healthy connection broken: %q, %v", result, err)
	}
}

func TestConnOnClose(t *testing.T) {
	closed := make(chan uint64, 1)
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelStream, "stream_connect", func(conn *Conn, params codec.RawMessage) (any, error) {
			conn.OnClose(func() { closed <- conn.ID() })
			return nil, nil
		})
	})

	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Request(ChannelStream, "stream_connect", nil, nil); err != nil {
		t.Fatal(err)
	}
	client.Close()

	id := testutil.RequireReceive(t, closed, 5*time.Second, "close hook")
	if id == 0 {
		t.Error("connection ID should be nonzero")
	}
}

func TestAsyncClient(t *testing.T) {
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelQuery, "double", func(conn *Conn, params codec.RawMessage) (any, error) {
			var n int
			if err := codec.Unmarshal(params, &n); err != nil {
				return nil, err
			}
			return n * 2, nil
		})
		s.Handle(ChannelStream, "note", func(conn *Conn, params codec.RawMessage) (any, error) {
			return nil, nil
		})
	})

	client, err := DialAsync(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	type outcome struct {
		n   int
		err error
	}
	results := make(chan outcome, 8)
	for i := 1; i <= 5; i++ {
		client.Call(ChannelQuery, "double", i, func(result codec.RawMessage, err error) {
			if err != nil {
				results <- outcome{err: err}
				return
			}
			var n int
			err = codec.Unmarshal(result, &n)
			results <- outcome{n: n, err: err}
		})
	}
	// Notifications interleave freely with in-flight calls.
	if err := client.Notify(ChannelStream, "note", nil); err != nil {
		t.Fatal(err)
	}

	got := map[int]bool{}
	for i := 0; i < 5; i++ {
		r := testutil.RequireReceive(t, results, 5*time.Second, "async result %d", i)
		if r.err != nil {
			t.Fatalf("call failed: %v", r.err)
		}
		got[r.n] = true
	}
	for _, want := range []int{2, 4, 6, 8, 10} {
		if !got[want] {
			t.Errorf("missing doubled value %d (got %v)", want, got)
		}
	}
}

func TestAsyncClientConnectionLossFailsPending(t *testing.T) {
	block := make(chan struct{})
	server := startServer(t, func(s *Server) {
		s.Handle(ChannelQuery, "hang", func(conn *Conn, params codec.RawMessage) (any, error) {
			<-block
			return nil, nil
		})
	})
	t.Cleanup(func() { close(block) })

	client, err := DialAsync(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}

	failed := make(chan error, 1)
	client.Call(ChannelQuery, "hang", nil, func(result codec.RawMessage, err error) {
		failed <- err
	})
	// Give the request time to reach the handler, then cut the
	// connection out from under it.
	time.Sleep(50 * time.Millisecond)
	client.Close()

	err = testutil.RequireReceive(t, failed, 5*time.Second, "pending callback")
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("pending call error = %v, want ErrConnectionClosed", err)
	}
	testutil.RequireClosed(t, client.Done(), 5*time.Second, "client done")
}

func TestDispatchHookSerializesHandlers(t *testing.T) {
	// When a dispatch hook is supplied, handlers run wherever it says —
	// here a single-goroutine queue, mimicking the host loop.
	path := filepath.Join(t.TempDir(), "rpc.sock")
	queue := make(chan func(), 64)
	server := NewServer(path, func(f func()) { queue <- f }, nil)

	order := []int{}
	server.Handle(ChannelQuery, "mark", func(conn *Conn, params codec.RawMessage) (any, error) {
		var n int
		if err := codec.Unmarshal(params, &n); err != nil {
			return nil, err
		}
		order = append(order, n) // safe: single consumer goroutine
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for f := range queue {
			f()
		}
	}()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	client, err := Dial(server.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := client.Request(ChannelQuery, "mark", i, nil); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	client.Close()
	cancel()
	testutil.RequireReceive(t, served, 5*time.Second, "server shutdown")
	close(queue)
	testutil.RequireClosed(t, loopDone, 5*time.Second, "loop drain")

	if len(order) != 10 {
		t.Fatalf("handled %d requests, want 10", len(order))
	}
	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestSocketPathDiscovery(t *testing.T) {
	t.Setenv(EnvSocket, "/tmp/yetty-test.sock")
	path, err := SocketPath()
	if err != nil || path != "/tmp/yetty-test.sock" {
		t.Errorf("SocketPath = %q, %v", path, err)
	}

	t.Setenv(EnvSocket, "")
	if _, err := SocketPath(); err == nil {
		t.Error("SocketPath without env should fail")
	}

	want := fmt.Sprintf("yetty-%d.sock", os.Getpid())
	if got := DefaultSocketPath(); filepath.Base(got) != want {
		t.Errorf("DefaultSocketPath = %q, want basename %q", got, want)
	}
}
