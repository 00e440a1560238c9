// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the card protocol's out-of-band control
// transport: a request/notification layer multiplexed by logical
// channel numbers over a local Unix socket.
//
// Wire format: each message is one self-describing CBOR array —
//
//	Request      [0, msgid, channel, method, params]
//	Response     [1, msgid, error-or-nil, result]
//	Notification [2, channel, method, params]
//
// msgid correlates exactly one Response to one Request and is a
// per-connection counter starting at 1 (0 is reserved for "no id").
// Channel numbers partition the method namespace by subsystem — input
// events, streaming negotiation, queries — and are dispatched
// independently.
//
// The server side is mode-agnostic: producers may use the blocking
// [Client] (connect, send, read one response, disconnect — CLI shape)
// or the [AsyncClient] (queued writes, callback-driven reads — long-
// running producer shape). Both speak the same bytes.
//
// Failure scope: a malformed frame or an unmatched response is fatal
// to that one connection, never to the process hosting the server.
package rpc
