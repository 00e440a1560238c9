// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the producer-side library: what a process running
// inside a yetty terminal uses to inject cards and stream data to
// them.
//
// Card lifecycle commands travel in-band as OSC escape sequences
// written to the terminal stream (WriteCommand); everything
// out-of-band — queries, input events, shared-memory buffer
// management — goes over the RPC socket the host advertises through
// YETTY_SOCKET.
//
// Errors are fatal to the producer: a lost connection or failed
// request is returned to the caller, never retried. A producer that
// wants to survive a host restart reconnects and re-requests its
// buffers itself.
package client
