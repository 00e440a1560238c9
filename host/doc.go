// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package host assembles the consumer side of the card protocol: the
// escape-sequence scanner fed from the terminal byte stream, the card
// registry, the RPC server, and the shared-memory streaming channel.
//
// All mutable protocol state lives on a single dispatch loop. The
// terminal reader, every RPC connection, and destruction acks from the
// rendering subsystem funnel their work through Loop.Submit, so the
// registry and stream tables never need locks and commands for one
// card apply in a single well-defined order.
package host
