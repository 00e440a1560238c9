// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream implements the shared-memory streaming channel between
// card producers and the host: a single mmapped region, a host-owned
// arena of fixed allocations, and a per-allocation seqlock that lets a
// producer publish frames without ever blocking the host's render path
// for longer than a bounded spin.
//
// Each allocation starts with a 16-byte header (sequence counter,
// reader-presence flag, payload length) followed by the payload bytes.
// The producer writes under an odd sequence number and republishes by
// making it even; the host samples only even sequences and signals its
// presence through the reader flag so the producer can defer a rewrite
// mid-read. A producer that dies inside a write window leaves the
// sequence odd; the host detects this with a read deadline and repairs
// the header when the producer's connection closes.
//
// Buffer allocation, release and dirty notification travel over the
// stream RPC channel; only the payload bytes themselves cross through
// shared memory.
package stream
