// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package card owns the live card table: the mapping from card name to
// card identity and lifecycle state, and the application of the parsed
// command stream to that mapping.
//
// The registry is deliberately ignorant of rendering. Card kinds are
// constructed through a [Factory] and manipulated through the [Target]
// capability interface; the GPU side lives entirely behind those two
// seams. Destruction is asynchronous (the rendering subsystem acks on
// its own frame schedule), so entries pass through a Dying state
// before removal.
//
// The table is owned by exactly one goroutine — the host dispatch
// loop. The registry has no internal locking; all callers, including
// destruction acks, must run on that goroutine (the Defer hook exists
// to marshal acks back onto it).
package card
