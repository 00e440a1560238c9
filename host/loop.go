// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package host

import "context"

// Loop is the serial dispatch queue that owns all protocol state.
type Loop struct {
	queue chan func()
}

// NewLoop creates a dispatch loop. Run must be called for submitted
// work to execute.
func NewLoop() *Loop {
	return &Loop{queue: make(chan func(), 1024)}
}

// Submit queues fn for execution on the loop goroutine. Safe from any
// goroutine; blocks only if the queue is full.
func (l *Loop) Submit(fn func()) {
	l.queue <- fn
}

// Run executes submitted work until ctx is cancelled, then drains
// whatever is already queued and returns.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-ctx.Done():
			for {
				select {
				case fn := <-l.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}
