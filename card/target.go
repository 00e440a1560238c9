// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package card

import "fmt"

// Target is the capability surface the registry holds on a live card.
// Implementations live in the rendering subsystem; the registry only
// routes.
type Target interface {
	// ApplyUpdate delivers a plugin argument string and payload to the
	// card. Merge semantics (replace, append, shift-window) are the
	// plugin's business; the registry guarantees delivery exactly
	// once, in arrival order.
	ApplyUpdate(args string, payload []byte) error

	// Destroy tears the card down. The implementation calls done once
	// teardown is complete; this may happen on another goroutine (the
	// render frame loop), so callers marshal their reaction back onto
	// the dispatch loop.
	Destroy(done func())
}

// CreateSpec carries everything a factory needs to instantiate a card.
type CreateSpec struct {
	// ID is the registry-assigned opaque identity for the card.
	ID string

	// Geometry in cell coordinates; nil fields were not given and the
	// renderer picks (zero means stretch-to-edge).
	X, Y, W, H *int

	// Args is the plugin-specific argument string.
	Args string

	// Payload is the initial payload, if the create carried one.
	Payload []byte
}

// Factory instantiates card targets by kind name.
type Factory interface {
	Create(kind string, spec CreateSpec) (Target, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(kind string, spec CreateSpec) (Target, error)

// Create implements Factory.
func (f FactoryFunc) Create(kind string, spec CreateSpec) (Target, error) {
	return f(kind, spec)
}

// KindFactory is a Factory backed by a map of per-kind constructors,
// the usual shape for a closed plugin set.
type KindFactory map[string]func(spec CreateSpec) (Target, error)

// Create implements Factory.
func (k KindFactory) Create(kind string, spec CreateSpec) (Target, error) {
	construct, ok := k[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrTargetCreation, kind)
	}
	return construct(spec)
}
