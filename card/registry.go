// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package card

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/zokrezyl/yetty-poc-sub003/osc"
)

// Registry errors. All are command-scoped.
var (
	// ErrNameInUse: create without -r for a name that already has an
	// active card.
	ErrNameInUse = errors.New("card: name in use")

	// ErrNotFound: update or kill for an unknown (or dying) name.
	// Callers on the sequence path may ignore it — producers race
	// updates ahead of slow creates.
	ErrNotFound = errors.New("card: not found")

	// ErrTargetCreation: the rendering subsystem refused to
	// instantiate the kind.
	ErrTargetCreation = errors.New("card: target creation failed")
)

// State is a card's lifecycle state.
type State uint8

const (
	// Active cards receive updates.
	Active State = iota
	// Dying cards have had Destroy called and are awaiting the ack.
	Dying
)

// String returns the snapshot spelling of the state.
func (s State) String() string {
	if s == Dying {
		return "dying"
	}
	return "active"
}

// Info is one row of a registry snapshot.
type Info struct {
	Name  string `cbor:"name"`
	ID    string `cbor:"id"`
	Kind  string `cbor:"kind"`
	State string `cbor:"state"`
}

type entry struct {
	name   string
	id     string
	kind   string
	state  State
	target Target
}

// Registry applies the card command stream to the name table.
// Single-goroutine ownership; see the package comment.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	// deferFn marshals a closure onto the owning goroutine. Destroy
	// acks arrive on arbitrary goroutines and must not touch the table
	// directly.
	deferFn func(func())

	// released, when set, is called after an entry leaves the table —
	// the host frees the card's shared-memory allocations here.
	released func(name string)

	entries map[string]*entry
	counter uint64
}

// Options configures a Registry.
type Options struct {
	// Factory instantiates targets by kind. Required.
	Factory Factory

	// Defer marshals destruction acks onto the registry's owning
	// goroutine. Required for asynchronous targets; nil runs acks
	// inline (tests, synchronous targets).
	Defer func(func())

	// Released is called with the card name after removal. Optional.
	Released func(name string)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Factory == nil {
		panic("card: Options.Factory is required")
	}
	deferFn := opts.Defer
	if deferFn == nil {
		deferFn = func(f func()) { f() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory:  opts.Factory,
		logger:   logger,
		deferFn:  deferFn,
		released: opts.Released,
		entries:  make(map[string]*entry),
	}
}

// Apply executes one parsed command against the table. Commands for
// the same name are applied in call order; the caller provides that
// order by running Apply on the single owning goroutine.
func (r *Registry) Apply(cmd osc.Command) error {
	switch cmd.Verb {
	case osc.VerbCreate:
		return r.create(cmd)
	case osc.VerbUpdate:
		return r.update(cmd)
	case osc.VerbKill:
		return r.kill(cmd)
	case osc.VerbList:
		// Introspection is answered from Snapshot by the caller; the
		// table itself does not change.
		return nil
	}
	return fmt.Errorf("card: unhandled verb %v", cmd.Verb)
}

func (r *Registry) create(cmd osc.Command) error {
	name := cmd.Name
	if name == "" {
		name = "card-" + r.deriveID("anon")
	}

	if existing, ok := r.entries[name]; ok && existing.state == Active {
		if !cmd.Replace {
			return fmt.Errorf("%w: %q", ErrNameInUse, name)
		}
		r.destroyEntry(existing)
	}

	spec := CreateSpec{
		ID:      r.deriveID(name),
		X:       cmd.X,
		Y:       cmd.Y,
		W:       cmd.W,
		H:       cmd.H,
		Args:    cmd.PluginArgs,
		Payload: cmd.Payload,
	}
	target, err := r.factory.Create(cmd.Kind, spec)
	if err != nil {
		if errors.Is(err, ErrTargetCreation) {
			return err
		}
		return fmt.Errorf("%w: kind %q: %v", ErrTargetCreation, cmd.Kind, err)
	}

	r.entries[name] = &entry{
		name:   name,
		id:     spec.ID,
		kind:   cmd.Kind,
		state:  Active,
		target: target,
	}
	r.logger.Debug("card created", "name", name, "kind", cmd.Kind, "id", spec.ID)
	return nil
}

func (r *Registry) update(cmd osc.Command) error {
	existing, ok := r.entries[cmd.Name]
	if !ok || existing.state != Active {
		return fmt.Errorf("%w: %q", ErrNotFound, cmd.Name)
	}
	if err := existing.target.ApplyUpdate(cmd.PluginArgs, cmd.Payload); err != nil {
		return fmt.Errorf("card: update %q: %w", cmd.Name, err)
	}
	return nil
}

func (r *Registry) kill(cmd osc.Command) error {
	existing, ok := r.entries[cmd.Name]
	if !ok || existing.state != Active {
		return fmt.Errorf("%w: %q", ErrNotFound, cmd.Name)
	}
	r.destroyEntry(existing)
	return nil
}

// destroyEntry marks the entry Dying and requests target destruction.
// Removal happens when the ack lands, marshaled onto the owning
// goroutine. A replacement create for the same name may insert a new
// entry before the ack; a stale ack must then do nothing at all — the
// released hook frees resources keyed by name, which now belong to the
// replacement.
func (r *Registry) destroyEntry(e *entry) {
	e.state = Dying
	e.target.Destroy(func() {
		r.deferFn(func() {
			current, ok := r.entries[e.name]
			if !ok || current != e {
				r.logger.Debug("stale destruction ack ignored", "name", e.name, "id", e.id)
				return
			}
			delete(r.entries, e.name)
			r.logger.Debug("card destroyed", "name", e.name, "id", e.id)
			if r.released != nil {
				r.released(e.name)
			}
		})
	})
}

// TargetClosed removes an entry whose target was destroyed by the
// rendering subsystem for unrelated reasons (window closed). No
// Destroy call is issued; the target is already gone.
func (r *Registry) TargetClosed(name string) {
	e, ok := r.entries[name]
	if !ok {
		return
	}
	delete(r.entries, name)
	r.logger.Debug("card target closed externally", "name", name, "id", e.id)
	if r.released != nil {
		r.released(name)
	}
}

// Lookup returns the target for an active card name. The stream layer
// uses this to validate buffer requests.
func (r *Registry) Lookup(name string) (Target, bool) {
	e, ok := r.entries[name]
	if !ok || e.state != Active {
		return nil, false
	}
	return e.target, true
}

// Snapshot returns the current table sorted by name. Introspection
// only — never on a latency-critical path.
func (r *Registry) Snapshot() []Info {
	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, Info{
			Name:  e.name,
			ID:    e.id,
			Kind:  e.kind,
			State: e.state.String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// deriveID produces a stable 8-hex-character identity from the name
// and a per-registry counter. blake3 rather than a random source so
// tests see reproducible IDs.
func (r *Registry) deriveID(name string) string {
	r.counter++
	sum := blake3.Sum256([]byte(name + "#" + strconv.FormatUint(r.counter, 10)))
	return hex.EncodeToString(sum[:4])
}
