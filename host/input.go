// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package host

// KeyEvent is a key press or repeat forwarded from a producer.
type KeyEvent struct {
	Key  string `cbor:"key"`
	Mods uint32 `cbor:"mods"`
}

// MouseEvent covers pointer motion, buttons and wheel. Coordinates are
// cells relative to the target card.
type MouseEvent struct {
	Card   string  `cbor:"card"`
	X      int     `cbor:"x"`
	Y      int     `cbor:"y"`
	Button int     `cbor:"button"`
	Delta  float64 `cbor:"delta"`
}

// CharEvent is a single produced codepoint.
type CharEvent struct {
	Codepoint uint32 `cbor:"codepoint"`
}

// InputSink receives input events arriving on the input RPC channel.
// The rendering subsystem implements it; all calls arrive on the
// dispatch loop.
type InputSink interface {
	KeyDown(KeyEvent)
	CharInput(CharEvent)
	MouseMove(MouseEvent)
	MouseButton(MouseEvent)
	MouseWheel(MouseEvent)
}

// NopSink discards all input. The default when no rendering subsystem
// is attached (headless hosts).
type NopSink struct{}

func (NopSink) KeyDown(KeyEvent)       {}
func (NopSink) CharInput(CharEvent)    {}
func (NopSink) MouseMove(MouseEvent)   {}
func (NopSink) MouseButton(MouseEvent) {}
func (NopSink) MouseWheel(MouseEvent)  {}
