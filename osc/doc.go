// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package osc implements the embedded control-sequence side of the
// yetty card protocol: detecting vendor OSC sequences in a terminal
// byte stream and parsing their bodies into card commands.
//
// The package is organized around the producer→consumer byte flow:
//
//   - scanner.go: chunk-tolerant state machine splitting raw bytes
//     into pass-through ranges and completed sequence bodies
//   - command.go: grammar for sequence bodies carrying the yetty
//     vendor tag (verbs, generic flags, plugin args, payload)
//   - payload.go: base64 (optionally zstd) payload framing
//
// The scanner is transport-agnostic and has no I/O; the host feeds it
// whatever the PTY delivers, at whatever chunk boundaries the kernel
// picked. Bodies that do not carry the vendor tag are not errors —
// they belong to some other OSC consumer and pass through untouched.
package osc
