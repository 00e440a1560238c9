// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the shared command-line plumbing for the yetty
// binaries: a small subcommand tree with pflag flag sets, typo
// suggestions, structured help output, and logger/JSON helpers.
package cli
