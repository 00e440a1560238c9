// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for yetty packages.
//
// The protocol tests coordinate goroutines (RPC servers, dispatch
// loops, seqlock writers) through channels; these helpers wrap the
// select-with-timeout pattern so a wedged goroutine fails the test
// instead of hanging it.
package testutil
