// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"log/slog"
	"os"
	"reflect"

	"golang.org/x/term"
)

// NewLogger creates the logger for CLI processes: human-readable text
// when stderr is a terminal, JSON when piped (scripts, CI), matching
// the daemon's log format.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// WriteJSON emits value as indented JSON on stdout. Nil slices are
// normalized to empty ones so scripted consumers never see null where
// a list belongs.
func WriteJSON(value any) error {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		value = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
