// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestDeterministicEncoding(t *testing.T) {
	// Maps with the same contents must encode to identical bytes
	// regardless of insertion order, so RPC frames are reproducible.
	first, err := Marshal(map[string]any{"card": "demo", "label": "vertices", "size": 4096})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal(map[string]any{"size": 4096, "label": "vertices", "card": "demo"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("same map encoded differently:\n%x\n%x", first, second)
	}
}

func TestAnyTargetMapType(t *testing.T) {
	data, err := Marshal(map[string]any{"offset": 16, "size": 256})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	result, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded to %T, want map[string]any", decoded)
	}
	if len(result) != 2 {
		t.Errorf("decoded %d entries, want 2", len(result))
	}
}

func TestRawMessageRoundTrip(t *testing.T) {
	type params struct {
		Card  string `cbor:"card"`
		Label string `cbor:"label"`
	}
	encoded, err := Marshal(params{Card: "plot", Label: "samples"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// A RawMessage passed through an envelope must survive untouched.
	envelope, err := Marshal([]any{2, 1, "stream_mark_dirty", RawMessage(encoded)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var fields []RawMessage
	if err := Unmarshal(envelope, &fields); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if len(fields) != 4 {
		t.Fatalf("envelope has %d fields, want 4", len(fields))
	}
	var decoded params
	if err := Unmarshal(fields[3], &decoded); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if decoded.Card != "plot" || decoded.Label != "samples" {
		t.Errorf("params = %+v, want {plot samples}", decoded)
	}
}

func TestStreamDecoder(t *testing.T) {
	// Back-to-back records on one stream decode one at a time, the way
	// the RPC reader consumes a connection.
	var buffer bytes.Buffer
	for _, value := range []any{1, "two", []int{3}} {
		data, err := Marshal(value)
		if err != nil {
			t.Fatalf("marshal %v: %v", value, err)
		}
		buffer.Write(data)
	}
	decoder := NewDecoder(&buffer)
	var number int
	if err := decoder.Decode(&number); err != nil || number != 1 {
		t.Fatalf("decode first item: %v (got %d)", err, number)
	}
	var text string
	if err := decoder.Decode(&text); err != nil || text != "two" {
		t.Fatalf("decode second item: %v (got %q)", err, text)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal([]any{1, "stream_mark_dirty"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	diag, err := Diagnose(data)
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if !strings.Contains(diag, "stream_mark_dirty") || !strings.Contains(diag, "1") {
		t.Errorf("diagnostic notation %q missing record contents", diag)
	}
}
