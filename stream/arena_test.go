// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"testing"
)

func TestArenaAlignmentAndRounding(t *testing.T) {
	region := testRegion(t, 4096)
	arena := NewArena(region)

	for _, size := range []uint32{1, 15, 16, 17, 100} {
		h, err := arena.Alloc(size)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", size, err)
		}
		if h.Offset%allocAlign != 0 {
			t.Errorf("Alloc(%d): offset %d not %d-byte aligned", size, h.Offset, allocAlign)
		}
		if h.Size < size || h.Size%allocAlign != 0 {
			t.Errorf("Alloc(%d): capacity %d", size, h.Size)
		}
	}
}

func TestArenaNoOverlap(t *testing.T) {
	region := testRegion(t, 4096)
	arena := NewArena(region)

	type span struct{ lo, hi uint32 }
	var spans []span
	for i := 0; i < 8; i++ {
		h, err := arena.Alloc(100)
		if err != nil {
			t.Fatal(err)
		}
		s := span{h.Offset, h.Offset + headerSize + h.Size}
		for _, prev := range spans {
			if s.lo < prev.hi && prev.lo < s.hi {
				t.Fatalf("allocation [%d,%d) overlaps [%d,%d)", s.lo, s.hi, prev.lo, prev.hi)
			}
		}
		spans = append(spans, s)
	}
}

func TestArenaReuse(t *testing.T) {
	region := testRegion(t, 4096)
	arena := NewArena(region)

	first, err := arena.Alloc(128)
	if err != nil {
		t.Fatal(err)
	}
	arena.Free(first)

	second, err := arena.Alloc(128)
	if err != nil {
		t.Fatal(err)
	}
	if second.Offset != first.Offset {
		t.Errorf("freed block not reused: first at %d, second at %d", first.Offset, second.Offset)
	}

	// A different size takes fresh space, not the freed block.
	arena.Free(second)
	other, err := arena.Alloc(256)
	if err != nil {
		t.Fatal(err)
	}
	if other.Offset == first.Offset {
		t.Error("256-byte allocation reused a 128-byte block")
	}
}

func TestArenaHeaderInitialized(t *testing.T) {
	region := testRegion(t, 4096)
	arena := NewArena(region)

	h, err := arena.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	// Dirty the header through a writer, free, and reallocate: the
	// recycled buffer must come back idle.
	writer, _ := NewWriter(region.Bytes(), h)
	writer.BeginWrite()
	writer.SetLen(64)
	// deliberately left open
	arena.Free(h)

	again, err := arena.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if again.Offset != h.Offset {
		t.Fatalf("expected recycled block")
	}
	buf, err := slice(region.Bytes(), again)
	if err != nil {
		t.Fatal(err)
	}
	if buf.seq.Load() != 0 || buf.uploading.Load() != 0 || buf.Len() != 0 {
		t.Errorf("recycled header not reset: seq=%d uploading=%d len=%d",
			buf.seq.Load(), buf.uploading.Load(), buf.Len())
	}
}

func TestArenaFull(t *testing.T) {
	region := testRegion(t, 256)
	arena := NewArena(region)

	if _, err := arena.Alloc(128); err != nil {
		t.Fatal(err)
	}
	_, err := arena.Alloc(128)
	if !errors.Is(err, ErrRegionFull) {
		t.Errorf("error = %v, want ErrRegionFull", err)
	}

	if _, err := arena.Alloc(0); err == nil {
		t.Error("zero-sized allocation accepted")
	}
}
