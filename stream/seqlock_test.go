// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testRegion(t *testing.T, size uint32) *Region {
	t.Helper()
	region, err := CreateRegion(filepath.Join(t.TempDir(), "region"), size)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		region.Close()
		region.Unlink()
	})
	return region
}

func TestWriteThenRead(t *testing.T) {
	region := testRegion(t, 4096)
	arena := NewArena(region)
	handle, err := arena.Alloc(256)
	if err != nil {
		t.Fatal(err)
	}

	writer, err := NewWriter(region.Bytes(), handle)
	if err != nil {
		t.Fatal(err)
	}
	reader, err := NewReader(region.Bytes(), handle)
	if err != nil {
		t.Fatal(err)
	}

	writer.BeginWrite()
	n := copy(writer.Bytes(), []byte("hello frame"))
	writer.SetLen(uint32(n))
	writer.EndWrite()

	data, err := reader.BeginRead(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello frame" {
		t.Errorf("read %q", data)
	}
	reader.EndRead()
}

// The central guarantee: a reader never observes a torn frame. The
// writer publishes frames of a single repeated byte until told to stop,
// with a small delay injected between the steps of its write window to
// widen the race; any mix of values inside one read is a tear. The
// reader drives termination, so the test observes a fixed number of
// complete reads regardless of machine speed. The first frame is
// published before the reader starts, and the reader backs off only
// outside its read window — while it holds uploading the writer cannot
// acquire the lock, so sleeping inside the window would starve the
// writer on a single CPU.
func TestNoTornReads(t *testing.T) {
	region := testRegion(t, 1<<16)
	arena := NewArena(region)
	handle, err := arena.Alloc(4096)
	if err != nil {
		t.Fatal(err)
	}
	writer, err := NewWriter(region.Bytes(), handle)
	if err != nil {
		t.Fatal(err)
	}
	reader, err := NewReader(region.Bytes(), handle)
	if err != nil {
		t.Fatal(err)
	}

	publish := func(i int) {
		writer.BeginWrite()
		time.Sleep(time.Microsecond)
		fill := byte(i % 251)
		buf := writer.Bytes()
		for j := range buf {
			buf[j] = fill
		}
		writer.SetLen(uint32(len(buf)))
		time.Sleep(time.Microsecond)
		writer.EndWrite()
	}
	publish(0)

	const wantReads = 200
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			publish(i)
			time.Sleep(time.Microsecond)
		}
	}()

	for reads := 0; reads < wantReads; {
		data, err := reader.BeginRead(5 * time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) == 0 {
			reader.EndRead()
			t.Fatal("empty read despite a published frame")
		}
		fill := data[0]
		for j, b := range data {
			if b != fill {
				reader.EndRead()
				t.Fatalf("torn read after %d clean reads: byte %d is %#x, frame fill %#x", reads, j, b, fill)
			}
		}
		reads++
		reader.EndRead()
		time.Sleep(time.Microsecond)
	}
	close(stop)
	wg.Wait()
}

func TestWriterWaitsForReader(t *testing.T) {
	region := testRegion(t, 4096)
	arena := NewArena(region)
	handle, err := arena.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	writer, _ := NewWriter(region.Bytes(), handle)
	reader, _ := NewReader(region.Bytes(), handle)

	writer.BeginWrite()
	copy(writer.Bytes(), []byte("stable"))
	writer.SetLen(6)
	writer.EndWrite()

	data, err := reader.BeginRead(time.Second)
	if err != nil {
		t.Fatal(err)
	}

	entered := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(entered)
		writer.BeginWrite()
		copy(writer.Bytes(), []byte("mutate"))
		writer.EndWrite()
		close(finished)
	}()

	<-entered
	// The writer must hold off while the read window is open.
	select {
	case <-finished:
		t.Fatal("writer did not wait for the reader")
	case <-time.After(50 * time.Millisecond):
	}
	if string(data) != "stable" {
		t.Errorf("bytes mutated under reader: %q", data)
	}

	reader.EndRead()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("writer still blocked after EndRead")
	}
}

func TestAbandonedWriterTimesOut(t *testing.T) {
	region := testRegion(t, 4096)
	arena := NewArena(region)
	handle, err := arena.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	writer, _ := NewWriter(region.Bytes(), handle)
	reader, _ := NewReader(region.Bytes(), handle)

	writer.BeginWrite() // never finished: simulated producer crash

	if _, err := reader.BeginRead(5 * time.Millisecond); !errors.Is(err, ErrWriterAbandoned) {
		t.Fatalf("BeginRead = %v, want ErrWriterAbandoned", err)
	}

	// Repair, as the host does when the producer's connection closes.
	buf, err := slice(region.Bytes(), handle)
	if err != nil {
		t.Fatal(err)
	}
	buf.reset()

	if _, err := reader.BeginRead(time.Second); err != nil {
		t.Fatalf("read after repair: %v", err)
	}
	reader.EndRead()
}

func TestSliceBounds(t *testing.T) {
	mem := make([]byte, 256)
	if _, err := slice(mem, Handle{Offset: 16, Size: 64}); err != nil {
		t.Errorf("valid handle rejected: %v", err)
	}
	if _, err := slice(mem, Handle{Offset: 8, Size: 64}); err == nil {
		t.Error("misaligned offset accepted")
	}
	if _, err := slice(mem, Handle{Offset: 240, Size: 64}); err == nil {
		t.Error("out-of-bounds handle accepted")
	}
}
