// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// Allocation header, 16 bytes at the start of every buffer:
//
//	offset 0  seq       u32  odd while the producer is writing
//	offset 4  uploading u32  1 while the consumer is reading
//	offset 8  size      u32  valid payload bytes
//	offset 12 pad       u32  reserved, keeps payloads 16-byte aligned
const (
	headerSize = 16

	offSeq       = 0
	offUploading = 4
	offSize      = 8
)

// ErrWriterAbandoned reports that a read gave up waiting for an odd
// sequence to settle. The producer crashed or stalled mid-write; the
// frame is skipped and the header repaired when the producer's
// connection closes.
var ErrWriterAbandoned = errors.New("stream: writer abandoned mid-frame")

// Buffer is a view of one allocation inside a mapped region: the three
// live header words plus the payload bytes. Both sides of the seqlock
// are built on it.
type Buffer struct {
	seq       *atomic.Uint32
	uploading *atomic.Uint32
	size      *atomic.Uint32
	payload   []byte
}

// slice carves a Buffer out of mem at the given handle. The offset
// must be 16-byte aligned (the arena guarantees this) so the header
// words are safe for atomic access.
func slice(mem []byte, h Handle) (*Buffer, error) {
	end := uint64(h.Offset) + headerSize + uint64(h.Size)
	if h.Offset%allocAlign != 0 {
		return nil, fmt.Errorf("stream: misaligned buffer offset %d", h.Offset)
	}
	if end > uint64(len(mem)) {
		return nil, fmt.Errorf("stream: buffer [%d,%d) outside region of %d bytes", h.Offset, end, len(mem))
	}
	base := mem[h.Offset:]
	return &Buffer{
		seq:       (*atomic.Uint32)(unsafe.Pointer(&base[offSeq])),
		uploading: (*atomic.Uint32)(unsafe.Pointer(&base[offUploading])),
		size:      (*atomic.Uint32)(unsafe.Pointer(&base[offSize])),
		payload:   base[headerSize : headerSize+h.Size : headerSize+h.Size],
	}, nil
}

// Cap is the payload capacity in bytes.
func (b *Buffer) Cap() uint32 { return uint32(len(b.payload)) }

// Len is the published payload length.
func (b *Buffer) Len() uint32 { return b.size.Load() }

// reset forces the header back to idle: seq even, no reader flagged.
// Payload bytes are left as-is; the next publish overwrites them.
func (b *Buffer) reset() {
	if b.seq.Load()%2 == 1 {
		b.seq.Add(1)
	}
	b.uploading.Store(0)
}

// Writer is the producer side of the seqlock. One goroutine at a time.
type Writer struct {
	buf *Buffer
}

// NewWriter wraps an allocation for producing frames into it.
func NewWriter(mem []byte, h Handle) (*Writer, error) {
	buf, err := slice(mem, h)
	if err != nil {
		return nil, err
	}
	return &Writer{buf: buf}, nil
}

// BeginWrite opens a write window: waits out any in-progress read,
// then flips the sequence odd. The payload may be mutated freely until
// EndWrite.
func (w *Writer) BeginWrite() {
	for w.buf.uploading.Load() == 1 {
		runtime.Gosched()
	}
	w.buf.seq.Add(1)
}

// Bytes is the writable payload. Valid only between BeginWrite and
// EndWrite.
func (w *Writer) Bytes() []byte { return w.buf.payload }

// SetLen records how many payload bytes the frame uses.
func (w *Writer) SetLen(n uint32) {
	if n > w.buf.Cap() {
		n = w.buf.Cap()
	}
	w.buf.size.Store(n)
}

// EndWrite publishes the frame: the sequence goes even and readers may
// sample again.
func (w *Writer) EndWrite() {
	w.buf.seq.Add(1)
}

// Reader is the consumer side of the seqlock.
type Reader struct {
	buf *Buffer
}

// NewReader wraps an allocation for sampling frames out of it.
func NewReader(mem []byte, h Handle) (*Reader, error) {
	buf, err := slice(mem, h)
	if err != nil {
		return nil, err
	}
	return &Reader{buf: buf}, nil
}

// BeginRead opens a read window: flags the reader present, then waits
// for any write in flight to finish. If the sequence is still odd when
// the deadline expires the writer is presumed dead and
// ErrWriterAbandoned is returned with the reader flag cleared — skip
// the frame and try again next cycle.
//
// The returned bytes are stable until EndRead: a producer calling
// BeginWrite meanwhile spins on the reader flag rather than overwrite
// them.
func (r *Reader) BeginRead(deadline time.Duration) ([]byte, error) {
	r.buf.uploading.Store(1)
	limit := time.Now().Add(deadline)
	for r.buf.seq.Load()%2 == 1 {
		if time.Now().After(limit) {
			r.buf.uploading.Store(0)
			return nil, ErrWriterAbandoned
		}
		runtime.Gosched()
	}
	n := r.buf.size.Load()
	if n > r.buf.Cap() {
		n = r.buf.Cap()
	}
	return r.buf.payload[:n], nil
}

// EndRead closes the read window and releases any waiting writer.
func (r *Reader) EndRead() {
	r.buf.uploading.Store(0)
}
