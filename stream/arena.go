// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"
)

// allocAlign is the placement alignment for allocations. The header is
// exactly one alignment unit, so payloads land aligned too.
const allocAlign = 16

// ErrRegionFull reports that no free block could satisfy an
// allocation.
var ErrRegionFull = errors.New("stream: region full")

// Handle locates one allocation inside the region: the byte offset of
// its header and the payload capacity that follows it. Handles cross
// the RPC boundary verbatim; both sides slice the same mapping with
// them.
type Handle struct {
	Offset uint32 `cbor:"offset"`
	Size   uint32 `cbor:"size"`
}

// Arena hands out buffer allocations from the region. Host-owned and
// confined to the dispatch loop, so it carries no locking. Freed
// blocks are recycled for requests of the same rounded size; the arena
// never splits or coalesces — card buffers are few and long-lived, so
// a size-bucketed free list is enough.
type Arena struct {
	mem  []byte
	next uint32
	free map[uint32][]uint32 // rounded block size → header offsets
}

// NewArena creates an allocator over the region's bytes.
func NewArena(region *Region) *Arena {
	return &Arena{
		mem:  region.Bytes(),
		free: make(map[uint32][]uint32),
	}
}

func roundUp(n uint32) uint32 {
	return (n + allocAlign - 1) &^ (allocAlign - 1)
}

// Alloc reserves a buffer with at least size payload bytes and returns
// its handle with the header initialized to idle. The handle's Size is
// the rounded capacity, which may exceed the request.
func (a *Arena) Alloc(size uint32) (Handle, error) {
	if size == 0 {
		return Handle{}, fmt.Errorf("stream: zero-sized allocation")
	}
	payload := roundUp(size)
	block := headerSize + payload

	offset, ok := a.reuse(block)
	if !ok {
		if uint64(a.next)+uint64(block) > uint64(len(a.mem)) {
			return Handle{}, fmt.Errorf("%w: %d bytes requested, %d unallocated",
				ErrRegionFull, block, uint32(len(a.mem))-a.next)
		}
		offset = a.next
		a.next += block
	}

	h := Handle{Offset: offset, Size: payload}
	buf, err := slice(a.mem, h)
	if err != nil {
		return Handle{}, err
	}
	buf.seq.Store(0)
	buf.uploading.Store(0)
	buf.size.Store(0)
	return h, nil
}

func (a *Arena) reuse(block uint32) (uint32, bool) {
	list := a.free[block]
	if len(list) == 0 {
		return 0, false
	}
	offset := list[len(list)-1]
	a.free[block] = list[:len(list)-1]
	return offset, true
}

// Free returns an allocation to the free list. The caller must not
// hold live readers or writers over it.
func (a *Arena) Free(h Handle) {
	block := headerSize + h.Size
	a.free[block] = append(a.free[block], h.Offset)
}
