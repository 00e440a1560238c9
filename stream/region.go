// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// shmDir is where plain region names resolve to. Names beginning with
// '/' are taken as absolute paths instead (tests use this).
const shmDir = "/dev/shm"

// ErrRegionUnavailable reports that the shared region could not be
// created, opened or mapped.
var ErrRegionUnavailable = errors.New("stream: region unavailable")

// DefaultRegionName returns the per-host-instance region name,
// yetty-stream-<pid>.
func DefaultRegionName() string {
	return fmt.Sprintf("yetty-stream-%d", os.Getpid())
}

func regionPath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return filepath.Join(shmDir, name)
}

// Region is one shared-memory mapping. The host creates it and owns
// the backing file; producers open the same name read-write and see
// the host's allocations at the offsets the RPC layer hands them.
type Region struct {
	name  string
	data  []byte
	owner bool
}

// CreateRegion creates and maps a fresh region. Fails if the name is
// already in use; a previous instance's leftover must be unlinked
// first.
func CreateRegion(name string, size uint32) (*Region, error) {
	if size < headerSize {
		return nil, fmt.Errorf("%w: size %d below minimum", ErrRegionUnavailable, size)
	}
	path := regionPath(name)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrRegionUnavailable, path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("%w: sizing %s to %d: %v", ErrRegionUnavailable, path, size, err)
	}
	data, err := mapFD(fd, int(size))
	unix.Close(fd)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: mapping %s: %v", ErrRegionUnavailable, path, err)
	}
	return &Region{name: name, data: data, owner: true}, nil
}

// OpenRegion maps an existing region by name, producer side.
func OpenRegion(name string) (*Region, error) {
	path := regionPath(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrRegionUnavailable, path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: stat %s: %v", ErrRegionUnavailable, path, err)
	}
	data, err := mapFD(fd, int(st.Size))
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: mapping %s: %v", ErrRegionUnavailable, path, err)
	}
	return &Region{name: name, data: data}, nil
}

func mapFD(fd, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Name is the identifier producers open the region by.
func (r *Region) Name() string { return r.name }

// Size is the mapped length in bytes.
func (r *Region) Size() uint32 { return uint32(len(r.data)) }

// Bytes is the whole mapping. Allocation views are sliced out of it.
func (r *Region) Bytes() []byte { return r.data }

// Close unmaps the region. Existing Buffer views become invalid.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("stream: unmapping region %s: %w", r.name, err)
	}
	return nil
}

// Unlink removes the backing file. Only the creating side calls this;
// producers with open mappings keep working until they close.
func (r *Region) Unlink() error {
	if !r.owner {
		return nil
	}
	if err := os.Remove(regionPath(r.name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stream: unlinking region %s: %w", r.name, err)
	}
	return nil
}
