// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shim

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/refs"
)

// BO is a buffer object: a page-granular range of the device address space,
// backed by the same range of the backing store.
type BO struct {
	refs.Refs[BO]

	dev *Device

	// offset and size are immutable.
	offset uint64
	size   uint64

	// mapMu protects mapping.
	mapMu sync.Mutex

	// mapping is the lazily established view returned by Map.
	mapping []byte

	// mmapRegistered is protected by dev.offsetsMu.
	mmapRegistered bool

	// DriverData is owned by the driver plugin.
	DriverData any
}

// NewBO creates a buffer object of at least size bytes, holding one
// reference. It returns ENOMEM if the address space is exhausted.
func (d *Device) NewBO(size uint64) (*BO, error) {
	if size == 0 {
		return nil, linuxerr.EINVAL
	}
	rounded, ok := hostarch.PageRoundUp(size)
	if !ok {
		return nil, linuxerr.ENOMEM
	}
	d.heapMu.Lock()
	off, err := d.heap.Alloc(rounded, hostarch.PageSize)
	d.heapMu.Unlock()
	if err != nil {
		return nil, err
	}
	bo := &BO{dev: d, offset: off, size: rounded}
	bo.InitRefs()
	d.metrics.BOCreated(rounded)
	return bo, nil
}

// Offset returns the address of bo in the device address space.
func (b *BO) Offset() uint64 {
	return b.offset
}

// Size returns the page-rounded size of bo.
func (b *BO) Size() uint64 {
	return b.size
}

// DecRef drops a reference. The last reference runs the driver cleanup hook
// and returns the range to the allocator.
func (b *BO) DecRef() {
	b.Refs.DecRef(b.destroy)
}

func (b *BO) destroy() {
	d := b.dev
	if d.boCleanup != nil {
		d.boCleanup(b)
	}

	d.offsetsMu.Lock()
	if b.mmapRegistered {
		delete(d.offsets, b.offset)
		b.mmapRegistered = false
	}
	d.offsetsMu.Unlock()

	b.mapMu.Lock()
	if b.mapping != nil {
		if err := d.ops.Munmap(b.mapping); err != nil {
			log.Warningf("drmshim: unmapping BO at %#x: %v", b.offset, err)
		}
		b.mapping = nil
	}
	b.mapMu.Unlock()

	d.heapMu.Lock()
	d.heap.Free(b.offset, b.size)
	d.heapMu.Unlock()
	d.metrics.BODestroyed(b.size)
}

// MmapOffset returns the key under which bo can be mapped through the device
// node, registering it on first use. It is idempotent.
func (b *BO) MmapOffset() uint64 {
	d := b.dev
	d.offsetsMu.Lock()
	defer d.offsetsMu.Unlock()
	if !b.mmapRegistered {
		d.offsets[b.offset] = b
		b.mmapRegistered = true
	}
	return b.offset
}

// Map returns a read/write view of bo's storage. The view is established on
// first use and cached until bo is destroyed.
func (b *BO) Map() ([]byte, error) {
	b.mapMu.Lock()
	defer b.mapMu.Unlock()
	if b.mapping == nil {
		m, err := b.dev.ops.Mmap(b.dev.backingFD, int64(b.offset), int(b.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("mapping BO at %#x: %w", b.offset, err)
		}
		b.mapping = m
	}
	return b.mapping, nil
}

// ResolveMmap returns the backing store descriptor and file offset for a
// mapping of length bytes at key offset. It fails with EINVAL if no BO is
// registered at offset or length exceeds its size.
func (d *Device) ResolveMmap(offset, length uint64) (int, int64, error) {
	d.offsetsMu.Lock()
	bo, ok := d.offsets[offset]
	d.offsetsMu.Unlock()
	if !ok {
		return -1, 0, linuxerr.EINVAL
	}
	if length == 0 || length > bo.size {
		return -1, 0, linuxerr.EINVAL
	}
	return d.backingFD, int64(bo.offset), nil
}

// NumMmapOffsets returns the number of BOs registered for mapping.
func (d *Device) NumMmapOffsets() int {
	d.offsetsMu.Lock()
	defer d.offsetsMu.Unlock()
	return len(d.offsets)
}
