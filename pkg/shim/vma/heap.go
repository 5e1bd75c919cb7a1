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

// Package vma implements the allocator for the simulated device's GPU
// virtual address space.
//
// A Heap hands out page-granular, non-overlapping ranges of one fixed region.
// Free ranges ("holes") are kept in two B-trees: one ordered by offset, used
// to coalesce neighbours on Free, and one ordered by (size, offset), used to
// find the best fitting hole on Alloc.
//
// Heap is not synchronized; callers serialize access.
package vma

import (
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/hostarch"
)

// btreeDegree is the B-tree degree used for both hole trees.
const btreeDegree = 8

type hole struct {
	off  uint64
	size uint64
}

func (h hole) end() uint64 {
	return h.off + h.size
}

func byOffset(a, b hole) bool {
	return a.off < b.off
}

func bySize(a, b hole) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.off < b.off
}

// Heap is a best-fit allocator over [start, start+size).
type Heap struct {
	start uint64
	size  uint64
	free  uint64

	holesByOffset *btree.BTreeG[hole]
	holesBySize   *btree.BTreeG[hole]
}

// NewHeap returns a heap managing [start, start+size). start and size must be
// page aligned and size must be non-zero.
func NewHeap(start, size uint64) *Heap {
	if !hostarch.IsPageAligned(start) || !hostarch.IsPageAligned(size) || size == 0 {
		panic(fmt.Sprintf("invalid heap region [%#x, +%#x)", start, size))
	}
	if start+size < start {
		panic(fmt.Sprintf("heap region [%#x, +%#x) overflows", start, size))
	}
	h := &Heap{
		start:         start,
		size:          size,
		holesByOffset: btree.NewG[hole](btreeDegree, byOffset),
		holesBySize:   btree.NewG[hole](btreeDegree, bySize),
	}
	h.insert(hole{off: start, size: size})
	return h
}

func (h *Heap) insert(hl hole) {
	h.holesByOffset.ReplaceOrInsert(hl)
	h.holesBySize.ReplaceOrInsert(hl)
	h.free += hl.size
}

func (h *Heap) remove(hl hole) {
	h.holesByOffset.Delete(hl)
	h.holesBySize.Delete(hl)
	h.free -= hl.size
}

// Start returns the lowest address managed by h.
func (h *Heap) Start() uint64 {
	return h.start
}

// Size returns the number of bytes managed by h.
func (h *Heap) Size() uint64 {
	return h.size
}

// FreeBytes returns the number of unallocated bytes.
func (h *Heap) FreeBytes() uint64 {
	return h.free
}

// Holes returns the number of disjoint free ranges.
func (h *Heap) Holes() int {
	return h.holesByOffset.Len()
}

// Alloc returns the offset of a newly allocated range of at least size bytes,
// aligned to align. size is rounded up to a page; align is raised to a page
// and must be a power of two. It returns ENOMEM if no hole is large enough.
func (h *Heap) Alloc(size, align uint64) (uint64, error) {
	if size == 0 {
		return 0, linuxerr.EINVAL
	}
	size, ok := hostarch.PageRoundUp(size)
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	if align < hostarch.PageSize {
		align = hostarch.PageSize
	}
	if align&(align-1) != 0 {
		return 0, linuxerr.EINVAL
	}

	var (
		found   bool
		chosen  hole
		aligned uint64
	)
	h.holesBySize.AscendGreaterOrEqual(hole{size: size}, func(hl hole) bool {
		a, ok := hostarch.AlignUp(hl.off, align)
		if ok && a >= hl.off && a+size >= a && a+size <= hl.end() {
			found, chosen, aligned = true, hl, a
			return false
		}
		return true
	})
	if !found {
		return 0, linuxerr.ENOMEM
	}

	h.remove(chosen)
	if aligned > chosen.off {
		h.insert(hole{off: chosen.off, size: aligned - chosen.off})
	}
	if end := aligned + size; end < chosen.end() {
		h.insert(hole{off: end, size: chosen.end() - end})
	}
	return aligned, nil
}

// Free returns [off, off+size) to the heap. size is rounded up to a page, as
// in Alloc. Freeing a range that is not wholly allocated panics.
func (h *Heap) Free(off, size uint64) {
	size, ok := hostarch.PageRoundUp(size)
	if !ok || size == 0 || !hostarch.IsPageAligned(off) || off < h.start || off+size > h.start+h.size || off+size < off {
		panic(fmt.Sprintf("freeing invalid range [%#x, +%#x) of heap [%#x, +%#x)", off, size, h.start, h.size))
	}
	freed := hole{off: off, size: size}

	var (
		prev, next       hole
		hasPrev, hasNext bool
	)
	h.holesByOffset.DescendLessOrEqual(freed, func(hl hole) bool {
		prev, hasPrev = hl, true
		return false
	})
	h.holesByOffset.AscendGreaterOrEqual(freed, func(hl hole) bool {
		next, hasNext = hl, true
		return false
	})
	if hasPrev && prev.end() > off {
		panic(fmt.Sprintf("freeing [%#x, +%#x) overlaps free range [%#x, +%#x)", off, size, prev.off, prev.size))
	}
	if hasNext && next.off < freed.end() {
		panic(fmt.Sprintf("freeing [%#x, +%#x) overlaps free range [%#x, +%#x)", off, size, next.off, next.size))
	}

	if hasPrev && prev.end() == freed.off {
		h.remove(prev)
		freed = hole{off: prev.off, size: prev.size + freed.size}
	}
	if hasNext && freed.end() == next.off {
		h.remove(next)
		freed.size += next.size
	}
	h.insert(freed)
}
