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

// Package hostarch contains host arch page and byte order helpers.
package hostarch

import (
	"encoding/binary"
)

const (
	// PageShift is the binary log of the system page size.
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// PageMask is the system page mask.
	PageMask = PageSize - 1
)

// ByteOrder is the native byte order (little endian).
var ByteOrder = binary.LittleEndian

// PageRoundDown returns x rounded down to the nearest page boundary.
func PageRoundDown(x uint64) uint64 {
	return x &^ PageMask
}

// PageRoundUp returns x rounded up to the nearest page boundary. ok is true
// iff rounding up did not wrap around.
func PageRoundUp(x uint64) (rounded uint64, ok bool) {
	rounded = PageRoundDown(x + PageMask)
	ok = rounded >= x
	return
}

// IsPageAligned returns true if x is a multiple of the page size.
func IsPageAligned(x uint64) bool {
	return x&PageMask == 0
}

// AlignUp returns x rounded up to a multiple of align, which must be zero or
// a power of two. ok is false if rounding wrapped around.
func AlignUp(x, align uint64) (rounded uint64, ok bool) {
	if align == 0 {
		return x, true
	}
	rounded = (x + align - 1) &^ (align - 1)
	ok = rounded >= x
	return
}
