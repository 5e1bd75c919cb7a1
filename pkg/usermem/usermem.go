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

// Package usermem governs access to the memory of the process whose calls are
// being intercepted. Ioctl arguments are read and written only through the
// IO interface, so that handlers never dereference caller pointers directly.
package usermem

import (
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/marshal"
)

// IO provides access to the contents of a virtual memory space.
type IO interface {
	// CopyOut copies len(src) bytes from src to the memory mapped at addr. It
	// returns the number of bytes copied. If the number of bytes copied is <
	// len(src), it returns a non-nil error explaining why.
	CopyOut(addr uint64, src []byte) (int, error)

	// CopyIn copies len(dst) bytes from the memory mapped at addr to dst.
	// It returns the number of bytes copied. If the number of bytes copied is
	// < len(dst), it returns a non-nil error explaining why.
	CopyIn(addr uint64, dst []byte) (int, error)
}

// CopyObjectOut marshals obj and copies it to addr.
func CopyObjectOut(uio IO, addr uint64, obj marshal.Marshallable) (int, error) {
	return uio.CopyOut(addr, marshal.Marshal(obj))
}

// CopyObjectIn copies obj's marshalled size from addr and unmarshals it into
// obj. obj is left unchanged on a short copy.
func CopyObjectIn(uio IO, addr uint64, obj marshal.Marshallable) (int, error) {
	buf := make([]byte, obj.SizeBytes())
	n, err := uio.CopyIn(addr, buf)
	if err != nil {
		return n, err
	}
	obj.UnmarshalBytes(buf)
	return n, nil
}

// CopyStringOut copies s into a caller buffer of capacity bytes at addr,
// truncating s if it does not fit. The copy is not NUL terminated. A null
// addr or zero capacity copies nothing.
func CopyStringOut(uio IO, addr uint64, capacity uint64, s string) (int, error) {
	if addr == 0 || capacity == 0 {
		return 0, nil
	}
	b := []byte(s)
	if uint64(len(b)) > capacity {
		b = b[:capacity]
	}
	return uio.CopyOut(addr, b)
}

// BytesIO implements IO using a byte slice. Addresses are interpreted as
// offsets into the slice. Reads and writes beyond the end of the slice return
// EFAULT.
type BytesIO struct {
	Bytes []byte
}

// CopyOut implements IO.CopyOut.
func (b *BytesIO) CopyOut(addr uint64, src []byte) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(src))
	if rngN == 0 {
		return 0, rngErr
	}
	return copy(b.Bytes[int(addr):], src[:rngN]), rngErr
}

// CopyIn implements IO.CopyIn.
func (b *BytesIO) CopyIn(addr uint64, dst []byte) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(dst))
	if rngN == 0 {
		return 0, rngErr
	}
	return copy(dst[:rngN], b.Bytes[int(addr):]), rngErr
}

func (b *BytesIO) rangeCheck(addr uint64, length int) (int, error) {
	if length == 0 {
		return 0, nil
	}
	if addr >= uint64(len(b.Bytes)) {
		return 0, linuxerr.EFAULT
	}
	if avail := uint64(len(b.Bytes)) - addr; uint64(length) > avail {
		return int(avail), linuxerr.EFAULT
	}
	return length, nil
}
