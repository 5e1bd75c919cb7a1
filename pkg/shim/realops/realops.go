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

// Package realops abstracts the host operations the shim replaces.
//
// Every call the shim does not emulate is forwarded to an Ops. Tests
// substitute their own implementation; production code obtains the host one
// from Resolve.
package realops

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// Dirent is one directory entry.
type Dirent struct {
	Name string
	Type fs.FileMode
}

// DirStream is an open directory. Next returns io.EOF after the last entry.
type DirStream interface {
	Next() (Dirent, error)
	Close() error
}

// Ops are the real implementations of the intercepted operations. Errors
// are unix.Errno values, or wrap one.
type Ops interface {
	Open(path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	Dup(fd int) (int, error)
	Fcntl(fd int, cmd int, arg int) (int, error)
	Stat(path string, st *unix.Stat_t) error
	Lstat(path string, st *unix.Stat_t) error
	Fstat(fd int, st *unix.Stat_t) error
	Readlink(path string) (string, error)
	Realpath(path string) (string, error)
	Opendir(path string) (DirStream, error)
	Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error)
	Munmap(b []byte) error

	// Ioctl issues a device-control request with a raw argument address.
	Ioctl(fd int, req uint32, arg uintptr) (uintptr, error)

	// CreateSealedFile returns a read-only anonymous file holding data,
	// positioned at offset 0.
	CreateSealedFile(name string, data []byte) (int, error)

	// CreateBackingStore returns an anonymous, sparse, read/write file of
	// size bytes.
	CreateBackingStore(name string, size int64) (int, error)
}

// Resolver returns the Ops to forward to.
type Resolver func() (Ops, error)
