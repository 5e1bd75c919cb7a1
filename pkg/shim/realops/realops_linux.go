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

//go:build linux

package realops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/memutil"
)

// Resolve returns the host implementation of Ops.
func Resolve() (Ops, error) {
	return Host{}, nil
}

// Host implements Ops with direct system calls.
type Host struct{}

var _ Ops = Host{}

// Open implements Ops.Open.
func (Host) Open(path string, flags int, mode uint32) (int, error) {
	return unix.Open(path, flags|unix.O_CLOEXEC, mode)
}

// Close implements Ops.Close.
func (Host) Close(fd int) error {
	return unix.Close(fd)
}

// Dup implements Ops.Dup.
func (Host) Dup(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

// Fcntl implements Ops.Fcntl.
func (Host) Fcntl(fd int, cmd int, arg int) (int, error) {
	return unix.FcntlInt(uintptr(fd), cmd, arg)
}

// Stat implements Ops.Stat.
func (Host) Stat(path string, st *unix.Stat_t) error {
	return unix.Stat(path, st)
}

// Lstat implements Ops.Lstat.
func (Host) Lstat(path string, st *unix.Stat_t) error {
	return unix.Lstat(path, st)
}

// Fstat implements Ops.Fstat.
func (Host) Fstat(fd int, st *unix.Stat_t) error {
	return unix.Fstat(fd, st)
}

// Readlink implements Ops.Readlink.
func (Host) Readlink(path string) (string, error) {
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlink(path, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Realpath implements Ops.Realpath.
func (Host) Realpath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", unwrapPathError(err)
	}
	return resolved, nil
}

// Opendir implements Ops.Opendir.
func (Host) Opendir(path string) (DirStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unwrapPathError(err)
	}
	if st, err := f.Stat(); err != nil || !st.IsDir() {
		f.Close()
		return nil, unix.ENOTDIR
	}
	return &hostDir{f: f}, nil
}

// Mmap implements Ops.Mmap.
func (Host) Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, prot, flags)
}

// Munmap implements Ops.Munmap.
func (Host) Munmap(b []byte) error {
	return unix.Munmap(b)
}

// Ioctl implements Ops.Ioctl.
func (Host) Ioctl(fd int, req uint32, arg uintptr) (uintptr, error) {
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), arg)
	if errno != 0 {
		return n, errno
	}
	return n, nil
}

// CreateSealedFile implements Ops.CreateSealedFile.
func (Host) CreateSealedFile(name string, data []byte) (int, error) {
	return memutil.CreateSealedFile(name, data)
}

// CreateBackingStore implements Ops.CreateBackingStore.
func (Host) CreateBackingStore(name string, size int64) (int, error) {
	fd, err := memutil.CreateMemFD(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sizing %q to %d bytes: %w", name, size, err)
	}
	return fd, nil
}

type hostDir struct {
	f       *os.File
	pending []os.DirEntry
}

// Next implements DirStream.Next.
func (d *hostDir) Next() (Dirent, error) {
	if len(d.pending) == 0 {
		ents, err := d.f.ReadDir(64)
		if len(ents) == 0 {
			if err == nil {
				err = io.EOF
			}
			return Dirent{}, err
		}
		d.pending = ents
	}
	e := d.pending[0]
	d.pending = d.pending[1:]
	return Dirent{Name: e.Name(), Type: e.Type()}, nil
}

// Close implements DirStream.Close.
func (d *hostDir) Close() error {
	return d.f.Close()
}

// unwrapPathError returns the errno inside an *os.PathError, so callers see
// the same errors as from the unix package.
func unwrapPathError(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		if errno, ok := pe.Err.(unix.Errno); ok {
			return errno
		}
	}
	return err
}
