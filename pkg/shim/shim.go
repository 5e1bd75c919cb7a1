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

// Package shim simulates a DRM render node in userspace.
//
// A Shim stands in for the host calls a userspace graphics driver makes:
// open, close, dup, fcntl, the stat family, readlink, realpath, opendir,
// mmap, ioctl and fopen. Calls on the simulated node, its sysfs mirror and
// the metadata files a Driver registers are emulated; other DRM nodes are
// hidden, and everything else is forwarded to the real operations.
//
// Errors returned by emulated calls are *errors.Error values from linuxerr;
// errors of forwarded calls are whatever the real operations return.
// linuxerr.ToUnix recovers the errno in both cases.
package shim

import (
	"os"
	"path"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/cleanup"
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/metric"
	"gvisor.dev/drmshim/pkg/shim/ioctlreport"
	"gvisor.dev/drmshim/pkg/shim/realops"
	"gvisor.dev/drmshim/pkg/usermem"
)

// fakeDevicePath is opened in place of the device node, so that device
// descriptors are real descriptors of the process.
const fakeDevicePath = "/dev/null"

// maxSymlinkFollows bounds symlink overrides followed by one call.
const maxSymlinkFollows = 8

// Options configures a Shim.
type Options struct {
	// Resolve returns the real operations. Defaults to realops.Resolve.
	Resolve realops.Resolver

	// Driver is the plugin that describes the simulated device. Without
	// one, every call passes through.
	Driver Driver

	// RenderNodeCandidates is the number of render minors scanned for a
	// free node. Defaults to DefaultRenderNodeCandidates.
	RenderNodeCandidates int

	// BackingStoreSize is the size of the device address space. Defaults
	// to DefaultBackingStoreSize.
	BackingStoreSize uint64

	// Metrics and Report are optional.
	Metrics *metric.Set
	Report  *ioctlreport.Report

	// Fatalf is called when the real operations cannot be resolved.
	// Defaults to log.Fatalf, which exits.
	Fatalf func(format string, v ...any)
}

// Shim is the set of replacement entry points. The zero value is not
// usable; call New.
type Shim struct {
	opts Options

	// state is a bootState.
	state atomic.Int32
	ops   atomic.Pointer[opsHolder]
	dev   atomic.Pointer[Device]

	// cu holds the exit hooks run by Shutdown.
	cu cleanup.Cleanup
}

// New returns a shim that bootstraps on its first call.
func New(opts Options) *Shim {
	return &Shim{opts: opts}
}

// Device returns the simulated device, bootstrapping if needed. It returns
// nil if no device is simulated.
func (s *Shim) Device() *Device {
	_, dev, _ := s.ensureReady()
	return dev
}

// Shutdown runs the exit hooks: connections are dropped, the overrides and
// the backing store are released. Afterwards every call passes through.
func (s *Shim) Shutdown() {
	s.ensureReady()
	s.dev.Store(nil)
	s.cu.Clean()
	s.cu = cleanup.Cleanup{}
}

// Open replaces open(2).
func (s *Shim) Open(p string, flags int, mode uint32) (int, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return -1, err
	}
	if dev == nil {
		return ops.Open(p, flags, mode)
	}
	return s.open(ops, dev, p, flags, mode, 0)
}

func (s *Shim) open(ops realops.Ops, dev *Device, p string, flags int, mode uint32, depth int) (int, error) {
	c := dev.Classify(p)
	switch c.Kind {
	case Hidden:
		return -1, linuxerr.ENOENT
	case IsDevice:
		fd, err := ops.Open(fakeDevicePath, flags&^(unix.O_CREAT|unix.O_EXCL|unix.O_TRUNC|unix.O_DIRECTORY), 0)
		if err != nil {
			return -1, err
		}
		dev.RegisterFD(fd, nil)
		if log.IsLogging(log.Debug) {
			log.Debugf("drmshim: opened %s as fd %d", c.Path, fd)
		}
		return fd, nil
	case IsOverride:
		o := c.Override
		switch o.Kind {
		case OverrideFile:
			if flags&unix.O_ACCMODE != unix.O_RDONLY || flags&unix.O_TRUNC != 0 {
				return -1, linuxerr.EROFS
			}
			return o.Resolve(ops)
		case OverrideSymlink:
			if flags&unix.O_NOFOLLOW != 0 || depth >= maxSymlinkFollows {
				return -1, linuxerr.ELOOP
			}
			return s.open(ops, dev, linkTarget(o), flags, mode, depth+1)
		default:
			// Directory overrides have no host counterpart to open; they
			// are read through Opendir.
			if fd, err := ops.Open(c.Path, flags, mode); err == nil {
				return fd, nil
			}
			return o.Resolve(ops)
		}
	default:
		return ops.Open(p, flags, mode)
	}
}

// Close replaces close(2).
func (s *Shim) Close(fd int) error {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return err
	}
	if dev != nil && dev.UnregisterFD(fd) {
		if log.IsLogging(log.Debug) {
			log.Debugf("drmshim: closed device fd %d", fd)
		}
	}
	return ops.Close(fd)
}

// Dup replaces dup(2). A duplicate of a device descriptor shares its
// connection.
func (s *Shim) Dup(fd int) (int, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return -1, err
	}
	nfd, err := ops.Dup(fd)
	if err != nil {
		return -1, err
	}
	if dev != nil {
		if c := dev.AcquireFD(fd); c != nil {
			dev.RegisterFD(nfd, c)
			c.DecRef()
		}
	}
	return nfd, nil
}

// Fcntl replaces fcntl(2). F_DUPFD and F_DUPFD_CLOEXEC of a device
// descriptor share its connection, as Dup does.
func (s *Shim) Fcntl(fd, cmd, arg int) (int, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return -1, err
	}
	ret, err := ops.Fcntl(fd, cmd, arg)
	if err != nil {
		return ret, err
	}
	if dev != nil && (cmd == unix.F_DUPFD || cmd == unix.F_DUPFD_CLOEXEC) {
		if c := dev.AcquireFD(fd); c != nil {
			dev.RegisterFD(ret, c)
			c.DecRef()
		}
	}
	return ret, nil
}

// Stat replaces stat(2).
func (s *Shim) Stat(p string, st *unix.Stat_t) error {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return err
	}
	if dev == nil {
		return ops.Stat(p, st)
	}
	return s.stat(ops, dev, p, st, true, 0)
}

// Lstat replaces lstat(2).
func (s *Shim) Lstat(p string, st *unix.Stat_t) error {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return err
	}
	if dev == nil {
		return ops.Lstat(p, st)
	}
	return s.stat(ops, dev, p, st, false, 0)
}

func (s *Shim) stat(ops realops.Ops, dev *Device, p string, st *unix.Stat_t, follow bool, depth int) error {
	c := dev.Classify(p)
	switch c.Kind {
	case Hidden:
		return linuxerr.ENOENT
	case IsDevice:
		dev.fillStat(st)
		return nil
	case IsOverride:
		if c.Override.Kind == OverrideSymlink && follow {
			if depth >= maxSymlinkFollows {
				return linuxerr.ELOOP
			}
			return s.stat(ops, dev, linkTarget(c.Override), st, follow, depth+1)
		}
		c.Override.Stat(st)
		return nil
	default:
		if follow {
			return ops.Stat(p, st)
		}
		return ops.Lstat(p, st)
	}
}

// Fstat replaces fstat(2).
func (s *Shim) Fstat(fd int, st *unix.Stat_t) error {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return err
	}
	if dev != nil {
		if c := dev.AcquireFD(fd); c != nil {
			defer c.DecRef()
			dev.fillStat(st)
			return nil
		}
	}
	return ops.Fstat(fd, st)
}

// Readlink replaces readlink(2).
func (s *Shim) Readlink(p string) (string, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return "", err
	}
	if dev == nil {
		return ops.Readlink(p)
	}
	c := dev.Classify(p)
	switch c.Kind {
	case Hidden:
		return "", linuxerr.ENOENT
	case IsDevice:
		return "", linuxerr.EINVAL
	case IsOverride:
		if c.Override.Kind != OverrideSymlink {
			return "", linuxerr.EINVAL
		}
		return string(c.Override.Content), nil
	default:
		return ops.Readlink(p)
	}
}

// Realpath replaces realpath(3).
func (s *Shim) Realpath(p string) (string, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return "", err
	}
	if dev == nil {
		return ops.Realpath(p)
	}
	for depth := 0; ; depth++ {
		c := dev.Classify(p)
		switch c.Kind {
		case Hidden:
			return "", linuxerr.ENOENT
		case IsDevice:
			return c.Path, nil
		case IsOverride:
			if c.Override.Kind != OverrideSymlink {
				return c.Path, nil
			}
			if depth >= maxSymlinkFollows {
				return "", linuxerr.ELOOP
			}
			p = linkTarget(c.Override)
		default:
			return ops.Realpath(p)
		}
	}
}

// Mmap replaces mmap(2). On a device descriptor, offset must be the map key
// of a buffer object and length must not exceed its size.
func (s *Shim) Mmap(fd int, offset int64, length, prot, flags int) ([]byte, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return nil, err
	}
	var c *Connection
	if dev != nil {
		c = dev.AcquireFD(fd)
	}
	if c == nil {
		return ops.Mmap(fd, offset, length, prot, flags)
	}
	defer c.DecRef()
	if offset < 0 || length <= 0 {
		return nil, linuxerr.EINVAL
	}
	bfd, off, err := dev.ResolveMmap(uint64(offset), uint64(length))
	if err != nil {
		log.Warningf("drmshim: mmap of fd %d at unknown offset %#x length %d", fd, offset, length)
		return nil, err
	}
	return ops.Mmap(bfd, off, length, prot, flags)
}

// Munmap replaces munmap(2).
func (s *Shim) Munmap(b []byte) error {
	ops, _, err := s.ensureReady()
	if err != nil {
		return err
	}
	return ops.Munmap(b)
}

// Ioctl replaces ioctl(2). arg is the argument address; mem gives access to
// the memory it points into. Requests on other descriptors are forwarded
// with arg unchanged.
func (s *Shim) Ioctl(fd int, req uint32, arg uint64, mem usermem.IO) (uintptr, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return 0, err
	}
	if dev != nil {
		if c := dev.AcquireFD(fd); c != nil {
			defer c.DecRef()
			return dev.Ioctl(c, req, arg, mem)
		}
	}
	return ops.Ioctl(fd, req, uintptr(arg))
}

// Fopen replaces fopen(3). File overrides are only readable; the device
// node itself is opened on the host, as fopen is not how drivers reach it.
func (s *Shim) Fopen(p, mode string) (*os.File, error) {
	flags, err := fopenFlags(mode)
	if err != nil {
		return nil, err
	}
	ops, dev, err := s.ensureReady()
	if err != nil {
		return nil, err
	}
	for depth := 0; dev != nil; depth++ {
		c := dev.Classify(p)
		if c.Kind == Hidden {
			return nil, linuxerr.ENOENT
		}
		if c.Kind != IsOverride {
			break
		}
		switch o := c.Override; o.Kind {
		case OverrideFile:
			if flags&unix.O_ACCMODE != unix.O_RDONLY {
				return nil, linuxerr.EROFS
			}
			fd, err := o.Resolve(ops)
			if err != nil {
				return nil, err
			}
			return os.NewFile(uintptr(fd), c.Path), nil
		case OverrideDir:
			return nil, linuxerr.EISDIR
		default:
			if depth >= maxSymlinkFollows {
				return nil, linuxerr.ELOOP
			}
			p = linkTarget(o)
		}
	}
	fd, err := ops.Open(p, flags, 0666)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), p), nil
}

// fopenFlags converts an fopen(3) mode string to open(2) flags.
func fopenFlags(mode string) (int, error) {
	if mode == "" {
		return 0, linuxerr.EINVAL
	}
	var flags int
	switch mode[0] {
	case 'r':
		flags = unix.O_RDONLY
	case 'w':
		flags = unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
	case 'a':
		flags = unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND
	default:
		return 0, linuxerr.EINVAL
	}
	rest := mode[1:]
	if strings.ContainsRune(rest, '+') {
		flags = flags&^unix.O_ACCMODE | unix.O_RDWR
	}
	if strings.ContainsRune(rest, 'e') {
		flags |= unix.O_CLOEXEC
	}
	if strings.ContainsRune(rest, 'x') {
		flags |= unix.O_EXCL
	}
	return flags, nil
}

// linkTarget returns the absolute path a symlink override points at.
func linkTarget(o *Override) string {
	t := string(o.Content)
	if path.IsAbs(t) {
		return path.Clean(t)
	}
	return path.Join(path.Dir(o.Path), t)
}
