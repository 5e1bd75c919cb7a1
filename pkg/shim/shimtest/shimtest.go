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

// Package shimtest provides host operations for tests of the shim.
//
// Ops pretends that the only DRM nodes on the host are the ones it is told
// about, so tests behave the same with or without a GPU. All other calls go
// to the host.
package shimtest

import (
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/shim/realops"
)

// Ops implements realops.Ops over the host with a fake DRM class.
type Ops struct {
	realops.Host

	// existing are the render minors that exist on the fake host.
	existing map[uint32]bool

	// OnStat, if set, is called at the start of every Stat.
	OnStat func(path string)

	mu sync.Mutex

	// opened counts descriptors opened and not yet closed.
	opened map[int]string
}

var _ realops.Ops = (*Ops)(nil)

// New returns Ops on which the render nodes with the given minors exist.
func New(existingMinors ...uint32) *Ops {
	o := &Ops{
		existing: make(map[uint32]bool),
		opened:   make(map[int]string),
	}
	for _, m := range existingMinors {
		o.existing[m] = true
	}
	return o
}

// Resolver returns a realops.Resolver that yields o.
func (o *Ops) Resolver() realops.Resolver {
	return func() (realops.Ops, error) { return o, nil }
}

var sysDevCharDRM = fmt.Sprintf("%s/%d:", drm.SYS_DEV_CHAR_DIR, drm.DRM_MAJOR)

// fake reports whether p belongs to the faked DRM class, and if so which
// existing minor it refers to.
func (o *Ops) fake(p string) (minor uint32, exists, isFake bool) {
	switch {
	case p == drm.DRM_DIR:
		return 0, true, true
	case strings.HasPrefix(p, drm.DRM_DIR+"/"):
		var m uint32
		if _, err := fmt.Sscanf(p, drm.DRM_DIR+"/"+drm.DRM_RENDER_NODE_PREFIX+"%d", &m); err == nil && drm.RenderNodePath(m) == p {
			return m, o.existing[m], true
		}
		return 0, false, true
	case strings.HasPrefix(p, sysDevCharDRM):
		var m uint32
		if _, err := fmt.Sscanf(p[len(sysDevCharDRM):], "%d", &m); err == nil && drm.SysDevCharPath(m) == p {
			return m, o.existing[m], true
		}
		return 0, false, true
	}
	return 0, false, false
}

// Open implements realops.Ops.Open.
func (o *Ops) Open(p string, flags int, mode uint32) (int, error) {
	if _, _, isFake := o.fake(p); isFake {
		return -1, unix.ENOENT
	}
	fd, err := o.Host.Open(p, flags, mode)
	if err != nil {
		return fd, err
	}
	o.track(fd, p)
	return fd, nil
}

// Close implements realops.Ops.Close.
func (o *Ops) Close(fd int) error {
	o.mu.Lock()
	delete(o.opened, fd)
	o.mu.Unlock()
	return o.Host.Close(fd)
}

// Dup implements realops.Ops.Dup.
func (o *Ops) Dup(fd int) (int, error) {
	nfd, err := o.Host.Dup(fd)
	if err != nil {
		return nfd, err
	}
	o.track(nfd, "dup")
	return nfd, nil
}

// Fcntl implements realops.Ops.Fcntl.
func (o *Ops) Fcntl(fd, cmd, arg int) (int, error) {
	ret, err := o.Host.Fcntl(fd, cmd, arg)
	if err == nil && (cmd == unix.F_DUPFD || cmd == unix.F_DUPFD_CLOEXEC) {
		o.track(ret, "dup")
	}
	return ret, err
}

func (o *Ops) track(fd int, p string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened[fd] = p
}

// OpenFDs returns the number of descriptors opened through o and not
// closed through o.
func (o *Ops) OpenFDs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// Stat implements realops.Ops.Stat.
func (o *Ops) Stat(p string, st *unix.Stat_t) error {
	if o.OnStat != nil {
		o.OnStat(p)
	}
	return o.stat(p, st, o.Host.Stat)
}

// Lstat implements realops.Ops.Lstat.
func (o *Ops) Lstat(p string, st *unix.Stat_t) error {
	return o.stat(p, st, o.Host.Lstat)
}

func (o *Ops) stat(p string, st *unix.Stat_t, host func(string, *unix.Stat_t) error) error {
	minor, exists, isFake := o.fake(p)
	if !isFake {
		return host(p, st)
	}
	if !exists {
		return unix.ENOENT
	}
	*st = unix.Stat_t{}
	if p == drm.DRM_DIR {
		st.Mode = unix.S_IFDIR | 0755
		st.Nlink = 2
		return nil
	}
	if strings.HasPrefix(p, sysDevCharDRM) {
		st.Mode = unix.S_IFDIR | 0755
		st.Nlink = 2
		return nil
	}
	st.Mode = unix.S_IFCHR | 0666
	st.Rdev = unix.Mkdev(drm.DRM_MAJOR, minor)
	st.Nlink = 1
	return nil
}

// Readlink implements realops.Ops.Readlink.
func (o *Ops) Readlink(p string) (string, error) {
	if _, _, isFake := o.fake(p); isFake {
		return "", unix.ENOENT
	}
	return o.Host.Readlink(p)
}

// Realpath implements realops.Ops.Realpath.
func (o *Ops) Realpath(p string) (string, error) {
	if _, exists, isFake := o.fake(p); isFake {
		if !exists {
			return "", unix.ENOENT
		}
		return p, nil
	}
	return o.Host.Realpath(p)
}

// Opendir implements realops.Ops.Opendir. /dev/dri lists the existing
// nodes; a card node precedes each one so that hiding can be observed.
func (o *Ops) Opendir(p string) (realops.DirStream, error) {
	if p != drm.DRM_DIR {
		if _, _, isFake := o.fake(p); isFake {
			return nil, unix.ENOENT
		}
		return o.Host.Opendir(p)
	}
	minors := make([]int, 0, len(o.existing))
	for m := range o.existing {
		minors = append(minors, int(m))
	}
	sort.Ints(minors)
	ents := []realops.Dirent{{Name: ".", Type: fs.ModeDir}, {Name: "..", Type: fs.ModeDir}}
	for _, m := range minors {
		ents = append(ents,
			realops.Dirent{Name: fmt.Sprintf("card%d", m-drm.DRM_RENDER_MINOR_BASE), Type: fs.ModeDevice | fs.ModeCharDevice},
			realops.Dirent{Name: fmt.Sprintf("%s%d", drm.DRM_RENDER_NODE_PREFIX, m), Type: fs.ModeDevice | fs.ModeCharDevice})
	}
	return &Dir{Entries: ents}, nil
}

// Dir is an in-memory realops.DirStream.
type Dir struct {
	Entries []realops.Dirent
	Closed  bool
}

// Next implements realops.DirStream.Next.
func (d *Dir) Next() (realops.Dirent, error) {
	if len(d.Entries) == 0 {
		return realops.Dirent{}, io.EOF
	}
	e := d.Entries[0]
	d.Entries = d.Entries[1:]
	return e, nil
}

// Close implements realops.DirStream.Close.
func (d *Dir) Close() error {
	d.Closed = true
	return nil
}
