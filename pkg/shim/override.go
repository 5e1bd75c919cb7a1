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
	"io/fs"
	"path"
	"sort"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/shim/realops"
)

// maxOverrides is the capacity of the override registry.
const maxOverrides = 64

// OverrideKind is the type of filesystem entry an Override fakes.
type OverrideKind int

// Override kinds.
const (
	OverrideFile OverrideKind = iota
	OverrideDir
	OverrideSymlink
)

func (k OverrideKind) String() string {
	switch k {
	case OverrideFile:
		return "file"
	case OverrideDir:
		return "dir"
	case OverrideSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("OverrideKind(%d)", int(k))
	}
}

// Override is a synthetic filesystem entry served instead of the real one.
// It is immutable once registered.
type Override struct {
	Path string
	Kind OverrideKind

	// Content is the file content, or the link target of a symlink.
	Content []byte
}

// overrideRegistry is the append-only set of overrides. It is populated
// while the device is constructed and only read afterwards, so it has no
// lock.
type overrideRegistry struct {
	entries []*Override
	byPath  map[string]*Override
}

func (r *overrideRegistry) add(o *Override) {
	if len(r.entries) >= maxOverrides {
		panic(fmt.Sprintf("override registry full (%d entries) adding %q", maxOverrides, o.Path))
	}
	if r.byPath == nil {
		r.byPath = make(map[string]*Override)
	}
	if _, ok := r.byPath[o.Path]; ok {
		panic(fmt.Sprintf("override %q registered twice", o.Path))
	}
	r.entries = append(r.entries, o)
	r.byPath[o.Path] = o
}

// Register adds a file override holding a copy of content.
func (r *overrideRegistry) Register(p string, content []byte) {
	r.add(&Override{Path: path.Clean(p), Kind: OverrideFile, Content: append([]byte(nil), content...)})
}

// RegisterDir adds a directory override.
func (r *overrideRegistry) RegisterDir(p string) {
	r.add(&Override{Path: path.Clean(p), Kind: OverrideDir})
}

// RegisterSymlink adds a symlink override pointing at target.
func (r *overrideRegistry) RegisterSymlink(p, target string) {
	r.add(&Override{Path: path.Clean(p), Kind: OverrideSymlink, Content: []byte(target)})
}

// Lookup returns the override registered at the cleaned path p.
func (r *overrideRegistry) Lookup(p string) *Override {
	return r.byPath[p]
}

// Len returns the number of overrides.
func (r *overrideRegistry) Len() int {
	return len(r.entries)
}

// Children returns the overrides directly inside dir, ordered by path.
func (r *overrideRegistry) Children(dir string) []*Override {
	var children []*Override
	for _, o := range r.entries {
		if path.Dir(o.Path) == dir && o.Path != dir {
			children = append(children, o)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children
}

// All returns every override, in registration order.
func (r *overrideRegistry) All() []*Override {
	return append([]*Override(nil), r.entries...)
}

// reset drops every override.
func (r *overrideRegistry) reset() {
	r.entries = nil
	r.byPath = nil
}

// Resolve returns a readable file holding the content of a file override,
// positioned at offset 0.
func (o *Override) Resolve(ops realops.Ops) (int, error) {
	switch o.Kind {
	case OverrideFile:
		return ops.CreateSealedFile(path.Base(o.Path), o.Content)
	case OverrideDir:
		return -1, linuxerr.EISDIR
	default:
		return -1, linuxerr.EINVAL
	}
}

// Stat fills st with a fabricated identity for o.
func (o *Override) Stat(st *unix.Stat_t) {
	*st = unix.Stat_t{}
	st.Nlink = 1
	st.Blksize = hostarch.PageSize
	switch o.Kind {
	case OverrideFile:
		st.Mode = unix.S_IFREG | 0444
		st.Size = int64(len(o.Content))
		st.Blocks = (st.Size + 511) / 512
	case OverrideDir:
		st.Mode = unix.S_IFDIR | 0555
		st.Nlink = 2
	case OverrideSymlink:
		st.Mode = unix.S_IFLNK | 0777
		st.Size = int64(len(o.Content))
	}
}

// dirent returns the directory entry of o in its parent.
func (o *Override) dirent() realops.Dirent {
	d := realops.Dirent{Name: path.Base(o.Path)}
	switch o.Kind {
	case OverrideDir:
		d.Type = fs.ModeDir
	case OverrideSymlink:
		d.Type = fs.ModeSymlink
	}
	return d
}
