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
	"io"
	"io/fs"
	"path"

	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/shim/realops"
)

// Dir is an open directory stream.
//
// A stream over a real directory skips hidden entries and entries shadowed
// by an override; the override children are returned after the real
// entries are exhausted.
type Dir struct {
	dev  *Device
	path string

	// real is nil for directory overrides.
	real realops.DirStream

	// synthetic are returned once real is exhausted.
	synthetic []realops.Dirent
}

// Opendir replaces opendir(3).
func (s *Shim) Opendir(p string) (*Dir, error) {
	ops, dev, err := s.ensureReady()
	if err != nil {
		return nil, err
	}
	if dev == nil {
		ds, err := ops.Opendir(p)
		if err != nil {
			return nil, err
		}
		return &Dir{path: p, real: ds}, nil
	}

	for depth := 0; ; depth++ {
		c := dev.Classify(p)
		switch c.Kind {
		case Hidden:
			return nil, linuxerr.ENOENT
		case IsDevice:
			return nil, linuxerr.ENOTDIR
		case IsOverride:
			switch c.Override.Kind {
			case OverrideFile:
				return nil, linuxerr.ENOTDIR
			case OverrideSymlink:
				if depth >= maxSymlinkFollows {
					return nil, linuxerr.ELOOP
				}
				p = linkTarget(c.Override)
				continue
			}
			return &Dir{dev: dev, path: c.Path, synthetic: dev.syntheticEntries(c.Path)}, nil
		default:
			ds, err := ops.Opendir(p)
			if err != nil {
				return nil, err
			}
			return &Dir{dev: dev, path: c.Path, real: ds, synthetic: dev.syntheticEntries(c.Path)}, nil
		}
	}
}

// syntheticEntries returns the emulated entries of directory dir.
func (d *Device) syntheticEntries(dir string) []realops.Dirent {
	var ents []realops.Dirent
	if dir == drm.DRM_DIR {
		ents = append(ents, realops.Dirent{Name: d.node.Name, Type: fs.ModeDevice | fs.ModeCharDevice})
	}
	for _, o := range d.overrides.Children(dir) {
		ents = append(ents, o.dirent())
	}
	return ents
}

// Read replaces readdir(3). It returns io.EOF after the last entry.
func (d *Dir) Read() (realops.Dirent, error) {
	for d.real != nil {
		ent, err := d.real.Next()
		if err == io.EOF {
			d.closeReal()
			break
		}
		if err != nil {
			return realops.Dirent{}, err
		}
		if d.dev != nil && d.shadowed(ent.Name) {
			continue
		}
		return ent, nil
	}
	if len(d.synthetic) == 0 {
		return realops.Dirent{}, io.EOF
	}
	ent := d.synthetic[0]
	d.synthetic = d.synthetic[1:]
	return ent, nil
}

// shadowed returns true if the real entry name must not be returned.
func (d *Dir) shadowed(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	switch d.dev.Classify(path.Join(d.path, name)).Kind {
	case Hidden, IsOverride, IsDevice:
		return true
	default:
		return false
	}
}

func (d *Dir) closeReal() error {
	if d.real == nil {
		return nil
	}
	err := d.real.Close()
	d.real = nil
	return err
}

// Close replaces closedir(3).
func (d *Dir) Close() error {
	d.synthetic = nil
	return d.closeReal()
}
