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
	"path"
	"strings"

	"gvisor.dev/drmshim/pkg/abi/drm"
)

// PathKind is the outcome of classifying a path.
type PathKind int

const (
	// Passthrough paths are forwarded to the host unchanged.
	Passthrough PathKind = iota

	// IsDevice is the simulated device node itself.
	IsDevice

	// IsOverride paths are served from the override registry.
	IsOverride

	// Hidden paths belong to another device of the same class and must
	// look nonexistent.
	Hidden
)

func (k PathKind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case IsDevice:
		return "device"
	case IsOverride:
		return "override"
	case Hidden:
		return "hidden"
	default:
		return fmt.Sprintf("PathKind(%d)", int(k))
	}
}

// Classification is the result of Device.Classify.
type Classification struct {
	Kind PathKind

	// Override is set iff Kind is IsOverride.
	Override *Override

	// Path is the cleaned path that was classified.
	Path string
}

var (
	drmDirPrefix     = drm.DRM_DIR + "/"
	sysDevCharPrefix = fmt.Sprintf("%s/%d:", drm.SYS_DEV_CHAR_DIR, drm.DRM_MAJOR)
)

// Classify decides how p is served. p is cleaned first; relative paths are
// always passed through.
func (d *Device) Classify(p string) Classification {
	if p == "" {
		return Classification{Kind: Passthrough}
	}
	p = path.Clean(p)
	c := Classification{Path: p}
	switch {
	case p == d.node.Path:
		c.Kind = IsDevice
	case d.overrides.Lookup(p) != nil:
		c.Kind = IsOverride
		c.Override = d.overrides.Lookup(p)
	case d.hidden(p):
		c.Kind = Hidden
	default:
		c.Kind = Passthrough
	}
	return c
}

// hidden returns true if p is a DRM node other than ours, or lies in the
// sysfs mirror of one.
func (d *Device) hidden(p string) bool {
	if strings.HasPrefix(p, drmDirPrefix) {
		return true
	}
	if rest, ok := strings.CutPrefix(p, sysDevCharPrefix); ok {
		minor, _, _ := strings.Cut(rest, "/")
		return minor != d.node.minorName
	}
	return false
}
