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
	"strconv"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/shim/realops"
)

// DefaultRenderNodeCandidates is the number of render minors scanned for a
// free node.
const DefaultRenderNodeCandidates = 10

// Node is the identity of the simulated render node.
type Node struct {
	// Minor is the render node minor.
	Minor uint32

	// Path is the device node, e.g. /dev/dri/renderD128.
	Path string

	// Name is the base name of Path.
	Name string

	// SysPath is the sysfs mirror, e.g. /sys/dev/char/226:128.
	SysPath string

	// SysDevicePath is SysPath/device.
	SysDevicePath string

	// SubsystemPath is SysPath/device/subsystem.
	SubsystemPath string

	// UeventPath is SysPath/device/uevent.
	UeventPath string

	// minorName is Minor formatted as a decimal string.
	minorName string
}

func newNode(minor uint32) Node {
	sys := drm.SysDevCharPath(minor)
	p := drm.RenderNodePath(minor)
	return Node{
		Minor:         minor,
		Path:          p,
		Name:          path.Base(p),
		SysPath:       sys,
		SysDevicePath: sys + "/device",
		SubsystemPath: sys + "/device/subsystem",
		UeventPath:    sys + "/device/uevent",
		minorName:     strconv.FormatUint(uint64(minor), 10),
	}
}

// DevicePath returns SysDevicePath/name, for metadata files.
func (n Node) DevicePath(name string) string {
	return n.SysDevicePath + "/" + name
}

// Rdev returns the device number of the node.
func (n Node) Rdev() uint64 {
	return unix.Mkdev(drm.DRM_MAJOR, n.Minor)
}

// pickNode claims the render node to simulate. With preferFirst the first
// candidate is claimed unconditionally; otherwise the first candidate that
// does not exist on the host is.
func pickNode(ops realops.Ops, candidates int, preferFirst bool) (Node, error) {
	if candidates <= 0 {
		candidates = DefaultRenderNodeCandidates
	}
	for i := 0; i < candidates; i++ {
		minor := uint32(drm.DRM_RENDER_MINOR_BASE + i)
		if preferFirst {
			return newNode(minor), nil
		}
		var st unix.Stat_t
		if err := ops.Stat(drm.RenderNodePath(minor), &st); err != nil {
			return newNode(minor), nil
		}
	}
	return Node{}, fmt.Errorf("all %d render node candidates starting at %s exist", candidates, drm.RenderNodePath(drm.DRM_RENDER_MINOR_BASE))
}
