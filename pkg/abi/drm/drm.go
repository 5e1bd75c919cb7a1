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

// Package drm contains the Direct Rendering Manager uapi constants and ioctl
// argument structs used by the render-node shim, from include/uapi/drm/drm.h.
package drm

import (
	"fmt"

	"gvisor.dev/drmshim/pkg/abi/linux"
)

// Device numbering, from include/drm/drm_file.h and drivers/gpu/drm/drm_drv.c.
const (
	// DRM_MAJOR is the character device major of every DRM node.
	DRM_MAJOR = 226

	// DRM_RENDER_MINOR_BASE is the first render node minor.
	DRM_RENDER_MINOR_BASE = 128

	// DRM_DIR is the directory holding DRM nodes.
	DRM_DIR = "/dev/dri"

	// DRM_RENDER_NODE_PREFIX is the dirent name prefix of render nodes.
	DRM_RENDER_NODE_PREFIX = "renderD"

	// SYS_DEV_CHAR_DIR is the sysfs directory of character devices, keyed
	// by "major:minor".
	SYS_DEV_CHAR_DIR = "/sys/dev/char"
)

// DRM_IOCTL_BASE is the IOC_TYPE of every DRM ioctl.
const DRM_IOCTL_BASE = uint32('d')

// Driver-private ioctls use numbers in [DRM_COMMAND_BASE, DRM_COMMAND_END).
const (
	DRM_COMMAND_BASE = 0x40
	DRM_COMMAND_END  = 0xA0
)

// Core ioctl numbers. Only the IOC_NR part of the command.
const (
	DRM_IOCTL_NR_VERSION            = 0x00
	DRM_IOCTL_NR_GET_UNIQUE         = 0x01
	DRM_IOCTL_NR_GEM_CLOSE          = 0x09
	DRM_IOCTL_NR_GET_CAP            = 0x0c
	DRM_IOCTL_NR_SET_CLIENT_CAP     = 0x0d
	DRM_IOCTL_NR_PRIME_HANDLE_TO_FD = 0x2d
	DRM_IOCTL_NR_PRIME_FD_TO_HANDLE = 0x2e

	DRM_IOCTL_NR_SYNCOBJ_CREATE       = 0xBF
	DRM_IOCTL_NR_SYNCOBJ_DESTROY      = 0xC0
	DRM_IOCTL_NR_SYNCOBJ_HANDLE_TO_FD = 0xC1
	DRM_IOCTL_NR_SYNCOBJ_FD_TO_HANDLE = 0xC2
	DRM_IOCTL_NR_SYNCOBJ_WAIT         = 0xC3
	DRM_IOCTL_NR_SYNCOBJ_RESET        = 0xC4
	DRM_IOCTL_NR_SYNCOBJ_SIGNAL       = 0xC5

	DRM_IOCTL_NR_SYNCOBJ_TIMELINE_WAIT   = 0xCA
	DRM_IOCTL_NR_SYNCOBJ_QUERY           = 0xCB
	DRM_IOCTL_NR_SYNCOBJ_TRANSFER        = 0xCC
	DRM_IOCTL_NR_SYNCOBJ_TIMELINE_SIGNAL = 0xCD
)

// Full core ioctl commands, as libdrm encodes them.
const (
	DRM_IOCTL_VERSION            = 0xc0406400
	DRM_IOCTL_GET_UNIQUE         = 0xc0106401
	DRM_IOCTL_GEM_CLOSE          = 0x40086409
	DRM_IOCTL_GET_CAP            = 0xc010640c
	DRM_IOCTL_SET_CLIENT_CAP     = 0x4010640d
	DRM_IOCTL_PRIME_HANDLE_TO_FD = 0xc00c642d
	DRM_IOCTL_PRIME_FD_TO_HANDLE = 0xc00c642e
	DRM_IOCTL_SYNCOBJ_CREATE     = 0xc00864bf
	DRM_IOCTL_SYNCOBJ_DESTROY    = 0xc00864c0
)

// Capabilities for DRM_IOCTL_GET_CAP.
const (
	DRM_CAP_DUMB_BUFFER      = 0x1
	DRM_CAP_VBLANK_HIGH_CRTC = 0x2
	DRM_CAP_PRIME            = 0x5
	DRM_CAP_SYNCOBJ          = 0x13
	DRM_CAP_SYNCOBJ_TIMELINE = 0x14

	DRM_PRIME_CAP_IMPORT = 0x1
	DRM_PRIME_CAP_EXPORT = 0x2
)

// Client capabilities for DRM_IOCTL_SET_CLIENT_CAP.
const (
	DRM_CLIENT_CAP_STEREO_3D         = 1
	DRM_CLIENT_CAP_UNIVERSAL_PLANES  = 2
	DRM_CLIENT_CAP_ATOMIC            = 3
	DRM_CLIENT_CAP_ASPECT_RATIO      = 4
	DRM_CLIENT_CAP_WRITEBACK_CONNECT = 5
)

// IOWR returns the read/write command for nr with an argument of size bytes.
func IOWR(nr, size uint32) uint32 {
	return linux.IOWR(DRM_IOCTL_BASE, nr, size)
}

// IOW returns the write-only command for nr.
func IOW(nr, size uint32) uint32 {
	return linux.IOW(DRM_IOCTL_BASE, nr, size)
}

// IOR returns the read-only command for nr.
func IOR(nr, size uint32) uint32 {
	return linux.IOR(DRM_IOCTL_BASE, nr, size)
}

// IsDriverNr returns true if nr belongs to the driver-private range.
func IsDriverNr(nr uint32) bool {
	return nr >= DRM_COMMAND_BASE && nr < DRM_COMMAND_END
}

// Bus is the bus a DRM device hangs off, from DRM_BUS_* in xf86drm.h.
type Bus int

// Bus types.
const (
	DRM_BUS_PCI Bus = iota
	DRM_BUS_USB
	DRM_BUS_PLATFORM
	DRM_BUS_HOST1X
)

// String returns the sysfs subsystem name of the bus, as found at the end
// of the device/subsystem symlink.
func (b Bus) String() string {
	switch b {
	case DRM_BUS_PCI:
		return "pci"
	case DRM_BUS_USB:
		return "usb"
	case DRM_BUS_PLATFORM:
		return "platform"
	case DRM_BUS_HOST1X:
		return "host1x"
	default:
		return fmt.Sprintf("bus(%d)", int(b))
	}
}

// ParseBus is the inverse of Bus.String.
func ParseBus(s string) (Bus, error) {
	for b := DRM_BUS_PCI; b <= DRM_BUS_HOST1X; b++ {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown bus %q, must be one of pci, usb, platform, host1x", s)
}

// RenderNodePath returns the device node of render node minor.
func RenderNodePath(minor uint32) string {
	return fmt.Sprintf("%s/%s%d", DRM_DIR, DRM_RENDER_NODE_PREFIX, minor)
}

// SysDevCharPath returns the sysfs directory of DRM node minor.
func SysDevCharPath(minor uint32) string {
	return fmt.Sprintf("%s/%d:%d", SYS_DEV_CHAR_DIR, DRM_MAJOR, minor)
}
