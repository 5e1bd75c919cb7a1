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
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/usermem"
)

// Driver is implemented by vendor plugins. The core never encodes any vendor
// register layout, capability value or device id; all of it comes from the
// Driver.
type Driver interface {
	// PrefersFirstRenderNode returns true if the driver wants to overlay
	// the first render node even when a real one exists there.
	PrefersFirstRenderNode() bool

	// Init is called once while the shim starts. It must call
	// Device.SetInfo, and usually registers ioctl handlers and metadata
	// overrides.
	Init(dev *Device) error
}

// DriverInfo identifies the simulated device.
type DriverInfo struct {
	// Bus is the bus type; it selects the device/subsystem link target.
	Bus drm.Bus

	// Name, Date and Desc are returned by DRM_IOCTL_VERSION.
	Name string
	Date string
	Desc string

	// Version triplet returned by DRM_IOCTL_VERSION.
	Major      int32
	Minor      int32
	Patchlevel int32

	// Unique is the bus identity string returned by DRM_IOCTL_GET_UNIQUE.
	Unique string
}

// IoctlState holds the state of one call to a device-control handler.
type IoctlState struct {
	// Device is the simulated device.
	Device *Device

	// Conn is the connection the request was issued on.
	Conn *Connection

	// Request is the full request number.
	Request uint32

	// Nr is IOC_NR(Request).
	Nr uint32

	// Arg is the argument address in Mem.
	Arg uint64

	// Mem gives access to the caller's memory.
	Mem usermem.IO
}

// IoctlHandler handles one device-control request.
type IoctlHandler func(is *IoctlState) (uintptr, error)

// BOCleanup is called on a buffer object just before its address range is
// returned to the allocator.
type BOCleanup func(bo *BO)
