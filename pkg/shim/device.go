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
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/cleanup"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/metric"
	"gvisor.dev/drmshim/pkg/shim/ioctlreport"
	"gvisor.dev/drmshim/pkg/shim/realops"
	"gvisor.dev/drmshim/pkg/shim/vma"
)

// DefaultBackingStoreSize is the default size of the device address space.
const DefaultBackingStoreSize = 4 << 30

// Device is the state of the simulated render node.
type Device struct {
	ops  realops.Ops
	node Node
	info DriverInfo

	metrics *metric.Set
	report  *ioctlreport.Report

	// connsMu protects conns.
	connsMu sync.Mutex
	conns   map[int]*Connection

	// heapMu protects heap.
	heapMu sync.Mutex
	heap   *vma.Heap

	// offsetsMu protects offsets and BO.mmapRegistered.
	offsetsMu sync.Mutex
	offsets   map[uint64]*BO

	// backingFD is the backing store; backingSize is its size.
	backingFD   int
	backingSize uint64

	// ioctls and boCleanup are installed by the driver during Init and
	// immutable afterwards.
	ioctls    map[uint32]driverIoctl
	boCleanup BOCleanup

	overrides overrideRegistry
}

type driverIoctl struct {
	name    string
	handler IoctlHandler
}

// deviceConfig carries the knobs newDevice needs from Options.
type deviceConfig struct {
	backingStoreSize uint64
	metrics          *metric.Set
	report           *ioctlreport.Report
}

// newDevice builds the device for node and runs the driver's Init.
func newDevice(ops realops.Ops, node Node, drv Driver, cfg deviceConfig) (*Device, error) {
	size := cfg.backingStoreSize
	if size == 0 {
		size = DefaultBackingStoreSize
	}
	size = hostarch.PageRoundDown(size)
	if size <= hostarch.PageSize {
		return nil, fmt.Errorf("backing store of %d bytes is too small", cfg.backingStoreSize)
	}

	fd, err := ops.CreateBackingStore("drmshim-backing", int64(size))
	if err != nil {
		return nil, fmt.Errorf("creating backing store: %w", err)
	}
	cu := cleanup.Make(func() { ops.Close(fd) })
	defer cu.Clean()

	d := &Device{
		ops:         ops,
		node:        node,
		metrics:     cfg.metrics,
		report:      cfg.report,
		conns:       make(map[int]*Connection),
		heap:        vma.NewHeap(hostarch.PageSize, size-hostarch.PageSize),
		offsets:     make(map[uint64]*BO),
		backingFD:   fd,
		backingSize: size,
		ioctls:      make(map[uint32]driverIoctl),
	}

	if err := drv.Init(d); err != nil {
		return nil, fmt.Errorf("driver init: %w", err)
	}
	if d.info.Name == "" {
		return nil, fmt.Errorf("driver init did not set a driver name")
	}
	d.addNodeOverrides()

	cu.Release()
	log.Infof("drmshim: simulating %q (%s) at %s, %d ioctls, %d overrides", d.info.Name, d.info.Bus, node.Path, len(d.ioctls), d.overrides.Len())
	return d, nil
}

// addNodeOverrides registers the directories and bus link of the sysfs
// mirror that the driver did not register itself.
func (d *Device) addNodeOverrides() {
	for _, dir := range []string{drm.DRM_DIR, d.node.SysPath, d.node.SysDevicePath} {
		if d.overrides.Lookup(dir) == nil {
			d.overrides.RegisterDir(dir)
		}
	}
	if d.overrides.Lookup(d.node.SubsystemPath) == nil {
		d.overrides.RegisterSymlink(d.node.SubsystemPath, "../../../../bus/"+d.info.Bus.String())
	}
	if d.overrides.Lookup(d.node.UeventPath) == nil {
		d.overrides.Register(d.node.UeventPath, []byte(fmt.Sprintf("DRIVER=%s\n", d.info.Name)))
	}
}

// release tears the device down. Descriptors still open keep pointing at
// /dev/null.
func (d *Device) release() {
	d.connsMu.Lock()
	conns := d.conns
	d.conns = make(map[int]*Connection)
	d.connsMu.Unlock()
	for _, c := range conns {
		c.DecRef()
	}
	d.overrides.reset()
	if err := d.ops.Close(d.backingFD); err != nil {
		log.Warningf("drmshim: closing backing store: %v", err)
	}
}

// Node returns the identity of the simulated node.
func (d *Device) Node() Node {
	return d.node
}

// Info returns the driver identity.
func (d *Device) Info() DriverInfo {
	return d.info
}

// Overrides returns every registered override.
func (d *Device) Overrides() []*Override {
	return d.overrides.All()
}

// FreeBytes returns the unallocated bytes of the device address space.
func (d *Device) FreeBytes() uint64 {
	d.heapMu.Lock()
	defer d.heapMu.Unlock()
	return d.heap.FreeBytes()
}

// Metrics returns the metric set, which may be nil.
func (d *Device) Metrics() *metric.Set {
	return d.metrics
}

// SetInfo sets the driver identity. Called from Driver.Init.
func (d *Device) SetInfo(info DriverInfo) {
	d.info = info
}

// RegisterIoctl installs handler for the driver-private request with index
// nr, i.e. IOC_NR(request) - DRM_COMMAND_BASE. Called from Driver.Init.
func (d *Device) RegisterIoctl(nr uint32, name string, handler IoctlHandler) {
	if nr >= drm.DRM_COMMAND_END-drm.DRM_COMMAND_BASE {
		panic(fmt.Sprintf("driver ioctl %s index %#x outside the driver range", name, nr))
	}
	if old, ok := d.ioctls[nr]; ok {
		panic(fmt.Sprintf("driver ioctl index %#x registered as both %s and %s", nr, old.name, name))
	}
	d.ioctls[nr] = driverIoctl{name: name, handler: handler}
}

// SetBOCleanup installs the hook run before a BO's range is freed. Called
// from Driver.Init.
func (d *Device) SetBOCleanup(fn BOCleanup) {
	d.boCleanup = fn
}

// AddFileOverride serves content at path. Called from Driver.Init.
func (d *Device) AddFileOverride(path string, content []byte) {
	d.overrides.Register(path, content)
}

// AddDirOverride serves an empty directory at path. Called from
// Driver.Init.
func (d *Device) AddDirOverride(path string) {
	d.overrides.RegisterDir(path)
}

// AddSymlinkOverride serves a symlink to target at path. Called from
// Driver.Init.
func (d *Device) AddSymlinkOverride(path, target string) {
	d.overrides.RegisterSymlink(path, target)
}

// PCIIdentity describes a PCI device.
type PCIIdentity struct {
	VendorID          uint16
	DeviceID          uint16
	SubsystemVendorID uint16
	SubsystemDeviceID uint16
	Revision          uint8

	// Slot is the PCI address, e.g. 0000:00:02.0.
	Slot string
}

// AddPCIIdentity registers the device/uevent and id files of a PCI device.
// SetInfo must have been called.
func (d *Device) AddPCIIdentity(id PCIIdentity) {
	var uevent strings.Builder
	fmt.Fprintf(&uevent, "DRIVER=%s\n", d.info.Name)
	fmt.Fprintf(&uevent, "PCI_CLASS=30000\n")
	fmt.Fprintf(&uevent, "PCI_ID=%04X:%04X\n", id.VendorID, id.DeviceID)
	fmt.Fprintf(&uevent, "PCI_SUBSYS_ID=%04X:%04X\n", id.SubsystemVendorID, id.SubsystemDeviceID)
	if id.Slot != "" {
		fmt.Fprintf(&uevent, "PCI_SLOT_NAME=%s\n", id.Slot)
	}
	d.overrides.Register(d.node.UeventPath, []byte(uevent.String()))

	for _, f := range []struct {
		name  string
		value string
	}{
		{"vendor", fmt.Sprintf("0x%04x\n", id.VendorID)},
		{"device", fmt.Sprintf("0x%04x\n", id.DeviceID)},
		{"subsystem_vendor", fmt.Sprintf("0x%04x\n", id.SubsystemVendorID)},
		{"subsystem_device", fmt.Sprintf("0x%04x\n", id.SubsystemDeviceID)},
		{"revision", fmt.Sprintf("0x%02x\n", id.Revision)},
	} {
		d.overrides.Register(d.node.DevicePath(f.name), []byte(f.value))
	}
}

// PlatformIdentity describes a device-tree platform device.
type PlatformIdentity struct {
	// FullName is the device-tree node path, e.g. /soc/gpu@1000.
	FullName string

	// Compatible lists the compatible strings, most specific first.
	Compatible []string
}

// AddPlatformIdentity registers the device/uevent file of a platform
// device. SetInfo must have been called.
func (d *Device) AddPlatformIdentity(id PlatformIdentity) {
	var uevent strings.Builder
	fmt.Fprintf(&uevent, "DRIVER=%s\n", d.info.Name)
	if id.FullName != "" {
		fmt.Fprintf(&uevent, "OF_FULLNAME=%s\n", id.FullName)
	}
	for i, c := range id.Compatible {
		fmt.Fprintf(&uevent, "OF_COMPATIBLE_%d=%s\n", i, c)
	}
	fmt.Fprintf(&uevent, "OF_COMPATIBLE_N=%d\n", len(id.Compatible))
	d.overrides.Register(d.node.UeventPath, []byte(uevent.String()))
}

// fillStat fills st with the identity of the device node.
func (d *Device) fillStat(st *unix.Stat_t) {
	*st = unix.Stat_t{}
	st.Mode = unix.S_IFCHR | 0666
	st.Rdev = d.node.Rdev()
	st.Nlink = 1
	st.Blksize = hostarch.PageSize
}
