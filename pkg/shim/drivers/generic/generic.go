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

// Package generic is a vendor-neutral driver plugin described by a YAML
// profile.
//
// It implements a minimal buffer-object interface: create, map, wait and a
// submit that executes nothing. GET_PARAM answers from the profile.
package generic

import (
	"path"
	"sync/atomic"

	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/shim"
	"gvisor.dev/drmshim/pkg/usermem"
)

// Name is the driver name used when no profile overrides it.
const Name = "generic"

// Driver implements shim.Driver.
type Driver struct {
	profile *Profile
	params  map[uint32]uint64

	// seqno is the last submission sequence number.
	seqno atomic.Uint64

	// freed counts destroyed buffer objects.
	freed atomic.Uint64
}

var _ shim.Driver = (*Driver)(nil)

// boData is the per-BO state kept in BO.DriverData.
type boData struct {
	flags uint32

	// lastSeqNo is the last submission that referenced the BO.
	lastSeqNo atomic.Uint64
}

// New returns a driver for profile p, which must be valid.
func New(p *Profile) *Driver {
	d := &Driver{
		profile: p,
		params:  make(map[uint32]uint64, len(p.Params)),
	}
	for _, prm := range p.Params {
		d.params[prm.ID] = prm.Value
	}
	return d
}

// Profile returns the profile the driver was built from.
func (d *Driver) Profile() *Profile {
	return d.profile
}

// Freed returns the number of buffer objects destroyed so far.
func (d *Driver) Freed() uint64 {
	return d.freed.Load()
}

// PrefersFirstRenderNode implements shim.Driver.PrefersFirstRenderNode.
func (d *Driver) PrefersFirstRenderNode() bool {
	return d.profile.PrefersFirstRenderNode
}

// Init implements shim.Driver.Init.
func (d *Driver) Init(dev *shim.Device) error {
	p := d.profile
	bus := p.bus()
	dev.SetInfo(shim.DriverInfo{
		Bus:        bus,
		Name:       p.Name,
		Date:       p.Date,
		Desc:       p.Desc,
		Major:      p.Version.Major,
		Minor:      p.Version.Minor,
		Patchlevel: p.Version.Patchlevel,
		Unique:     p.Unique,
	})

	switch {
	case p.PCI != nil:
		dev.AddPCIIdentity(shim.PCIIdentity{
			VendorID:          p.PCI.VendorID,
			DeviceID:          p.PCI.DeviceID,
			SubsystemVendorID: p.PCI.SubsystemVendorID,
			SubsystemDeviceID: p.PCI.SubsystemDeviceID,
			Revision:          p.PCI.Revision,
			Slot:              p.PCI.Slot,
		})
	case p.Platform != nil && (bus == drm.DRM_BUS_PLATFORM || bus == drm.DRM_BUS_HOST1X):
		dev.AddPlatformIdentity(shim.PlatformIdentity{
			FullName:   p.Platform.FullName,
			Compatible: p.Platform.Compatible,
		})
	}
	node := dev.Node()
	abs := func(p string) string {
		if path.IsAbs(p) {
			return p
		}
		return node.DevicePath(p)
	}
	for _, dir := range p.Dirs {
		dev.AddDirOverride(abs(dir))
	}
	for _, f := range p.Files {
		dev.AddFileOverride(abs(f.Path), []byte(f.Content))
	}

	dev.RegisterIoctl(GENERIC_CREATE_BO, "GENERIC_CREATE_BO", d.createBO)
	dev.RegisterIoctl(GENERIC_MMAP_BO, "GENERIC_MMAP_BO", d.mmapBO)
	dev.RegisterIoctl(GENERIC_GET_PARAM, "GENERIC_GET_PARAM", d.getParam)
	dev.RegisterIoctl(GENERIC_WAIT_BO, "GENERIC_WAIT_BO", d.waitBO)
	dev.RegisterIoctl(GENERIC_SUBMIT, "GENERIC_SUBMIT", d.submit)
	dev.SetBOCleanup(d.cleanupBO)
	return nil
}

func (d *Driver) cleanupBO(bo *shim.BO) {
	d.freed.Add(1)
	bo.DriverData = nil
}

func (d *Driver) createBO(is *shim.IoctlState) (uintptr, error) {
	var args CreateBO
	if _, err := usermem.CopyObjectIn(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	bo, err := is.Device.NewBO(args.Size)
	if err != nil {
		return 0, err
	}
	bo.DriverData = &boData{flags: args.Flags}
	args.Handle, err = is.Conn.NewHandle(bo)
	// The handle table holds the only reference from here on.
	bo.DecRef()
	if err != nil {
		return 0, err
	}
	if _, err := usermem.CopyObjectOut(is.Mem, is.Arg, &args); err != nil {
		is.Conn.CloseHandle(args.Handle)
		return 0, linuxerr.EFAULT
	}
	return 0, nil
}

func (d *Driver) mmapBO(is *shim.IoctlState) (uintptr, error) {
	var args MmapBO
	if _, err := usermem.CopyObjectIn(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	bo, release := is.Conn.LookupBO(args.Handle)
	if bo == nil {
		return 0, linuxerr.ENOENT
	}
	defer release()
	args.Offset = bo.MmapOffset()
	if _, err := usermem.CopyObjectOut(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	return 0, nil
}

func (d *Driver) getParam(is *shim.IoctlState) (uintptr, error) {
	var args GetParam
	if _, err := usermem.CopyObjectIn(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	v, ok := d.params[args.Param]
	if !ok {
		log.Warningf("generic: unknown GET_PARAM %d (%#x)", args.Param, args.Param)
		return 0, linuxerr.EINVAL
	}
	args.Value = v
	if _, err := usermem.CopyObjectOut(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	return 0, nil
}

// waitBO returns immediately: no work is ever pending.
func (d *Driver) waitBO(is *shim.IoctlState) (uintptr, error) {
	var args WaitBO
	if _, err := usermem.CopyObjectIn(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	bo, release := is.Conn.LookupBO(args.Handle)
	if bo == nil {
		return 0, linuxerr.ENOENT
	}
	release()
	return 0, nil
}

func (d *Driver) submit(is *shim.IoctlState) (uintptr, error) {
	var args Submit
	if _, err := usermem.CopyObjectIn(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	if args.NumBOs > maxSubmitBOs {
		return 0, linuxerr.EINVAL
	}
	raw := make([]byte, 4*int(args.NumBOs))
	if len(raw) > 0 {
		if _, err := is.Mem.CopyIn(args.BOHandles, raw); err != nil {
			return 0, linuxerr.EFAULT
		}
	}

	bos := make([]*boData, 0, args.NumBOs)
	for i := 0; i < len(raw); i += 4 {
		h := hostarch.ByteOrder.Uint32(raw[i:])
		bo, release := is.Conn.LookupBO(h)
		if bo == nil {
			return 0, linuxerr.ENOENT
		}
		if bd, ok := bo.DriverData.(*boData); ok {
			bos = append(bos, bd)
		}
		release()
	}

	seq := d.seqno.Add(1)
	for _, bd := range bos {
		bd.lastSeqNo.Store(seq)
	}
	args.SeqNo = seq
	if _, err := usermem.CopyObjectOut(is.Mem, is.Arg, &args); err != nil {
		return 0, linuxerr.EFAULT
	}
	return 0, nil
}
