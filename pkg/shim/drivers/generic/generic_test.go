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

package generic

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/marshal"
	"gvisor.dev/drmshim/pkg/shim"
	"gvisor.dev/drmshim/pkg/shim/shimtest"
	"gvisor.dev/drmshim/pkg/usermem"
)

const argAddr = 128

type fixture struct {
	t   *testing.T
	s   *shim.Shim
	drv *Driver
	fd  int
	mem *usermem.BytesIO
}

func newFixture(t *testing.T, p *Profile) *fixture {
	t.Helper()
	drv := New(p)
	ops := shimtest.New()
	s := shim.New(shim.Options{
		Resolve:          ops.Resolver(),
		Driver:           drv,
		BackingStoreSize: 32 << 20,
	})
	dev := s.Device()
	if dev == nil {
		t.Fatalf("no device simulated")
	}
	fd, err := s.Open(dev.Node().Path, unix.O_RDWR, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		s.Close(fd)
		s.Shutdown()
	})
	return &fixture{t: t, s: s, drv: drv, fd: fd, mem: &usermem.BytesIO{Bytes: make([]byte, 4096)}}
}

func (f *fixture) ioctl(req uint32, obj marshal.Marshallable) error {
	f.t.Helper()
	usermem.CopyObjectOut(f.mem, argAddr, obj)
	_, err := f.s.Ioctl(f.fd, req, argAddr, f.mem)
	usermem.CopyObjectIn(f.mem, argAddr, obj)
	return err
}

func (f *fixture) create(size uint64) uint32 {
	f.t.Helper()
	c := CreateBO{Size: size}
	if err := f.ioctl(DRM_IOCTL_GENERIC_CREATE_BO, &c); err != nil {
		f.t.Fatalf("CREATE_BO(%d): %v", size, err)
	}
	return c.Handle
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if p.Name != Name || p.Bus != "pci" || p.PCI == nil {
		t.Fatalf("DefaultProfile() = %+v", p)
	}
	if p.PCI.VendorID != 0x1af4 {
		t.Errorf("vendor = %#x, want 0x1af4", p.PCI.VendorID)
	}
}

func TestParseProfileErrors(t *testing.T) {
	for _, tc := range []struct {
		name, yaml, want string
	}{
		{"no name", "bus: platform\n", "name is required"},
		{"bad bus", "name: x\nbus: isa\n", "unknown bus"},
		{"pci without ids", "name: x\nbus: pci\n", "requires a pci section"},
		{"pci on usb", "name: x\nbus: usb\npci: {vendor_id: 1}\n", "pci section given"},
		{"duplicate param", "name: x\nbus: usb\nparams: [{id: 1, name: a}, {id: 1, name: b}]\n", "defined as both"},
		{"unknown key", "name: x\nbus: usb\ncolour: red\n", "colour"},
		{"unclean file", "name: x\nbus: usb\nfiles: [{path: a/../b}]\n", "not clean"},
		{"unclean dir", "name: x\nbus: usb\ndirs: [a/]\n", "not clean"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("ParseProfile() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestCreateMapSubmit(t *testing.T) {
	f := newFixture(t, DefaultProfile())

	h1 := f.create(4096)
	h2 := f.create(3 * hostarch.PageSize)
	if h1 != 1 || h2 != 2 {
		t.Fatalf("handles = %d, %d; want 1, 2", h1, h2)
	}

	m := MmapBO{Handle: h2}
	if err := f.ioctl(DRM_IOCTL_GENERIC_MMAP_BO, &m); err != nil {
		t.Fatalf("MMAP_BO: %v", err)
	}
	again := MmapBO{Handle: h2}
	f.ioctl(DRM_IOCTL_GENERIC_MMAP_BO, &again)
	if again.Offset != m.Offset {
		t.Errorf("MMAP_BO offsets %#x and %#x differ", m.Offset, again.Offset)
	}
	b, err := f.s.Mmap(f.fd, int64(m.Offset), 3*hostarch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	b[0] = 0x5a
	f.s.Munmap(b)

	const handlesAddr = 1024
	hostarch.ByteOrder.PutUint32(f.mem.Bytes[handlesAddr:], h1)
	hostarch.ByteOrder.PutUint32(f.mem.Bytes[handlesAddr+4:], h2)
	for want := uint64(1); want <= 2; want++ {
		sub := Submit{BOHandles: handlesAddr, NumBOs: 2}
		if err := f.ioctl(DRM_IOCTL_GENERIC_SUBMIT, &sub); err != nil {
			t.Fatalf("SUBMIT: %v", err)
		}
		if sub.SeqNo != want {
			t.Errorf("SeqNo = %d, want %d", sub.SeqNo, want)
		}
	}

	if err := f.ioctl(DRM_IOCTL_GENERIC_WAIT_BO, &WaitBO{Handle: h1, TimeoutNs: 1}); err != nil {
		t.Errorf("WAIT_BO: %v", err)
	}

	if err := f.ioctl(drm.DRM_IOCTL_GEM_CLOSE, &drm.GEMClose{Handle: h1}); err != nil {
		t.Fatalf("GEM_CLOSE: %v", err)
	}
	if f.drv.Freed() != 1 {
		t.Errorf("Freed() = %d, want 1", f.drv.Freed())
	}
	if h := f.create(1); h != h1 {
		t.Errorf("handle after close = %d, want %d", h, h1)
	}
}

func TestIoctlErrors(t *testing.T) {
	f := newFixture(t, DefaultProfile())
	const handlesAddr = 1024
	hostarch.ByteOrder.PutUint32(f.mem.Bytes[handlesAddr:], 9)

	for _, tc := range []struct {
		name string
		req  uint32
		arg  marshal.Marshallable
		want error
	}{
		{"create zero", DRM_IOCTL_GENERIC_CREATE_BO, &CreateBO{}, unix.EINVAL},
		{"create huge", DRM_IOCTL_GENERIC_CREATE_BO, &CreateBO{Size: 1 << 40}, unix.ENOMEM},
		{"mmap unknown", DRM_IOCTL_GENERIC_MMAP_BO, &MmapBO{Handle: 7}, unix.ENOENT},
		{"wait unknown", DRM_IOCTL_GENERIC_WAIT_BO, &WaitBO{Handle: 7}, unix.ENOENT},
		{"param unknown", DRM_IOCTL_GENERIC_GET_PARAM, &GetParam{Param: 99}, unix.EINVAL},
		{"submit unknown bo", DRM_IOCTL_GENERIC_SUBMIT, &Submit{BOHandles: handlesAddr, NumBOs: 1}, unix.ENOENT},
		{"submit too many", DRM_IOCTL_GENERIC_SUBMIT, &Submit{NumBOs: maxSubmitBOs + 1}, unix.EINVAL},
		{"submit bad address", DRM_IOCTL_GENERIC_SUBMIT, &Submit{BOHandles: 1 << 20, NumBOs: 1}, unix.EFAULT},
	} {
		if err := f.ioctl(tc.req, tc.arg); !errors.Is(err, tc.want) {
			t.Errorf("%s: %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestGetParam(t *testing.T) {
	f := newFixture(t, DefaultProfile())
	for _, prm := range DefaultProfile().Params {
		g := GetParam{Param: prm.ID}
		if err := f.ioctl(DRM_IOCTL_GENERIC_GET_PARAM, &g); err != nil || g.Value != prm.Value {
			t.Errorf("GET_PARAM(%s) = %d, %v; want %d", prm.Name, g.Value, err, prm.Value)
		}
	}
}

func TestVersionFromProfile(t *testing.T) {
	f := newFixture(t, DefaultProfile())
	v := drm.Version{}
	if err := f.ioctl(drm.DRM_IOCTL_VERSION, &v); err != nil {
		t.Fatalf("VERSION: %v", err)
	}
	if v.VersionMajor != 1 || v.NameLen != uint64(len(Name)) {
		t.Errorf("VERSION = %+v", v)
	}
}

func TestPlatformProfile(t *testing.T) {
	p, err := ParseProfile([]byte(`
name: tegra
desc: Simulated host1x device
date: "20260101"
bus: host1x
prefer_first_render_node: true
platform:
  fullname: /gpu@57000000
  compatible: ["nvidia,gk20a", "nvidia,tegra124-gk20a"]
dirs: [of_node]
files:
  - path: of_node/name
    content: "gpu\n"
`))
	if err != nil {
		t.Fatalf("ParseProfile: %v", err)
	}
	f := newFixture(t, p)
	node := f.s.Device().Node()

	if link, err := f.s.Readlink(node.SubsystemPath); err != nil || !strings.HasSuffix(link, "/host1x") {
		t.Errorf("Readlink(subsystem) = %q, %v; want a host1x link", link, err)
	}
	file, err := f.s.Fopen(node.UeventPath, "r")
	if err != nil {
		t.Fatalf("Fopen(uevent): %v", err)
	}
	b, _ := io.ReadAll(file)
	file.Close()
	want := "DRIVER=tegra\nOF_FULLNAME=/gpu@57000000\nOF_COMPATIBLE_0=nvidia,gk20a\nOF_COMPATIBLE_1=nvidia,tegra124-gk20a\nOF_COMPATIBLE_N=2\n"
	if diff := cmp.Diff(want, string(b)); diff != "" {
		t.Errorf("uevent mismatch (-want +got):\n%s", diff)
	}
	if file, err := f.s.Fopen(node.DevicePath("of_node/name"), "r"); err != nil {
		t.Errorf("Fopen(of_node/name): %v", err)
	} else {
		file.Close()
	}

	var st unix.Stat_t
	if err := f.s.Stat(node.DevicePath("of_node"), &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFDIR {
		t.Errorf("Stat(of_node) = mode %#o, %v; want a directory", st.Mode, err)
	}
	d, err := f.s.Opendir(node.DevicePath("of_node"))
	if err != nil {
		t.Fatalf("Opendir(of_node): %v", err)
	}
	defer d.Close()
	var names []string
	for {
		ent, err := d.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		names = append(names, ent.Name)
	}
	if diff := cmp.Diff([]string{"name"}, names); diff != "" {
		t.Errorf("of_node entries mismatch (-want +got):\n%s", diff)
	}
}
