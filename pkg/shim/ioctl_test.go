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

package shim

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/abi/linux"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/marshal"
	"gvisor.dev/drmshim/pkg/shim/ioctlreport"
	"gvisor.dev/drmshim/pkg/shim/shimtest"
	"gvisor.dev/drmshim/pkg/usermem"
)

// argAddr is where ioctl arguments live in test memory.
const argAddr = 64

// ioctl issues req on fd with obj as the argument and reads obj back.
func ioctl(t *testing.T, s *Shim, fd int, req uint32, obj marshal.Marshallable) (uintptr, error) {
	t.Helper()
	mem := &usermem.BytesIO{Bytes: make([]byte, 1024)}
	if obj == nil {
		return s.Ioctl(fd, req, argAddr, mem)
	}
	if _, err := usermem.CopyObjectOut(mem, argAddr, obj); err != nil {
		t.Fatalf("CopyObjectOut: %v", err)
	}
	ret, err := s.Ioctl(fd, req, argAddr, mem)
	if _, err := usermem.CopyObjectIn(mem, argAddr, obj); err != nil {
		t.Fatalf("CopyObjectIn: %v", err)
	}
	return ret, err
}

func newReportingShim(t *testing.T) (*Shim, *ioctlreport.Report) {
	t.Helper()
	ops := shimtest.New()
	report := ioctlreport.New(nil)
	s := New(Options{
		Resolve:          ops.Resolver(),
		Driver:           &testDriver{},
		BackingStoreSize: testBackingStoreSize,
		Report:           report,
	})
	if s.Device() == nil {
		t.Fatalf("no device simulated")
	}
	t.Cleanup(s.Shutdown)
	return s, report
}

func TestVersion(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	fd := openDevice(t, s)
	defer s.Close(fd)

	const nameAddr, dateAddr = 256, 512
	mem := &usermem.BytesIO{Bytes: make([]byte, 1024)}
	v := drm.Version{
		NameLen: 4, Name: nameAddr,
		DateLen: 64, Date: dateAddr,
		// Desc is not requested.
	}
	usermem.CopyObjectOut(mem, argAddr, &v)
	if _, err := s.Ioctl(fd, drm.DRM_IOCTL_VERSION, argAddr, mem); err != nil {
		t.Fatalf("DRM_IOCTL_VERSION: %v", err)
	}
	var got drm.Version
	usermem.CopyObjectIn(mem, argAddr, &got)

	want := drm.Version{
		VersionMajor: 1, VersionMinor: 2, VersionPatchlevel: 3,
		NameLen: uint64(len("testdrv")), Name: nameAddr,
		DateLen: uint64(len("20260101")), Date: dateAddr,
		DescLen: uint64(len("Test driver")),
	}
	if got != want {
		t.Errorf("DRM_IOCTL_VERSION = %+v, want %+v", got, want)
	}
	if name := string(mem.Bytes[nameAddr : nameAddr+8]); name != "test\x00\x00\x00\x00" {
		t.Errorf("name buffer = %q, want truncation to 4 bytes", name)
	}
	if date := string(mem.Bytes[dateAddr : dateAddr+8]); date != "20260101" {
		t.Errorf("date buffer = %q", date)
	}
}

func TestGetUnique(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	fd := openDevice(t, s)
	defer s.Close(fd)

	u := drm.Unique{}
	if _, err := ioctl(t, s, fd, drm.DRM_IOCTL_GET_UNIQUE, &u); err != nil {
		t.Fatalf("DRM_IOCTL_GET_UNIQUE: %v", err)
	}
	if u.UniqueLen != uint64(len("0000:00:02.0")) {
		t.Errorf("UniqueLen = %d, want %d", u.UniqueLen, len("0000:00:02.0"))
	}
}

func TestGetCap(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	fd := openDevice(t, s)
	defer s.Close(fd)

	for _, tc := range []struct {
		capability uint64
		want       uint64
		wantErr    error
	}{
		{capability: drm.DRM_CAP_PRIME, want: drm.DRM_PRIME_CAP_IMPORT | drm.DRM_PRIME_CAP_EXPORT},
		{capability: drm.DRM_CAP_SYNCOBJ, want: 1},
		{capability: drm.DRM_CAP_SYNCOBJ_TIMELINE, want: 1},
		{capability: drm.DRM_CAP_DUMB_BUFFER, wantErr: unix.EINVAL},
		{capability: 0xdead, wantErr: unix.EINVAL},
	} {
		c := drm.GetCap{Capability: tc.capability}
		_, err := ioctl(t, s, fd, drm.DRM_IOCTL_GET_CAP, &c)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("GET_CAP(%#x) = %v, want %v", tc.capability, err, tc.wantErr)
			}
			continue
		}
		if err != nil || c.Value != tc.want {
			t.Errorf("GET_CAP(%#x) = %d, %v; want %d", tc.capability, c.Value, err, tc.want)
		}
	}
}

func TestSetClientCap(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	fd := openDevice(t, s)
	defer s.Close(fd)

	c := drm.SetClientCap{Capability: drm.DRM_CLIENT_CAP_UNIVERSAL_PLANES, Value: 1}
	if _, err := ioctl(t, s, fd, drm.DRM_IOCTL_SET_CLIENT_CAP, &c); err != nil {
		t.Fatalf("SET_CLIENT_CAP: %v", err)
	}
	if v, ok := s.Device().LookupFD(fd).ClientCap(drm.DRM_CLIENT_CAP_UNIVERSAL_PLANES); !ok || v != 1 {
		t.Errorf("ClientCap() = %d, %t; want 1, true", v, ok)
	}
}

func TestGEMClose(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	fd := openDevice(t, s)
	defer s.Close(fd)
	conn := s.Device().LookupFD(fd)

	bo, err := s.Device().NewBO(hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewBO: %v", err)
	}
	h := mustNewHandle(t, conn, bo)
	bo.DecRef()

	for _, tc := range []struct {
		handle  uint32
		wantErr error
	}{
		{handle: 0},
		{handle: h},
		{handle: h, wantErr: unix.ENOENT},
		{handle: 42, wantErr: unix.ENOENT},
	} {
		_, err := ioctl(t, s, fd, drm.DRM_IOCTL_GEM_CLOSE, &drm.GEMClose{Handle: tc.handle})
		if tc.wantErr == nil && err != nil || tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Errorf("GEM_CLOSE(%d) = %v, want %v", tc.handle, err, tc.wantErr)
		}
	}
	if len(conn.Handles()) != 0 {
		t.Errorf("handles left: %v", conn.Handles())
	}
}

func TestSyncobj(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	fd := openDevice(t, s)
	defer s.Close(fd)

	c := drm.SyncobjCreate{}
	if _, err := ioctl(t, s, fd, drm.DRM_IOCTL_SYNCOBJ_CREATE, &c); err != nil || c.Handle != 1 {
		t.Errorf("SYNCOBJ_CREATE = handle %d, %v; want 1", c.Handle, err)
	}
	for _, nr := range []uint32{
		drm.DRM_IOCTL_NR_SYNCOBJ_DESTROY,
		drm.DRM_IOCTL_NR_SYNCOBJ_WAIT,
		drm.DRM_IOCTL_NR_SYNCOBJ_RESET,
		drm.DRM_IOCTL_NR_SYNCOBJ_SIGNAL,
		drm.DRM_IOCTL_NR_SYNCOBJ_TIMELINE_WAIT,
		drm.DRM_IOCTL_NR_SYNCOBJ_QUERY,
		drm.DRM_IOCTL_NR_SYNCOBJ_TRANSFER,
		drm.DRM_IOCTL_NR_SYNCOBJ_TIMELINE_SIGNAL,
		drm.DRM_IOCTL_NR_SYNCOBJ_HANDLE_TO_FD,
		drm.DRM_IOCTL_NR_SYNCOBJ_FD_TO_HANDLE,
	} {
		if _, err := ioctl(t, s, fd, drm.IOWR(nr, 16), nil); err != nil {
			t.Errorf("syncobj ioctl nr %#x = %v, want success", nr, err)
		}
	}
}

func TestDriverIoctl(t *testing.T) {
	s, report := newReportingShim(t)
	fd := openDevice(t, s)
	defer s.Close(fd)

	ret, err := ioctl(t, s, fd, drm.IOWR(drm.DRM_COMMAND_BASE, 8), nil)
	if err != nil || ret != 7 {
		t.Errorf("driver ioctl 0 = %d, %v; want 7, nil", ret, err)
	}
	if len(report.Snapshot().Records(ioctlreport.Driver)) != 0 {
		t.Errorf("handled driver ioctl was reported")
	}
}

func TestUnknownIoctls(t *testing.T) {
	s, report := newReportingShim(t)
	fd := openDevice(t, s)
	defer s.Close(fd)
	path := s.Device().Node().Path

	unknownDriver := drm.IOWR(drm.DRM_COMMAND_BASE+1, 8)
	unknownCore := drm.IOWR(0x02, 8)
	wrongType := linux.IOWR('x', 0x01, 8)
	prime := uint32(drm.DRM_IOCTL_PRIME_HANDLE_TO_FD)

	for _, tc := range []struct {
		req  uint32
		want error
	}{
		{unknownDriver, unix.EINVAL},
		{unknownCore, unix.EINVAL},
		{wrongType, unix.EINVAL},
		{prime, unix.EOPNOTSUPP},
	} {
		if _, err := ioctl(t, s, fd, tc.req, nil); !errors.Is(err, tc.want) {
			t.Errorf("ioctl(%#x) = %v, want %v", tc.req, err, tc.want)
		}
	}

	snap := report.Snapshot()
	for _, tc := range []struct {
		class ioctlreport.Class
		want  []ioctlreport.Record
	}{
		{ioctlreport.Driver, []ioctlreport.Record{{Path: path, Request: unknownDriver, Nr: drm.DRM_COMMAND_BASE + 1, Class: ioctlreport.Driver, Errno: int32(unix.EINVAL)}}},
		{ioctlreport.Core, []ioctlreport.Record{{Path: path, Request: unknownCore, Nr: 0x02, Class: ioctlreport.Core, Errno: int32(unix.EINVAL)}}},
		{ioctlreport.Type, []ioctlreport.Record{{Path: path, Request: wrongType, Nr: 0x01, Class: ioctlreport.Type, Errno: int32(unix.EINVAL)}}},
		{ioctlreport.Unsupported, []ioctlreport.Record{{Path: path, Request: prime, Nr: drm.DRM_IOCTL_NR_PRIME_HANDLE_TO_FD, Class: ioctlreport.Unsupported, Errno: int32(unix.EOPNOTSUPP)}}},
	} {
		if diff := cmp.Diff(tc.want, snap.Records(tc.class)); diff != "" {
			t.Errorf("%v records mismatch (-want +got):\n%s", tc.class, diff)
		}
	}
}

func TestIoctlPassthrough(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	fd, err := s.Open("/dev/null", unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open(/dev/null): %v", err)
	}
	defer s.Close(fd)
	// /dev/null is not a DRM device: the host rejects the request.
	if _, err := s.Ioctl(fd, drm.DRM_IOCTL_VERSION, 0, nil); !errors.Is(err, unix.ENOTTY) {
		t.Errorf("passthrough ioctl = %v, want ENOTTY", err)
	}
}
