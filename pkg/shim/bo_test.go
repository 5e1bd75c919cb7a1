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
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/hostarch"
)

func newTestConn(t *testing.T, drv *testDriver) (*Device, *Connection) {
	t.Helper()
	s, _ := newTestShim(t, drv)
	fd := openDevice(t, s)
	t.Cleanup(func() { s.Close(fd) })
	return s.Device(), s.Device().LookupFD(fd)
}

func mustNewBO(t *testing.T, dev *Device, size uint64) *BO {
	t.Helper()
	bo, err := dev.NewBO(size)
	if err != nil {
		t.Fatalf("NewBO(%d): %v", size, err)
	}
	return bo
}

func mustNewHandle(t *testing.T, conn *Connection, bo *BO) uint32 {
	t.Helper()
	h, err := conn.NewHandle(bo)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return h
}

func TestLowestFreeHandle(t *testing.T) {
	dev, conn := newTestConn(t, &testDriver{})
	var bos []*BO
	for i := 0; i < 3; i++ {
		bos = append(bos, mustNewBO(t, dev, hostarch.PageSize))
	}
	defer func() {
		for _, bo := range bos {
			bo.DecRef()
		}
	}()

	if h := mustNewHandle(t, conn, bos[0]); h != 1 {
		t.Errorf("first handle = %d, want 1", h)
	}
	if h := mustNewHandle(t, conn, bos[1]); h != 2 {
		t.Errorf("second handle = %d, want 2", h)
	}
	if err := conn.CloseHandle(1); err != nil {
		t.Fatalf("CloseHandle(1): %v", err)
	}
	if h := mustNewHandle(t, conn, bos[2]); h != 1 {
		t.Errorf("handle after closing 1 = %d, want 1", h)
	}
	if diff := cmp.Diff([]uint32{1, 2}, conn.Handles()); diff != "" {
		t.Errorf("Handles() mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateCloseReuse(t *testing.T) {
	drv := &testDriver{}
	dev, conn := newTestConn(t, drv)
	full := dev.FreeBytes()

	bo := mustNewBO(t, dev, 4096)
	off := bo.Offset()
	if h := mustNewHandle(t, conn, bo); h != 1 {
		t.Fatalf("handle = %d, want 1", h)
	}
	bo.DecRef()

	if err := conn.CloseHandle(1); err != nil {
		t.Fatalf("CloseHandle(1): %v", err)
	}
	if bo.ReadRefs() != 0 || drv.freed.Load() != 1 {
		t.Errorf("after close: refs %d, freed %d; want 0, 1", bo.ReadRefs(), drv.freed.Load())
	}
	if dev.FreeBytes() != full {
		t.Errorf("FreeBytes() = %#x, want %#x", dev.FreeBytes(), full)
	}

	again := mustNewBO(t, dev, 4096)
	defer again.DecRef()
	if again.Offset() != off {
		t.Errorf("reallocated offset = %#x, want reuse of %#x", again.Offset(), off)
	}
}

func TestNestedLookupFreesOnce(t *testing.T) {
	drv := &testDriver{}
	dev, conn := newTestConn(t, drv)
	bo := mustNewBO(t, dev, hostarch.PageSize)
	h := mustNewHandle(t, conn, bo)
	bo.DecRef()

	outer, releaseOuter := conn.LookupBO(h)
	inner, releaseInner := conn.LookupBO(h)
	if outer != bo || inner != bo {
		t.Fatalf("LookupBO returned %p, %p; want %p", outer, inner, bo)
	}
	if got := bo.ReadRefs(); got != 3 {
		t.Errorf("refs with two borrows = %d, want 3", got)
	}
	if err := conn.CloseHandle(h); err != nil {
		t.Fatalf("CloseHandle: %v", err)
	}
	releaseInner()
	releaseInner()
	if drv.freed.Load() != 0 {
		t.Fatalf("BO freed while borrowed")
	}
	releaseOuter()
	if drv.freed.Load() != 1 {
		t.Errorf("freed %d times, want 1", drv.freed.Load())
	}

	if bo, release := conn.LookupBO(h); bo != nil || release != nil {
		t.Errorf("LookupBO of a closed handle = %p, want nil", bo)
	}
}

func TestMmapOffsetIdempotent(t *testing.T) {
	dev, _ := newTestConn(t, &testDriver{})
	bo := mustNewBO(t, dev, 3*hostarch.PageSize)

	first := bo.MmapOffset()
	second := bo.MmapOffset()
	if first != second || first != bo.Offset() {
		t.Errorf("MmapOffset() = %#x then %#x, want %#x twice", first, second, bo.Offset())
	}
	if n := dev.NumMmapOffsets(); n != 1 {
		t.Errorf("NumMmapOffsets() = %d, want 1", n)
	}

	fd, off, err := dev.ResolveMmap(first, 3*hostarch.PageSize)
	if err != nil || fd != dev.backingFD || off != int64(bo.Offset()) {
		t.Errorf("ResolveMmap() = %d, %#x, %v", fd, off, err)
	}
	for _, length := range []uint64{0, 4 * hostarch.PageSize} {
		if _, _, err := dev.ResolveMmap(first, length); !errors.Is(err, unix.EINVAL) {
			t.Errorf("ResolveMmap(length %#x) = %v, want EINVAL", length, err)
		}
	}

	bo.DecRef()
	if n := dev.NumMmapOffsets(); n != 0 {
		t.Errorf("NumMmapOffsets() after free = %d, want 0", n)
	}
	if _, _, err := dev.ResolveMmap(first, hostarch.PageSize); !errors.Is(err, unix.EINVAL) {
		t.Errorf("ResolveMmap of a freed BO = %v, want EINVAL", err)
	}
}

func TestNewBOErrors(t *testing.T) {
	dev, _ := newTestConn(t, &testDriver{})
	if _, err := dev.NewBO(0); !errors.Is(err, unix.EINVAL) {
		t.Errorf("NewBO(0) = %v, want EINVAL", err)
	}
	if _, err := dev.NewBO(testBackingStoreSize); !errors.Is(err, unix.ENOMEM) {
		t.Errorf("NewBO(whole store) = %v, want ENOMEM", err)
	}
	bo := mustNewBO(t, dev, 1)
	defer bo.DecRef()
	if bo.Size() != hostarch.PageSize {
		t.Errorf("Size() = %d, want %d", bo.Size(), hostarch.PageSize)
	}
}

func TestBOMapSharesStorage(t *testing.T) {
	dev, _ := newTestConn(t, &testDriver{})
	a := mustNewBO(t, dev, hostarch.PageSize)
	defer a.DecRef()
	b := mustNewBO(t, dev, hostarch.PageSize)
	defer b.DecRef()

	ma, err := a.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	mb, err := b.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	copy(ma, "aaaa")
	copy(mb, "bbbb")
	if string(ma[:4]) != "aaaa" || string(mb[:4]) != "bbbb" {
		t.Errorf("BO contents overlap: %q %q", ma[:4], mb[:4])
	}
	if again, _ := a.Map(); &again[0] != &ma[0] {
		t.Errorf("Map() is not cached")
	}
}

func TestConcurrentHandles(t *testing.T) {
	drv := &testDriver{}
	dev, conn := newTestConn(t, drv)
	const workers, perWorker = 8, 32

	var g errgroup.Group
	var mu sync.Mutex
	seen := make(map[uint32]bool)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for j := 0; j < perWorker; j++ {
				bo, err := dev.NewBO(hostarch.PageSize)
				if err != nil {
					return err
				}
				h, err := conn.NewHandle(bo)
				bo.DecRef()
				if err != nil {
					return err
				}
				mu.Lock()
				dup := seen[h]
				seen[h] = true
				mu.Unlock()
				if dup {
					return errors.New("handle handed out twice")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("workers: %v", err)
	}
	if got := len(conn.Handles()); got != workers*perWorker {
		t.Errorf("%d handles, want %d", got, workers*perWorker)
	}
	for _, h := range conn.Handles() {
		conn.CloseHandle(h)
	}
	if got := drv.freed.Load(); got != workers*perWorker {
		t.Errorf("freed %d, want %d", got, workers*perWorker)
	}
}

func TestClosedConnectionRejectsHandles(t *testing.T) {
	drv := &testDriver{}
	s, _ := newTestShim(t, drv)
	dev := s.Device()
	fd := openDevice(t, s)
	conn := dev.LookupFD(fd)
	bo := mustNewBO(t, dev, hostarch.PageSize)
	defer bo.DecRef()

	s.Close(fd)
	if _, err := conn.NewHandle(bo); !errors.Is(err, unix.EBADF) {
		t.Errorf("NewHandle on a closed connection = %v, want EBADF", err)
	}
	if got := bo.ReadRefs(); got != 1 {
		t.Errorf("refs after rejected insert = %d, want 1", got)
	}
	if err := conn.CloseHandle(1); !errors.Is(err, unix.ENOENT) {
		t.Errorf("CloseHandle on a closed connection = %v, want ENOENT", err)
	}
	if c := dev.AcquireFD(fd); c != nil {
		t.Errorf("AcquireFD of a closed fd = %p, want nil", c)
	}
}

func TestAcquireFDOutlivesClose(t *testing.T) {
	drv := &testDriver{}
	s, _ := newTestShim(t, drv)
	dev := s.Device()
	fd := openDevice(t, s)

	conn := dev.AcquireFD(fd)
	if conn == nil {
		t.Fatalf("AcquireFD(%d) = nil", fd)
	}
	s.Close(fd)
	bo := mustNewBO(t, dev, hostarch.PageSize)
	h := mustNewHandle(t, conn, bo)
	bo.DecRef()
	if drv.freed.Load() != 0 {
		t.Fatalf("BO freed while the connection is held")
	}
	conn.DecRef()
	if drv.freed.Load() != 1 {
		t.Errorf("freed %d times after the last reference, want 1", drv.freed.Load())
	}
	if _, err := conn.NewHandle(bo); !errors.Is(err, unix.EBADF) {
		t.Errorf("NewHandle(%d) after release = %v, want EBADF", h, err)
	}
}
