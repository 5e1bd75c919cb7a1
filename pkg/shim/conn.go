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
	"sort"
	"sync"

	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/refs"
)

// Connection is the state of one open file description of the device node.
// Duplicated descriptors share a Connection.
type Connection struct {
	refs.Refs[Connection]

	dev *Device

	// fd is the descriptor the connection was opened as.
	fd int

	// mu protects the fields below.
	mu sync.Mutex

	// handles maps GEM handles to buffer objects. Each entry holds a
	// reference on its BO. Handle 0 is never used.
	handles map[uint32]*BO

	// closed is set once the last reference is dropped. A closed
	// connection accepts no new handles.
	closed bool

	// clientCaps records DRM_IOCTL_SET_CLIENT_CAP requests.
	clientCaps map[uint64]uint64
}

// FD returns the descriptor the connection was opened as.
func (c *Connection) FD() int {
	return c.fd
}

// Device returns the device c is connected to.
func (c *Connection) Device() *Device {
	return c.dev
}

// NewHandle inserts bo under the lowest unused positive handle and returns
// the handle. The table takes a new reference on bo. It returns EBADF once
// the connection has been closed.
func (c *Connection) NewHandle(bo *BO) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, linuxerr.EBADF
	}
	h := uint32(1)
	for ; ; h++ {
		if _, ok := c.handles[h]; !ok {
			break
		}
	}
	bo.IncRef()
	c.handles[h] = bo
	return h, nil
}

// LookupBO returns the BO behind handle h with a borrowed reference, and the
// function that drops it. It returns (nil, nil) if h is not in the table.
//
// Callers must invoke the release function exactly once.
func (c *Connection) LookupBO(h uint32) (*BO, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bo, ok := c.handles[h]
	if !ok {
		return nil, nil
	}
	bo.IncRef()
	var once sync.Once
	return bo, func() { once.Do(bo.DecRef) }
}

// CloseHandle removes h from the table and drops its reference. Handle 0 is a
// no-op; an unknown handle returns ENOENT.
func (c *Connection) CloseHandle(h uint32) error {
	if h == 0 {
		return nil
	}
	c.mu.Lock()
	bo, ok := c.handles[h]
	if ok {
		delete(c.handles, h)
	}
	c.mu.Unlock()
	if !ok {
		return linuxerr.ENOENT
	}
	bo.DecRef()
	return nil
}

// Handles returns the live handles, in increasing order.
func (c *Connection) Handles() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := make([]uint32, 0, len(c.handles))
	for h := range c.handles {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// ClientCap returns the value last set for client capability capability.
func (c *Connection) ClientCap(capability uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.clientCaps[capability]
	return v, ok
}

func (c *Connection) setClientCap(capability, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientCaps[capability] = value
}

// DecRef drops a reference on c. The last reference releases every handle.
func (c *Connection) DecRef() {
	c.Refs.DecRef(c.destroy)
}

func (c *Connection) destroy() {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[uint32]*BO)
	c.closed = true
	c.mu.Unlock()
	for _, bo := range handles {
		bo.DecRef()
	}
	c.dev.metrics.ConnectionClosed()
	if log.IsLogging(log.Debug) {
		log.Debugf("drmshim: connection fd=%d destroyed, released %d handles", c.fd, len(handles))
	}
}

// RegisterFD makes fd refer to a connection. With existing == nil a new
// connection is created; otherwise fd becomes another reference to existing,
// as for dup(2).
func (d *Device) RegisterFD(fd int, existing *Connection) *Connection {
	c := existing
	if c == nil {
		c = &Connection{
			dev:        d,
			fd:         fd,
			handles:    make(map[uint32]*BO),
			clientCaps: make(map[uint64]uint64),
		}
		c.InitRefs()
		d.metrics.ConnectionOpened()
	} else {
		c.IncRef()
	}

	d.connsMu.Lock()
	old := d.conns[fd]
	d.conns[fd] = c
	d.connsMu.Unlock()
	if old != nil {
		// The host reused fd without us seeing the close.
		log.Warningf("drmshim: fd %d registered twice, dropping the stale connection", fd)
		old.DecRef()
	}
	return c
}

// UnregisterFD removes fd and drops its reference on the connection. It
// returns false if fd was not a device descriptor.
func (d *Device) UnregisterFD(fd int) bool {
	d.connsMu.Lock()
	c, ok := d.conns[fd]
	if ok {
		delete(d.conns, fd)
	}
	d.connsMu.Unlock()
	if !ok {
		return false
	}
	c.DecRef()
	return true
}

// LookupFD returns the connection behind fd, or nil. No reference is taken,
// so the connection may be destroyed by a concurrent close of fd.
func (d *Device) LookupFD(fd int) *Connection {
	d.connsMu.Lock()
	defer d.connsMu.Unlock()
	return d.conns[fd]
}

// AcquireFD returns the connection behind fd with a new reference, or nil if
// fd is not a device descriptor. The caller must call DecRef.
func (d *Device) AcquireFD(fd int) *Connection {
	d.connsMu.Lock()
	defer d.connsMu.Unlock()
	c := d.conns[fd]
	if c == nil || !c.TryIncRef() {
		return nil
	}
	return c
}

// NumFDs returns the number of registered descriptors.
func (d *Device) NumFDs() int {
	d.connsMu.Lock()
	defer d.connsMu.Unlock()
	return len(d.conns)
}
