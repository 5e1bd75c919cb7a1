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

	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/shim/realops"
)

// bootState is the lifecycle of a Shim.
type bootState int32

const (
	// stateUninitialized means no entry point has been called yet.
	stateUninitialized bootState = iota

	// stateInitializing means the first call is resolving the real
	// operations and building the device. Calls made meanwhile, including
	// re-entrant ones from the resolution itself, pass through.
	stateInitializing

	// stateReady means bootstrap finished, successfully or not.
	stateReady
)

func (s bootState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	default:
		return fmt.Sprintf("bootState(%d)", int32(s))
	}
}

// opsHolder boxes the resolved operations for atomic.Pointer.
type opsHolder struct {
	ops realops.Ops
}

// ensureReady runs the bootstrap on the first call and returns the real
// operations and the device. The device is nil while bootstrap is in
// progress, after it failed, or after Shutdown; callers then pass through.
// If the real operations are not resolved yet it returns ENOSYS.
//
// The state word is atomic but there is no mutual exclusion: the first call
// is assumed to happen before the host goes multi-threaded. A concurrent
// caller that observes stateInitializing passes through.
func (s *Shim) ensureReady() (realops.Ops, *Device, error) {
	if bootState(s.state.Load()) == stateUninitialized &&
		s.state.CompareAndSwap(int32(stateUninitialized), int32(stateInitializing)) {
		s.bootstrap()
		s.state.Store(int32(stateReady))
	}
	h := s.ops.Load()
	if h == nil {
		return nil, nil, linuxerr.ENOSYS
	}
	if bootState(s.state.Load()) != stateReady {
		return h.ops, nil, nil
	}
	return h.ops, s.dev.Load(), nil
}

// bootstrap resolves the real operations, picks the node and builds the
// device. Only a resolution failure is fatal; everything else leaves the
// shim in passthrough mode.
func (s *Shim) bootstrap() {
	resolve := s.opts.Resolve
	if resolve == nil {
		resolve = realops.Resolve
	}
	ops, err := resolve()
	if err != nil {
		s.fatalf("drmshim: cannot resolve real operations: %v", err)
		return
	}
	s.ops.Store(&opsHolder{ops: ops})

	drv := s.opts.Driver
	if drv == nil {
		log.Warningf("drmshim: no driver configured, passing every call through")
		return
	}
	node, err := pickNode(ops, s.opts.RenderNodeCandidates, drv.PrefersFirstRenderNode())
	if err != nil {
		log.Warningf("drmshim: %v, not simulating a device", err)
		return
	}
	dev, err := newDevice(ops, node, drv, deviceConfig{
		backingStoreSize: s.opts.BackingStoreSize,
		metrics:          s.opts.Metrics,
		report:           s.opts.Report,
	})
	if err != nil {
		log.Warningf("drmshim: cannot create %s: %v, not simulating a device", node.Path, err)
		return
	}
	s.dev.Store(dev)
	s.cu.Add(dev.release)
}

func (s *Shim) fatalf(format string, v ...any) {
	if s.opts.Fatalf != nil {
		s.opts.Fatalf(format, v...)
		return
	}
	log.Fatalf(format, v...)
}
