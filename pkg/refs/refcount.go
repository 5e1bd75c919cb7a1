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

package refs

import (
	"fmt"
	"sync/atomic"
)

// Refs keeps a reference count using atomic operations and calls the
// destructor when the count reaches zero. T is only used to customize leak
// checking output.
//
// The zero value has no references; call InitRefs before use.
type Refs[T any] struct {
	refCount atomic.Int64
}

// InitRefs initializes r with one reference and, if enabled, activates leak
// checking.
func (r *Refs[T]) InitRefs() {
	r.refCount.Store(1)
	Register(r)
}

// RefType implements CheckedObject.RefType.
func (r *Refs[T]) RefType() string {
	var obj *T
	return fmt.Sprintf("%T", obj)[1:]
}

// LeakMessage implements CheckedObject.LeakMessage.
func (r *Refs[T]) LeakMessage() string {
	return fmt.Sprintf("[%s %p] reference count of %d instead of 0", r.RefType(), r, r.ReadRefs())
}

// ReadRefs returns the current number of references. The returned count is
// inherently racy and is unsafe to use without external synchronization.
func (r *Refs[T]) ReadRefs() int64 {
	return r.refCount.Load()
}

// IncRef implements refs.RefCounter.IncRef.
//
// Precondition: r holds at least one reference.
func (r *Refs[T]) IncRef() {
	if v := r.refCount.Add(1); v <= 1 {
		panic(fmt.Sprintf("Incrementing non-positive count %p on %s", r, r.RefType()))
	}
}

// TryIncRef acquires a reference only if r still holds at least one. It is
// used by lookups that may race with the final DecRef.
func (r *Refs[T]) TryIncRef() bool {
	for {
		v := r.refCount.Load()
		if v <= 0 {
			return false
		}
		if r.refCount.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// DecRef implements refs.RefCounter.DecRef.
//
// Multiple calls to DecRef can race with each other; destroy is called
// exactly once, by whichever call drops the count to zero.
func (r *Refs[T]) DecRef(destroy func()) {
	switch v := r.refCount.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("Decrementing non-positive ref count %p, owned by %s", r, r.RefType()))
	case v == 0:
		Unregister(r)
		if destroy != nil {
			destroy()
		}
	}
}
