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
	"sync"
	"testing"
)

type object struct {
	Refs[object]
}

func withLeakMode(t *testing.T, mode LeakMode) {
	old := GetLeakMode()
	SetLeakMode(mode)
	t.Cleanup(func() { SetLeakMode(old) })
}

func TestDestroyOnce(t *testing.T) {
	var o object
	o.InitRefs()
	o.IncRef()
	o.IncRef()

	destroyed := 0
	for i := 0; i < 3; i++ {
		o.DecRef(func() { destroyed++ })
	}
	if destroyed != 1 {
		t.Errorf("destroy called %d times, want 1", destroyed)
	}
	if o.TryIncRef() {
		t.Errorf("TryIncRef succeeded on a destroyed object")
	}
}

func TestConcurrentDecRef(t *testing.T) {
	const n = 64
	var o object
	o.InitRefs()
	for i := 1; i < n; i++ {
		o.IncRef()
	}

	var mu sync.Mutex
	destroyed := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.DecRef(func() {
				mu.Lock()
				destroyed++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	if destroyed != 1 {
		t.Errorf("destroy called %d times, want 1", destroyed)
	}
}

func TestDecRefPanicsBelowZero(t *testing.T) {
	var o object
	o.InitRefs()
	o.DecRef(nil)
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on a dead object did not panic")
		}
	}()
	o.DecRef(nil)
}

func TestLeakCheck(t *testing.T) {
	withLeakMode(t, LeaksLogWarning)

	var live, dead object
	live.InitRefs()
	dead.InitRefs()
	dead.DecRef(nil)

	if got := DoLeakCheck(); got != 1 {
		t.Errorf("DoLeakCheck() = %d, want 1", got)
	}
	live.DecRef(nil)
	if got := DoLeakCheck(); got != 0 {
		t.Errorf("DoLeakCheck() after release = %d, want 0", got)
	}
}

func TestLeakCheckPanics(t *testing.T) {
	withLeakMode(t, LeaksPanic)

	var o object
	o.InitRefs()
	defer o.DecRef(nil)
	defer func() {
		if recover() == nil {
			t.Errorf("DoLeakCheck did not panic with a live object")
		}
	}()
	DoLeakCheck()
}

func TestRefType(t *testing.T) {
	var o object
	if got, want := o.RefType(), "refs.object"; got != want {
		t.Errorf("RefType() = %q, want %q", got, want)
	}
}

func TestLeakModeFlag(t *testing.T) {
	for _, s := range []string{"disabled", "warning", "panic"} {
		var m LeakMode
		if err := m.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
		if m.String() != s {
			t.Errorf("Set(%q).String() = %q", s, m.String())
		}
	}
	var m LeakMode
	if err := m.Set("sometimes"); err == nil {
		t.Errorf("Set(sometimes) succeeded")
	}
}
