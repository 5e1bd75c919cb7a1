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

package drivers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/drmshim/pkg/shim/drivers/generic"
)

func TestNames(t *testing.T) {
	if diff := cmp.Diff([]string{generic.Name}, Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestNew(t *testing.T) {
	drv, err := New(generic.Name, "")
	if err != nil {
		t.Fatalf("New(generic): %v", err)
	}
	if got := drv.(*generic.Driver).Profile().Name; got != generic.Name {
		t.Errorf("profile name = %q, want %q", got, generic.Name)
	}

	if _, err := New("nouveau", ""); err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("New(nouveau) = %v, want unknown driver", err)
	}
}

func TestNewFromProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("name: custom\nbus: usb\n"), 0644); err != nil {
		t.Fatal(err)
	}
	drv, err := New(generic.Name, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := drv.(*generic.Driver).Profile().Name; got != "custom" {
		t.Errorf("profile name = %q, want custom", got)
	}
	if _, err := New(generic.Name, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("New with a missing profile succeeded")
	}
}
