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
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/drmshim/pkg/shim/realops"
)

func TestClassify(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{}, 128)
	dev := s.Device()

	for _, tc := range []struct {
		path string
		want PathKind
	}{
		{"/dev/dri/renderD129", IsDevice},
		{"/dev/dri//renderD129", IsDevice},
		{"/dev/dri/../dri/renderD129", IsDevice},
		{"/dev/dri", IsOverride},
		{"/sys/dev/char/226:129", IsOverride},
		{"/sys/dev/char/226:129/device", IsOverride},
		{"/sys/dev/char/226:129/device/uevent", IsOverride},
		{"/sys/dev/char/226:129/device/subsystem", IsOverride},
		{"/dev/dri/renderD128", Hidden},
		{"/dev/dri/card0", Hidden},
		{"/dev/dri/by-path/pci-0000:00:02.0-render", Hidden},
		{"/sys/dev/char/226:128", Hidden},
		{"/sys/dev/char/226:0/device/uevent", Hidden},
		{"/sys/dev/char/226:1290", Hidden},
		{"/sys/dev/char/226:129/device/vendor", Passthrough},
		{"/sys/dev/char/1:3", Passthrough},
		{"/dev/null", Passthrough},
		{"/dev/drive", Passthrough},
		{"renderD129", Passthrough},
		{"", Passthrough},
	} {
		if got := dev.Classify(tc.path).Kind; got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestOverrideRegistry(t *testing.T) {
	var r overrideRegistry
	content := []byte("one")
	r.Register("/a/b/../file", content)
	content[0] = 'X'
	r.RegisterDir("/a")
	r.RegisterSymlink("/a/link", "file")

	o := r.Lookup("/a/file")
	if o == nil || string(o.Content) != "one" {
		t.Fatalf("Lookup(/a/file) = %+v, want a copy of the content", o)
	}
	var names []string
	for _, c := range r.Children("/a") {
		names = append(names, fmt.Sprintf("%s:%v", c.Path, c.Kind))
	}
	if diff := cmp.Diff([]string{"/a/file:file", "/a/link:symlink"}, names); diff != "" {
		t.Errorf("Children(/a) mismatch (-want +got):\n%s", diff)
	}
	if got := r.Children("/"); len(got) != 1 || got[0].Path != "/a" {
		t.Errorf("Children(/) = %v, want only /a", got)
	}

	t.Run("duplicate", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Errorf("registering /a/file twice did not panic")
			}
		}()
		r.Register("/a/file", nil)
	})
}

func TestOverrideCapacity(t *testing.T) {
	var r overrideRegistry
	for i := 0; i < maxOverrides; i++ {
		r.Register(fmt.Sprintf("/f%d", i), nil)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("registering override %d did not panic", maxOverrides+1)
		}
	}()
	r.Register("/one-too-many", nil)
}

func TestOverrideResolve(t *testing.T) {
	o := &Override{Path: "/x/uevent", Kind: OverrideFile, Content: []byte("DRIVER=x\n")}
	fd, err := o.Resolve(realops.Host{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	f := os.NewFile(uintptr(fd), o.Path)
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil || string(b) != "DRIVER=x\n" {
		t.Errorf("content = %q, %v", b, err)
	}
	if _, err := f.Write([]byte("more")); err == nil {
		t.Errorf("write to a sealed override succeeded")
	}

	dir := &Override{Path: "/x", Kind: OverrideDir}
	if _, err := dir.Resolve(realops.Host{}); err == nil {
		t.Errorf("Resolve of a directory override succeeded")
	}
}

func TestDefaultNodeOverrides(t *testing.T) {
	s, _ := newTestShim(t, &testDriver{})
	var got []string
	for _, o := range s.Device().Overrides() {
		got = append(got, fmt.Sprintf("%v %s %s", o.Kind, o.Path, o.Content))
	}
	want := []string{
		"dir /dev/dri ",
		"dir /sys/dev/char/226:128 ",
		"dir /sys/dev/char/226:128/device ",
		"symlink /sys/dev/char/226:128/device/subsystem ../../../../bus/pci",
		"file /sys/dev/char/226:128/device/uevent DRIVER=testdrv\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overrides mismatch (-want +got):\n%s", diff)
	}
}
