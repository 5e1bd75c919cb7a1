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

// Package drivers maps driver names to simulated drivers.
package drivers

import (
	"fmt"
	"sort"

	"gvisor.dev/drmshim/pkg/shim"
	"gvisor.dev/drmshim/pkg/shim/drivers/generic"
)

// Constructor builds a driver from the profile at path. An empty path selects
// the driver's built-in profile.
type Constructor func(profilePath string) (shim.Driver, error)

var registry = map[string]Constructor{
	generic.Name: newGeneric,
}

func newGeneric(profilePath string) (shim.Driver, error) {
	if profilePath == "" {
		return generic.New(generic.DefaultProfile()), nil
	}
	p, err := generic.LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}
	return generic.New(p), nil
}

// New returns the driver registered as name.
func New(name, profilePath string) (shim.Driver, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q, known drivers: %v", name, Names())
	}
	return ctor(profilePath)
}

// Names returns the registered driver names in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
