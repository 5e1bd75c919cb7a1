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

package generic

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
	"gvisor.dev/drmshim/pkg/abi/drm"
)

//go:embed default.yaml
var defaultProfile []byte

// Profile describes the simulated device.
type Profile struct {
	Name    string  `yaml:"name"`
	Desc    string  `yaml:"desc"`
	Date    string  `yaml:"date"`
	Version Version `yaml:"version"`

	// Bus is one of pci, usb, platform or host1x.
	Bus    string `yaml:"bus"`
	Unique string `yaml:"unique"`

	PrefersFirstRenderNode bool `yaml:"prefer_first_render_node"`

	// PCI is required on the pci bus.
	PCI *PCI `yaml:"pci,omitempty"`

	// Platform is used on the platform and host1x buses.
	Platform *Platform `yaml:"platform,omitempty"`

	// Params answer GET_PARAM.
	Params []Param `yaml:"params"`

	// Dirs are extra metadata directories, such as of_node. Relative
	// paths are below the sysfs device directory.
	Dirs []string `yaml:"dirs,omitempty"`

	// Files are extra metadata files. Relative paths are below the sysfs
	// device directory.
	Files []File `yaml:"files,omitempty"`
}

// Version is the DRM_IOCTL_VERSION triplet.
type Version struct {
	Major      int32 `yaml:"major"`
	Minor      int32 `yaml:"minor"`
	Patchlevel int32 `yaml:"patchlevel"`
}

// PCI holds the PCI identity.
type PCI struct {
	VendorID          uint16 `yaml:"vendor_id"`
	DeviceID          uint16 `yaml:"device_id"`
	SubsystemVendorID uint16 `yaml:"subsystem_vendor_id"`
	SubsystemDeviceID uint16 `yaml:"subsystem_device_id"`
	Revision          uint8  `yaml:"revision"`
	Slot              string `yaml:"slot"`
}

// Platform holds the device-tree identity.
type Platform struct {
	FullName   string   `yaml:"fullname"`
	Compatible []string `yaml:"compatible"`
}

// Param is one GET_PARAM answer.
type Param struct {
	ID    uint32 `yaml:"id"`
	Name  string `yaml:"name"`
	Value uint64 `yaml:"value"`
}

// File is an extra metadata file.
type File struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// DefaultProfile returns the embedded profile.
func DefaultProfile() *Profile {
	p, err := ParseProfile(defaultProfile)
	if err != nil {
		panic(fmt.Sprintf("embedded profile: %v", err))
	}
	return p
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(filename string) (*Profile, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	p, err := ParseProfile(b)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", filename, err)
	}
	return p, nil
}

// ParseProfile decodes and validates a YAML profile. Unknown keys are
// rejected.
func ParseProfile(b []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that p describes a usable device.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	bus, err := drm.ParseBus(p.Bus)
	if err != nil {
		return err
	}
	if bus == drm.DRM_BUS_PCI && p.PCI == nil {
		return fmt.Errorf("bus pci requires a pci section")
	}
	if p.PCI != nil && bus != drm.DRM_BUS_PCI {
		return fmt.Errorf("pci section given for bus %s", bus)
	}
	seen := make(map[uint32]string)
	for _, prm := range p.Params {
		if old, ok := seen[prm.ID]; ok {
			return fmt.Errorf("param %d defined as both %q and %q", prm.ID, old, prm.Name)
		}
		seen[prm.ID] = prm.Name
	}
	for _, dir := range p.Dirs {
		if dir == "" || path.Clean(dir) != dir {
			return fmt.Errorf("dir path %q is not clean", dir)
		}
	}
	for _, f := range p.Files {
		if f.Path == "" || path.Clean(f.Path) != f.Path {
			return fmt.Errorf("file path %q is not clean", f.Path)
		}
	}
	return nil
}

// bus returns the parsed bus. p must be valid.
func (p *Profile) bus() drm.Bus {
	b, _ := drm.ParseBus(p.Bus)
	return b
}
