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

package drm

import "gvisor.dev/drmshim/pkg/hostarch"

// Version is struct drm_version, the argument of DRM_IOCTL_VERSION.
//
// The three strings are caller buffers: the kernel writes up to *Len bytes
// into each and reports the full length back in *Len.
type Version struct {
	VersionMajor      int32
	VersionMinor      int32
	VersionPatchlevel int32
	_                 uint32
	NameLen           uint64
	Name              uint64
	DateLen           uint64
	Date              uint64
	DescLen           uint64
	Desc              uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*Version) SizeBytes() int {
	return 64
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (v *Version) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], uint32(v.VersionMajor))
	hostarch.ByteOrder.PutUint32(dst[4:], uint32(v.VersionMinor))
	hostarch.ByteOrder.PutUint32(dst[8:], uint32(v.VersionPatchlevel))
	hostarch.ByteOrder.PutUint32(dst[12:], 0)
	hostarch.ByteOrder.PutUint64(dst[16:], v.NameLen)
	hostarch.ByteOrder.PutUint64(dst[24:], v.Name)
	hostarch.ByteOrder.PutUint64(dst[32:], v.DateLen)
	hostarch.ByteOrder.PutUint64(dst[40:], v.Date)
	hostarch.ByteOrder.PutUint64(dst[48:], v.DescLen)
	hostarch.ByteOrder.PutUint64(dst[56:], v.Desc)
	return dst[64:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (v *Version) UnmarshalBytes(src []byte) []byte {
	v.VersionMajor = int32(hostarch.ByteOrder.Uint32(src[0:]))
	v.VersionMinor = int32(hostarch.ByteOrder.Uint32(src[4:]))
	v.VersionPatchlevel = int32(hostarch.ByteOrder.Uint32(src[8:]))
	v.NameLen = hostarch.ByteOrder.Uint64(src[16:])
	v.Name = hostarch.ByteOrder.Uint64(src[24:])
	v.DateLen = hostarch.ByteOrder.Uint64(src[32:])
	v.Date = hostarch.ByteOrder.Uint64(src[40:])
	v.DescLen = hostarch.ByteOrder.Uint64(src[48:])
	v.Desc = hostarch.ByteOrder.Uint64(src[56:])
	return src[64:]
}

// Unique is struct drm_unique, the argument of DRM_IOCTL_GET_UNIQUE.
type Unique struct {
	UniqueLen uint64
	Unique    uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*Unique) SizeBytes() int {
	return 16
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Unique) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:], u.UniqueLen)
	hostarch.ByteOrder.PutUint64(dst[8:], u.Unique)
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Unique) UnmarshalBytes(src []byte) []byte {
	u.UniqueLen = hostarch.ByteOrder.Uint64(src[0:])
	u.Unique = hostarch.ByteOrder.Uint64(src[8:])
	return src[16:]
}

// GEMClose is struct drm_gem_close.
type GEMClose struct {
	Handle uint32
	Pad    uint32
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*GEMClose) SizeBytes() int {
	return 8
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (g *GEMClose) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], g.Handle)
	hostarch.ByteOrder.PutUint32(dst[4:], g.Pad)
	return dst[8:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (g *GEMClose) UnmarshalBytes(src []byte) []byte {
	g.Handle = hostarch.ByteOrder.Uint32(src[0:])
	g.Pad = hostarch.ByteOrder.Uint32(src[4:])
	return src[8:]
}

// GetCap is struct drm_get_cap. SetClientCap shares its layout.
type GetCap struct {
	Capability uint64
	Value      uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*GetCap) SizeBytes() int {
	return 16
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (c *GetCap) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:], c.Capability)
	hostarch.ByteOrder.PutUint64(dst[8:], c.Value)
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (c *GetCap) UnmarshalBytes(src []byte) []byte {
	c.Capability = hostarch.ByteOrder.Uint64(src[0:])
	c.Value = hostarch.ByteOrder.Uint64(src[8:])
	return src[16:]
}

// SetClientCap is struct drm_set_client_cap.
type SetClientCap = GetCap

// SyncobjCreate is struct drm_syncobj_create.
type SyncobjCreate struct {
	Handle uint32
	Flags  uint32
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*SyncobjCreate) SizeBytes() int {
	return 8
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *SyncobjCreate) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], s.Handle)
	hostarch.ByteOrder.PutUint32(dst[4:], s.Flags)
	return dst[8:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *SyncobjCreate) UnmarshalBytes(src []byte) []byte {
	s.Handle = hostarch.ByteOrder.Uint32(src[0:])
	s.Flags = hostarch.ByteOrder.Uint32(src[4:])
	return src[8:]
}

// PrimeHandle is struct drm_prime_handle.
type PrimeHandle struct {
	Handle uint32
	Flags  uint32
	FD     int32
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*PrimeHandle) SizeBytes() int {
	return 12
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (p *PrimeHandle) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], p.Handle)
	hostarch.ByteOrder.PutUint32(dst[4:], p.Flags)
	hostarch.ByteOrder.PutUint32(dst[8:], uint32(p.FD))
	return dst[12:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (p *PrimeHandle) UnmarshalBytes(src []byte) []byte {
	p.Handle = hostarch.ByteOrder.Uint32(src[0:])
	p.Flags = hostarch.ByteOrder.Uint32(src[4:])
	p.FD = int32(hostarch.ByteOrder.Uint32(src[8:]))
	return src[12:]
}
