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
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/hostarch"
)

// Driver-private ioctl indexes, relative to DRM_COMMAND_BASE.
const (
	GENERIC_CREATE_BO = 0x00
	GENERIC_MMAP_BO   = 0x01
	GENERIC_GET_PARAM = 0x02
	GENERIC_WAIT_BO   = 0x03
	GENERIC_SUBMIT    = 0x04
)

// Full request numbers.
var (
	DRM_IOCTL_GENERIC_CREATE_BO = drm.IOWR(drm.DRM_COMMAND_BASE+GENERIC_CREATE_BO, uint32((*CreateBO)(nil).SizeBytes()))
	DRM_IOCTL_GENERIC_MMAP_BO   = drm.IOWR(drm.DRM_COMMAND_BASE+GENERIC_MMAP_BO, uint32((*MmapBO)(nil).SizeBytes()))
	DRM_IOCTL_GENERIC_GET_PARAM = drm.IOWR(drm.DRM_COMMAND_BASE+GENERIC_GET_PARAM, uint32((*GetParam)(nil).SizeBytes()))
	DRM_IOCTL_GENERIC_WAIT_BO   = drm.IOW(drm.DRM_COMMAND_BASE+GENERIC_WAIT_BO, uint32((*WaitBO)(nil).SizeBytes()))
	DRM_IOCTL_GENERIC_SUBMIT    = drm.IOWR(drm.DRM_COMMAND_BASE+GENERIC_SUBMIT, uint32((*Submit)(nil).SizeBytes()))
)

// maxSubmitBOs bounds the handle list of one submission.
const maxSubmitBOs = 4096

// CreateBO is the argument of CREATE_BO.
type CreateBO struct {
	Size   uint64
	Flags  uint32
	Handle uint32 // out
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*CreateBO) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (c *CreateBO) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:], c.Size)
	hostarch.ByteOrder.PutUint32(dst[8:], c.Flags)
	hostarch.ByteOrder.PutUint32(dst[12:], c.Handle)
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (c *CreateBO) UnmarshalBytes(src []byte) []byte {
	c.Size = hostarch.ByteOrder.Uint64(src[0:])
	c.Flags = hostarch.ByteOrder.Uint32(src[8:])
	c.Handle = hostarch.ByteOrder.Uint32(src[12:])
	return src[16:]
}

// MmapBO is the argument of MMAP_BO.
type MmapBO struct {
	Handle uint32
	Flags  uint32
	Offset uint64 // out
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*MmapBO) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (m *MmapBO) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], m.Handle)
	hostarch.ByteOrder.PutUint32(dst[4:], m.Flags)
	hostarch.ByteOrder.PutUint64(dst[8:], m.Offset)
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (m *MmapBO) UnmarshalBytes(src []byte) []byte {
	m.Handle = hostarch.ByteOrder.Uint32(src[0:])
	m.Flags = hostarch.ByteOrder.Uint32(src[4:])
	m.Offset = hostarch.ByteOrder.Uint64(src[8:])
	return src[16:]
}

// GetParam is the argument of GET_PARAM.
type GetParam struct {
	Param uint32
	_     uint32
	Value uint64 // out
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*GetParam) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (g *GetParam) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], g.Param)
	hostarch.ByteOrder.PutUint32(dst[4:], 0)
	hostarch.ByteOrder.PutUint64(dst[8:], g.Value)
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (g *GetParam) UnmarshalBytes(src []byte) []byte {
	g.Param = hostarch.ByteOrder.Uint32(src[0:])
	g.Value = hostarch.ByteOrder.Uint64(src[8:])
	return src[16:]
}

// WaitBO is the argument of WAIT_BO.
type WaitBO struct {
	Handle    uint32
	_         uint32
	TimeoutNs int64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*WaitBO) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (w *WaitBO) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], w.Handle)
	hostarch.ByteOrder.PutUint32(dst[4:], 0)
	hostarch.ByteOrder.PutUint64(dst[8:], uint64(w.TimeoutNs))
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (w *WaitBO) UnmarshalBytes(src []byte) []byte {
	w.Handle = hostarch.ByteOrder.Uint32(src[0:])
	w.TimeoutNs = int64(hostarch.ByteOrder.Uint64(src[8:]))
	return src[16:]
}

// Submit is the argument of SUBMIT. BOHandles is the address of an array of
// NumBOs uint32 handles.
type Submit struct {
	BOHandles uint64
	NumBOs    uint32
	Flags     uint32
	SeqNo     uint64 // out
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*Submit) SizeBytes() int { return 24 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *Submit) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:], s.BOHandles)
	hostarch.ByteOrder.PutUint32(dst[8:], s.NumBOs)
	hostarch.ByteOrder.PutUint32(dst[12:], s.Flags)
	hostarch.ByteOrder.PutUint64(dst[16:], s.SeqNo)
	return dst[24:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *Submit) UnmarshalBytes(src []byte) []byte {
	s.BOHandles = hostarch.ByteOrder.Uint64(src[0:])
	s.NumBOs = hostarch.ByteOrder.Uint32(src[8:])
	s.Flags = hostarch.ByteOrder.Uint32(src[12:])
	s.SeqNo = hostarch.ByteOrder.Uint64(src[16:])
	return src[24:]
}
