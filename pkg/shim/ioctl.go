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
	"time"

	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/abi/linux"
	"gvisor.dev/drmshim/pkg/errors/linuxerr"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/marshal"
	"gvisor.dev/drmshim/pkg/metric"
	"gvisor.dev/drmshim/pkg/shim/ioctlreport"
	"gvisor.dev/drmshim/pkg/usermem"
)

// syncobjPlaceholderHandle is returned by DRM_IOCTL_SYNCOBJ_CREATE. No
// synchronization is modeled, so one handle serves every caller.
const syncobjPlaceholderHandle = 1

type coreIoctl struct {
	name    string
	handler IoctlHandler
}

// coreIoctls maps IOC_NR of every core request to its handler.
var coreIoctls = map[uint32]coreIoctl{
	drm.DRM_IOCTL_NR_VERSION:            {"VERSION", ioctlVersion},
	drm.DRM_IOCTL_NR_GET_UNIQUE:         {"GET_UNIQUE", ioctlGetUnique},
	drm.DRM_IOCTL_NR_GEM_CLOSE:          {"GEM_CLOSE", ioctlGEMClose},
	drm.DRM_IOCTL_NR_GET_CAP:            {"GET_CAP", ioctlGetCap},
	drm.DRM_IOCTL_NR_SET_CLIENT_CAP:     {"SET_CLIENT_CAP", ioctlSetClientCap},
	drm.DRM_IOCTL_NR_PRIME_HANDLE_TO_FD: {"PRIME_HANDLE_TO_FD", ioctlUnsupported},
	drm.DRM_IOCTL_NR_PRIME_FD_TO_HANDLE: {"PRIME_FD_TO_HANDLE", ioctlUnsupported},

	drm.DRM_IOCTL_NR_SYNCOBJ_CREATE:          {"SYNCOBJ_CREATE", ioctlSyncobjCreate},
	drm.DRM_IOCTL_NR_SYNCOBJ_DESTROY:         {"SYNCOBJ_DESTROY", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_HANDLE_TO_FD:    {"SYNCOBJ_HANDLE_TO_FD", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_FD_TO_HANDLE:    {"SYNCOBJ_FD_TO_HANDLE", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_WAIT:            {"SYNCOBJ_WAIT", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_RESET:           {"SYNCOBJ_RESET", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_SIGNAL:          {"SYNCOBJ_SIGNAL", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_TIMELINE_WAIT:   {"SYNCOBJ_TIMELINE_WAIT", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_QUERY:           {"SYNCOBJ_QUERY", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_TRANSFER:        {"SYNCOBJ_TRANSFER", ioctlNoop},
	drm.DRM_IOCTL_NR_SYNCOBJ_TIMELINE_SIGNAL: {"SYNCOBJ_TIMELINE_SIGNAL", ioctlNoop},
}

// traceLog traces handled requests at debug level, at most once per
// interval so that busy clients do not flood the log.
var traceLog = log.BasicRateLimitedLogger(100 * time.Millisecond)

// Ioctl dispatches a device-control request issued on conn. arg is the
// argument address in mem.
func (d *Device) Ioctl(conn *Connection, req uint32, arg uint64, mem usermem.IO) (uintptr, error) {
	nr := linux.IOC_NR(req)
	is := IoctlState{
		Device:  d,
		Conn:    conn,
		Request: req,
		Nr:      nr,
		Arg:     arg,
		Mem:     mem,
	}

	if typ := linux.IOC_TYPE(req); typ != drm.DRM_IOCTL_BASE {
		log.Warningf("drmshim: ioctl %#x has type %#x, not a DRM request", req, typ)
		d.unserved(&is, ioctlreport.Type, linuxerr.EINVAL)
		d.metrics.IoctlDone(metric.RangeInvalid, linuxerr.EINVAL)
		return 0, linuxerr.EINVAL
	}

	if drm.IsDriverNr(nr) {
		idx := nr - drm.DRM_COMMAND_BASE
		e, ok := d.ioctls[idx]
		if !ok {
			log.Warningf("drmshim: unknown driver ioctl %#x (nr=%#x, index %d, argSize=%d)", req, nr, idx, linux.IOC_SIZE(req))
			d.unserved(&is, ioctlreport.Driver, linuxerr.EINVAL)
			d.metrics.IoctlDone(metric.RangeDriver, linuxerr.EINVAL)
			return 0, linuxerr.EINVAL
		}
		ret, err := e.handler(&is)
		d.trace("driver", e.name, &is, err)
		d.metrics.IoctlDone(metric.RangeDriver, err)
		return ret, err
	}

	e, ok := coreIoctls[nr]
	if !ok {
		log.Warningf("drmshim: unknown core ioctl %#x (nr=%#x, argSize=%d)", req, nr, linux.IOC_SIZE(req))
		d.unserved(&is, ioctlreport.Core, linuxerr.EINVAL)
		d.metrics.IoctlDone(metric.RangeCore, linuxerr.EINVAL)
		return 0, linuxerr.EINVAL
	}
	ret, err := e.handler(&is)
	d.trace("core", e.name, &is, err)
	d.metrics.IoctlDone(metric.RangeCore, err)
	return ret, err
}

func (d *Device) trace(rng, name string, is *IoctlState, err error) {
	if !traceLog.IsLogging(log.Debug) {
		return
	}
	fd := -1
	if is.Conn != nil {
		fd = is.Conn.fd
	}
	traceLog.Debugf("drmshim: fd=%d %s ioctl %s (%#x) => %v", fd, rng, name, is.Request, err)
}

// unserved records a request that had no handler.
func (d *Device) unserved(is *IoctlState, class ioctlreport.Class, err error) {
	d.metrics.Unsupported(class.Label())
	d.report.Add(ioctlreport.Record{
		Path:    d.node.Path,
		Request: is.Request,
		Nr:      is.Nr,
		Class:   class,
		Errno:   int32(linuxerr.ToUnix(err)),
	})
}

// copyIn reads the request argument into obj.
func copyIn(is *IoctlState, obj marshal.Marshallable) error {
	if _, err := usermem.CopyObjectIn(is.Mem, is.Arg, obj); err != nil {
		return linuxerr.EFAULT
	}
	return nil
}

// copyOut writes obj back to the request argument.
func copyOut(is *IoctlState, obj marshal.Marshallable) error {
	if _, err := usermem.CopyObjectOut(is.Mem, is.Arg, obj); err != nil {
		return linuxerr.EFAULT
	}
	return nil
}

// copyField copies s into a caller buffer of *length bytes at addr, then sets
// *length to the full length of s, as the kernel's drm_copy_field does.
func copyField(mem usermem.IO, addr uint64, length *uint64, s string) error {
	if _, err := usermem.CopyStringOut(mem, addr, *length, s); err != nil {
		return linuxerr.EFAULT
	}
	*length = uint64(len(s))
	return nil
}

func ioctlVersion(is *IoctlState) (uintptr, error) {
	var v drm.Version
	if err := copyIn(is, &v); err != nil {
		return 0, err
	}
	info := is.Device.info
	v.VersionMajor = info.Major
	v.VersionMinor = info.Minor
	v.VersionPatchlevel = info.Patchlevel
	if err := copyField(is.Mem, v.Name, &v.NameLen, info.Name); err != nil {
		return 0, err
	}
	if err := copyField(is.Mem, v.Date, &v.DateLen, info.Date); err != nil {
		return 0, err
	}
	if err := copyField(is.Mem, v.Desc, &v.DescLen, info.Desc); err != nil {
		return 0, err
	}
	return 0, copyOut(is, &v)
}

func ioctlGetUnique(is *IoctlState) (uintptr, error) {
	var u drm.Unique
	if err := copyIn(is, &u); err != nil {
		return 0, err
	}
	if err := copyField(is.Mem, u.Unique, &u.UniqueLen, is.Device.info.Unique); err != nil {
		return 0, err
	}
	return 0, copyOut(is, &u)
}

func ioctlGetCap(is *IoctlState) (uintptr, error) {
	var c drm.GetCap
	if err := copyIn(is, &c); err != nil {
		return 0, err
	}
	switch c.Capability {
	case drm.DRM_CAP_PRIME:
		c.Value = drm.DRM_PRIME_CAP_IMPORT | drm.DRM_PRIME_CAP_EXPORT
	case drm.DRM_CAP_SYNCOBJ, drm.DRM_CAP_SYNCOBJ_TIMELINE:
		c.Value = 1
	default:
		log.Warningf("drmshim: unknown DRM_IOCTL_GET_CAP %d (%#x)", c.Capability, c.Capability)
		return 0, linuxerr.EINVAL
	}
	return 0, copyOut(is, &c)
}

func ioctlSetClientCap(is *IoctlState) (uintptr, error) {
	var c drm.SetClientCap
	if err := copyIn(is, &c); err != nil {
		return 0, err
	}
	is.Conn.setClientCap(c.Capability, c.Value)
	return 0, nil
}

func ioctlGEMClose(is *IoctlState) (uintptr, error) {
	var c drm.GEMClose
	if err := copyIn(is, &c); err != nil {
		return 0, err
	}
	return 0, is.Conn.CloseHandle(c.Handle)
}

func ioctlSyncobjCreate(is *IoctlState) (uintptr, error) {
	var c drm.SyncobjCreate
	if err := copyIn(is, &c); err != nil {
		return 0, err
	}
	c.Handle = syncobjPlaceholderHandle
	return 0, copyOut(is, &c)
}

func ioctlNoop(*IoctlState) (uintptr, error) {
	return 0, nil
}

// ioctlUnsupported handles recognized requests that are not implemented.
func ioctlUnsupported(is *IoctlState) (uintptr, error) {
	log.Warningf("drmshim: unsupported core ioctl %#x (nr=%#x)", is.Request, is.Nr)
	is.Device.unserved(is, ioctlreport.Unsupported, linuxerr.EOPNOTSUPP)
	return 0, linuxerr.EOPNOTSUPP
}
