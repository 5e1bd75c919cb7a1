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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name. They are distinct values, but errors.Is(EINVAL, unix.EINVAL) is
// true and ToUnix recovers the errno.
var (
	EPERM      = errors.New(unix.EPERM, "operation not permitted")
	ENOENT     = errors.New(unix.ENOENT, "no such file or directory")
	EIO        = errors.New(unix.EIO, "I/O error")
	EBADF      = errors.New(unix.EBADF, "bad file number")
	EAGAIN     = errors.New(unix.EAGAIN, "try again")
	ENOMEM     = errors.New(unix.ENOMEM, "out of memory")
	EACCES     = errors.New(unix.EACCES, "permission denied")
	EFAULT     = errors.New(unix.EFAULT, "bad address")
	EEXIST     = errors.New(unix.EEXIST, "file exists")
	ENODEV     = errors.New(unix.ENODEV, "no such device")
	ENOTDIR    = errors.New(unix.ENOTDIR, "not a directory")
	EISDIR     = errors.New(unix.EISDIR, "is a directory")
	EINVAL     = errors.New(unix.EINVAL, "invalid argument")
	ENOTTY     = errors.New(unix.ENOTTY, "not a typewriter")
	EROFS      = errors.New(unix.EROFS, "read-only file system")
	ERANGE     = errors.New(unix.ERANGE, "math result not representable")
	ELOOP      = errors.New(unix.ELOOP, "too many symbolic links encountered")
	ENOSYS     = errors.New(unix.ENOSYS, "invalid system call number")
	EOPNOTSUPP = errors.New(unix.EOPNOTSUPP, "operation not supported")
)

var errnoToError = map[unix.Errno]*errors.Error{
	unix.EPERM:      EPERM,
	unix.ENOENT:     ENOENT,
	unix.EIO:        EIO,
	unix.EBADF:      EBADF,
	unix.EAGAIN:     EAGAIN,
	unix.ENOMEM:     ENOMEM,
	unix.EACCES:     EACCES,
	unix.EFAULT:     EFAULT,
	unix.EEXIST:     EEXIST,
	unix.ENODEV:     ENODEV,
	unix.ENOTDIR:    ENOTDIR,
	unix.EISDIR:     EISDIR,
	unix.EINVAL:     EINVAL,
	unix.ENOTTY:     ENOTTY,
	unix.EROFS:      EROFS,
	unix.ERANGE:     ERANGE,
	unix.ELOOP:      ELOOP,
	unix.ENOSYS:     ENOSYS,
	unix.EOPNOTSUPP: EOPNOTSUPP,
}

// ErrorFromUnix returns the *errors.Error for errno. Unknown errnos are
// returned unchanged, as unix.Errno is itself an error.
func ErrorFromUnix(errno unix.Errno) error {
	if errno == 0 {
		return nil
	}
	if e, ok := errnoToError[errno]; ok {
		return e
	}
	return errno
}

// ToUnix returns the errno carried by err, which may be an *errors.Error, a
// unix.Errno, or anything wrapping one of those. Errors that carry no errno
// map to EIO.
func ToUnix(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno()
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// Equals returns true if err carries the same errno as e.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	if e == nil {
		return false
	}
	return ToUnix(err) == e.Errno()
}
