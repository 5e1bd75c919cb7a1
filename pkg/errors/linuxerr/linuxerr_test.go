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

package linuxerr

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestIsUnixErrno(t *testing.T) {
	if !errors.Is(ENOENT, unix.ENOENT) {
		t.Errorf("errors.Is(ENOENT, unix.ENOENT) = false, want true")
	}
	if errors.Is(ENOENT, unix.EINVAL) {
		t.Errorf("errors.Is(ENOENT, unix.EINVAL) = true, want false")
	}
	wrapped := fmt.Errorf("looking up handle: %w", EINVAL)
	if !errors.Is(wrapped, unix.EINVAL) {
		t.Errorf("errors.Is(%v, unix.EINVAL) = false, want true", wrapped)
	}
}

func TestToUnix(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{ENOMEM, unix.ENOMEM},
		{unix.EBADF, unix.EBADF},
		{fmt.Errorf("wrapped: %w", EOPNOTSUPP), unix.EOPNOTSUPP},
		{errors.New("no errno"), unix.EIO},
	} {
		if got := ToUnix(tc.err); got != tc.want {
			t.Errorf("ToUnix(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorFromUnix(t *testing.T) {
	if got := ErrorFromUnix(unix.ENOENT); got != ENOENT {
		t.Errorf("ErrorFromUnix(ENOENT) = %v, want linuxerr.ENOENT", got)
	}
	if got := ErrorFromUnix(unix.EXDEV); got != unix.EXDEV {
		t.Errorf("ErrorFromUnix(EXDEV) = %v, want unix.EXDEV", got)
	}
	if got := ErrorFromUnix(0); got != nil {
		t.Errorf("ErrorFromUnix(0) = %v, want nil", got)
	}
	if !Equals(EINVAL, unix.EINVAL) || Equals(EINVAL, nil) {
		t.Errorf("Equals returned unexpected results")
	}
}
