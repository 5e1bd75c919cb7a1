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

package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/abi/drm"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/marshal"
	"gvisor.dev/drmshim/pkg/shim"
	"gvisor.dev/drmshim/pkg/shim/config"
	"gvisor.dev/drmshim/pkg/shim/drivers/generic"
	"gvisor.dev/drmshim/pkg/usermem"
)

// Selftest implements subcommands.Command for the "selftest" command.
type Selftest struct {
	parallel   int
	iterations int
}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "drive the simulated device the way a userspace driver would"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest [-parallel=N] [-iterations=N] - opens the device, queries it, and creates, maps, writes and closes buffer objects from several workers.

Requires the generic driver.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (st *Selftest) SetFlags(f *flag.FlagSet) {
	f.IntVar(&st.parallel, "parallel", 4, "number of concurrent workers.")
	f.IntVar(&st.iterations, "iterations", 16, "device sessions per worker.")
}

// Execute implements subcommands.Command.Execute.
func (st *Selftest) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || st.parallel <= 0 || st.iterations <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	s, err := newSession(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	if err := runSelftest(ctx, s.shim, st.parallel, st.iterations); err != nil {
		return Errorf("selftest failed: %v", err)
	}
	fmt.Fprintf(os.Stdout, "selftest passed: %d workers x %d iterations on %s\n", st.parallel, st.iterations, s.shim.Device().Node().Path)
	fmt.Fprint(os.Stdout, s.report.Snapshot().String())
	return subcommands.ExitSuccess
}

// runSelftest runs iterations device sessions on each of parallel workers.
func runSelftest(ctx context.Context, s *shim.Shim, parallel, iterations int) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < parallel; w++ {
		g.Go(func() error {
			for i := 0; i < iterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := exerciseDevice(s, w*iterations+i); err != nil {
					return fmt.Errorf("worker %d iteration %d: %w", w, i, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// client issues device-control requests on one open device file, with
// arguments staged in a private buffer.
type client struct {
	s   *shim.Shim
	fd  int
	mem *usermem.BytesIO
}

func (c *client) ioctl(name string, req uint32, obj marshal.Marshallable) error {
	if _, err := usermem.CopyObjectOut(c.mem, 0, obj); err != nil {
		return err
	}
	if _, err := c.s.Ioctl(c.fd, req, 0, c.mem); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	_, err := usermem.CopyObjectIn(c.mem, 0, obj)
	return err
}

// exerciseDevice runs one session on a fresh device file. seed varies the
// buffer size and contents.
func exerciseDevice(s *shim.Shim, seed int) error {
	dev := s.Device()
	fd, err := s.Open(dev.Node().Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer s.Close(fd)
	c := &client{s: s, fd: fd, mem: &usermem.BytesIO{Bytes: make([]byte, hostarch.PageSize)}}

	v := drm.Version{}
	if err := c.ioctl("VERSION", drm.DRM_IOCTL_VERSION, &v); err != nil {
		return err
	}
	if want := uint64(len(dev.Info().Name)); v.NameLen != want {
		return fmt.Errorf("VERSION name length %d, want %d", v.NameLen, want)
	}
	prime := drm.GetCap{Capability: drm.DRM_CAP_PRIME}
	if err := c.ioctl("GET_CAP", drm.DRM_IOCTL_GET_CAP, &prime); err != nil {
		return err
	}
	if prime.Value != drm.DRM_PRIME_CAP_IMPORT|drm.DRM_PRIME_CAP_EXPORT {
		return fmt.Errorf("PRIME cap %#x", prime.Value)
	}

	size := uint64(1+seed%4) * hostarch.PageSize
	create := generic.CreateBO{Size: size}
	if err := c.ioctl("CREATE_BO", generic.DRM_IOCTL_GENERIC_CREATE_BO, &create); err != nil {
		return err
	}
	m := generic.MmapBO{Handle: create.Handle}
	if err := c.ioctl("MMAP_BO", generic.DRM_IOCTL_GENERIC_MMAP_BO, &m); err != nil {
		return err
	}
	if err := checkMapping(s, fd, m.Offset, size, byte(seed)); err != nil {
		return err
	}
	if err := c.ioctl("GEM_CLOSE", drm.DRM_IOCTL_GEM_CLOSE, &drm.GEMClose{Handle: create.Handle}); err != nil {
		return err
	}

	// Buffer sharing is not simulated; the request must be refused and
	// reported, not passed to the host.
	var p drm.PrimeHandle
	if err := c.ioctl("PRIME_HANDLE_TO_FD", drm.DRM_IOCTL_PRIME_HANDLE_TO_FD, &p); !errors.Is(err, unix.EOPNOTSUPP) {
		return fmt.Errorf("PRIME_HANDLE_TO_FD = %v, want EOPNOTSUPP", err)
	}
	log.Debugf("Selftest session %d done on fd %d", seed, fd)
	return nil
}

// checkMapping writes pattern through one mapping of the buffer and reads it
// back through another.
func checkMapping(s *shim.Shim, fd int, offset, size uint64, pattern byte) error {
	const prot = unix.PROT_READ | unix.PROT_WRITE
	w, err := s.Mmap(fd, int64(offset), int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	for i := range w {
		w[i] = pattern
	}
	if err := s.Munmap(w); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	r, err := s.Mmap(fd, int64(offset), int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	defer s.Munmap(r)
	for i, b := range r {
		if b != pattern {
			return fmt.Errorf("byte %d of the buffer is %#x, want %#x", i, b, pattern)
		}
	}
	return nil
}
