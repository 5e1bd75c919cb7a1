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
	"io"
	"io/fs"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/drmshim/pkg/shim/config"
)

// pathCommand is the shared shape of commands that take one path and run it
// through the shim.
type pathCommand struct {
	name, synopsis, usage string
	run                   func(s *session, w io.Writer, path string) error
}

// Name implements subcommands.Command.Name.
func (c *pathCommand) Name() string {
	return c.name
}

// Synopsis implements subcommands.Command.Synopsis.
func (c *pathCommand) Synopsis() string {
	return c.synopsis
}

// Usage implements subcommands.Command.Usage.
func (c *pathCommand) Usage() string {
	return c.usage
}

// SetFlags implements subcommands.Command.SetFlags.
func (*pathCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *pathCommand) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	s, err := newSession(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	if err := c.run(s, os.Stdout, f.Arg(0)); err != nil {
		return Errorf("%s %s: %v", c.name, f.Arg(0), err)
	}
	return subcommands.ExitSuccess
}

// NewLs returns the "ls" command.
func NewLs() subcommands.Command {
	return &pathCommand{
		name:     "ls",
		synopsis: "list a directory as seen through the shim",
		usage: `ls <dir> - lists the entries of dir, with hidden render nodes removed and simulated entries added.
`,
		run: runLs,
	}
}

// NewStat returns the "stat" command.
func NewStat() subcommands.Command {
	return &pathCommand{
		name:     "stat",
		synopsis: "stat a path as seen through the shim",
		usage: `stat <path> - prints the type, mode, size and device number of path.
`,
		run: runStat,
	}
}

// NewCat returns the "cat" command.
func NewCat() subcommands.Command {
	return &pathCommand{
		name:     "cat",
		synopsis: "print a file as seen through the shim",
		usage: `cat <file> - copies file to stdout, e.g. the simulated sysfs uevent.
`,
		run: runCat,
	}
}

// NewReadlink returns the "readlink" command.
func NewReadlink() subcommands.Command {
	return &pathCommand{
		name:     "readlink",
		synopsis: "print a symbolic link target as seen through the shim",
		usage: `readlink <link> - prints the target of link and its resolved path.
`,
		run: runReadlink,
	}
}

func runLs(s *session, w io.Writer, path string) error {
	d, err := s.shim.Opendir(path)
	if err != nil {
		return err
	}
	defer d.Close()
	for {
		ent, err := d.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%c %s\n", typeChar(ent.Type), ent.Name)
	}
}

func typeChar(m fs.FileMode) byte {
	switch {
	case m&fs.ModeDir != 0:
		return 'd'
	case m&fs.ModeSymlink != 0:
		return 'l'
	case m&fs.ModeCharDevice != 0:
		return 'c'
	case m&fs.ModeDevice != 0:
		return 'b'
	case m&fs.ModeNamedPipe != 0:
		return 'p'
	case m&fs.ModeSocket != 0:
		return 's'
	default:
		return '-'
	}
}

func runStat(s *session, w io.Writer, path string) error {
	var st unix.Stat_t
	if err := s.shim.Lstat(path, &st); err != nil {
		return err
	}
	kind := "file"
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		kind = "directory"
	case unix.S_IFLNK:
		kind = "symlink"
	case unix.S_IFCHR:
		kind = "character device"
	case unix.S_IFBLK:
		kind = "block device"
	}
	fmt.Fprintf(w, "path:  %s\n", path)
	fmt.Fprintf(w, "type:  %s\n", kind)
	fmt.Fprintf(w, "mode:  %#o\n", st.Mode&^unix.S_IFMT)
	fmt.Fprintf(w, "size:  %d\n", st.Size)
	if kind == "character device" || kind == "block device" {
		fmt.Fprintf(w, "rdev:  %d:%d\n", unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)))
	}
	return nil
}

func runCat(s *session, w io.Writer, path string) error {
	f, err := s.shim.Fopen(path, "r")
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func runReadlink(s *session, w io.Writer, path string) error {
	target, err := s.shim.Readlink(path)
	if err != nil {
		return err
	}
	// The target of a simulated link may not exist on the host.
	real, err := s.shim.Realpath(path)
	if err != nil {
		fmt.Fprintf(w, "%s -> %s\n", path, target)
		return nil
	}
	fmt.Fprintf(w, "%s -> %s (%s)\n", path, target, real)
	return nil
}
