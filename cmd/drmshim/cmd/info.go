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
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/drmshim/pkg/shim"
	"gvisor.dev/drmshim/pkg/shim/config"
)

// Info implements subcommands.Command for the "info" command.
type Info struct {
	overrides bool
}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "print the simulated device node and driver identity"
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info [-overrides] - prints the render node picked for the simulated device and the identity its driver reports.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Info) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.overrides, "overrides", false, "also list every path the shim answers for.")
}

// Execute implements subcommands.Command.Execute.
func (i *Info) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	s, err := newSession(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	writeInfo(os.Stdout, s.shim.Device(), i.overrides)
	return subcommands.ExitSuccess
}

func writeInfo(w io.Writer, dev *shim.Device, overrides bool) {
	node := dev.Node()
	info := dev.Info()
	fmt.Fprintf(w, "node:    %s (226:%d)\n", node.Path, node.Minor)
	fmt.Fprintf(w, "sysfs:   %s\n", node.SysPath)
	fmt.Fprintf(w, "driver:  %s %d.%d.%d (%s)\n", info.Name, info.Major, info.Minor, info.Patchlevel, info.Date)
	fmt.Fprintf(w, "desc:    %s\n", info.Desc)
	fmt.Fprintf(w, "bus:     %v\n", info.Bus)
	fmt.Fprintf(w, "unique:  %s\n", info.Unique)
	if !overrides {
		return
	}
	for _, o := range dev.Overrides() {
		if o.Kind == shim.OverrideSymlink {
			fmt.Fprintf(w, "%-8v %s -> %s\n", o.Kind, o.Path, o.Content)
			continue
		}
		fmt.Fprintf(w, "%-8v %s\n", o.Kind, o.Path)
	}
}
