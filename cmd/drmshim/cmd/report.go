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
	"gvisor.dev/drmshim/pkg/shim/ioctlreport"
)

// Report implements subcommands.Command for the "report" command.
type Report struct {
	failOnUnsupported bool
}

// Name implements subcommands.Command.Name.
func (*Report) Name() string {
	return "report"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Report) Synopsis() string {
	return "summarize a stream of unserved ioctl records"
}

// Usage implements subcommands.Command.Usage.
func (*Report) Usage() string {
	return `report [-fail-on-unsupported] <file> - reads a file written by --report and prints the distinct unserved requests by class.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Report) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.failOnUnsupported, "fail-on-unsupported", false, "exit with failure if the file holds any record.")
}

// Execute implements subcommands.Command.Execute.
func (r *Report) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	file, err := os.Open(f.Arg(0))
	if err != nil {
		return Errorf("%v", err)
	}
	defer file.Close()

	res, err := readResults(file)
	if err != nil {
		return Errorf("reading %s: %v", f.Arg(0), err)
	}
	fmt.Fprint(os.Stdout, res.String())
	if r.failOnUnsupported && res.HasUnsupported() {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func readResults(r io.Reader) (*ioctlreport.Results, error) {
	res := ioctlreport.NewResults()
	rd := ioctlreport.NewReader(r)
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res.Add(rec)
	}
}
