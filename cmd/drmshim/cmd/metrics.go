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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/drmshim/pkg/shim/config"
)

// Metrics implements subcommands.Command for the "metrics" command.
type Metrics struct {
	sessions int
}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "print shim metrics after a short device workload"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics [-sessions=N] - runs N selftest sessions on one worker and prints the shim metrics in Prometheus text format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Metrics) SetFlags(f *flag.FlagSet) {
	f.IntVar(&m.sessions, "sessions", 1, "selftest sessions to run first. 0 prints the metrics of an idle device.")
}

// Execute implements subcommands.Command.Execute.
func (m *Metrics) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || m.sessions < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	s, err := newSession(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	if m.sessions > 0 {
		if err := runSelftest(ctx, s.shim, 1, m.sessions); err != nil {
			return Errorf("workload failed: %v", err)
		}
	}
	if err := s.metrics.WriteText(os.Stdout); err != nil {
		return Errorf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}
