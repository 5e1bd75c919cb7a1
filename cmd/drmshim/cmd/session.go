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

// Package cmd holds implementations of the drmshim commands.
package cmd

import (
	"fmt"
	"os"

	"gvisor.dev/drmshim/pkg/cleanup"
	"gvisor.dev/drmshim/pkg/metric"
	"gvisor.dev/drmshim/pkg/shim"
	"gvisor.dev/drmshim/pkg/shim/config"
	"gvisor.dev/drmshim/pkg/shim/drivers"
	"gvisor.dev/drmshim/pkg/shim/ioctlreport"
	"gvisor.dev/drmshim/pkg/shim/realops"
)

// Resolve looks up the host operations used by every command. Tests replace
// it to run against a fake host.
var Resolve realops.Resolver = realops.Resolve

// session is a shim set up from the configuration, together with the metrics
// and report it feeds.
type session struct {
	shim    *shim.Shim
	metrics *metric.Set
	report  *ioctlreport.Report
	cu      cleanup.Cleanup
}

// newSession builds the configured driver and boots a shim around it. It
// fails if no device could be simulated.
func newSession(conf *config.Config) (*session, error) {
	drv, err := drivers.New(conf.Driver, conf.Profile)
	if err != nil {
		return nil, err
	}
	s := &session{metrics: metric.NewSet(metric.DefaultNamespace)}
	var cu cleanup.Cleanup
	defer cu.Clean()

	var out *ioctlreport.Writer
	if conf.ReportPath != "" {
		f, err := os.OpenFile(conf.ReportPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening report file %q: %w", conf.ReportPath, err)
		}
		cu.Add(func() { f.Close() })
		out = ioctlreport.NewWriter(f)
	}
	s.report = ioctlreport.New(out)

	opts := conf.ShimOptions(drv)
	opts.Resolve = Resolve
	opts.Metrics = s.metrics
	opts.Report = s.report
	opts.Fatalf = Fatalf
	s.shim = shim.New(opts)
	cu.Add(s.shim.Shutdown)

	if s.shim.Device() == nil {
		return nil, fmt.Errorf("no %s device could be simulated, see the debug log", conf.Driver)
	}
	s.cu.Add(cu.Release())
	return s, nil
}

// Close shuts the shim down and flushes the report.
func (s *session) Close() {
	s.cu.Clean()
}
