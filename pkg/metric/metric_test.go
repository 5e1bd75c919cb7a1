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

package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func parse(t *testing.T, s *Set) map[string]*dto.MetricFamily {
	t.Helper()
	var buf bytes.Buffer
	if err := s.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	var p expfmt.TextParser
	mfs, err := p.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parsing exposition: %v\n%s", err, buf.String())
	}
	return mfs
}

func counterValues(mf *dto.MetricFamily) map[string]float64 {
	got := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		key := ""
		for _, l := range m.GetLabel() {
			key += l.GetName() + "=" + l.GetValue() + ","
		}
		got[key] = m.GetCounter().GetValue()
	}
	return got
}

func TestIoctlCounters(t *testing.T) {
	s := NewSet("test")
	s.IoctlDone(RangeCore, nil)
	s.IoctlDone(RangeCore, nil)
	s.IoctlDone(RangeDriver, errors.New("bad"))
	s.Unsupported("core")

	mfs := parse(t, s)
	want := map[string]float64{
		"range=core,result=ok,":      2,
		"range=driver,result=error,": 1,
	}
	if diff := cmp.Diff(want, counterValues(mfs["test_ioctls_total"])); diff != "" {
		t.Errorf("ioctl counters mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]float64{"class=core,": 1}, counterValues(mfs["test_unsupported_ioctls_total"])); diff != "" {
		t.Errorf("unsupported counters mismatch (-want +got):\n%s", diff)
	}
}

func TestGauges(t *testing.T) {
	s := NewSet("")
	s.BOCreated(4096)
	s.BOCreated(8192)
	s.BODestroyed(4096)
	s.ConnectionOpened()

	mfs := parse(t, s)
	for name, want := range map[string]float64{
		"drmshim_buffer_objects":      1,
		"drmshim_buffer_object_bytes": 8192,
		"drmshim_connections":         1,
	} {
		mf, ok := mfs[name]
		if !ok {
			t.Errorf("%s missing from exposition", name)
			continue
		}
		if got := mf.GetMetric()[0].GetGauge().GetValue(); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestNilSet(t *testing.T) {
	var s *Set
	s.IoctlDone(RangeCore, nil)
	s.BOCreated(1)
	s.ConnectionClosed()
	if err := s.WriteText(&bytes.Buffer{}); err != nil {
		t.Errorf("WriteText on nil set: %v", err)
	}
}
