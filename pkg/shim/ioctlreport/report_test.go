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

package ioctlreport

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testRecords = []Record{
	{Path: "/dev/dri/renderD128", Request: 0xc0106440, Nr: 0x40, Class: Driver, Errno: 22},
	{Path: "/dev/dri/renderD128", Request: 0xc00c642d, Nr: 0x2d, Class: Unsupported, Errno: 95},
	{Request: 0x5401, Nr: 0x01, Class: Type, Errno: 22},
	{Path: "/dev/dri/renderD128", Request: 0xc0106440, Nr: 0x40, Class: Driver, Errno: 22},
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range testRecords {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write(%v): %v", rec, err)
		}
	}

	r := NewReader(&buf)
	var got []Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, rec)
	}
	if diff := cmp.Diff(testRecords, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Write(testRecords[0]); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if _, err := NewReader(bytes.NewReader(b[:len(b)-1])).Read(); err == nil || err == io.EOF {
		t.Errorf("Read of truncated record = %v, want a decoding error", err)
	}
}

func TestResults(t *testing.T) {
	res := NewResults()
	if res.HasUnsupported() {
		t.Fatalf("empty results report unsupported ioctls")
	}
	for _, rec := range testRecords {
		res.Add(rec)
	}
	if !res.HasUnsupported() {
		t.Errorf("HasUnsupported() = false after adding records")
	}
	if got := res.Count(Driver, 0xc0106440); got != 2 {
		t.Errorf("Count(Driver, 0xc0106440) = %d, want 2", got)
	}
	if got := len(res.Records(Driver)); got != 1 {
		t.Errorf("distinct driver records = %d, want 1", got)
	}
	s := res.String()
	for _, want := range []string{"Core: None", "Driver:\n", "nr=0x2d", "(x2)"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}

func TestReportConcurrent(t *testing.T) {
	var buf bytes.Buffer
	rep := New(NewWriter(&buf))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep.Add(testRecords[1])
		}()
	}
	wg.Wait()
	if got := rep.Snapshot().Count(Unsupported, testRecords[1].Request); got != 8 {
		t.Errorf("Count = %d, want 8", got)
	}

	r := NewReader(&buf)
	n := 0
	for {
		if _, err := r.Read(); err != nil {
			break
		}
		n++
	}
	if n != 8 {
		t.Errorf("streamed %d records, want 8", n)
	}

	var nilReport *Report
	nilReport.Add(testRecords[0])
	if nilReport.Snapshot().HasUnsupported() {
		t.Errorf("nil report recorded something")
	}
}
