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

// Package ioctlreport collects device-control requests the shim could not
// serve, so that a driver plugin author can see which handlers are missing.
package ioctlreport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gvisor.dev/drmshim/pkg/log"
)

// Class is the reason a request was not served.
type Class uint32

const (
	// Core is a core-range request with no handler.
	Core Class = iota

	// Driver is a driver-range request with no handler in the installed
	// driver table.
	Driver

	// Type is a request whose IOC_TYPE is not the DRM one.
	Type

	// Unsupported is a recognized request that is deliberately not
	// implemented.
	Unsupported

	_numClasses
)

func (c Class) String() string {
	switch c {
	case Core:
		return "Core"
	case Driver:
		return "Driver"
	case Type:
		return "Type"
	case Unsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("Class(%d)", uint32(c))
	}
}

// Label returns the lower case name of c, as used in metric labels.
func (c Class) Label() string {
	return strings.ToLower(c.String())
}

// Record describes one request that was not served.
type Record struct {
	Path    string
	Request uint32
	Nr      uint32
	Class   Class
	Errno   int32
}

func (r Record) String() string {
	return fmt.Sprintf("%s ioctl: path=%s request=%#x [nr=%#x] => errno=%d", r.Class, r.Path, r.Request, r.Nr, r.Errno)
}

// Results contains the distinct unserved requests seen, per class.
type Results struct {
	unsupported [_numClasses]map[uint32]Record
	counts      [_numClasses]map[uint32]uint64
}

// NewResults creates a new Results object.
func NewResults() *Results {
	return &Results{}
}

// Add adds rec to the results.
func (r *Results) Add(rec Record) {
	if rec.Class >= _numClasses {
		panic(fmt.Sprintf("invalid class %d", rec.Class))
	}
	if r.unsupported[rec.Class] == nil {
		r.unsupported[rec.Class] = make(map[uint32]Record)
		r.counts[rec.Class] = make(map[uint32]uint64)
	}
	r.unsupported[rec.Class][rec.Request] = rec
	r.counts[rec.Class][rec.Request]++
}

// Records returns the distinct records of class c, ordered by request.
func (r *Results) Records(c Class) []Record {
	recs := make([]Record, 0, len(r.unsupported[c]))
	for _, rec := range r.unsupported[c] {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Request < recs[j].Request })
	return recs
}

// Count returns how many times request was added under class c.
func (r *Results) Count(c Class, request uint32) uint64 {
	return r.counts[c][request]
}

// HasUnsupported returns true if any record was added.
func (r *Results) HasUnsupported() bool {
	for _, m := range r.unsupported {
		if len(m) != 0 {
			return true
		}
	}
	return false
}

// Merge merges the results from another Results object into this one.
func (r *Results) Merge(other *Results) {
	for class := Class(0); class < _numClasses; class++ {
		for req, rec := range other.unsupported[class] {
			for i := uint64(0); i < other.counts[class][req]; i++ {
				r.Add(rec)
			}
		}
	}
}

func (r *Results) String() string {
	b := new(strings.Builder)
	for class := Class(0); class < _numClasses; class++ {
		recs := r.Records(class)
		if len(recs) == 0 {
			fmt.Fprintf(b, "%v: None\n", class)
			continue
		}
		fmt.Fprintf(b, "%v:\n", class)
		for _, rec := range recs {
			fmt.Fprintf(b, "\t%v (x%d)\n", rec, r.Count(class, rec.Request))
		}
	}
	return b.String()
}

// Report is a concurrency-safe collector of Records. It optionally streams
// every record to a Writer. A nil *Report discards everything.
type Report struct {
	mu      sync.Mutex
	results *Results
	out     *Writer
}

// New returns an empty report. If out is not nil, every record is also
// streamed to it.
func New(out *Writer) *Report {
	return &Report{results: NewResults(), out: out}
}

// Add records rec.
func (r *Report) Add(rec Record) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results.Add(rec)
	if r.out != nil {
		if err := r.out.Write(rec); err != nil {
			log.Warningf("Dropping ioctl report stream after error: %v", err)
			r.out = nil
		}
	}
}

// Snapshot returns a copy of the results so far.
func (r *Report) Snapshot() *Results {
	res := NewResults()
	if r == nil {
		return res
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res.Merge(r.results)
	return res
}
