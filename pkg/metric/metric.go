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

// Package metric provides the shim's counters and gauges.
//
// Metrics are kept in a private Prometheus registry owned by a Set, so that
// several shims (or tests) in one process never collide. A nil *Set is valid
// and records nothing.
package metric

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "drmshim"

// Ioctl ranges, used as the "range" label.
const (
	RangeCore    = "core"
	RangeDriver  = "driver"
	RangeInvalid = "invalid"
)

// Set is a collection of shim metrics.
type Set struct {
	registry *prometheus.Registry

	ioctls      *prometheus.CounterVec
	unsupported *prometheus.CounterVec
	bos         prometheus.Gauge
	boBytes     prometheus.Gauge
	connections prometheus.Gauge
}

// NewSet creates a Set whose metric names start with namespace.
func NewSet(namespace string) *Set {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	s := &Set{registry: prometheus.NewRegistry()}
	s.ioctls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ioctls_total",
		Help:      "Device-control requests handled, by range and result.",
	}, []string{"range", "result"})
	s.unsupported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unsupported_ioctls_total",
		Help:      "Device-control requests that had no handler, by class.",
	}, []string{"class"})
	s.bos = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_objects",
		Help:      "Live buffer objects.",
	})
	s.boBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_object_bytes",
		Help:      "Bytes of address space held by live buffer objects.",
	})
	s.connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open connections to the simulated device.",
	})
	s.registry.MustRegister(s.ioctls, s.unsupported, s.bos, s.boBytes, s.connections)
	return s
}

// Registry returns the registry backing s.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}

// IoctlDone records one handled request in ioctlRange.
func (s *Set) IoctlDone(ioctlRange string, err error) {
	if s == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.ioctls.WithLabelValues(ioctlRange, result).Inc()
}

// Unsupported records a request without a handler.
func (s *Set) Unsupported(class string) {
	if s == nil {
		return
	}
	s.unsupported.WithLabelValues(class).Inc()
}

// BOCreated records a new buffer object of size bytes.
func (s *Set) BOCreated(size uint64) {
	if s == nil {
		return
	}
	s.bos.Inc()
	s.boBytes.Add(float64(size))
}

// BODestroyed records the destruction of a buffer object of size bytes.
func (s *Set) BODestroyed(size uint64) {
	if s == nil {
		return
	}
	s.bos.Dec()
	s.boBytes.Sub(float64(size))
}

// ConnectionOpened records a new connection.
func (s *Set) ConnectionOpened() {
	if s == nil {
		return
	}
	s.connections.Inc()
}

// ConnectionClosed records the destruction of a connection.
func (s *Set) ConnectionClosed() {
	if s == nil {
		return
	}
	s.connections.Dec()
}

// WriteText writes every metric of s to w in the Prometheus text exposition
// format.
func (s *Set) WriteText(w io.Writer) error {
	if s == nil {
		return nil
	}
	mfs, err := s.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
