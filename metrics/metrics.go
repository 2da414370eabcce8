// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package metrics instruments the dispatcher with Prometheus counters and
// histograms. A nil *Recorder is valid and records nothing, so embedders
// that don't care about metrics don't have to construct one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder tracks dispatcher operation counts and per-operation latency
// (the whole operation, including any backend call made while serving it).
type Recorder struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewRecorder builds a Recorder and registers its collectors with reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netfuse",
			Name:      "ops_total",
			Help:      "Count of dispatcher operations by name and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netfuse",
			Name:      "backend_call_seconds",
			Help:      "Latency of dispatcher operations, including any backend.Backend call made while serving them.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(r.ops, r.latency)
	return r
}

// Observe records the outcome of one dispatcher operation: op is the
// operation name ("lookup", "write", ...), err is the result the dispatcher
// is about to return to the kernel (nil for success), and elapsed is how
// long the operation took. Callers measure elapsed against their own clock
// rather than passing a start time, so a SimulatedClock in tests doesn't get
// compared against the real wall clock here.
func (r *Recorder) Observe(op string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	r.ops.WithLabelValues(op, result).Inc()
	r.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}
