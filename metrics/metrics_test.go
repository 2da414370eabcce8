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

package metrics_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anowell/netfuse/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsOpsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg)

	r.Observe("lookup", nil, time.Millisecond)
	r.Observe("lookup", errors.New("boom"), time.Millisecond)
	r.Observe("write", nil, time.Millisecond)

	const want = `
		# HELP netfuse_ops_total Count of dispatcher operations by name and result.
		# TYPE netfuse_ops_total counter
		netfuse_ops_total{op="lookup",result="error"} 1
		netfuse_ops_total{op="lookup",result="ok"} 1
		netfuse_ops_total{op="write",result="ok"} 1
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "netfuse_ops_total"))
}

func TestObserveRecordsBackendCallLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg)

	r.Observe("read", nil, 10*time.Millisecond)

	require.Equal(t, 1, testutil.CollectAndCount(reg, "netfuse_backend_call_seconds"))
}

func TestNilRecorderObserveIsNoop(t *testing.T) {
	var r *metrics.Recorder
	require.NotPanics(t, func() {
		r.Observe("lookup", nil, time.Millisecond)
	})
}
