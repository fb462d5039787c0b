// Copyright 2025 Google LLC
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

// Package metrics exposes the counters and gauges this codebase's lineage
// always carries alongside a mounted filesystem: cache hit/miss rates,
// per-operation latency, and the count of handles currently open. gcsfuse
// itself routes its metrics through OpenTelemetry; this module goes
// straight to the `prometheus/client_golang` instrumentation that OTel's
// own Prometheus exporter (and rclone's, and moby's) is built on, and
// serves it directly rather than through a collector pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remotefs"

var (
	// CacheLookups counts attr/dir cache lookups by cache name and outcome
	// ("hit", "miss", "stale").
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by cache and outcome.",
	}, []string{"cache", "outcome"})

	// OpDuration is per-VFS-operation latency.
	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "op_duration_seconds",
		Help:      "VFS dispatcher operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// OpenFileHandles is the current count of open write-back handles.
	OpenFileHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_file_handles",
		Help:      "Number of currently open write-back file handles.",
	})

	// BackendErrors counts remote.Client failures by endpoint and errno.
	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_errors_total",
		Help:      "Backend call failures by endpoint and resulting errno.",
	}, []string{"endpoint", "errno"})

	// ChangeEvents counts push events received by op.
	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_events_total",
		Help:      "Change-listener events received by op.",
	}, []string{"op"})
)

// ObserveOp times f under the op_duration_seconds histogram for op.
func ObserveOp(op string, f func() error) error {
	start := time.Now()
	err := f()
	OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
