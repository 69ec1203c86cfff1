// Copyright 2026 The Velo Rift Authors.
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

package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus collectors, the analogue of
// gcsfuse's common.MetricHandle for this process: one counter family per
// request kind plus a latency histogram, registered against a private
// registry so multiple Server instances (as in tests) don't collide on
// the global default registry.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestErrors   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ReingestsTotal  prometheus.Counter
}

// NewMetrics constructs and registers a fresh Metrics instance.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vrift",
			Subsystem: "daemon",
			Name:      "requests_total",
			Help:      "Total number of daemon requests handled, by kind.",
		}, []string{"kind"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vrift",
			Subsystem: "daemon",
			Name:      "request_errors_total",
			Help:      "Total number of daemon requests that returned an Error response, by kind.",
		}, []string{"kind"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vrift",
			Subsystem: "daemon",
			Name:      "request_duration_seconds",
			Help:      "Daemon request handling latency, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		ReingestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vrift",
			Subsystem: "daemon",
			Name:      "reingests_total",
			Help:      "Total number of completed ManifestReingest operations.",
		}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestErrors, m.RequestDuration, m.ReingestsTotal)
	return m
}
