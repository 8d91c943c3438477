/*
Copyright 2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats exports check accounting as prometheus metrics.
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts executed checks and observes their timing. It
// implements the core's statistics sink; the timestamps the core supplies
// are carried by the scrape, not the sample, so they are ignored here.
type Collector struct {
	activeChecks  prometheus.Counter
	passiveChecks prometheus.Counter
	executionTime prometheus.Histogram
	latency       prometheus.Histogram
}

// New creates a check statistics collector.
func New() *Collector {
	return &Collector{
		activeChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "active_checks_total",
			Help:      "Number of active check results processed",
		}),
		passiveChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "passive_checks_total",
			Help:      "Number of passive check results processed",
		}),
		executionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "check_execution_seconds",
			Help:      "Check execution time",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "check_latency_seconds",
			Help:      "Time between a check becoming due and running",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// UpdateActiveChecks records n processed active checks.
func (r *Collector) UpdateActiveChecks(ts time.Time, n int) {
	r.activeChecks.Add(float64(n))
}

// UpdatePassiveChecks records n processed passive checks.
func (r *Collector) UpdatePassiveChecks(ts time.Time, n int) {
	r.passiveChecks.Add(float64(n))
}

// ObserveExecution records the execution time and latency of a check.
func (r *Collector) ObserveExecution(execution, latency time.Duration) {
	r.executionTime.Observe(execution.Seconds())
	r.latency.Observe(latency.Seconds())
}

// Collectors returns the prometheus collectors for registration.
func (r *Collector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.activeChecks,
		r.passiveChecks,
		r.executionTime,
		r.latency,
	}
}
