/*
Copyright 2026 The tac-webbuilder Authors.

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

// Package metrics is the Prometheus exposition for the scheduler:
// phase-count gauges, admission latency, and the webhook counter, mirrored
// on the pack's NewMetricsWithRegistry + HTTPMetrics middleware shape.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the scheduler registers.
type Metrics struct {
	registry *prometheus.Registry

	PhasesRunning prometheus.Gauge
	PhasesReady   prometheus.Gauge
	PhasesQueued  prometheus.Gauge

	AdmissionLatency prometheus.Histogram
	WebhookTotal     *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetricsWithRegistry registers every collector under namespace/subsystem
// on registry, so tests can use an isolated prometheus.NewRegistry()
// instead of the global default.
func NewMetricsWithRegistry(namespace, subsystem string, registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		PhasesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "phases_running",
			Help: "Number of phases currently in the running state.",
		}),
		PhasesReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "phases_ready",
			Help: "Number of phases currently in the ready state.",
		}),
		PhasesQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "phases_queued",
			Help: "Number of phases currently in the queued state.",
		}),
		AdmissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "admission_latency_seconds",
			Help:    "Time spent in a single admission pass.",
			Buckets: prometheus.DefBuckets,
		}),
		WebhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "webhook_total",
			Help: "Completion webhook calls by outcome.",
		}, []string{"outcome"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.PhasesRunning, m.PhasesReady, m.PhasesQueued,
		m.AdmissionLatency, m.WebhookTotal,
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
	)
	return m
}

// New registers on a fresh private registry, not the global default
// registry; Handler serves that registry.
func New(namespace, subsystem string) *Metrics {
	return NewMetricsWithRegistry(namespace, subsystem, prometheus.NewRegistry())
}

// Handler returns the /metrics scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAdmission records how long a single admission pass took.
func (m *Metrics) ObserveAdmission(d time.Duration) {
	m.AdmissionLatency.Observe(d.Seconds())
}

// SetQueueDepths updates the three phase-count gauges in one call, the
// shape the admin/state poller naturally produces.
func (m *Metrics) SetQueueDepths(running, ready, queued int) {
	m.PhasesRunning.Set(float64(running))
	m.PhasesReady.Set(float64(ready))
	m.PhasesQueued.Set(float64(queued))
}

// IncWebhookTotal counts one /phase-complete call under outcome
// (e.g. "accepted", "duplicate", "rejected", "not_found", "conflict").
func (m *Metrics) IncWebhookTotal(outcome string) {
	m.WebhookTotal.WithLabelValues(outcome).Inc()
}
