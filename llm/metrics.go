// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the dispatch pipeline. Each
// Dispatcher gets its own Metrics so independent dispatchers can register
// against separate registries.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	failoverTotal *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	sendDuration  *prometheus.HistogramVec
}

// breaker state gauge values
const (
	breakerGaugeClosed   = 0
	breakerGaugeHalfOpen = 1
	breakerGaugeOpen     = 2
)

// NewMetrics creates and registers the dispatch collectors. A nil registerer
// creates unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelrelay_requests_total",
				Help: "Completed sends by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelrelay_retries_total",
				Help: "Retry attempts by provider.",
			},
			[]string{"provider"},
		),
		failoverTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelrelay_failover_hops_total",
				Help: "Failover hops by origin provider.",
			},
			[]string{"provider"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "modelrelay_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
			},
			[]string{"provider"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modelrelay_send_duration_seconds",
				Help:    "End-to-end send latency by provider.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.retriesTotal, m.failoverTotal, m.breakerState, m.sendDuration)
	}
	return m
}

func (m *Metrics) observeRequest(provider Family, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(string(provider), outcome).Inc()
	m.sendDuration.WithLabelValues(string(provider)).Observe(seconds)
}

func (m *Metrics) observeRetry(provider Family) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(string(provider)).Inc()
}

func (m *Metrics) observeFailover(provider Family) {
	if m == nil {
		return
	}
	m.failoverTotal.WithLabelValues(string(provider)).Inc()
}

func (m *Metrics) observeBreakerState(provider string, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = breakerGaugeHalfOpen
	case "open":
		v = breakerGaugeOpen
	default:
		v = breakerGaugeClosed
	}
	m.breakerState.WithLabelValues(provider).Set(v)
}
