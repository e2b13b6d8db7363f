// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics exposes Prometheus collectors for agent activity. A nil *Metrics
// records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	memorySize prometheus.Gauge
	healthy    prometheus.Gauge
}

// NewMetrics creates the agent collectors and registers them with reg.
// A nil reg returns a nil *Metrics. Collectors already registered by an
// earlier agent are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rigrun",
				Subsystem: "agent",
				Name:      "requests_total",
				Help:      "Agent requests by outcome.",
			},
			[]string{"outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rigrun",
				Subsystem: "agent",
				Name:      "request_duration_seconds",
				Help:      "End-to-end agent request latency.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		memorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rigrun",
			Subsystem: "agent",
			Name:      "memory_entries",
			Help:      "Entries held in conversation memory.",
		}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rigrun",
			Subsystem: "agent",
			Name:      "healthy",
			Help:      "1 if the last health probe succeeded, 0 otherwise.",
		}),
	}

	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	if m.memorySize, err = register(reg, m.memorySize); err != nil {
		return nil, err
	}
	if m.healthy, err = register(reg, m.healthy); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when one with
// the same description is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveRequest records one Run with its outcome and duration.
func (m *Metrics) ObserveRequest(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeLabel(err)
	m.requests.WithLabelValues(outcome).Inc()
	m.latency.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetMemorySize records the conversation memory size.
func (m *Metrics) SetMemorySize(n int) {
	if m == nil {
		return
	}
	m.memorySize.Set(float64(n))
}

// SetHealthy records the result of a health probe.
func (m *Metrics) SetHealthy(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.healthy.Set(1)
	} else {
		m.healthy.Set(0)
	}
}

// outcomeLabel maps err to a low-cardinality label value.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	switch apperr.TypeOf(err) {
	case apperr.TypeValidation:
		return "validation"
	case apperr.TypeNetwork:
		return "network"
	case apperr.TypeTimeout:
		return "timeout"
	case apperr.TypeModelNotFound:
		return "model_not_found"
	case apperr.TypeModelDownload:
		return "model_download"
	default:
		return "error"
	}
}
