// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the mentor service.
//
// Metrics are exposed via the /metrics endpoint. All metric operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "mentor"

// MentorMetrics holds all Prometheus metrics for the mentoring endpoints.
type MentorMetrics struct {
	// RequestsTotal counts hint/analysis requests.
	// Labels: endpoint (hint, analyze), mode (live, fallback)
	RequestsTotal *prometheus.CounterVec

	// ResponseSeconds measures end-to-end mentoring response latency.
	// Labels: endpoint (hint, analyze)
	ResponseSeconds *prometheus.HistogramVec

	// ProviderHealthy is 1 while the AI provider is believed healthy.
	ProviderHealthy prometheus.Gauge

	// ProbesTotal counts provider health probes.
	// Labels: outcome (healthy, degraded)
	ProbesTotal *prometheus.CounterVec

	// AuthFailuresTotal counts rejected authentications.
	// Labels: reason (invalid_credentials, locked, inactive, token)
	AuthFailuresTotal *prometheus.CounterVec

	// LockoutsTotal counts accounts locked after repeated failures.
	LockoutsTotal prometheus.Counter

	// RateLimitedTotal counts requests rejected by the rate limiter.
	// Labels: scope (ai, general)
	RateLimitedTotal *prometheus.CounterVec

	// SessionsSweptTotal counts sessions abandoned by the idle sweep.
	SessionsSweptTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
var DefaultMetrics *MentorMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *MentorMetrics {
	DefaultMetrics = &MentorMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total mentoring requests by endpoint and delivery mode",
			},
			[]string{"endpoint", "mode"},
		),

		ResponseSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "response_seconds",
				Help:      "End-to-end mentoring response latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		ProviderHealthy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "provider_healthy",
				Help:      "1 while the AI provider is believed healthy, 0 while degraded",
			},
		),

		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "probes_total",
				Help:      "Total provider health probes by outcome",
			},
			[]string{"outcome"},
		),

		AuthFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "auth_failures_total",
				Help:      "Total rejected authentications by reason",
			},
			[]string{"reason"},
		),

		LockoutsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lockouts_total",
				Help:      "Total account lockouts after repeated failed logins",
			},
		),

		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter, by scope",
			},
			[]string{"scope"},
		),

		SessionsSweptTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_swept_total",
				Help:      "Total active sessions transitioned to abandoned by the idle sweep",
			},
		),
	}
	// Provider starts out healthy.
	DefaultMetrics.ProviderHealthy.Set(1)
	return DefaultMetrics
}
