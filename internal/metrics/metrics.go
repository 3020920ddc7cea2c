// Package metrics provides Prometheus instrumentation for the verdict
// service. It exposes counters for request outcomes and moderation
// decisions, histograms for per-stage latency, and a gauge for open streams.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts finished verdict requests, labeled by outcome:
	// "ok", "invalid", "rate_limited", "blocked", "upstream", "empty",
	// "invalid_output" or "cancelled".
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verdict_requests_total",
		Help: "Total number of verdict requests by outcome",
	}, []string{"outcome"})

	// StageLatency records time spent in each pipeline stage.
	StageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "verdict_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
	}, []string{"stage"}) // stage = "moderation", "language", "generation", "share"

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verdict_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})

	// RateLimitErrors counts limiter store failures that were failed open.
	RateLimitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verdict_rate_limit_store_errors_total",
		Help: "Total number of rate limit store failures",
	})

	// ModerationDecisions counts moderation outcomes by kind and source.
	ModerationDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verdict_moderation_decisions_total",
		Help: "Total number of moderation decisions",
	}, []string{"decision", "source"})

	// NegotiationRetries counts request resubmissions by rule name.
	NegotiationRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verdict_negotiation_retries_total",
		Help: "Total number of upstream requests resubmitted after negotiation",
	}, []string{"rule"})

	// ActiveStreams tracks the number of event streams currently open.
	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "verdict_active_streams",
		Help: "Current number of open verdict event streams",
	})

	// AuditEventsTotal counts moderation outcome events persisted by the
	// auditor, labeled by result: "stored" or "failed".
	AuditEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verdict_audit_events_total",
		Help: "Total number of moderation outcome events handled by the auditor",
	}, []string{"result"})

	// AuditRepeatBlocks counts blocked outcomes from clients that already
	// reached the repeat threshold.
	AuditRepeatBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verdict_audit_repeat_blocks_total",
		Help: "Blocked outcomes from clients at or above the repeat-block threshold",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		StageLatency,
		RateLimited,
		RateLimitErrors,
		ModerationDecisions,
		NegotiationRetries,
		ActiveStreams,
		AuditEventsTotal,
		AuditRepeatBlocks,
	)
}

// ObserveStage records the time elapsed since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
