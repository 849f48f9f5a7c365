// Package metrics provides Prometheus metrics for the supervisor:
// fetch retries, install step durations, repairs, routing, self-update.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Fetch ──────────────────────────────────────────────────────────────────

// FetchAttempts counts every network fetch attempt, including retries.
var FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "aide",
	Name:      "fetch_attempts_total",
	Help:      "Total network fetch attempts, including retries.",
})

// FetchExhausted counts fetches that failed all retry attempts.
var FetchExhausted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "aide",
	Name:      "fetch_exhausted_total",
	Help:      "Fetches that exhausted the retry budget.",
})

// ─── Installation ───────────────────────────────────────────────────────────

// StepDuration tracks install/repair step duration in seconds.
var StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "aide",
	Name:      "step_duration_seconds",
	Help:      "Duration of installation steps.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
}, []string{"step"})

// StepFailures counts failed installation steps by step and severity.
var StepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aide",
	Name:      "step_failures_total",
	Help:      "Failed installation steps.",
}, []string{"step", "severity"})

// Repairs counts health-check repairs by step.
var Repairs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aide",
	Name:      "repairs_total",
	Help:      "Steps re-run by the self-healing health check.",
}, []string{"step"})

// ─── Router ─────────────────────────────────────────────────────────────────

// RouterRequests counts routed prompts by route (inference | delegation).
var RouterRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aide",
	Name:      "router_requests_total",
	Help:      "Prompts handled, by route.",
}, []string{"route"})

// InferenceDuration tracks one-shot engine invocations in seconds.
var InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "aide",
	Name:      "inference_duration_seconds",
	Help:      "Engine invocation duration.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Self-Update ────────────────────────────────────────────────────────────

// SelfUpdates counts self-update checks by outcome
// (applied | up_to_date | failed).
var SelfUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aide",
	Name:      "self_updates_total",
	Help:      "Self-update checks by outcome.",
}, []string{"outcome"})
