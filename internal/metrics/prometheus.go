// Package metrics holds the Prometheus collectors shared by the relay
// pipeline, the session coordinator and the stores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "confidant"
)

// LatencyBuckets defines histogram buckets for backend latency (in seconds).
// Local models are slow, so the tail reaches a few minutes.
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120, 240,
}

// Outcome label values used across collectors.
const (
	OutcomeReplied  = "replied"
	OutcomeCommand  = "command"
	OutcomeIgnored  = "ignored"
	OutcomeLimited  = "rate_limited"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "duplicate"
	ResultSuccess   = "success"
	ResultTransport = "transport_error"
	ResultProtocol  = "protocol_error"
	ResultState     = "state_error"
	ResultCanceled  = "canceled"
)

// =============================================================================
// Pipeline Metrics
// =============================================================================

var (
	// MessagesProcessed counts inbound messages by how the relay handled them.
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Inbound messages processed, by outcome",
		},
		[]string{"outcome"},
	)

	// CommandsHandled counts chat commands by name.
	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_handled_total",
			Help:      "Chat commands handled, by command",
		},
		[]string{"command"},
	)

	// PromptChanges counts system prompt replacements and reloads.
	PromptChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "system_prompt_changes_total",
			Help:      "System prompt replacements and reloads",
		},
	)

	// SanitizerStageChanges counts how often a sanitizer stage altered a reply.
	SanitizerStageChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitizer_stage_changes_total",
			Help:      "Replies altered by each sanitizer stage",
		},
		[]string{"stage"},
	)
)

// =============================================================================
// Backend & Session Metrics
// =============================================================================

var (
	// BackendAttempts counts backend calls by result.
	BackendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend chat calls, by result",
		},
		[]string{"result"},
	)

	// BackendLatency tracks backend chat latency.
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Backend chat call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"model"},
	)

	// RetriesExhausted counts requests that failed every attempt.
	RetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Requests that failed after the last retry attempt",
		},
	)

	// SessionResets counts session resets by reason.
	SessionResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resets_total",
			Help:      "Session resets, by reason",
		},
		[]string{"reason"},
	)

	// ActiveSessions reports the number of registered sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently held by the coordinator",
		},
	)
)

// =============================================================================
// Storage Metrics
// =============================================================================

// StorageFailures counts absorbed storage errors by operation.
var StorageFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_failures_total",
		Help:      "Storage errors that were logged and absorbed, by operation",
	},
	[]string{"op"},
)
