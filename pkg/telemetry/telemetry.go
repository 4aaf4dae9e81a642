// Package telemetry exposes the Prometheus instrumentation shared by the
// moderation pipeline, the threat engine and the HTTP surface.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CasesEvaluated counts moderation cases by final status.
	CasesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "moderation",
		Name:      "cases_total",
		Help:      "Moderation cases evaluated, labeled by final status.",
	}, []string{"status"})

	// FindingsEmitted counts detector findings by kind.
	FindingsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "moderation",
		Name:      "findings_total",
		Help:      "Findings emitted by detectors, labeled by finding kind.",
	}, []string{"kind"})

	// DetectorFailures counts detector errors and timeouts.
	DetectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "moderation",
		Name:      "detector_failures_total",
		Help:      "Detector runs that errored or timed out.",
	}, []string{"detector"})

	// DetectorDuration observes per-detector latency.
	DetectorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vigil",
		Subsystem: "moderation",
		Name:      "detector_duration_seconds",
		Help:      "Wall-clock duration of individual detector runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"detector"})

	// ReviewsRecorded counts human review decisions.
	ReviewsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "moderation",
		Name:      "reviews_total",
		Help:      "Human review decisions, labeled by decision.",
	}, []string{"decision"})

	// PenaltiesApplied counts enforced user penalties by type.
	PenaltiesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "moderation",
		Name:      "penalties_total",
		Help:      "Penalties applied to user accounts, labeled by penalty type.",
	}, []string{"penalty"})

	// EventsReported counts security events by computed severity.
	EventsReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "threat",
		Name:      "events_total",
		Help:      "Security events evaluated, labeled by severity.",
	}, []string{"severity"})

	// RuleTriggers counts rule engine activations.
	RuleTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "threat",
		Name:      "rule_triggers_total",
		Help:      "Automatic response rules triggered, labeled by rule name.",
	}, []string{"rule"})

	// ReputationHits counts security events whose source IP matched an
	// active reputation entry.
	ReputationHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "threat",
		Name:      "reputation_hits_total",
		Help:      "Security events whose source address matched the reputation list.",
	})

	// ActionsExecuted counts automatic response actions by action and outcome.
	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "threat",
		Name:      "actions_total",
		Help:      "Automatic response actions executed, labeled by action and outcome.",
	}, []string{"action", "outcome"})
)
