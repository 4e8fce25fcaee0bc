// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionTransitions counts state machine transitions by target status.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "sessions",
		Name:      "transitions_total",
		Help:      "Session state transitions by target status.",
	}, []string{"status"})

	// TransitionRejections counts refused transitions by reason.
	TransitionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "sessions",
		Name:      "transition_rejections_total",
		Help:      "Refused session transitions by reason.",
	}, []string{"reason"})

	// GeoValidationFailures counts rejected location proofs.
	GeoValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "geo",
		Name:      "validation_failures_total",
		Help:      "Rejected location proofs by reason.",
	}, []string{"reason"})

	// SignaturesCollected counts accepted participant signatures.
	SignaturesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "signatures",
		Name:      "collected_total",
		Help:      "Accepted participant signatures by role.",
	}, []string{"role"})

	// SignaturesExpired counts signature requests expired by the sweeper.
	SignaturesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "signatures",
		Name:      "expired_total",
		Help:      "Signature requests expired before both parties signed.",
	})

	// SettlementSubmissions counts ledger submissions by outcome.
	SettlementSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "settlement",
		Name:      "submissions_total",
		Help:      "Ledger submissions by outcome.",
	}, []string{"outcome"})

	// SettlementRetries counts submission retries.
	SettlementRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "settlement",
		Name:      "retries_total",
		Help:      "Ledger submission retries.",
	})

	// SettlementQueueDepth tracks records waiting for submission.
	SettlementQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "carecred",
		Subsystem: "settlement",
		Name:      "queue_depth",
		Help:      "Records waiting for ledger submission.",
	})

	// ConfirmationLatency observes time from submission to the confirmation
	// threshold.
	ConfirmationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carecred",
		Subsystem: "settlement",
		Name:      "confirmation_seconds",
		Help:      "Seconds from submission until the confirmation threshold.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// CreditsAwarded totals credit amounts awarded to students.
	CreditsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "credits",
		Name:      "awarded_dollars_total",
		Help:      "Total credit dollars awarded.",
	})

	// AlertsRaised counts monitoring alerts by kind.
	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Monitoring alerts raised by kind.",
	}, []string{"kind"})

	// VerificationResults counts verification outcomes.
	VerificationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecred",
		Subsystem: "verification",
		Name:      "results_total",
		Help:      "Verification outcomes.",
	}, []string{"outcome"})
)
