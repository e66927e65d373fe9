// Package metrics exposes Prometheus instrumentation for the scoring and
// training paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts completed analyses by outcome (ok, fraud, error).
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraud_engine",
		Name:      "analyses_total",
		Help:      "Total transaction analyses by outcome.",
	}, []string{"outcome"})

	// RiskScore observes the distribution of computed risk scores.
	RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraud_engine",
		Name:      "risk_score",
		Help:      "Distribution of computed risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// AnalysisDuration observes wall time of single-transaction analyses.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraud_engine",
		Name:      "analysis_duration_seconds",
		Help:      "Wall time of single-transaction analyses.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// TrainingRuns counts training attempts by outcome (published,
	// insufficient_data, error).
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraud_engine",
		Name:      "training_runs_total",
		Help:      "Model training attempts by outcome.",
	}, []string{"outcome"})

	// TrainingDuration observes wall time of training runs.
	TrainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraud_engine",
		Name:      "training_duration_seconds",
		Help:      "Wall time of model training runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// StreamLag tracks pending messages on the transaction stream.
	StreamLag = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_engine",
		Name:      "stream_pending_messages",
		Help:      "Pending messages on the transaction stream.",
	})
)
