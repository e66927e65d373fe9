// Package features turns raw transactions plus per-user rolling statistics
// into the fixed-length numeric vectors the anomaly model consumes.
package features

import (
	"fmt"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/models"
)

// InvalidInputError reports a malformed transaction. Rejected immediately,
// never retried.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

// Extractor derives feature vectors. It holds only configuration and is safe
// for concurrent use.
type Extractor struct {
	referenceCeiling float64
	expectedVelocity float64
	stddevEpsilon    float64
}

// NewExtractor creates an extractor from engine configuration.
func NewExtractor(cfg configs.EngineConfig) *Extractor {
	return &Extractor{
		referenceCeiling: cfg.ReferenceCeiling,
		expectedVelocity: cfg.ExpectedVelocity,
		stddevEpsilon:    cfg.StddevEpsilon,
	}
}

// Extract builds the feature vector for a transaction. stats may be nil for a
// user with no history; the vector is then marked cold-start with a zero
// z-score and zero velocity. Pure function of its inputs.
func (e *Extractor) Extract(tx *models.TransactionRecord, stats *models.UserStatsSnapshot) (*models.FeatureVector, error) {
	if tx.Amount <= 0 {
		return nil, &InvalidInputError{Field: "amount", Reason: "must be greater than zero"}
	}
	if tx.Timestamp.IsZero() {
		return nil, &InvalidInputError{Field: "transaction_date", Reason: "missing or unparseable"}
	}

	ts := tx.Timestamp.UTC()

	values := make([]float64, models.FeatureCount)
	values[models.FeatureAmountNormalized] = clamp01(tx.Amount / e.referenceCeiling)
	values[models.FeatureHourOfDay] = float64(ts.Hour())
	values[models.FeatureDayOfWeek] = float64(ts.Weekday())

	fv := &models.FeatureVector{Values: values}

	if stats == nil {
		fv.ColdStart = true
		return fv, nil
	}

	values[models.FeatureVelocity] = float64(stats.TxCount24h) / e.expectedVelocity

	stddev := stats.StddevSpend
	if stddev < e.stddevEpsilon {
		stddev = e.stddevEpsilon
	}
	values[models.FeatureAmountZScore] = (tx.Amount - stats.MeanSpend) / stddev

	return fv, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
