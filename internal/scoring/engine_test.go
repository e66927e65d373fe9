package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/anomaly"
	"github.com/fingaurd/fraud-engine/internal/models"
)

func testEngineConfig() configs.EngineConfig {
	return configs.EngineConfig{
		ReferenceCeiling:    10000,
		ExpectedVelocity:    10,
		StddevEpsilon:       0.01,
		OutlierBoost:        0.15,
		OutlierSigma:        3.0,
		VelocityBoost:       0.10,
		VelocitySpikeFactor: 3.0,
		OddHourBoost:        0.05,
		ColdStartPenalty:    0.5,
	}
}

// decodedModel builds a minimal valid model with a fixed threshold.
func decodedModel(t *testing.T, threshold float64) *anomaly.Model {
	t.Helper()
	payload := fmt.Sprintf(
		`{"version":"test-model","trained_at":"2025-06-01T00:00:00Z","schema_hash":%q,"threshold":%g,"forest":{"trees":[{"n":2}],"subsample_size":2},"scale_min":0,"scale_max":1}`,
		models.FeatureSchemaHash(), threshold)
	model, err := anomaly.Decode([]byte(payload))
	require.NoError(t, err)
	return model
}

// benignVector is a daytime transaction with no statistical anomalies.
func benignVector() *models.FeatureVector {
	values := make([]float64, models.FeatureCount)
	values[models.FeatureAmountNormalized] = 0.015
	values[models.FeatureHourOfDay] = 14
	values[models.FeatureDayOfWeek] = 3
	values[models.FeatureVelocity] = 0.5
	values[models.FeatureAmountZScore] = 0.2
	return &models.FeatureVector{Values: values}
}

func TestDecideBenign(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	result := engine.Decide("tx-1", benignVector(), 0.3, model)

	assert.Equal(t, "tx-1", result.TransactionID)
	assert.Equal(t, 0.3, result.RiskScore)
	assert.False(t, result.IsFraud)
	assert.Empty(t, result.DetectedAnomalies)
	assert.Equal(t, "test-model", result.ModelVersion)
	assert.False(t, result.AnalyzedAt.IsZero())
	// distance 0.4 below a 0.7 threshold
	assert.InDelta(t, 0.5+0.5*0.4/0.7, result.Confidence, 1e-3)
}

func TestDecideThresholdBoundaryIsFraud(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	result := engine.Decide("tx-1", benignVector(), 0.7, model)

	assert.True(t, result.IsFraud)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestDecideRoundsBeforeThresholdComparison(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	// A score just under the threshold rounds up to exactly 0.7; the reported
	// score and the verdict must not disagree.
	result := engine.Decide("tx-1", benignVector(), 0.69996, model)

	assert.Equal(t, 0.7, result.RiskScore)
	assert.True(t, result.IsFraud)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestDecideAmountOutlier(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	// 5000 against a mean of 120 puts the z-score far past three sigma.
	fv := benignVector()
	fv.Values[models.FeatureAmountZScore] = 40.6

	result := engine.Decide("tx-1", fv, 0.6, model)

	assert.True(t, result.IsFraud)
	assert.InDelta(t, 0.75, result.RiskScore, 1e-9)
	assert.Equal(t, []string{TagAmountOutlier}, result.DetectedAnomalies)
}

func TestDecideVelocitySpike(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	fv := benignVector()
	fv.Values[models.FeatureVelocity] = 3.0

	result := engine.Decide("tx-1", fv, 0.2, model)

	assert.False(t, result.IsFraud)
	assert.InDelta(t, 0.3, result.RiskScore, 1e-9)
	assert.Equal(t, []string{TagVelocitySpike}, result.DetectedAnomalies)
}

func TestDecideOddHours(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	fv := benignVector()
	fv.Values[models.FeatureHourOfDay] = 2

	result := engine.Decide("tx-1", fv, 0.2, model)

	assert.InDelta(t, 0.25, result.RiskScore, 1e-9)
	assert.Equal(t, []string{TagOddHours}, result.DetectedAnomalies)
}

func TestDecideRiskScoreCapped(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	fv := benignVector()
	fv.Values[models.FeatureAmountZScore] = 10
	fv.Values[models.FeatureVelocity] = 5
	fv.Values[models.FeatureHourOfDay] = 1

	result := engine.Decide("tx-1", fv, 0.95, model)

	assert.Equal(t, 1.0, result.RiskScore)
	assert.True(t, result.IsFraud)
	assert.Len(t, result.DetectedAnomalies, 3)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestDecideColdStartHalvesConfidence(t *testing.T) {
	engine := NewDecisionEngine(testEngineConfig())
	model := decodedModel(t, 0.7)

	fv := benignVector()
	warm := engine.Decide("tx-1", fv, 0.3, model)

	fv.ColdStart = true
	cold := engine.Decide("tx-1", fv, 0.3, model)

	assert.Equal(t, warm.RiskScore, cold.RiskScore)
	assert.InDelta(t, warm.Confidence*0.5, cold.Confidence, 1e-3)
}
