// Package scoring combines the anomaly model's output with deterministic rule
// checks into a final risk verdict, and hosts the analyze pipeline built on
// top of it.
package scoring

import (
	"math"
	"time"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/anomaly"
	"github.com/fingaurd/fraud-engine/internal/models"
)

// Anomaly tags attached to flagged results.
const (
	TagAmountOutlier = "amount_outlier"
	TagVelocitySpike = "velocity_spike"
	TagOddHours      = "odd_hours"
)

// Rule is one deterministic scoring rule. Rules are evaluated in order and
// are independent of each other; adding a rule never touches the decision
// loop.
type Rule struct {
	ID       string
	Tag      string
	Boost    float64
	Evaluate func(fv *models.FeatureVector) bool
}

// DecisionEngine layers rule boosts on top of the learned anomaly score and
// derives the fraud decision and confidence.
type DecisionEngine struct {
	rules            []Rule
	coldStartPenalty float64
}

// NewDecisionEngine builds the engine with the default rule set from
// configuration.
func NewDecisionEngine(cfg configs.EngineConfig) *DecisionEngine {
	return &DecisionEngine{
		coldStartPenalty: cfg.ColdStartPenalty,
		rules: []Rule{
			{
				ID:    "RULE_AMOUNT_OUTLIER",
				Tag:   TagAmountOutlier,
				Boost: cfg.OutlierBoost,
				Evaluate: func(fv *models.FeatureVector) bool {
					return math.Abs(fv.Values[models.FeatureAmountZScore]) >= cfg.OutlierSigma
				},
			},
			{
				ID:    "RULE_VELOCITY_SPIKE",
				Tag:   TagVelocitySpike,
				Boost: cfg.VelocityBoost,
				Evaluate: func(fv *models.FeatureVector) bool {
					return fv.Values[models.FeatureVelocity] >= cfg.VelocitySpikeFactor
				},
			},
			{
				ID:    "RULE_ODD_HOURS",
				Tag:   TagOddHours,
				Boost: cfg.OddHourBoost,
				Evaluate: func(fv *models.FeatureVector) bool {
					return fv.Values[models.FeatureHourOfDay] < 5
				},
			},
		},
	}
}

// Decide produces the analysis result for one transaction. Scores exactly
// equal to the threshold are classified as fraud.
func (e *DecisionEngine) Decide(transactionID string, fv *models.FeatureVector, anomalyScore float64, model *anomaly.Model) *models.AnalysisResult {
	riskScore := anomalyScore
	tags := make([]string, 0, len(e.rules))

	for _, rule := range e.rules {
		if rule.Evaluate(fv) {
			riskScore += rule.Boost
			tags = append(tags, rule.Tag)
		}
	}
	if riskScore > 1 {
		riskScore = 1
	}
	// Round before comparing so the reported score and the verdict agree at
	// the threshold boundary.
	riskScore = round4(riskScore)

	threshold := model.Threshold()
	isFraud := riskScore >= threshold

	confidence := confidenceFor(riskScore, threshold)
	if fv.ColdStart {
		// Reduced statistical basis; the anomaly-model contribution to the
		// risk score itself is not suppressed.
		confidence *= e.coldStartPenalty
	}

	return &models.AnalysisResult{
		TransactionID:     transactionID,
		RiskScore:         riskScore,
		IsFraud:           isFraud,
		DetectedAnomalies: tags,
		Confidence:        round4(confidence),
		ModelVersion:      model.Version(),
		AnalyzedAt:        time.Now().UTC(),
	}
}

// confidenceFor maps the distance between risk score and threshold to [0,1]:
// 0.5 at the boundary, approaching 1 at either extreme of the score range.
func confidenceFor(riskScore, threshold float64) float64 {
	denom := threshold
	if riskScore >= threshold {
		denom = 1 - threshold
	}
	c := 0.5 + 0.5*math.Abs(riskScore-threshold)/denom
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
