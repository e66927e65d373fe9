package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TransactionType enum values
const (
	TransactionTypeIncome  = "INCOME"
	TransactionTypeExpense = "EXPENSE"
)

// TransactionRecord is a single financial transaction submitted for analysis.
// Immutable once received by the engine.
type TransactionRecord struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Category      string    `json:"category"`
	Type          string    `json:"transaction_type"` // INCOME or EXPENSE
	Timestamp     time.Time `json:"transaction_date"`
	Description   string    `json:"description,omitempty"`
}

// UserStatsSnapshot holds the rolling statistics the profile store supplies
// for a user. Read-only to the engine; may be absent for new users.
type UserStatsSnapshot struct {
	UserID          string  `json:"user_id"`
	MeanSpend       float64 `json:"mean_spend"`
	StddevSpend     float64 `json:"stddev_spend"`
	TxCount24h      int     `json:"tx_count_24h"`
	AvgIntervalSecs float64 `json:"avg_interval_secs"`
}

// Feature vector component indices. Order is part of the model contract:
// any change here is a new feature schema and requires retraining.
const (
	FeatureAmountNormalized = iota
	FeatureHourOfDay
	FeatureDayOfWeek
	FeatureVelocity
	FeatureAmountZScore

	FeatureCount
)

// FeatureNames lists the vector components in contract order.
var FeatureNames = []string{
	"amount_normalized",
	"hour_of_day",
	"day_of_week",
	"velocity",
	"amount_zscore",
}

// FeatureSchemaHash fingerprints the feature order and meaning so a model and
// the vectors fed to it can be checked for agreement.
func FeatureSchemaHash() string {
	var b strings.Builder
	for i, name := range FeatureNames {
		fmt.Fprintf(&b, "%d:%s;", i, name)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// FeatureVector is the fixed-length numeric input to the anomaly model.
type FeatureVector struct {
	Values    []float64 `json:"values"`
	ColdStart bool      `json:"cold_start"`
}

// AnalysisResult is the verdict for one analyzed transaction. Produced once,
// never mutated; audit logging is an external consumer.
type AnalysisResult struct {
	TransactionID     string    `json:"transaction_id"`
	RiskScore         float64   `json:"risk_score"`
	IsFraud           bool      `json:"is_fraud"`
	DetectedAnomalies []string  `json:"detected_anomalies"`
	Confidence        float64   `json:"confidence"`
	ModelVersion      string    `json:"model_version"`
	AnalyzedAt        time.Time `json:"analyzed_at"`
}

// ModelInfo is the read-only reflection of the currently published model.
type ModelInfo struct {
	Version    string    `json:"model_version"`
	ModelType  string    `json:"model_type"`
	TrainedAt  time.Time `json:"trained_at"`
	Features   []string  `json:"features"`
	Threshold  float64   `json:"threshold"`
	SchemaHash string    `json:"feature_schema_hash"`
}

// TransactionEvent is the event published to the Redis stream for async scoring.
type TransactionEvent struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Category      string    `json:"category"`
	Type          string    `json:"transaction_type"`
	Timestamp     time.Time `json:"transaction_date"`
	Description   string    `json:"description,omitempty"`
	RetryCount    int       `json:"retry_count"`
}

// Record converts the queued event back into a transaction record.
func (e *TransactionEvent) Record() *TransactionRecord {
	return &TransactionRecord{
		TransactionID: e.TransactionID,
		UserID:        e.UserID,
		Amount:        e.Amount,
		Category:      e.Category,
		Type:          e.Type,
		Timestamp:     e.Timestamp,
		Description:   e.Description,
	}
}

// FraudAlert is published to Kafka whenever a transaction is flagged.
type FraudAlert struct {
	TransactionID     string    `json:"transaction_id"`
	UserID            string    `json:"user_id"`
	Amount            float64   `json:"amount"`
	RiskScore         float64   `json:"risk_score"`
	DetectedAnomalies []string  `json:"detected_anomalies"`
	ModelVersion      string    `json:"model_version"`
	AnalyzedAt        time.Time `json:"analyzed_at"`
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
