package anomaly

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fingaurd/fraud-engine/internal/models"
)

// ModelType identifies the estimator family in model-info responses.
const ModelType = "isolation_forest"

// Model is an immutable trained anomaly model plus its metadata. It is never
// mutated after training, so concurrent scoring needs no locking.
type Model struct {
	version    string
	trainedAt  time.Time
	schemaHash string
	threshold  float64
	forest     *forest
	scaleMin   float64
	scaleMax   float64
}

// Version returns the model version string.
func (m *Model) Version() string { return m.version }

// TrainedAt returns when the model was fitted.
func (m *Model) TrainedAt() time.Time { return m.trainedAt }

// SchemaHash returns the feature schema fingerprint the model was trained on.
func (m *Model) SchemaHash() string { return m.schemaHash }

// Threshold returns the calibrated fraud decision threshold.
func (m *Model) Threshold() float64 { return m.threshold }

// Score maps a feature vector to an anomaly score in [0, 1], higher = more
// anomalous. The raw path-length measure is rescaled with the calibration
// captured at training time so thresholds stay stable across retrains.
func (m *Model) Score(fv *models.FeatureVector) (float64, error) {
	if len(fv.Values) != models.FeatureCount {
		return 0, &ModelLoadError{
			Reason: fmt.Sprintf("feature vector length %d does not match trained schema length %d", len(fv.Values), models.FeatureCount),
		}
	}

	raw := m.forest.rawScore(fv.Values)
	scaled := (raw - m.scaleMin) / (m.scaleMax - m.scaleMin)
	if scaled < 0 {
		return 0, nil
	}
	if scaled > 1 {
		return 1, nil
	}
	return scaled, nil
}

// Info returns the read-only reflection of this model.
func (m *Model) Info() models.ModelInfo {
	return models.ModelInfo{
		Version:    m.version,
		ModelType:  ModelType,
		TrainedAt:  m.trainedAt,
		Features:   models.FeatureNames,
		Threshold:  m.threshold,
		SchemaHash: m.schemaHash,
	}
}

// modelSnapshot is the serialized form persisted by the model repository.
type modelSnapshot struct {
	Version    string    `json:"version"`
	TrainedAt  time.Time `json:"trained_at"`
	SchemaHash string    `json:"schema_hash"`
	Threshold  float64   `json:"threshold"`
	Forest     *forest   `json:"forest"`
	ScaleMin   float64   `json:"scale_min"`
	ScaleMax   float64   `json:"scale_max"`
}

// Encode serializes the model for persistence.
func (m *Model) Encode() ([]byte, error) {
	snap := modelSnapshot{
		Version:    m.version,
		TrainedAt:  m.trainedAt,
		SchemaHash: m.schemaHash,
		Threshold:  m.threshold,
		Forest:     m.forest,
		ScaleMin:   m.scaleMin,
		ScaleMax:   m.scaleMax,
	}
	return json.Marshal(snap)
}

// Decode deserializes a persisted model, failing fast with ModelLoadError on
// malformed payloads or a feature schema that no longer matches this build.
func Decode(payload []byte) (*Model, error) {
	var snap modelSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, &ModelLoadError{Reason: "malformed model payload", Err: err}
	}

	if snap.Forest == nil || len(snap.Forest.Trees) == 0 {
		return nil, &ModelLoadError{Reason: "model payload contains no trees"}
	}
	if snap.Forest.SubsampleSize < 2 {
		return nil, &ModelLoadError{Reason: fmt.Sprintf("invalid subsample size %d", snap.Forest.SubsampleSize)}
	}
	for i, tree := range snap.Forest.Trees {
		if err := validateTree(tree); err != nil {
			return nil, &ModelLoadError{Reason: fmt.Sprintf("tree %d: %v", i, err)}
		}
	}
	if snap.SchemaHash != models.FeatureSchemaHash() {
		return nil, &ModelLoadError{
			Reason: fmt.Sprintf("feature schema hash %q does not match current schema %q", snap.SchemaHash, models.FeatureSchemaHash()),
		}
	}
	if snap.Threshold <= 0 || snap.Threshold >= 1 {
		return nil, &ModelLoadError{Reason: fmt.Sprintf("threshold %f out of range (0, 1)", snap.Threshold)}
	}
	if snap.ScaleMax <= snap.ScaleMin {
		return nil, &ModelLoadError{Reason: "invalid score calibration range"}
	}

	return &Model{
		version:    snap.Version,
		trainedAt:  snap.TrainedAt,
		schemaHash: snap.SchemaHash,
		threshold:  snap.Threshold,
		forest:     snap.Forest,
		scaleMin:   snap.ScaleMin,
		scaleMax:   snap.ScaleMax,
	}, nil
}

// validateTree checks a deserialized tree so scoring cannot walk out of the
// feature schema or into a half-built node.
func validateTree(node *treeNode) error {
	if node == nil {
		return fmt.Errorf("nil node")
	}
	if node.Left == nil && node.Right == nil {
		return nil
	}
	if node.Left == nil || node.Right == nil {
		return fmt.Errorf("internal node missing a child")
	}
	if node.SplitAttr < 0 || node.SplitAttr >= models.FeatureCount {
		return fmt.Errorf("split attribute %d outside feature schema", node.SplitAttr)
	}
	if err := validateTree(node.Left); err != nil {
		return err
	}
	return validateTree(node.Right)
}
