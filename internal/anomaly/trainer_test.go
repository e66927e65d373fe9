package anomaly

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/models"
)

func testTrainingConfig() configs.TrainingConfig {
	return configs.TrainingConfig{
		MinSamples:          10,
		Trees:               50,
		SubsampleSize:       128,
		ThresholdPercentile: 95,
		FallbackThreshold:   0.7,
		ThresholdMin:        0.05,
		ThresholdMax:        0.95,
		Seed:                42,
	}
}

func trainingVectors(n int) []*models.FeatureVector {
	rng := rand.New(rand.NewSource(7))
	center := []float64{0.015, 14, 3, 0.5, 0.2}
	vectors := make([]*models.FeatureVector, n)
	for i := range vectors {
		values := make([]float64, models.FeatureCount)
		for d, c := range center {
			values[d] = c + rng.NormFloat64()*0.05*(c+1)
		}
		vectors[i] = &models.FeatureVector{Values: values}
	}
	return vectors
}

func TestTrainInsufficientData(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	_, err := trainer.Train(trainingVectors(9), nil)

	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 9, insufficient.Samples)
	assert.Equal(t, 10, insufficient.Min)
}

func TestTrain(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	model, err := trainer.Train(trainingVectors(500), nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(model.Version(), "iforest-"))
	assert.Equal(t, models.FeatureSchemaHash(), model.SchemaHash())
	assert.False(t, model.TrainedAt().IsZero())
	assert.Greater(t, model.Threshold(), 0.0)
	assert.Less(t, model.Threshold(), 1.0)

	info := model.Info()
	assert.Equal(t, ModelType, info.ModelType)
	assert.Equal(t, models.FeatureNames, info.Features)
}

func TestTrainedModelSeparatesOutliers(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	model, err := trainer.Train(trainingVectors(500), nil)
	require.NoError(t, err)

	inlier, err := model.Score(trainingVectors(1)[0])
	require.NoError(t, err)

	outlier, err := model.Score(&models.FeatureVector{Values: []float64{1.0, 3, 6, 8, 15}})
	require.NoError(t, err)

	assert.Greater(t, outlier, inlier)
	assert.GreaterOrEqual(t, outlier, 0.0)
	assert.LessOrEqual(t, outlier, 1.0)
}

func TestTrainRejectsMalformedSamples(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	vectors := trainingVectors(20)
	vectors[3] = &models.FeatureVector{Values: []float64{1, 2}}

	_, err := trainer.Train(vectors, nil)
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestTrainLabelCalibration(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	vectors := trainingVectors(400)
	labels := make([]bool, len(vectors))
	// Label the far outliers fraudulent so the classes have distinct score
	// means.
	for i := 380; i < 400; i++ {
		vectors[i] = &models.FeatureVector{Values: []float64{1.0, 3, 6, 8, 15}}
		labels[i] = true
	}

	model, err := trainer.Train(vectors, labels)
	require.NoError(t, err)

	unsupervised, err := NewTrainer(testTrainingConfig()).Train(vectors, nil)
	require.NoError(t, err)

	// The midpoint calibration should land below the pure 95th-percentile
	// threshold of the same distribution, which sits inside the outlier mass.
	assert.NotEqual(t, unsupervised.Threshold(), model.Threshold())
	assert.GreaterOrEqual(t, model.Threshold(), 0.05)
	assert.LessOrEqual(t, model.Threshold(), 0.95)
}

func TestTrainDegenerateSamplesUseFallbackThreshold(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	// Identical vectors give every sample the same score; no percentile can
	// be calibrated from that, so the configured fallback takes over.
	vectors := make([]*models.FeatureVector, 50)
	for i := range vectors {
		vectors[i] = &models.FeatureVector{Values: []float64{0.1, 12, 2, 0.5, 0.0}}
	}

	model, err := trainer.Train(vectors, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.7, model.Threshold())
}

func TestTrainIsReproducible(t *testing.T) {
	vectors := trainingVectors(200)

	a, err := NewTrainer(testTrainingConfig()).Train(vectors, nil)
	require.NoError(t, err)
	b, err := NewTrainer(testTrainingConfig()).Train(vectors, nil)
	require.NoError(t, err)

	sample := &models.FeatureVector{Values: []float64{0.5, 2, 6, 3, 7}}
	sa, err := a.Score(sample)
	require.NoError(t, err)
	sb, err := b.Score(sample)
	require.NoError(t, err)

	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Threshold(), b.Threshold())
}

func TestModelEncodeDecodeRoundTrip(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())
	model, err := trainer.Train(trainingVectors(200), nil)
	require.NoError(t, err)

	payload, err := model.Encode()
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, model.Version(), decoded.Version())
	assert.Equal(t, model.Threshold(), decoded.Threshold())

	sample := &models.FeatureVector{Values: []float64{0.2, 10, 2, 1, 2}}
	want, err := model.Score(sample)
	require.NoError(t, err)
	got, err := decoded.Score(sample)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeRejectsCorruptPayloads(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())
	model, err := trainer.Train(trainingVectors(200), nil)
	require.NoError(t, err)

	valid, err := model.Encode()
	require.NoError(t, err)

	withField := func(key string, value interface{}) []byte {
		var snap map[string]interface{}
		require.NoError(t, json.Unmarshal(valid, &snap))
		snap[key] = value
		payload, err := json.Marshal(snap)
		require.NoError(t, err)
		return payload
	}

	corruptForest := func(tree map[string]interface{}) interface{} {
		return map[string]interface{}{
			"trees":          []interface{}{tree},
			"subsample_size": 2,
		}
	}

	cases := map[string][]byte{
		"malformed json":         []byte("{not json"),
		"empty payload":          []byte("{}"),
		"bad schema hash":        withField("schema_hash", "deadbeef"),
		"threshold out of range": withField("threshold", 1.5),
		"inverted scale range":   withField("scale_max", -10.0),
		"split attribute out of schema": withField("forest", corruptForest(map[string]interface{}{
			"a": 9, "v": 0.5,
			"l": map[string]interface{}{"n": 1},
			"r": map[string]interface{}{"n": 1},
		})),
		"internal node missing child": withField("forest", corruptForest(map[string]interface{}{
			"a": 1, "v": 0.5,
			"l": map[string]interface{}{"n": 1},
		})),
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			var loadErr *ModelLoadError
			assert.ErrorAs(t, err, &loadErr)
		})
	}
}
