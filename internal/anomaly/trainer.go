package anomaly

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/models"
)

// Trainer fits isolation-forest models from historical feature vectors. It
// touches no shared state: the model is built fully off to the side and only
// a subsequent Manager.Publish makes it live.
type Trainer struct {
	cfg configs.TrainingConfig
}

// NewTrainer creates a trainer from training configuration.
func NewTrainer(cfg configs.TrainingConfig) *Trainer {
	return &Trainer{cfg: cfg}
}

// Train fits a model unsupervised on the given vectors. labels, when present
// and covering both classes, are used only to calibrate the decision
// threshold, never for supervised fitting. Fails with InsufficientDataError
// below the configured minimum sample count.
func (t *Trainer) Train(samples []*models.FeatureVector, labels []bool) (*Model, error) {
	if len(samples) < t.cfg.MinSamples {
		return nil, &InsufficientDataError{Samples: len(samples), Min: t.cfg.MinSamples}
	}

	matrix := make([][]float64, len(samples))
	for i, fv := range samples {
		if len(fv.Values) != models.FeatureCount {
			return nil, &ModelLoadError{
				Reason: fmt.Sprintf("training sample %d has %d features, schema requires %d", i, len(fv.Values), models.FeatureCount),
			}
		}
		matrix[i] = fv.Values
	}

	start := time.Now()
	rng := rand.New(rand.NewSource(t.cfg.Seed))
	f := fitForest(matrix, t.cfg.Trees, t.cfg.SubsampleSize, rng)

	// Calibrate the [0,1] rescaling from the training score distribution.
	raw := make([]float64, len(matrix))
	for i, x := range matrix {
		raw[i] = f.rawScore(x)
	}
	scaleMin, scaleMax := minMax(raw)
	degenerate := scaleMax <= scaleMin
	if degenerate {
		// Identical scores across the training set; keep a usable range.
		scaleMax = scaleMin + 1
	}

	calibrated := make([]float64, len(raw))
	for i, s := range raw {
		calibrated[i] = (s - scaleMin) / (scaleMax - scaleMin)
	}

	threshold := t.calibrateThreshold(calibrated, labels, degenerate)

	model := &Model{
		version:    fmt.Sprintf("iforest-%s", uuid.NewString()[:8]),
		trainedAt:  time.Now().UTC(),
		schemaHash: models.FeatureSchemaHash(),
		threshold:  threshold,
		forest:     f,
		scaleMin:   scaleMin,
		scaleMax:   scaleMax,
	}

	log.Info().
		Str("model_version", model.version).
		Int("samples", len(samples)).
		Int("trees", t.cfg.Trees).
		Float64("threshold", threshold).
		Dur("duration", time.Since(start)).
		Msg("Model trained")

	return model, nil
}

// calibrateThreshold picks the decision threshold from the calibrated score
// distribution: the configured percentile by default, or the midpoint between
// the class score means when usable labels are supplied. A degenerate
// distribution carries no signal, so the configured fallback applies.
func (t *Trainer) calibrateThreshold(scores []float64, labels []bool, degenerate bool) float64 {
	if degenerate {
		return t.clampThreshold(t.cfg.FallbackThreshold)
	}

	threshold := percentile(scores, t.cfg.ThresholdPercentile)

	if len(labels) == len(scores) {
		var fraudSum, legitSum float64
		var fraudN, legitN int
		for i, isFraud := range labels {
			if isFraud {
				fraudSum += scores[i]
				fraudN++
			} else {
				legitSum += scores[i]
				legitN++
			}
		}
		if fraudN > 0 && legitN > 0 {
			mid := (fraudSum/float64(fraudN) + legitSum/float64(legitN)) / 2
			threshold = mid
		}
	}

	return t.clampThreshold(threshold)
}

// clampThreshold bounds the threshold: Manager.Publish rejects anything
// outside (0, 1).
func (t *Trainer) clampThreshold(threshold float64) float64 {
	if threshold < t.cfg.ThresholdMin {
		threshold = t.cfg.ThresholdMin
	}
	if threshold > t.cfg.ThresholdMax {
		threshold = t.cfg.ThresholdMax
	}
	return threshold
}

func percentile(scores []float64, p float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted))*p/100) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func minMax(values []float64) (float64, float64) {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
