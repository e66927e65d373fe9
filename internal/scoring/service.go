package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/internal/anomaly"
	"github.com/fingaurd/fraud-engine/internal/features"
	"github.com/fingaurd/fraud-engine/internal/metrics"
	"github.com/fingaurd/fraud-engine/internal/models"
	"github.com/fingaurd/fraud-engine/internal/profile"
)

// AlertPublisher publishes alerts for flagged transactions.
type AlertPublisher interface {
	Publish(alert *models.FraudAlert) error
}

// TrainingSource supplies historical feature vectors and their fraud flags.
// A zero window or limit means the source's configured default.
type TrainingSource interface {
	Samples(ctx context.Context, window time.Duration, limit int) ([]*models.FeatureVector, []bool, error)
}

// TrainOptions override the configured training-set bounds for one run.
type TrainOptions struct {
	SampleWindow time.Duration
	SampleLimit  int
}

// ModelStore persists trained models across restarts.
type ModelStore interface {
	Save(ctx context.Context, model *anomaly.Model) error
}

// Service runs the full analysis pipeline: feature extraction, anomaly
// scoring against the published model snapshot, and the rule-based decision.
type Service struct {
	extractor *features.Extractor
	profiles  profile.Store
	manager   *anomaly.Manager
	trainer   *anomaly.Trainer
	engine    *DecisionEngine

	source TrainingSource // nil when the process cannot train
	store  ModelStore     // nil when persistence is disabled
	alerts AlertPublisher // nil when alerting is disabled
}

// NewService wires the analysis pipeline
func NewService(
	extractor *features.Extractor,
	profiles profile.Store,
	manager *anomaly.Manager,
	trainer *anomaly.Trainer,
	engine *DecisionEngine,
) *Service {
	return &Service{
		extractor: extractor,
		profiles:  profiles,
		manager:   manager,
		trainer:   trainer,
		engine:    engine,
	}
}

// WithTraining enables the train operation backed by the given sample source
// and optional snapshot store.
func (s *Service) WithTraining(source TrainingSource, store ModelStore) *Service {
	s.source = source
	s.store = store
	return s
}

// WithAlerts enables alert publication for flagged transactions.
func (s *Service) WithAlerts(alerts AlertPublisher) *Service {
	s.alerts = alerts
	return s
}

// Analyze scores one transaction against the currently published model. The
// model snapshot is taken once, so a concurrent publish cannot mix versions
// within this analysis.
func (s *Service) Analyze(ctx context.Context, tx *models.TransactionRecord) (*models.AnalysisResult, error) {
	start := time.Now()

	model, err := s.manager.Current()
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	stats, err := s.profiles.Stats(ctx, tx.UserID)
	if err != nil {
		if !errors.Is(err, profile.ErrStatsNotFound) {
			// Profile store trouble is not the caller's fault; degrade to a
			// cold-start analysis instead of failing the request.
			log.Warn().Err(err).Str("user_id", tx.UserID).Msg("Profile store unavailable, degrading to cold start")
		}
		stats = nil
	}

	fv, err := s.extractor.Extract(tx, stats)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	anomalyScore, err := model.Score(fv)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := s.engine.Decide(tx.TransactionID, fv, anomalyScore, model)

	metrics.RiskScore.Observe(result.RiskScore)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if result.IsFraud {
		metrics.AnalysesTotal.WithLabelValues("fraud").Inc()
		s.publishAlert(tx, result)
	} else {
		metrics.AnalysesTotal.WithLabelValues("ok").Inc()
	}

	log.Debug().
		Str("transaction_id", tx.TransactionID).
		Float64("risk_score", result.RiskScore).
		Bool("is_fraud", result.IsFraud).
		Str("model_version", result.ModelVersion).
		Msg("Transaction analyzed")

	return result, nil
}

// BatchItem is the per-transaction outcome of a batch analysis.
type BatchItem struct {
	TransactionID string
	Result        *models.AnalysisResult
	Err           error
}

// AnalyzeBatch analyzes transactions independently, preserving input order.
// One failing item never affects the others.
func (s *Service) AnalyzeBatch(ctx context.Context, txs []*models.TransactionRecord) []BatchItem {
	items := make([]BatchItem, len(txs))
	for i, tx := range txs {
		result, err := s.Analyze(ctx, tx)
		items[i] = BatchItem{TransactionID: tx.TransactionID, Result: result, Err: err}
	}
	return items
}

// ModelInfo reflects the currently published model.
func (s *Service) ModelInfo() (models.ModelInfo, error) {
	return s.manager.Info()
}

// Ready reports whether a model is published and analyze traffic can be served.
func (s *Service) Ready() bool {
	return s.manager.Ready()
}

// Train fits a fresh model from historical samples and publishes it on
// success. A failed run leaves the published model untouched.
func (s *Service) Train(ctx context.Context, opts TrainOptions) (models.ModelInfo, error) {
	if s.source == nil {
		return models.ModelInfo{}, fmt.Errorf("training is not enabled on this instance")
	}

	start := time.Now()

	samples, labels, err := s.source.Samples(ctx, opts.SampleWindow, opts.SampleLimit)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		return models.ModelInfo{}, fmt.Errorf("failed to assemble training samples: %w", err)
	}

	model, err := s.trainer.Train(samples, labels)
	if err != nil {
		var insufficient *anomaly.InsufficientDataError
		if errors.As(err, &insufficient) {
			metrics.TrainingRuns.WithLabelValues("insufficient_data").Inc()
		} else {
			metrics.TrainingRuns.WithLabelValues("error").Inc()
		}
		return models.ModelInfo{}, err
	}

	if s.store != nil {
		if err := s.store.Save(ctx, model); err != nil {
			// The snapshot is an availability optimization for restarts; the
			// freshly trained model still goes live.
			log.Error().Err(err).Str("model_version", model.Version()).Msg("Failed to persist model snapshot")
		}
	}

	if err := s.manager.Publish(model); err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		return models.ModelInfo{}, err
	}

	metrics.TrainingRuns.WithLabelValues("published").Inc()
	metrics.TrainingDuration.Observe(time.Since(start).Seconds())

	return model.Info(), nil
}

// Rollback restores the previously published model.
func (s *Service) Rollback() (models.ModelInfo, error) {
	model, err := s.manager.Rollback()
	if err != nil {
		return models.ModelInfo{}, err
	}
	return model.Info(), nil
}

func (s *Service) publishAlert(tx *models.TransactionRecord, result *models.AnalysisResult) {
	if s.alerts == nil {
		return
	}

	alert := &models.FraudAlert{
		TransactionID:     result.TransactionID,
		UserID:            tx.UserID,
		Amount:            tx.Amount,
		RiskScore:         result.RiskScore,
		DetectedAnomalies: result.DetectedAnomalies,
		ModelVersion:      result.ModelVersion,
		AnalyzedAt:        result.AnalyzedAt,
	}

	if err := s.alerts.Publish(alert); err != nil {
		log.Error().Err(err).Str("transaction_id", result.TransactionID).Msg("Failed to publish fraud alert")
	}
}
