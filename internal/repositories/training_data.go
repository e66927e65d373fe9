package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/features"
	"github.com/fingaurd/fraud-engine/internal/models"
)

// TrainingDataSource assembles training samples from historical transactions.
// Per-transaction statistics are computed over each user's prior history only,
// so a sample sees the same view the online path saw at scoring time.
type TrainingDataSource struct {
	db        *Database
	extractor *features.Extractor
	window    time.Duration
	limit     int
}

// NewTrainingDataSource creates a training data source
func NewTrainingDataSource(db *Database, extractor *features.Extractor, cfg configs.TrainingConfig) *TrainingDataSource {
	return &TrainingDataSource{
		db:        db,
		extractor: extractor,
		window:    cfg.SampleWindow,
		limit:     cfg.SampleLimit,
	}
}

// Samples returns feature vectors for recent transactions along with their
// fraud flags. Labels align one-to-one with the returned vectors. A zero
// window or limit falls back to the configured defaults.
func (t *TrainingDataSource) Samples(ctx context.Context, window time.Duration, limit int) ([]*models.FeatureVector, []bool, error) {
	if window <= 0 {
		window = t.window
	}
	if limit <= 0 {
		limit = t.limit
	}

	query := `
		SELECT
			transaction_id,
			user_id,
			amount,
			category,
			transaction_type,
			created_at,
			flagged,
			COUNT(*) OVER w_prior,
			COALESCE(AVG(amount) OVER w_prior, 0),
			COALESCE(STDDEV_SAMP(amount) OVER w_prior, 0),
			COUNT(*) OVER w_24h - 1
		FROM transactions
		WHERE created_at > $1
		WINDOW
			w_prior AS (PARTITION BY user_id ORDER BY created_at
				ROWS BETWEEN UNBOUNDED PRECEDING AND 1 PRECEDING),
			w_24h AS (PARTITION BY user_id ORDER BY created_at
				RANGE BETWEEN INTERVAL '24 hours' PRECEDING AND CURRENT ROW)
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := t.db.Pool.Query(ctx, query, time.Now().Add(-window), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query training data: %w", err)
	}
	defer rows.Close()

	var (
		samples []*models.FeatureVector
		labels  []bool
		skipped int
	)

	for rows.Next() {
		var (
			tx         models.TransactionRecord
			flagged    bool
			priorCount int
			meanSpend  float64
			stddev     float64
			count24h   int
		)

		if err := rows.Scan(
			&tx.TransactionID,
			&tx.UserID,
			&tx.Amount,
			&tx.Category,
			&tx.Type,
			&tx.Timestamp,
			&flagged,
			&priorCount,
			&meanSpend,
			&stddev,
			&count24h,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan training row: %w", err)
		}

		var stats *models.UserStatsSnapshot
		if priorCount > 0 {
			stats = &models.UserStatsSnapshot{
				UserID:      tx.UserID,
				MeanSpend:   meanSpend,
				StddevSpend: stddev,
				TxCount24h:  count24h,
			}
		}

		fv, err := t.extractor.Extract(&tx, stats)
		if err != nil {
			// Historical rows can predate validation; skip rather than abort.
			var invalid *features.InvalidInputError
			if errors.As(err, &invalid) {
				skipped++
				continue
			}
			return nil, nil, err
		}

		samples = append(samples, fv)
		labels = append(labels, flagged)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read training data: %w", err)
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("Skipped invalid historical transactions during sampling")
	}

	log.Info().Int("samples", len(samples)).Msg("Training samples assembled")

	return samples, labels, nil
}
