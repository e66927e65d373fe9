package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/internal/anomaly"
	"github.com/fingaurd/fraud-engine/internal/models"
)

// ErrNoModelSnapshot indicates no trained model has been persisted yet.
var ErrNoModelSnapshot = errors.New("no model snapshot found")

// ModelRepository persists trained model snapshots so freshly started
// processes can serve without retraining.
type ModelRepository struct {
	db *Database
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *Database) *ModelRepository {
	return &ModelRepository{db: db}
}

// Save persists a trained model snapshot
func (r *ModelRepository) Save(ctx context.Context, model *anomaly.Model) error {
	payload, err := model.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	query := `
		INSERT INTO model_snapshots (version, model_type, trained_at, schema_hash, threshold, features, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (version) DO NOTHING
	`

	_, err = r.db.Pool.Exec(ctx, query,
		model.Version(),
		anomaly.ModelType,
		model.TrainedAt(),
		model.SchemaHash(),
		model.Threshold(),
		pq.Array(models.FeatureNames),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save model snapshot: %w", err)
	}

	log.Info().
		Str("version", model.Version()).
		Float64("threshold", model.Threshold()).
		Msg("Model snapshot persisted")

	return nil
}

// LoadLatest loads the most recently trained model snapshot
func (r *ModelRepository) LoadLatest(ctx context.Context) (*anomaly.Model, error) {
	query := `
		SELECT payload
		FROM model_snapshots
		WHERE schema_hash = $1
		ORDER BY trained_at DESC
		LIMIT 1
	`

	var payload []byte
	err := r.db.Pool.QueryRow(ctx, query, models.FeatureSchemaHash()).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoModelSnapshot
		}
		return nil, fmt.Errorf("failed to load model snapshot: %w", err)
	}

	model, err := anomaly.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode model snapshot: %w", err)
	}

	return model, nil
}
