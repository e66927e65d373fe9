package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/fingaurd/fraud-engine/internal/models"
	"github.com/fingaurd/fraud-engine/internal/repositories"
)

// PostgresStore computes rolling statistics from the external transaction
// history table.
type PostgresStore struct {
	db     *repositories.Database
	window time.Duration
}

// NewPostgresStore creates a store reading the trailing window of history.
func NewPostgresStore(db *repositories.Database, window time.Duration) *PostgresStore {
	return &PostgresStore{db: db, window: window}
}

// Stats returns the rolling statistics for a user, or ErrStatsNotFound when
// the user has no transactions in the window.
func (s *PostgresStore) Stats(ctx context.Context, userID string) (*models.UserStatsSnapshot, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(AVG(amount), 0),
			COALESCE(STDDEV_SAMP(amount), 0),
			COUNT(*) FILTER (WHERE created_at > now() - interval '24 hours'),
			COALESCE(EXTRACT(EPOCH FROM (MAX(created_at) - MIN(created_at))) / NULLIF(COUNT(*) - 1, 0), 0)
		FROM transactions
		WHERE user_id = $1 AND created_at > $2
	`

	var (
		total    int
		snapshot models.UserStatsSnapshot
	)
	snapshot.UserID = userID

	since := time.Now().Add(-s.window)
	err := s.db.Pool.QueryRow(ctx, query, userID, since).Scan(
		&total,
		&snapshot.MeanSpend,
		&snapshot.StddevSpend,
		&snapshot.TxCount24h,
		&snapshot.AvgIntervalSecs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}

	if total == 0 {
		return nil, ErrStatsNotFound
	}

	return &snapshot, nil
}
