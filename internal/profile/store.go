// Package profile supplies per-user rolling statistics to the engine. The
// underlying history is owned by an external system; this package only reads
// it and never writes transaction data.
package profile

import (
	"context"
	"errors"

	"github.com/fingaurd/fraud-engine/internal/models"
)

// ErrStatsNotFound means the user has no usable history (cold start).
var ErrStatsNotFound = errors.New("user stats not found")

// Store is the read interface the engine consumes. Implementations must treat
// ErrStatsNotFound as a normal outcome, not a failure.
type Store interface {
	Stats(ctx context.Context, userID string) (*models.UserStatsSnapshot, error)
}
