package profile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/internal/models"
	"github.com/fingaurd/fraud-engine/internal/queue"
)

const statsCachePrefix = "user_stats:"

// CachedStore is a read-through Redis cache in front of another Store. Cache
// failures degrade to the inner store, never to an error.
type CachedStore struct {
	inner Store
	cache *queue.CacheClient
	ttl   time.Duration
}

// NewCachedStore wraps a store with a Redis cache
func NewCachedStore(inner Store, cache *queue.CacheClient, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, cache: cache, ttl: ttl}
}

// Stats returns cached statistics when fresh, falling back to the inner store.
func (s *CachedStore) Stats(ctx context.Context, userID string) (*models.UserStatsSnapshot, error) {
	key := statsCachePrefix + userID

	var cached models.UserStatsSnapshot
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	snapshot, err := s.inner.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, snapshot, s.ttl); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to cache user stats")
	}

	return snapshot, nil
}
