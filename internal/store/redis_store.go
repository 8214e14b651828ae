package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/speakup/notification-engine/internal/domain"
)

const keyPrefix = "notifications:viewer:"

// RedisStore persists viewer state as JSON values in Redis, keyed by viewer
// identity. State survives process restarts and is shared by concurrent
// sessions of the same viewer.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Load fetches and decodes the viewer's state. Absence and decode failures
// both surface as a nil state so callers fall back to a fresh one.
func (s *RedisStore) Load(ctx context.Context, viewerKey string) (*domain.ViewerState, error) {
	raw, err := s.client.Get(ctx, keyPrefix+viewerKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.ViewerState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("discarding undecodable viewer state", zap.String("viewer", viewerKey), zap.Error(err))
		return nil, nil
	}
	if state.DismissedIDs == nil {
		state.DismissedIDs = map[string]bool{}
	}
	return &state, nil
}

// Save encodes and writes the state. No TTL: viewer history is kept until the
// viewer's own actions shrink it.
func (s *RedisStore) Save(ctx context.Context, viewerKey string, state *domain.ViewerState) error {
	if state == nil {
		return nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+viewerKey, raw, 0).Err()
}
