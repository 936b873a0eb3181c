// Package checkpoint persists per-execution step results in Redis so a
// re-driven workflow execution never re-runs a completed step.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// retention matches the queue's task retention: once asynq forgets a task,
// its checkpoints are dead weight.
const retention = 24 * time.Hour

// RedisStore stores checkpoints in one hash per execution, keyed by step
// name. The hash lives in the same Redis the queue and limiter use, so
// checkpoint state survives a worker crash.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Get returns the recorded result for (executionID, step), or nil when the
// step has not completed yet.
func (s *RedisStore) Get(ctx context.Context, executionID, step string) ([]byte, error) {
	data, err := s.redis.HGet(ctx, key(executionID), step).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint %s/%s: %w", executionID, step, err)
	}
	return data, nil
}

// Save durably records a step result before the workflow advances.
func (s *RedisStore) Save(ctx context.Context, executionID, step string, data []byte) error {
	k := key(executionID)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, k, step, data)
	pipe.Expire(ctx, k, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", executionID, step, err)
	}
	return nil
}

func key(executionID string) string {
	return fmt.Sprintf("checkpoint:%s", executionID)
}
