// Package worker contains the asynq task handlers that drive the three
// song workflows: generate, extend and split-stems. Each handler acquires
// a concurrency slot for the job's owner key, then runs its steps through
// the checkpointed workflow executor so crash-and-retry execution never
// duplicates a side effect.
package worker

import (
	"context"

	"github.com/songlab/api/internal/limiter"
	"github.com/songlab/api/internal/model"
)

// Repository is the narrow persistence surface the workflows depend on.
// Implemented by store.Store.
type Repository interface {
	GetSong(ctx context.Context, id string) (*model.Song, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	SetSongStatus(ctx context.Context, id string, status model.SongStatus) error
	MarkSongProcessing(ctx context.Context, id string) error
	ApplySongResult(ctx context.Context, id, s3Key, thumbnailS3Key string) error
	SetStemKeys(ctx context.Context, id string, keys model.StemKeys) error
	ClearStemKeys(ctx context.Context, id string) error
	DebitCredits(ctx context.Context, userID string, amount int) error
	UpsertCategories(ctx context.Context, songID string, names []string) error
}

// Permit is one acquired concurrency slot.
type Permit interface {
	Release(ctx context.Context)
}

// Semaphore serializes executions per ownership key. Implemented by
// limiter.Limiter.
type Semaphore interface {
	Acquire(ctx context.Context, key string, limit int) (Permit, error)
}

// StatusNotifier pushes song status transitions to connected clients.
// Implemented by the websocket hub.
type StatusNotifier interface {
	BroadcastStatus(songID string, status model.SongStatus)
}

// NewLimiterSemaphore adapts the Redis limiter to the Semaphore interface.
func NewLimiterSemaphore(l *limiter.Limiter) Semaphore {
	return limiterSemaphore{l: l}
}

type limiterSemaphore struct {
	l *limiter.Limiter
}

func (s limiterSemaphore) Acquire(ctx context.Context, key string, limit int) (Permit, error) {
	return s.l.Acquire(ctx, key, limit)
}
