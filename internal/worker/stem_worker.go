package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/limiter"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/workflow"
)

// StemWorker processes split-stems jobs. No credit gating: splitting is
// free. Concurrency is a fixed global pool rather than per-owner.
type StemWorker struct {
	repo        Repository
	backend     client.GenerationBackend
	checkpoints workflow.Store
	semaphore   Semaphore
	hub         StatusNotifier
}

func NewStemWorker(repo Repository, backend client.GenerationBackend, checkpoints workflow.Store, semaphore Semaphore, hub StatusNotifier) *StemWorker {
	return &StemWorker{
		repo:        repo,
		backend:     backend,
		checkpoints: checkpoints,
		semaphore:   semaphore,
		hub:         hub,
	}
}

// stemOutcome is the checkpointed backend result. Any subset of the four
// keys may be present on success.
type stemOutcome struct {
	OK     bool    `json:"ok"`
	Vocals *string `json:"vocals,omitempty"`
	Drums  *string `json:"drums,omitempty"`
	Bass   *string `json:"bass,omitempty"`
	Other  *string `json:"other,omitempty"`
	ErrMsg string  `json:"error,omitempty"`
}

// ProcessTask handles split-stems task processing.
func (w *StemWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.SplitStemsJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal split-stems payload: %w", asynq.SkipRetry)
	}

	log.Printf("Starting split-stems job: song=%s", payload.SongID)

	permit, err := w.semaphore.Acquire(ctx, limiter.StemSplitKey, limiter.StemSplitLimit)
	if err != nil {
		return fmt.Errorf("acquire stem split slot: %w", err)
	}
	defer permit.Release(context.Background())

	run := workflow.NewRun(executionID(ctx, model.JobTypeSplitStems, payload.SongID), w.checkpoints)

	if err := w.process(ctx, run, &payload); err != nil {
		w.compensate(ctx, err, payload.SongID)
		return err
	}

	log.Printf("Split-stems job for song %s finished", payload.SongID)
	return nil
}

func (w *StemWorker) process(ctx context.Context, run *workflow.Run, payload *model.SplitStemsJobPayload) error {
	mixKey, err := workflow.StepResult(run, ctx, "load-song", func(ctx context.Context) (string, error) {
		song, loadErr := w.repo.GetSong(ctx, payload.SongID)
		if loadErr != nil {
			return "", wrapPermanent(loadErr)
		}
		if song.S3Key == nil || *song.S3Key == "" {
			return "", wrapPermanent(model.ErrSongHasNoAudio)
		}
		return *song.S3Key, nil
	})
	if err != nil {
		return err
	}

	outcome, err := workflow.StepResult(run, ctx, "invoke-backend", func(ctx context.Context) (stemOutcome, error) {
		resp, callErr := w.backend.SplitStems(ctx, &client.SplitStemsRequest{MixS3Key: mixKey})
		if callErr != nil {
			log.Printf("Stem split failed for song %s: %v", payload.SongID, callErr)
			return stemOutcome{ErrMsg: callErr.Error()}, nil
		}
		return stemOutcome{
			OK:     true,
			Vocals: resp.VocalsS3Key,
			Drums:  resp.DrumsS3Key,
			Bass:   resp.BassS3Key,
			Other:  resp.OtherS3Key,
		}, nil
	})
	if err != nil {
		return err
	}

	// There is no song status for a failed split; the failure path clears
	// every stem key so a failed split never leaves a partial set.
	return run.Step(ctx, "apply-stems", func(ctx context.Context) error {
		if !outcome.OK {
			return w.repo.ClearStemKeys(ctx, payload.SongID)
		}
		return w.repo.SetStemKeys(ctx, payload.SongID, model.StemKeys{
			Vocals: outcome.Vocals,
			Drums:  outcome.Drums,
			Bass:   outcome.Bass,
			Other:  outcome.Other,
		})
	})
}

// compensate clears all stem keys when the job aborts for good, so no
// partial stem set survives an abandoned execution.
func (w *StemWorker) compensate(ctx context.Context, err error, songID string) {
	if !finalAttempt(ctx, err) {
		return
	}
	if clearErr := w.repo.ClearStemKeys(ctx, songID); clearErr != nil {
		log.Printf("Failed to clear stem keys for song %s: %v", songID, clearErr)
	}
}
