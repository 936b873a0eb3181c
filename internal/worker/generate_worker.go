package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/credits"
	"github.com/songlab/api/internal/limiter"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/workflow"
)

// GenerateWorker processes generate jobs.
type GenerateWorker struct {
	repo        Repository
	backend     client.GenerationBackend
	checkpoints workflow.Store
	semaphore   Semaphore
	hub         StatusNotifier
}

// NewGenerateWorker creates a new generate worker.
func NewGenerateWorker(repo Repository, backend client.GenerationBackend, checkpoints workflow.Store, semaphore Semaphore, hub StatusNotifier) *GenerateWorker {
	return &GenerateWorker{
		repo:        repo,
		backend:     backend,
		checkpoints: checkpoints,
		semaphore:   semaphore,
		hub:         hub,
	}
}

// admission is the checkpointed output of the pricing step: everything
// later steps need, computed once. The step is read-only and safe to
// re-run.
type admission struct {
	UserID  string                 `json:"userId"`
	Credits int                    `json:"credits"`
	Cost    int                    `json:"cost"`
	Mode    model.GenerationMode   `json:"mode"`
	Request client.GenerateRequest `json:"request"`
}

// backendOutcome is the checkpointed result of the backend invocation.
// Failures are recorded as data, not returned as errors, so a replay
// never re-calls the backend for the same execution.
type backendOutcome struct {
	OK              bool     `json:"ok"`
	S3Key           string   `json:"s3Key,omitempty"`
	CoverImageS3Key string   `json:"coverImageS3Key,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	ErrMsg          string   `json:"error,omitempty"`
}

// ProcessTask handles generate task processing.
func (w *GenerateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.GenerateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal generate payload: %w", asynq.SkipRetry)
	}

	log.Printf("Starting generate job: song=%s user=%s", payload.SongID, payload.UserID)

	// One generation-class job per owner at a time. Queued triggers for
	// the same user wait here in FIFO order.
	permit, err := w.semaphore.Acquire(ctx, limiter.OwnerKey(payload.UserID), limiter.OwnerLimit)
	if err != nil {
		return fmt.Errorf("acquire slot for user %s: %w", payload.UserID, err)
	}
	defer permit.Release(context.Background())

	run := workflow.NewRun(executionID(ctx, model.JobTypeGenerate, payload.SongID), w.checkpoints)

	if err := w.process(ctx, run, &payload); err != nil {
		w.compensate(ctx, err, payload.SongID)
		return err
	}

	log.Printf("Generate job for song %s finished", payload.SongID)
	return nil
}

func (w *GenerateWorker) process(ctx context.Context, run *workflow.Run, payload *model.GenerateJobPayload) error {
	adm, err := workflow.StepResult(run, ctx, "check-credits", func(ctx context.Context) (admission, error) {
		return w.resolveAndPrice(ctx, payload.SongID)
	})
	if err != nil {
		return err
	}

	if adm.Credits < adm.Cost {
		// A normal workflow outcome, not an error. The user can top up
		// and re-submit.
		return run.Step(ctx, "set-status-no-credits", func(ctx context.Context) error {
			if err := w.repo.SetSongStatus(ctx, payload.SongID, model.SongStatusNoCredits); err != nil {
				return err
			}
			w.hub.BroadcastStatus(payload.SongID, model.SongStatusNoCredits)
			return nil
		})
	}

	if err := run.Step(ctx, "set-status-processing", func(ctx context.Context) error {
		if err := w.repo.MarkSongProcessing(ctx, payload.SongID); err != nil {
			return err
		}
		w.hub.BroadcastStatus(payload.SongID, model.SongStatusProcessing)
		return nil
	}); err != nil {
		return err
	}

	outcome, err := workflow.StepResult(run, ctx, "invoke-backend", func(ctx context.Context) (backendOutcome, error) {
		resp, callErr := w.backend.Generate(ctx, adm.Mode, &adm.Request)
		if callErr != nil {
			log.Printf("Music generation failed for song %s: %v", payload.SongID, callErr)
			return backendOutcome{ErrMsg: callErr.Error()}, nil
		}
		return backendOutcome{
			OK:              true,
			S3Key:           resp.S3Key,
			CoverImageS3Key: resp.CoverImageS3Key,
			Categories:      resp.Categories,
		}, nil
	})
	if err != nil {
		return err
	}

	if err := run.Step(ctx, "update-song-result", func(ctx context.Context) error {
		return w.applyOutcome(ctx, payload.SongID, outcome)
	}); err != nil {
		return err
	}

	if !outcome.OK {
		return nil
	}

	// Only reachable on success; the checkpoint guards against a second
	// decrement when the whole execution is replayed.
	return run.Step(ctx, "deduct-credits", func(ctx context.Context) error {
		return w.repo.DebitCredits(ctx, adm.UserID, adm.Cost)
	})
}

// resolveAndPrice loads the song and its owner, selects exactly one
// generation mode, enforces the plan's duration ceiling and computes the
// credit cost.
func (w *GenerateWorker) resolveAndPrice(ctx context.Context, songID string) (admission, error) {
	song, err := w.repo.GetSong(ctx, songID)
	if err != nil {
		return admission{}, wrapPermanent(err)
	}

	mode, err := model.ResolveGenerationMode(song)
	if err != nil {
		return admission{}, wrapPermanent(err)
	}

	user, err := w.repo.GetUser(ctx, song.UserID)
	if err != nil {
		return admission{}, wrapPermanent(err)
	}

	plan := credits.PlanID(user.Plan)
	duration, err := credits.EnforceDuration(plan, song.AudioDuration)
	if err != nil {
		return admission{}, wrapPermanent(err)
	}

	req := client.GenerateRequest{
		GuidanceScale: song.GuidanceScale,
		InferStep:     song.InferStep,
		Seed:          song.Seed,
		Instrumental:  song.Instrumental,
		AudioDuration: &duration,
	}
	switch mode {
	case model.ModeSimple:
		req.FullDescribedSong = *song.FullDescribedSong
	case model.ModePromptWithLyrics:
		req.Prompt = *song.Prompt
		req.Lyrics = *song.Lyrics
	case model.ModePromptWithDescribedLyrics:
		req.Prompt = *song.Prompt
		req.DescribedLyrics = *song.DescribedLyrics
	}

	return admission{
		UserID:  user.ID,
		Credits: user.Credits,
		Cost:    credits.Calculate(duration, mode, plan),
		Mode:    mode,
		Request: req,
	}, nil
}

// applyOutcome persists a backend result: audio, thumbnail and category
// tags on success, the failed state otherwise.
func (w *GenerateWorker) applyOutcome(ctx context.Context, songID string, outcome backendOutcome) error {
	if !outcome.OK {
		if err := w.repo.SetSongStatus(ctx, songID, model.SongStatusFailed); err != nil {
			return err
		}
		w.hub.BroadcastStatus(songID, model.SongStatusFailed)
		return nil
	}

	if err := w.repo.ApplySongResult(ctx, songID, outcome.S3Key, outcome.CoverImageS3Key); err != nil {
		return err
	}
	if err := w.repo.UpsertCategories(ctx, songID, outcome.Categories); err != nil {
		return err
	}
	w.hub.BroadcastStatus(songID, model.SongStatusProcessed)
	return nil
}

// compensate forces the song to failed when the workflow aborts for good:
// either a permanent input error, or the final delivery attempt. Retryable
// infrastructure errors leave the song alone so the resumed execution can
// finish it.
func (w *GenerateWorker) compensate(ctx context.Context, err error, songID string) {
	if !finalAttempt(ctx, err) {
		return
	}
	if setErr := w.repo.SetSongStatus(ctx, songID, model.SongStatusFailed); setErr != nil {
		log.Printf("Failed to mark song %s as failed: %v", songID, setErr)
		return
	}
	w.hub.BroadcastStatus(songID, model.SongStatusFailed)
}

// executionID returns the durable identity of this execution: the asynq
// task ID, which is fixed at enqueue time and shared by every retry and
// duplicate delivery of the same trigger.
func executionID(ctx context.Context, kind, songID string) string {
	if id, ok := asynq.GetTaskID(ctx); ok {
		return id
	}
	return fmt.Sprintf("%s:%s", kind, songID)
}

// wrapPermanent marks errors that must never be retried automatically.
// Repository "not found" and all input validation failures are permanent;
// anything else is infrastructure and surfaces to the queue's retry
// policy.
func wrapPermanent(err error) error {
	switch {
	case errors.Is(err, model.ErrSongNotFound),
		errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrNoGenerationMode),
		errors.Is(err, model.ErrParentHasNoAudio),
		errors.Is(err, model.ErrSongHasNoAudio),
		errors.Is(err, model.ErrDurationExceedsPlan):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

// finalAttempt reports whether err ends this job for good: a permanent
// error, or the last retry the queue will grant.
func finalAttempt(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
