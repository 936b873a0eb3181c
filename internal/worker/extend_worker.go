package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/credits"
	"github.com/songlab/api/internal/limiter"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/workflow"
)

// ExtendWorker processes extend jobs: generating additional audio that
// continues a parent song. Same shape as generation, keyed on the parent's
// audio reference and always priced as a simple generation.
type ExtendWorker struct {
	repo        Repository
	backend     client.GenerationBackend
	checkpoints workflow.Store
	semaphore   Semaphore
	hub         StatusNotifier
}

func NewExtendWorker(repo Repository, backend client.GenerationBackend, checkpoints workflow.Store, semaphore Semaphore, hub StatusNotifier) *ExtendWorker {
	return &ExtendWorker{
		repo:        repo,
		backend:     backend,
		checkpoints: checkpoints,
		semaphore:   semaphore,
		hub:         hub,
	}
}

type extendAdmission struct {
	UserID            string `json:"userId"`
	Credits           int    `json:"credits"`
	Cost              int    `json:"cost"`
	ParentS3Key       string `json:"parentS3Key"`
	AdditionalSeconds int    `json:"additionalSeconds"`
}

// ProcessTask handles extend task processing.
func (w *ExtendWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ExtendJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal extend payload: %w", asynq.SkipRetry)
	}

	log.Printf("Starting extend job: song=%s parent=%s user=%s", payload.SongID, payload.ParentSongID, payload.UserID)

	permit, err := w.semaphore.Acquire(ctx, limiter.OwnerKey(payload.UserID), limiter.OwnerLimit)
	if err != nil {
		return fmt.Errorf("acquire slot for user %s: %w", payload.UserID, err)
	}
	defer permit.Release(context.Background())

	run := workflow.NewRun(executionID(ctx, model.JobTypeExtend, payload.SongID), w.checkpoints)

	if err := w.process(ctx, run, &payload); err != nil {
		w.compensate(ctx, err, payload.SongID)
		return err
	}

	log.Printf("Extend job for song %s finished", payload.SongID)
	return nil
}

func (w *ExtendWorker) process(ctx context.Context, run *workflow.Run, payload *model.ExtendJobPayload) error {
	adm, err := workflow.StepResult(run, ctx, "check-credits", func(ctx context.Context) (extendAdmission, error) {
		return w.resolveAndPrice(ctx, payload)
	})
	if err != nil {
		return err
	}

	if adm.Credits < adm.Cost {
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
		resp, callErr := w.backend.Extend(ctx, &client.ExtendRequest{
			ParentS3Key:               adm.ParentS3Key,
			AdditionalDurationSeconds: adm.AdditionalSeconds,
		})
		if callErr != nil {
			log.Printf("Extension failed for song %s: %v", payload.SongID, callErr)
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

	return run.Step(ctx, "deduct-credits", func(ctx context.Context) error {
		return w.repo.DebitCredits(ctx, adm.UserID, adm.Cost)
	})
}

// resolveAndPrice requires the parent song to have audio, enforces the
// owner's plan ceiling on the additional duration and prices the job as a
// simple generation.
func (w *ExtendWorker) resolveAndPrice(ctx context.Context, payload *model.ExtendJobPayload) (extendAdmission, error) {
	parent, err := w.repo.GetSong(ctx, payload.ParentSongID)
	if err != nil {
		return extendAdmission{}, wrapPermanent(err)
	}
	if parent.S3Key == nil || *parent.S3Key == "" {
		return extendAdmission{}, wrapPermanent(model.ErrParentHasNoAudio)
	}

	user, err := w.repo.GetUser(ctx, payload.UserID)
	if err != nil {
		return extendAdmission{}, wrapPermanent(err)
	}

	plan := credits.PlanID(user.Plan)
	additional := payload.AdditionalDurationSeconds
	duration, err := credits.EnforceDuration(plan, &additional)
	if err != nil {
		return extendAdmission{}, wrapPermanent(err)
	}

	return extendAdmission{
		UserID:            user.ID,
		Credits:           user.Credits,
		Cost:              credits.Calculate(duration, model.ModeSimple, plan),
		ParentS3Key:       *parent.S3Key,
		AdditionalSeconds: duration,
	}, nil
}

func (w *ExtendWorker) applyOutcome(ctx context.Context, songID string, outcome backendOutcome) error {
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

func (w *ExtendWorker) compensate(ctx context.Context, err error, songID string) {
	if !finalAttempt(ctx, err) {
		return
	}
	if setErr := w.repo.SetSongStatus(ctx, songID, model.SongStatusFailed); setErr != nil {
		log.Printf("Failed to mark song %s as failed: %v", songID, setErr)
		return
	}
	w.hub.BroadcastStatus(songID, model.SongStatusFailed)
}
