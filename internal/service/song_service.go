// Package service is the trigger layer: it creates song records, runs the
// request-time checks that belong to the trigger rather than the job, and
// enqueues workflow tasks with stable identities.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/songlab/api/internal/credits"
	"github.com/songlab/api/internal/model"
)

// Queue names by job kind.
const (
	QueueGenerate = "generate"
	QueueExtend   = "extend"
	QueueStems    = "stems"
)

const (
	defaultGuidanceScale = 15.0
	defaultDurationSecs  = 180

	taskRetention = 24 * time.Hour
	taskTimeout   = 15 * time.Minute
	taskMaxRetry  = 3
)

// Repository is the persistence surface the trigger layer needs.
type Repository interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	CreateSong(ctx context.Context, song *model.Song) error
	GetSongForUser(ctx context.Context, id, userID string) (*model.Song, error)
	IncrementListenCount(ctx context.Context, id string) error
}

// Enqueuer submits tasks to the queue. Satisfied by *asynq.Client.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// SongService manages song triggers.
type SongService struct {
	repo     Repository
	enqueuer Enqueuer
}

func NewSongService(repo Repository, enqueuer Enqueuer) *SongService {
	return &SongService{repo: repo, enqueuer: enqueuer}
}

// StartGeneration creates a queued song and enqueues its generate job.
// The zero-balance pre-check is a cheap early rejection; exact admission
// happens inside the workflow against the priced cost.
func (s *SongService) StartGeneration(ctx context.Context, userID string, req *model.GenerateSongRequest) (*model.SongQueuedResponse, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Credits <= 0 {
		return nil, model.ErrInsufficientCredits
	}

	guidance := defaultGuidanceScale
	duration := defaultDurationSecs
	if req.AudioDuration != nil {
		duration = *req.AudioDuration
	}

	song := &model.Song{
		ID:                uuid.New().String(),
		UserID:            userID,
		Title:             deriveTitle(req),
		Status:            model.SongStatusQueued,
		Prompt:            req.Prompt,
		Lyrics:            req.Lyrics,
		DescribedLyrics:   req.DescribedLyrics,
		FullDescribedSong: req.FullDescribedSong,
		Instrumental:      req.Instrumental,
		GuidanceScale:     &guidance,
		AudioDuration:     &duration,
	}

	if err := s.repo.CreateSong(ctx, song); err != nil {
		return nil, err
	}

	payload := model.GenerateJobPayload{SongID: song.ID, UserID: userID}
	if err := s.enqueue(model.JobTypeGenerate, QueueGenerate, song.ID, payload); err != nil {
		return nil, err
	}

	return &model.SongQueuedResponse{SongID: song.ID, Status: model.SongStatusQueued}, nil
}

// RequestExtend creates the extension song and enqueues its job. The
// parent's audio is re-verified inside the workflow; ownership is a
// trigger-time check.
func (s *SongService) RequestExtend(ctx context.Context, userID, parentSongID string, additionalSeconds int) (*model.SongQueuedResponse, error) {
	parent, err := s.repo.GetSongForUser(ctx, parentSongID, userID)
	if err != nil {
		return nil, err
	}

	song := &model.Song{
		ID:           uuid.New().String(),
		UserID:       userID,
		Title:        fmt.Sprintf("%s (extended)", parent.Title),
		Status:       model.SongStatusQueued,
		ParentSongID: &parent.ID,
	}
	if err := s.repo.CreateSong(ctx, song); err != nil {
		return nil, err
	}

	payload := model.ExtendJobPayload{
		SongID:                    song.ID,
		UserID:                    userID,
		ParentSongID:              parent.ID,
		AdditionalDurationSeconds: additionalSeconds,
	}
	if err := s.enqueue(model.JobTypeExtend, QueueExtend, song.ID, payload); err != nil {
		return nil, err
	}

	return &model.SongQueuedResponse{SongID: song.ID, Status: model.SongStatusQueued}, nil
}

// RequestStemSplit enqueues a split job after the request-time checks:
// the song must have audio and must not have been split already. These
// checks belong here, before any job exists.
func (s *SongService) RequestStemSplit(ctx context.Context, userID, songID string) (*model.SongQueuedResponse, error) {
	song, err := s.repo.GetSongForUser(ctx, songID, userID)
	if err != nil {
		return nil, err
	}
	if song.S3Key == nil || *song.S3Key == "" {
		return nil, model.ErrSongHasNoAudio
	}
	if song.HasStems() {
		return nil, model.ErrStemsAlreadyExist
	}

	// Splits reuse the song record, so the dedupe key must be unique per
	// request: a failed split leaves its checkpoints retained, and a
	// song-derived key would collapse the user's re-request into the old
	// execution instead of starting a new one.
	payload := model.SplitStemsJobPayload{SongID: song.ID}
	dedupeKey := fmt.Sprintf("%s:%s", song.ID, uuid.New().String())
	if err := s.enqueue(model.JobTypeSplitStems, QueueStems, dedupeKey, payload); err != nil {
		return nil, err
	}

	return &model.SongQueuedResponse{SongID: song.ID, Status: song.Status}, nil
}

// GetSong returns a song owned by userID. The status field is the single
// source of truth for job outcomes.
func (s *SongService) GetSong(ctx context.Context, userID, songID string) (*model.Song, error) {
	return s.repo.GetSongForUser(ctx, songID, userID)
}

// RecordListen bumps a song's listen counter.
func (s *SongService) RecordListen(ctx context.Context, userID, songID string) error {
	song, err := s.repo.GetSongForUser(ctx, songID, userID)
	if err != nil {
		return err
	}
	return s.repo.IncrementListenCount(ctx, song.ID)
}

// CreditBalance is the account surface: the current balance and the full
// plan definition, so the UI can render remaining credits against the
// plan's allotment and duration ceiling.
type CreditBalance struct {
	Credits int          `json:"credits"`
	Plan    credits.Plan `json:"plan"`
}

// GetCredits returns the caller's balance and plan.
func (s *SongService) GetCredits(ctx context.Context, userID string) (*CreditBalance, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CreditBalance{
		Credits: user.Credits,
		Plan:    credits.Lookup(credits.PlanID(user.Plan)),
	}, nil
}

// PreviewCost prices a prospective generation without side effects.
func (s *SongService) PreviewCost(durationSeconds *int, mode model.GenerationMode, plan credits.PlanID) (*model.CostPreviewResponse, error) {
	effective, err := credits.EnforceDuration(plan, durationSeconds)
	if err != nil {
		return nil, err
	}
	return &model.CostPreviewResponse{
		DurationSeconds: effective,
		Mode:            mode,
		Plan:            string(plan),
		Cost:            credits.Calculate(effective, mode, plan),
	}, nil
}

// enqueue submits a task whose ID is derived from the caller's dedupe
// key, so duplicate deliveries of the same trigger collapse into one
// execution. Generate and extend key on the song (each request creates a
// fresh song); splits pass a per-request key.
func (s *SongService) enqueue(taskType, queue, dedupeKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.enqueuer.Enqueue(asynq.NewTask(taskType, data),
		asynq.TaskID(fmt.Sprintf("%s:%s", taskType, dedupeKey)),
		asynq.Queue(queue),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Timeout(taskTimeout),
		asynq.Retention(taskRetention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Duplicate trigger for the same song; the first one wins.
			return nil
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// deriveTitle mirrors how songs are named at creation: the description
// fields double as the working title until the user renames.
func deriveTitle(req *model.GenerateSongRequest) string {
	title := "Untitled"
	if req.DescribedLyrics != nil && *req.DescribedLyrics != "" {
		title = *req.DescribedLyrics
	}
	if req.FullDescribedSong != nil && *req.FullDescribedSong != "" {
		title = *req.FullDescribedSong
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}
