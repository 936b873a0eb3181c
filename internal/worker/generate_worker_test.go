package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/limiter"
	"github.com/songlab/api/internal/model"
)

func generateTask(t *testing.T, songID, userID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(model.GenerateJobPayload{SongID: songID, UserID: userID})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(model.JobTypeGenerate, payload)
}

func seedSimpleSong(repo *fakeRepo, songID, userID string, duration int) {
	repo.songs[songID] = &model.Song{
		ID:                songID,
		UserID:            userID,
		Status:            model.SongStatusQueued,
		FullDescribedSong: strPtr("a dreamy synthwave track about night drives"),
		AudioDuration:     intPtr(duration),
	}
}

func TestGenerateWorker_SuccessWithExactBalance(t *testing.T) {
	repo := newFakeRepo()
	seedSimpleSong(repo, "song-1", "user-1", 60)
	// FREE plan, 60s simple: cost is exactly 1. Balance == cost must admit.
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 1, Plan: "FREE"}

	backend := &fakeBackend{generateResp: &client.GenerateResponse{
		S3Key:           "songs/song-1.wav",
		CoverImageS3Key: "covers/song-1.png",
		Categories:      []string{"synthwave", "electronic"},
	}}
	sem := &fakeSemaphore{}
	hub := &fakeHub{}
	w := NewGenerateWorker(repo, backend, newMemCheckpoints(), sem, hub)

	if err := w.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1")); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if len(backend.generateReqs) != 1 {
		t.Fatalf("backend called %d times, want 1", len(backend.generateReqs))
	}
	if backend.lastMode != model.ModeSimple {
		t.Errorf("mode = %s, want %s", backend.lastMode, model.ModeSimple)
	}
	if repo.appliedS3Key != "songs/song-1.wav" || repo.appliedThumb != "covers/song-1.png" {
		t.Errorf("applied result = (%q, %q)", repo.appliedS3Key, repo.appliedThumb)
	}
	if len(repo.categories) != 2 {
		t.Errorf("categories = %v, want 2 entries", repo.categories)
	}
	if len(repo.debits) != 1 || repo.debits[0].amount != 1 || repo.debits[0].userID != "user-1" {
		t.Errorf("debits = %+v, want one debit of 1 for user-1", repo.debits)
	}
	if sem.key != limiter.OwnerKey("user-1") || sem.limit != limiter.OwnerLimit {
		t.Errorf("semaphore acquired (%q, %d), want (%q, %d)",
			sem.key, sem.limit, limiter.OwnerKey("user-1"), limiter.OwnerLimit)
	}
	if sem.releases != 1 {
		t.Errorf("permit released %d times, want 1", sem.releases)
	}
	if got := repo.lastStatus("song-1"); got != model.SongStatusProcessed {
		t.Errorf("final status = %s, want %s", got, model.SongStatusProcessed)
	}
}

func TestGenerateWorker_InsufficientCreditsParksSong(t *testing.T) {
	repo := newFakeRepo()
	seedSimpleSong(repo, "song-1", "user-1", 60)
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 0, Plan: "FREE"}

	backend := &fakeBackend{}
	hub := &fakeHub{}
	w := NewGenerateWorker(repo, backend, newMemCheckpoints(), &fakeSemaphore{}, hub)

	if err := w.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1")); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if len(backend.generateReqs) != 0 {
		t.Errorf("backend called %d times, want 0", len(backend.generateReqs))
	}
	if len(repo.debits) != 0 {
		t.Errorf("debits = %+v, want none", repo.debits)
	}
	if got := repo.lastStatus("song-1"); got != model.SongStatusNoCredits {
		t.Errorf("final status = %s, want %s", got, model.SongStatusNoCredits)
	}
	if len(hub.broadcasts) != 1 || hub.broadcasts[0] != model.SongStatusNoCredits {
		t.Errorf("broadcasts = %v, want [no_credits]", hub.broadcasts)
	}
}

func TestGenerateWorker_DurationAbovePlanFailsPermanently(t *testing.T) {
	repo := newFakeRepo()
	seedSimpleSong(repo, "song-1", "user-1", 90) // FREE ceiling is 60s
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 10, Plan: "FREE"}

	backend := &fakeBackend{}
	w := NewGenerateWorker(repo, backend, newMemCheckpoints(), &fakeSemaphore{}, &fakeHub{})

	err := w.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("ProcessTask error = %v, want SkipRetry", err)
	}
	if len(backend.generateReqs) != 0 {
		t.Errorf("backend called %d times, want 0", len(backend.generateReqs))
	}
	if len(repo.debits) != 0 {
		t.Errorf("debits = %+v, want none", repo.debits)
	}
	if got := repo.lastStatus("song-1"); got != model.SongStatusFailed {
		t.Errorf("final status = %s, want %s (compensation)", got, model.SongStatusFailed)
	}
}

func TestGenerateWorker_NoGenerationModeFailsPermanently(t *testing.T) {
	repo := newFakeRepo()
	repo.songs["song-1"] = &model.Song{ID: "song-1", UserID: "user-1", Status: model.SongStatusQueued}
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 10, Plan: "PRO"}

	w := NewGenerateWorker(repo, &fakeBackend{}, newMemCheckpoints(), &fakeSemaphore{}, &fakeHub{})

	err := w.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("ProcessTask error = %v, want SkipRetry", err)
	}
	if !errors.Is(err, model.ErrNoGenerationMode) {
		t.Errorf("ProcessTask error = %v, want ErrNoGenerationMode", err)
	}
}

func TestGenerateWorker_BackendFailureMarksFailedWithoutDebit(t *testing.T) {
	repo := newFakeRepo()
	seedSimpleSong(repo, "song-1", "user-1", 60)
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 5, Plan: "FREE"}

	backend := &fakeBackend{generateErr: errBackendDown}
	hub := &fakeHub{}
	w := NewGenerateWorker(repo, backend, newMemCheckpoints(), &fakeSemaphore{}, hub)

	// A recorded backend failure is a completed workflow, not a task error.
	if err := w.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1")); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if got := repo.lastStatus("song-1"); got != model.SongStatusFailed {
		t.Errorf("final status = %s, want %s", got, model.SongStatusFailed)
	}
	if len(repo.debits) != 0 {
		t.Errorf("debits = %+v, want none on failure", repo.debits)
	}
	if len(backend.generateReqs) != 1 {
		t.Errorf("backend called %d times, want 1", len(backend.generateReqs))
	}
}

func TestGenerateWorker_ReplaySettlesOnce(t *testing.T) {
	repo := newFakeRepo()
	seedSimpleSong(repo, "song-1", "user-1", 60)
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 5, Plan: "FREE"}

	backend := &fakeBackend{generateResp: &client.GenerateResponse{
		S3Key:           "songs/song-1.wav",
		CoverImageS3Key: "covers/song-1.png",
	}}
	checkpoints := newMemCheckpoints()
	w := NewGenerateWorker(repo, backend, checkpoints, &fakeSemaphore{}, &fakeHub{})

	// Same task delivered twice; the shared checkpoint store makes the
	// second delivery a pure replay.
	task := generateTask(t, "song-1", "user-1")
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(backend.generateReqs) != 1 {
		t.Errorf("backend called %d times across deliveries, want 1", len(backend.generateReqs))
	}
	if len(repo.debits) != 1 {
		t.Errorf("debits = %+v, want exactly one", repo.debits)
	}
	if repo.processedCalls != 1 {
		t.Errorf("MarkSongProcessing called %d times, want 1", repo.processedCalls)
	}
}

func TestGenerateWorker_ResumeAfterCrashBetweenStepsDoesNotRedebit(t *testing.T) {
	repo := newFakeRepo()
	seedSimpleSong(repo, "song-1", "user-1", 60)
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 5, Plan: "FREE"}

	backend := &fakeBackend{generateResp: &client.GenerateResponse{S3Key: "songs/song-1.wav"}}
	checkpoints := newMemCheckpoints()

	// First delivery dies at the settle step.
	crashRepo := *repo
	crashRepo.debitErr = errors.New("connection reset")
	w1 := NewGenerateWorker(&crashRepo, backend, checkpoints, &fakeSemaphore{}, &fakeHub{})
	if err := w1.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1")); err == nil {
		t.Fatal("expected settle failure on first delivery")
	}

	// Retry resumes from the checkpoints: no second backend call, and the
	// debit lands exactly once.
	w2 := NewGenerateWorker(repo, backend, checkpoints, &fakeSemaphore{}, &fakeHub{})
	if err := w2.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1")); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if len(backend.generateReqs) != 1 {
		t.Errorf("backend called %d times, want 1", len(backend.generateReqs))
	}
	if len(repo.debits) != 1 || repo.debits[0].amount != 1 {
		t.Errorf("debits = %+v, want exactly one debit of 1", repo.debits)
	}
}

func TestGenerateWorker_MalformedPayloadSkipsRetry(t *testing.T) {
	w := NewGenerateWorker(newFakeRepo(), &fakeBackend{}, newMemCheckpoints(), &fakeSemaphore{}, &fakeHub{})

	task := asynq.NewTask(model.JobTypeGenerate, []byte("not json"))
	if err := w.ProcessTask(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("ProcessTask error = %v, want SkipRetry", err)
	}
}

func TestGenerateWorker_LyricsModeRequestFields(t *testing.T) {
	repo := newFakeRepo()
	repo.songs["song-1"] = &model.Song{
		ID:            "song-1",
		UserID:        "user-1",
		Status:        model.SongStatusQueued,
		Prompt:        strPtr("upbeat pop"),
		Lyrics:        strPtr("la la la"),
		AudioDuration: intPtr(45),
	}
	repo.users["user-1"] = &model.User{ID: "user-1", Credits: 10, Plan: "PRO"}

	backend := &fakeBackend{generateResp: &client.GenerateResponse{S3Key: "songs/song-1.wav"}}
	w := NewGenerateWorker(repo, backend, newMemCheckpoints(), &fakeSemaphore{}, &fakeHub{})

	if err := w.ProcessTask(context.Background(), generateTask(t, "song-1", "user-1")); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if backend.lastMode != model.ModePromptWithLyrics {
		t.Fatalf("mode = %s, want %s", backend.lastMode, model.ModePromptWithLyrics)
	}
	req := backend.generateReqs[0]
	if req.Prompt != "upbeat pop" || req.Lyrics != "la la la" {
		t.Errorf("request = %+v, want prompt and lyrics populated", req)
	}
	if req.FullDescribedSong != "" || req.DescribedLyrics != "" {
		t.Errorf("request = %+v, want other mode fields empty", req)
	}
	if req.AudioDuration == nil || *req.AudioDuration != 45 {
		t.Errorf("audio duration = %v, want 45", req.AudioDuration)
	}
	// 45s prompt_with_lyrics on PRO: ceil(1 × 1.2 × 0.8) = 1.
	if len(repo.debits) != 1 || repo.debits[0].amount != 1 {
		t.Errorf("debits = %+v, want one debit of 1", repo.debits)
	}
}
