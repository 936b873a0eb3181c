package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/model"
)

// Shared fakes for the worker tests.

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// memCheckpoints is an in-memory workflow.Store.
type memCheckpoints struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{data: make(map[string][]byte)}
}

func (m *memCheckpoints) Get(_ context.Context, executionID, step string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[executionID+"/"+step], nil
}

func (m *memCheckpoints) Save(_ context.Context, executionID, step string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[executionID+"/"+step] = data
	return nil
}

type debit struct {
	userID string
	amount int
}

// fakeRepo implements Repository over maps, recording every mutation.
type fakeRepo struct {
	songs map[string]*model.Song
	users map[string]*model.User

	statuses       map[string][]model.SongStatus
	processedCalls int
	appliedS3Key   string
	appliedThumb   string
	categories     []string
	debits         []debit
	stemKeys       *model.StemKeys
	clearedStems   int

	markProcessingErr error
	debitErr          error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		songs:    make(map[string]*model.Song),
		users:    make(map[string]*model.User),
		statuses: make(map[string][]model.SongStatus),
	}
}

func (r *fakeRepo) GetSong(_ context.Context, id string) (*model.Song, error) {
	song, ok := r.songs[id]
	if !ok {
		return nil, model.ErrSongNotFound
	}
	return song, nil
}

func (r *fakeRepo) GetUser(_ context.Context, id string) (*model.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeRepo) SetSongStatus(_ context.Context, id string, status model.SongStatus) error {
	r.statuses[id] = append(r.statuses[id], status)
	return nil
}

func (r *fakeRepo) MarkSongProcessing(_ context.Context, id string) error {
	if r.markProcessingErr != nil {
		return r.markProcessingErr
	}
	r.processedCalls++
	r.statuses[id] = append(r.statuses[id], model.SongStatusProcessing)
	return nil
}

func (r *fakeRepo) ApplySongResult(_ context.Context, id, s3Key, thumbnailS3Key string) error {
	r.appliedS3Key = s3Key
	r.appliedThumb = thumbnailS3Key
	r.statuses[id] = append(r.statuses[id], model.SongStatusProcessed)
	return nil
}

func (r *fakeRepo) SetStemKeys(_ context.Context, _ string, keys model.StemKeys) error {
	r.stemKeys = &keys
	return nil
}

func (r *fakeRepo) ClearStemKeys(_ context.Context, _ string) error {
	r.clearedStems++
	r.stemKeys = nil
	return nil
}

func (r *fakeRepo) DebitCredits(_ context.Context, userID string, amount int) error {
	if r.debitErr != nil {
		return r.debitErr
	}
	r.debits = append(r.debits, debit{userID: userID, amount: amount})
	return nil
}

func (r *fakeRepo) UpsertCategories(_ context.Context, _ string, names []string) error {
	r.categories = names
	return nil
}

func (r *fakeRepo) lastStatus(songID string) model.SongStatus {
	history := r.statuses[songID]
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}

// fakeSemaphore hands out permits immediately and records usage.
type fakeSemaphore struct {
	key      string
	limit    int
	acquires int
	releases int
}

type fakePermit struct{ sem *fakeSemaphore }

func (s *fakeSemaphore) Acquire(_ context.Context, key string, limit int) (Permit, error) {
	s.key = key
	s.limit = limit
	s.acquires++
	return &fakePermit{sem: s}, nil
}

func (p *fakePermit) Release(_ context.Context) { p.sem.releases++ }

// fakeHub records broadcast statuses in order.
type fakeHub struct {
	broadcasts []model.SongStatus
}

func (h *fakeHub) BroadcastStatus(_ string, status model.SongStatus) {
	h.broadcasts = append(h.broadcasts, status)
}

// fakeBackend implements client.GenerationBackend with canned responses.
type fakeBackend struct {
	generateResp *client.GenerateResponse
	generateErr  error
	generateReqs []*client.GenerateRequest
	lastMode     model.GenerationMode

	extendResp *client.GenerateResponse
	extendErr  error
	extendReqs []*client.ExtendRequest

	splitResp *client.SplitStemsResponse
	splitErr  error
	splitReqs []*client.SplitStemsRequest
}

func (b *fakeBackend) Generate(_ context.Context, mode model.GenerationMode, req *client.GenerateRequest) (*client.GenerateResponse, error) {
	b.lastMode = mode
	b.generateReqs = append(b.generateReqs, req)
	if b.generateErr != nil {
		return nil, b.generateErr
	}
	return b.generateResp, nil
}

func (b *fakeBackend) Extend(_ context.Context, req *client.ExtendRequest) (*client.GenerateResponse, error) {
	b.extendReqs = append(b.extendReqs, req)
	if b.extendErr != nil {
		return nil, b.extendErr
	}
	return b.extendResp, nil
}

func (b *fakeBackend) SplitStems(_ context.Context, req *client.SplitStemsRequest) (*client.SplitStemsResponse, error) {
	b.splitReqs = append(b.splitReqs, req)
	if b.splitErr != nil {
		return nil, b.splitErr
	}
	return b.splitResp, nil
}

var errBackendDown = errors.New("backend unavailable")
