package model

import "time"

// SongStatus is the lifecycle state of a song. It is the single source of
// truth surfaced to clients; there is no separate error channel.
type SongStatus string

const (
	SongStatusQueued     SongStatus = "queued"
	SongStatusProcessing SongStatus = "processing"
	SongStatusProcessed  SongStatus = "processed"
	SongStatusFailed     SongStatus = "failed"
	SongStatusNoCredits  SongStatus = "no_credits"
)

// Song is the long-lived entity a job acts upon. Storage keys are opaque;
// presigned URL issuance happens outside this service.
type Song struct {
	ID     string     `json:"id"`
	UserID string     `json:"userId"`
	Title  string     `json:"title"`
	Status SongStatus `json:"status"`

	// Generation parameters. At most one mode's fields are meaningful:
	// full described song, or lyrics+prompt, or described lyrics+prompt.
	Prompt            *string  `json:"prompt,omitempty"`
	Lyrics            *string  `json:"lyrics,omitempty"`
	DescribedLyrics   *string  `json:"describedLyrics,omitempty"`
	FullDescribedSong *string  `json:"fullDescribedSong,omitempty"`
	Instrumental      *bool    `json:"instrumental,omitempty"`
	GuidanceScale     *float64 `json:"guidanceScale,omitempty"`
	InferStep         *int     `json:"inferStep,omitempty"`
	AudioDuration     *int     `json:"audioDuration,omitempty"`
	Seed              *int     `json:"seed,omitempty"`

	S3Key          *string `json:"s3Key,omitempty"`
	ThumbnailS3Key *string `json:"thumbnailS3Key,omitempty"`

	VocalsS3Key *string `json:"vocalsS3Key,omitempty"`
	DrumsS3Key  *string `json:"drumsS3Key,omitempty"`
	BassS3Key   *string `json:"bassS3Key,omitempty"`
	OtherS3Key  *string `json:"otherS3Key,omitempty"`

	ParentSongID *string `json:"parentSongId,omitempty"`
	ListenCount  int     `json:"listenCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasStems reports whether any stem key is set.
func (s *Song) HasStems() bool {
	return s.VocalsS3Key != nil || s.DrumsS3Key != nil || s.BassS3Key != nil || s.OtherS3Key != nil
}

// StemType identifies one of the four stems produced by a split.
type StemType string

const (
	StemVocals StemType = "vocals"
	StemDrums  StemType = "drums"
	StemBass   StemType = "bass"
	StemOther  StemType = "other"
)

var ValidStemTypes = []StemType{StemVocals, StemDrums, StemBass, StemOther}

// StemKeys is the set of storage keys produced by a stem split. Each key
// is independently nullable; a partial set is a valid split result.
type StemKeys struct {
	Vocals *string `json:"vocals,omitempty"`
	Drums  *string `json:"drums,omitempty"`
	Bass   *string `json:"bass,omitempty"`
	Other  *string `json:"other,omitempty"`
}

// User is the owner projection the orchestrator needs: identity, credit
// balance and plan. The balance is only ever mutated by the settle step.
type User struct {
	ID      string `json:"id"`
	Credits int    `json:"credits"`
	Plan    string `json:"plan"`
}
