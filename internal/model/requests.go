package model

// GenerateSongRequest is the trigger input for a new generation. Exactly
// one field combination selects the mode; validation of the combination
// happens in the workflow, where the song record is the source of truth.
type GenerateSongRequest struct {
	Prompt            *string `json:"prompt,omitempty"`
	Lyrics            *string `json:"lyrics,omitempty"`
	FullDescribedSong *string `json:"fullDescribedSong,omitempty"`
	DescribedLyrics   *string `json:"describedLyrics,omitempty"`
	Instrumental      *bool   `json:"instrumental,omitempty"`
	AudioDuration     *int    `json:"audioDuration,omitempty" validate:"omitempty,min=1"`
}

// ExtendSongRequest is the trigger input for extending a song.
type ExtendSongRequest struct {
	AdditionalDurationSeconds int `json:"additionalDurationSeconds" validate:"required,min=1"`
}

// SongQueuedResponse acknowledges an accepted trigger.
type SongQueuedResponse struct {
	SongID string     `json:"songId"`
	Status SongStatus `json:"status"`
}

// CostPreviewResponse is the standalone pricing result for UI previews.
type CostPreviewResponse struct {
	DurationSeconds int            `json:"durationSeconds"`
	Mode            GenerationMode `json:"mode"`
	Plan            string         `json:"plan"`
	Cost            int            `json:"cost"`
}
