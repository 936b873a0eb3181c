package model

// Job kinds, used as asynq task types.
const (
	JobTypeGenerate   = "song:generate"
	JobTypeExtend     = "song:extend"
	JobTypeSplitStems = "song:split-stems"
)

// GenerateJobPayload is the immutable input of a generate job. The song
// record carries the generation parameters; the payload only identifies it.
type GenerateJobPayload struct {
	SongID string `json:"songId"`
	UserID string `json:"userId"`
}

// ExtendJobPayload is the immutable input of an extend job.
type ExtendJobPayload struct {
	SongID                    string `json:"songId"`
	UserID                    string `json:"userId"`
	ParentSongID              string `json:"parentSongId"`
	AdditionalDurationSeconds int    `json:"additionalDurationSeconds"`
}

// SplitStemsJobPayload is the immutable input of a split-stems job.
type SplitStemsJobPayload struct {
	SongID string `json:"songId"`
}
