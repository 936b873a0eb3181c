package model

import "errors"

// Permanent input errors. Jobs failing with one of these are never retried
// automatically; the song moves to failed (or the request is rejected
// before a job exists, for checks owned by the trigger layer).
var (
	ErrNoGenerationMode    = errors.New("could not determine generation mode for song")
	ErrParentHasNoAudio    = errors.New("parent song has no audio to extend")
	ErrSongHasNoAudio      = errors.New("song has no audio to split")
	ErrStemsAlreadyExist   = errors.New("stems already exist for this song")
	ErrDurationExceedsPlan = errors.New("requested duration exceeds plan limit")

	ErrSongNotFound = errors.New("song not found")
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientCredits is returned by the trigger-layer pre-check.
	// Inside a workflow, insufficient credits is a normal outcome
	// (status no_credits), not an error.
	ErrInsufficientCredits = errors.New("not enough credits to generate a song")
)
