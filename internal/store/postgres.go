// Package store is the Postgres repository for songs, users and category
// tags. Every write the orchestrator performs is expressed as an
// idempotent set-to-value or a guarded conditional update, so workflow
// step replays are safe.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/songlab/api/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const songColumns = `
	id, user_id, title, status,
	prompt, lyrics, described_lyrics, full_described_song,
	instrumental, guidance_scale, infer_step, audio_duration, seed,
	s3_key, thumbnail_s3_key,
	vocals_s3_key, drums_s3_key, bass_s3_key, other_s3_key,
	parent_song_id, listen_count, created_at, updated_at`

func scanSong(row pgx.Row) (*model.Song, error) {
	s := &model.Song{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.Title, &s.Status,
		&s.Prompt, &s.Lyrics, &s.DescribedLyrics, &s.FullDescribedSong,
		&s.Instrumental, &s.GuidanceScale, &s.InferStep, &s.AudioDuration, &s.Seed,
		&s.S3Key, &s.ThumbnailS3Key,
		&s.VocalsS3Key, &s.DrumsS3Key, &s.BassS3Key, &s.OtherS3Key,
		&s.ParentSongID, &s.ListenCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSongNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetSong loads a song by id.
func (s *Store) GetSong(ctx context.Context, id string) (*model.Song, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+songColumns+` FROM songs WHERE id = $1`, id)
	return scanSong(row)
}

// GetSongForUser loads a song owned by userID.
func (s *Store) GetSongForUser(ctx context.Context, id, userID string) (*model.Song, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+songColumns+` FROM songs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanSong(row)
}

// CreateSong inserts a new song in its initial state.
func (s *Store) CreateSong(ctx context.Context, song *model.Song) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO songs (
			id, user_id, title, status,
			prompt, lyrics, described_lyrics, full_described_song,
			instrumental, guidance_scale, infer_step, audio_duration, seed,
			parent_song_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		song.ID, song.UserID, song.Title, song.Status,
		song.Prompt, song.Lyrics, song.DescribedLyrics, song.FullDescribedSong,
		song.Instrumental, song.GuidanceScale, song.InferStep, song.AudioDuration, song.Seed,
		song.ParentSongID,
	)
	if err != nil {
		return fmt.Errorf("create song: %w", err)
	}
	return nil
}

// SetSongStatus sets the lifecycle state unconditionally. Used for
// terminal transitions (failed, no_credits), which are idempotent by
// construction.
func (s *Store) SetSongStatus(ctx context.Context, id string, status model.SongStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE songs SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set song %s status %s: %w", id, status, err)
	}
	return nil
}

// MarkSongProcessing transitions queued → processing. Re-applying the
// transition when the song is already processing is a no-op, which makes
// the step safe to replay.
func (s *Store) MarkSongProcessing(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE songs SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')`, id)
	if err != nil {
		return fmt.Errorf("mark song %s processing: %w", id, err)
	}
	return nil
}

// ApplySongResult persists a successful generation: audio and thumbnail
// keys plus the processed state, as one set-to-value write.
func (s *Store) ApplySongResult(ctx context.Context, id, s3Key, thumbnailS3Key string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE songs
		SET s3_key = $2, thumbnail_s3_key = $3, status = 'processed', updated_at = NOW()
		WHERE id = $1`,
		id, s3Key, thumbnailS3Key)
	if err != nil {
		return fmt.Errorf("apply result for song %s: %w", id, err)
	}
	return nil
}

// SetStemKeys persists the stem keys returned by a split. Keys the
// backend omitted stay null.
func (s *Store) SetStemKeys(ctx context.Context, id string, keys model.StemKeys) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE songs
		SET vocals_s3_key = $2, drums_s3_key = $3, bass_s3_key = $4, other_s3_key = $5,
		    updated_at = NOW()
		WHERE id = $1`,
		id, keys.Vocals, keys.Drums, keys.Bass, keys.Other)
	if err != nil {
		return fmt.Errorf("set stem keys for song %s: %w", id, err)
	}
	return nil
}

// ClearStemKeys nulls all four stem keys. The compensation for a failed
// split: a failed split never leaves partial stems behind.
func (s *Store) ClearStemKeys(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE songs
		SET vocals_s3_key = NULL, drums_s3_key = NULL, bass_s3_key = NULL, other_s3_key = NULL,
		    updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear stem keys for song %s: %w", id, err)
	}
	return nil
}

// GetUser loads a user's credit balance and plan.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, credits, plan FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Credits, &u.Plan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// DebitCredits decrements a user's balance as a single conditional
// update. The WHERE guard makes read-check-decrement atomic: two
// concurrent settles for the same owner can never drive the balance
// negative.
func (s *Store) DebitCredits(ctx context.Context, userID string, amount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET credits = credits - $2, updated_at = NOW()
		WHERE id = $1 AND credits >= $2`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("debit %d credits from user %s: %w", amount, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %d credits from user %s: %w", amount, userID, model.ErrInsufficientCredits)
	}
	return nil
}

// UpsertCategories upserts category tags by name and links them to the
// song. Idempotent by construction: re-running the same link changes
// nothing.
func (s *Store) UpsertCategories(ctx context.Context, songID string, names []string) error {
	if len(names) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert categories for song %s: %w", songID, err)
	}
	defer tx.Rollback(ctx)

	for _, name := range names {
		var categoryID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO categories (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, name).Scan(&categoryID)
		if err != nil {
			return fmt.Errorf("upsert category %q: %w", name, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO song_categories (song_id, category_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, songID, categoryID)
		if err != nil {
			return fmt.Errorf("link category %q to song %s: %w", name, songID, err)
		}
	}

	return tx.Commit(ctx)
}

// IncrementListenCount bumps a song's play counter.
func (s *Store) IncrementListenCount(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE songs SET listen_count = listen_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment listen count for song %s: %w", id, err)
	}
	return nil
}
