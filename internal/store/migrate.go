package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL, written to be re-applicable: every statement is
// IF NOT EXISTS so migrate can run on every deploy.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    credits     INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
    plan        TEXT NOT NULL DEFAULT 'FREE',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS songs (
    id                   TEXT PRIMARY KEY,
    user_id              TEXT NOT NULL REFERENCES users(id),
    title                TEXT NOT NULL DEFAULT 'Untitled',
    status               TEXT NOT NULL DEFAULT 'queued',

    prompt               TEXT,
    lyrics               TEXT,
    described_lyrics     TEXT,
    full_described_song  TEXT,
    instrumental         BOOLEAN,
    guidance_scale       DOUBLE PRECISION,
    infer_step           INTEGER,
    audio_duration       INTEGER,
    seed                 INTEGER,

    s3_key               TEXT,
    thumbnail_s3_key     TEXT,

    vocals_s3_key        TEXT,
    drums_s3_key         TEXT,
    bass_s3_key          TEXT,
    other_s3_key         TEXT,

    parent_song_id       TEXT REFERENCES songs(id),
    listen_count         INTEGER NOT NULL DEFAULT 0,

    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_songs_user_id ON songs(user_id);
CREATE INDEX IF NOT EXISTS idx_songs_status  ON songs(status);

CREATE TABLE IF NOT EXISTS categories (
    id    BIGSERIAL PRIMARY KEY,
    name  TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS song_categories (
    song_id      TEXT   NOT NULL REFERENCES songs(id),
    category_id  BIGINT NOT NULL REFERENCES categories(id),
    PRIMARY KEY (song_id, category_id)
);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
