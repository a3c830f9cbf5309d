// Package postgres keeps the conversation log in PostgreSQL.
//
// Everything lives in one turns table. Semantic search runs on the pgvector
// extension, which [Migrate] creates when missing; the embedding dimension is
// part of the vector column type and therefore fixed the moment the schema
// first exists.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, embedder)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Record(ctx, entry)
//	results, _ := store.Search(ctx, "where is the hotel?", 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlTurns renders the turns schema with the vector width filled in.
func ddlTurns(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    id              TEXT         PRIMARY KEY,
    side            SMALLINT     NOT NULL,
    source_lang     TEXT         NOT NULL,
    target_lang     TEXT         NOT NULL,
    original_text   TEXT         NOT NULL,
    translated_text TEXT         NOT NULL,
    from_cache      BOOLEAN      NOT NULL DEFAULT FALSE,
    pivoted         BOOLEAN      NOT NULL DEFAULT FALSE,
    fallback        BOOLEAN      NOT NULL DEFAULT FALSE,
    translate_ns    BIGINT       NOT NULL DEFAULT 0,
    speak_ns        BIGINT       NOT NULL DEFAULT 0,
    embedding       vector(%d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_created_at
    ON turns (created_at);

CREATE INDEX IF NOT EXISTS idx_turns_embedding
    ON turns USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate brings up the turns table and the pgvector extension. Every
// statement is IF NOT EXISTS, so running it on each start costs nothing.
//
// embeddingDimensions must equal the configured embedder's output width. Once
// the table exists the width is locked in; switching to a model with a
// different width means altering the column by hand.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlTurns(embeddingDimensions)); err != nil {
		return fmt.Errorf("history migrate: %w", err)
	}
	return nil
}
