// Package postgres provides the PostgreSQL-backed implementation of the
// review store: session records, their snapshot streams, and finalized
// comments with a pgvector similarity index.
//
// All tables share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	sess, _ := st.CreateSession(ctx, store.Session{Repo: "acme/api", PullNumber: 7})
//	_ = st.AppendSnapshot(ctx, sess.ID, snap)
//	_, _ = st.PutComment(ctx, comment)
//	similar, _ := st.SearchSimilar(ctx, embedding, 5, store.CommentFilter{Repo: "acme/api"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS review_sessions (
    id           TEXT         PRIMARY KEY,
    repo         TEXT         NOT NULL DEFAULT '',
    pull_number  INTEGER      NOT NULL DEFAULT 0,
    state        TEXT         NOT NULL,
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_review_sessions_repo_pull
    ON review_sessions (repo, pull_number);

CREATE INDEX IF NOT EXISTS idx_review_sessions_started_at
    ON review_sessions (started_at);

CREATE TABLE IF NOT EXISTS session_snapshots (
    id            BIGSERIAL         PRIMARY KEY,
    session_id    TEXT              NOT NULL REFERENCES review_sessions (id) ON DELETE CASCADE,
    ts_seconds    DOUBLE PRECISION  NOT NULL DEFAULT 0,
    file          TEXT              NOT NULL,
    cursor_line   INTEGER           NOT NULL DEFAULT 0,
    range_start   INTEGER           NOT NULL DEFAULT 0,
    range_end     INTEGER           NOT NULL DEFAULT 0,
    symbols       TEXT[],
    code_context  TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_session_snapshots_session_id
    ON session_snapshots (session_id, id);
`

// ddlComments returns the comment DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlComments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS review_comments (
    id              TEXT              PRIMARY KEY,
    session_id      TEXT              NOT NULL REFERENCES review_sessions (id) ON DELETE CASCADE,
    text            TEXT              NOT NULL,
    original        TEXT              NOT NULL DEFAULT '',
    classification  TEXT              NOT NULL DEFAULT '',
    file            TEXT              NOT NULL DEFAULT '',
    line            INTEGER           NOT NULL DEFAULT 0,
    spoken_at       DOUBLE PRECISION  NOT NULL DEFAULT 0,
    embedding       vector(%d),
    created_at      TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_review_comments_session_spoken
    ON review_comments (session_id, spoken_at);

CREATE INDEX IF NOT EXISTS idx_review_comments_embedding
    ON review_comments USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the embeddings backend configured for the
// deployment. Changing it after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlComments(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
