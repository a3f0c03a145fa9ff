package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/internal/store"
)

// PutComment implements [store.CommentIndex]. A comment with an existing ID
// is completely replaced.
func (s *Store) PutComment(ctx context.Context, c store.Comment) (store.Comment, error) {
	if c.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return store.Comment{}, fmt.Errorf("postgres store: generate id: %w", err)
		}
		c.ID = id
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	// A NULL embedding keeps the row out of the similarity index.
	var embedding any
	if len(c.Embedding) > 0 {
		embedding = pgvector.NewVector(c.Embedding)
	}

	const q = `
		INSERT INTO review_comments
		    (id, session_id, text, original, classification, file, line, spoken_at, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    session_id     = EXCLUDED.session_id,
		    text           = EXCLUDED.text,
		    original       = EXCLUDED.original,
		    classification = EXCLUDED.classification,
		    file           = EXCLUDED.file,
		    line           = EXCLUDED.line,
		    spoken_at      = EXCLUDED.spoken_at,
		    embedding      = EXCLUDED.embedding,
		    created_at     = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		c.ID,
		c.SessionID,
		c.Text,
		c.Original,
		string(c.Classification),
		c.File,
		c.Line,
		float64(c.SpokenAt),
		embedding,
		c.CreatedAt,
	)
	if pgErrCode(err) == codeForeignKeyViolation {
		return store.Comment{}, store.ErrNotFound
	}
	if err != nil {
		return store.Comment{}, fmt.Errorf("postgres store: put comment: %w", err)
	}
	return c, nil
}

// Comments implements [store.CommentIndex]. Results are ordered by the
// moment each remark was spoken.
func (s *Store) Comments(ctx context.Context, sessionID string) ([]store.Comment, error) {
	const q = `
		SELECT id, session_id, text, original, classification, file, line, spoken_at, embedding, created_at
		FROM   review_comments
		WHERE  session_id = $1
		ORDER  BY spoken_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: comments: %w", err)
	}

	comments, err := pgx.CollectRows(rows, scanComment)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan comments: %w", err)
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	return comments, nil
}

// DeleteComment implements [store.CommentIndex].
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM review_comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SearchSimilar implements [store.CommentIndex]. It finds the topK comments
// whose embeddings are closest (cosine distance) to the supplied query
// embedding, optionally narrowed by filter. Rows without an embedding are
// excluded before the distance ranking.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int, filter store.CommentFilter) ([]store.SimilarComment, error) {
	if topK <= 0 {
		topK = store.DefaultTopK
	}

	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query embedding
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"c.embedding IS NOT NULL"}
	joinClause := ""
	if filter.Repo != "" {
		joinClause = "JOIN review_sessions s ON s.id = c.session_id"
		conditions = append(conditions, "s.repo = "+next(filter.Repo))
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "c.session_id = "+next(filter.SessionID))
	}
	if filter.File != "" {
		conditions = append(conditions, "c.file = "+next(filter.File))
	}
	if filter.Classification != "" {
		conditions = append(conditions, "c.classification = "+next(string(filter.Classification)))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT c.id, c.session_id, c.text, c.original, c.classification, c.file, c.line, c.spoken_at, c.embedding, c.created_at,
		       c.embedding <=> $1 AS distance
		FROM   review_comments c
		%s
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, joinClause, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search similar: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SimilarComment, error) {
		var (
			sc             store.SimilarComment
			classification string
			spokenAt       float64
			vec            *pgvector.Vector
		)
		if err := row.Scan(
			&sc.Comment.ID,
			&sc.Comment.SessionID,
			&sc.Comment.Text,
			&sc.Comment.Original,
			&classification,
			&sc.Comment.File,
			&sc.Comment.Line,
			&spokenAt,
			&vec,
			&sc.Comment.CreatedAt,
			&sc.Distance,
		); err != nil {
			return store.SimilarComment{}, err
		}
		sc.Comment.Classification = segment.Classification(classification)
		sc.Comment.SpokenAt = segment.Seconds(spokenAt)
		if vec != nil {
			sc.Comment.Embedding = vec.Slice()
		}
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []store.SimilarComment{}
	}
	return results, nil
}

// scanComment scans one row produced by the review_comments column list.
func scanComment(row pgx.CollectableRow) (store.Comment, error) {
	var (
		c              store.Comment
		classification string
		spokenAt       float64
		vec            *pgvector.Vector
	)
	if err := row.Scan(
		&c.ID,
		&c.SessionID,
		&c.Text,
		&c.Original,
		&classification,
		&c.File,
		&c.Line,
		&spokenAt,
		&vec,
		&c.CreatedAt,
	); err != nil {
		return store.Comment{}, err
	}
	c.Classification = segment.Classification(classification)
	c.SpokenAt = segment.Seconds(spokenAt)
	if vec != nil {
		c.Embedding = vec.Slice()
	}
	return c, nil
}
