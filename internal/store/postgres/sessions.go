package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/internal/store"
)

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess store.Session) (store.Session, error) {
	if sess.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return store.Session{}, fmt.Errorf("postgres store: generate id: %w", err)
		}
		sess.ID = id
	}
	if sess.State == "" {
		sess.State = store.StateRecording
	}
	if !sess.State.IsValid() {
		return store.Session{}, fmt.Errorf("postgres store: invalid session state %q", sess.State)
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	var finished any
	if !sess.FinishedAt.IsZero() {
		finished = sess.FinishedAt
	}

	const q = `
		INSERT INTO review_sessions (id, repo, pull_number, state, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		sess.ID,
		sess.Repo,
		sess.PullNumber,
		string(sess.State),
		sess.StartedAt,
		finished,
	)
	if pgErrCode(err) == codeUniqueViolation {
		return store.Session{}, store.ErrDuplicateID
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: create session: %w", err)
	}
	return sess, nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	const q = `
		SELECT id, repo, pull_number, state, started_at, finished_at
		FROM   review_sessions
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: get session: %w", err)
	}

	sessions, err := collectSessions(rows)
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: scan session: %w", err)
	}
	if len(sessions) == 0 {
		return store.Session{}, store.ErrNotFound
	}
	return sessions[0], nil
}

// ListSessions implements [store.SessionStore]. Results are ordered newest
// first.
func (s *Store) ListSessions(ctx context.Context, opts store.ListOptions) ([]store.Session, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if opts.Repo != "" {
		conditions = append(conditions, "repo = "+next(opts.Repo))
	}
	if opts.PullNumber != 0 {
		conditions = append(conditions, "pull_number = "+next(opts.PullNumber))
	}
	if opts.State != "" {
		conditions = append(conditions, "state = "+next(string(opts.State)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	limitClause := ""
	if opts.Limit > 0 {
		limitClause = "LIMIT " + next(opts.Limit)
	}

	q := fmt.Sprintf(`
		SELECT id, repo, pull_number, state, started_at, finished_at
		FROM   review_sessions
		%s
		ORDER  BY started_at DESC, id
		%s`, whereClause, limitClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}

	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return sessions, nil
}

// SetSessionState implements [store.SessionStore]. The first transition to
// [store.StateFinished] stamps finished_at; later calls leave it alone.
func (s *Store) SetSessionState(ctx context.Context, id string, state store.SessionState) error {
	if !state.IsValid() {
		return fmt.Errorf("postgres store: invalid session state %q", state)
	}

	const q = `
		UPDATE review_sessions
		SET    state = $2,
		       finished_at = CASE WHEN $3 AND finished_at IS NULL THEN now() ELSE finished_at END
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, string(state), state == store.StateFinished)
	if err != nil {
		return fmt.Errorf("postgres store: set session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendSnapshot implements [store.SessionStore].
func (s *Store) AppendSnapshot(ctx context.Context, sessionID string, snap location.Snapshot) error {
	const q = `
		INSERT INTO session_snapshots
		    (session_id, ts_seconds, file, cursor_line, range_start, range_end, symbols, code_context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		sessionID,
		float64(snap.Timestamp),
		snap.File,
		snap.CursorLine,
		snap.VisibleRange[0],
		snap.VisibleRange[1],
		snap.SymbolsInView,
		snap.CodeContext,
	)
	if pgErrCode(err) == codeForeignKeyViolation {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres store: append snapshot: %w", err)
	}
	return nil
}

// Snapshots implements [store.SessionStore]. The BIGSERIAL key preserves
// append order.
func (s *Store) Snapshots(ctx context.Context, sessionID string) ([]location.Snapshot, error) {
	const q = `
		SELECT ts_seconds, file, cursor_line, range_start, range_end, symbols, code_context
		FROM   session_snapshots
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: snapshots: %w", err)
	}

	snaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (location.Snapshot, error) {
		var (
			snap location.Snapshot
			ts   float64
		)
		if err := row.Scan(
			&ts,
			&snap.File,
			&snap.CursorLine,
			&snap.VisibleRange[0],
			&snap.VisibleRange[1],
			&snap.SymbolsInView,
			&snap.CodeContext,
		); err != nil {
			return location.Snapshot{}, err
		}
		snap.Timestamp = segment.Seconds(ts)
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan snapshots: %w", err)
	}
	if snaps == nil {
		snaps = []location.Snapshot{}
	}
	return snaps, nil
}

// collectSessions scans rows produced by the review_sessions column list.
func collectSessions(rows pgx.Rows) ([]store.Session, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Session, error) {
		var (
			sess     store.Session
			state    string
			finished *time.Time
		)
		if err := row.Scan(
			&sess.ID,
			&sess.Repo,
			&sess.PullNumber,
			&state,
			&sess.StartedAt,
			&finished,
		); err != nil {
			return store.Session{}, err
		}
		sess.State = store.SessionState(state)
		if finished != nil {
			sess.FinishedAt = *finished
		}
		return sess, nil
	})
}
