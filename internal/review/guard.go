package review

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/store"
)

// StoreGuard wraps a [store.Store] so that infrastructure failures never
// interrupt a live recording. Failed writes are logged and swallowed,
// collection reads degrade to empty results, and a degraded flag tracks the
// health of the backend for readiness probes.
//
// Domain answers pass through untouched: [store.ErrNotFound] and
// [store.ErrDuplicateID] are answers, not failures, and do not mark the
// guard degraded. GetSession and DeleteComment also pass errors through,
// because a fabricated zero session is indistinguishable from data and a
// swallowed delete would lie about durable state.
type StoreGuard struct {
	store    store.Store
	degraded atomic.Bool
}

// NewStoreGuard wraps st in failure-swallowing semantics.
func NewStoreGuard(st store.Store) *StoreGuard {
	return &StoreGuard{store: st}
}

// IsDegraded reports whether the most recent guarded call failed.
func (g *StoreGuard) IsDegraded() bool {
	return g.degraded.Load()
}

// observe updates the degraded flag for the outcome of one guarded call and
// reports whether err is an infrastructure failure the caller should
// swallow. Sentinel errors leave the flag alone.
func (g *StoreGuard) observe(op string, err error, attrs ...any) bool {
	if err == nil {
		g.degraded.Store(false)
		return false
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicateID) {
		return false
	}
	g.degraded.Store(true)
	slog.Warn("store guard: "+op+" failed, continuing degraded", append(attrs, "error", err)...)
	return true
}

func (g *StoreGuard) CreateSession(ctx context.Context, sess store.Session) (store.Session, error) {
	created, err := g.store.CreateSession(ctx, sess)
	if g.observe("CreateSession", err, "session", sess.ID) {
		// The caller-provided session keeps the recording usable even
		// though nothing was journaled.
		return sess, nil
	}
	return created, err
}

// GetSession is passed through untouched.
func (g *StoreGuard) GetSession(ctx context.Context, id string) (store.Session, error) {
	return g.store.GetSession(ctx, id)
}

func (g *StoreGuard) ListSessions(ctx context.Context, opts store.ListOptions) ([]store.Session, error) {
	sessions, err := g.store.ListSessions(ctx, opts)
	if g.observe("ListSessions", err) {
		return []store.Session{}, nil
	}
	return sessions, err
}

func (g *StoreGuard) SetSessionState(ctx context.Context, id string, state store.SessionState) error {
	err := g.store.SetSessionState(ctx, id, state)
	if g.observe("SetSessionState", err, "session", id, "state", state) {
		return nil
	}
	return err
}

func (g *StoreGuard) AppendSnapshot(ctx context.Context, sessionID string, snap location.Snapshot) error {
	err := g.store.AppendSnapshot(ctx, sessionID, snap)
	if g.observe("AppendSnapshot", err, "session", sessionID) {
		return nil
	}
	return err
}

func (g *StoreGuard) Snapshots(ctx context.Context, sessionID string) ([]location.Snapshot, error) {
	snaps, err := g.store.Snapshots(ctx, sessionID)
	if g.observe("Snapshots", err, "session", sessionID) {
		return []location.Snapshot{}, nil
	}
	return snaps, err
}

func (g *StoreGuard) PutComment(ctx context.Context, c store.Comment) (store.Comment, error) {
	put, err := g.store.PutComment(ctx, c)
	if g.observe("PutComment", err, "session", c.SessionID) {
		return c, nil
	}
	return put, err
}

func (g *StoreGuard) Comments(ctx context.Context, sessionID string) ([]store.Comment, error) {
	comments, err := g.store.Comments(ctx, sessionID)
	if g.observe("Comments", err, "session", sessionID) {
		return []store.Comment{}, nil
	}
	return comments, err
}

// DeleteComment is passed through untouched.
func (g *StoreGuard) DeleteComment(ctx context.Context, id string) error {
	return g.store.DeleteComment(ctx, id)
}

func (g *StoreGuard) SearchSimilar(ctx context.Context, embedding []float32, topK int, filter store.CommentFilter) ([]store.SimilarComment, error) {
	results, err := g.store.SearchSimilar(ctx, embedding, topK, filter)
	if g.observe("SearchSimilar", err) {
		return []store.SimilarComment{}, nil
	}
	return results, err
}

// Compile-time interface assertion.
var _ store.Store = (*StoreGuard)(nil)
