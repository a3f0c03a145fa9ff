package review_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/review"
	"github.com/dictumlabs/dictum/internal/store"
)

// flakyStore delegates to the embedded MemStore until err is set, then fails
// every operation with it.
type flakyStore struct {
	*store.MemStore
	err error
}

func (f *flakyStore) CreateSession(ctx context.Context, sess store.Session) (store.Session, error) {
	if f.err != nil {
		return store.Session{}, f.err
	}
	return f.MemStore.CreateSession(ctx, sess)
}

func (f *flakyStore) GetSession(ctx context.Context, id string) (store.Session, error) {
	if f.err != nil {
		return store.Session{}, f.err
	}
	return f.MemStore.GetSession(ctx, id)
}

func (f *flakyStore) ListSessions(ctx context.Context, opts store.ListOptions) ([]store.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.MemStore.ListSessions(ctx, opts)
}

func (f *flakyStore) SetSessionState(ctx context.Context, id string, state store.SessionState) error {
	if f.err != nil {
		return f.err
	}
	return f.MemStore.SetSessionState(ctx, id, state)
}

func (f *flakyStore) AppendSnapshot(ctx context.Context, sessionID string, snap location.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	return f.MemStore.AppendSnapshot(ctx, sessionID, snap)
}

func (f *flakyStore) Snapshots(ctx context.Context, sessionID string) ([]location.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.MemStore.Snapshots(ctx, sessionID)
}

func (f *flakyStore) PutComment(ctx context.Context, c store.Comment) (store.Comment, error) {
	if f.err != nil {
		return store.Comment{}, f.err
	}
	return f.MemStore.PutComment(ctx, c)
}

func (f *flakyStore) Comments(ctx context.Context, sessionID string) ([]store.Comment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.MemStore.Comments(ctx, sessionID)
}

func (f *flakyStore) DeleteComment(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	return f.MemStore.DeleteComment(ctx, id)
}

func (f *flakyStore) SearchSimilar(ctx context.Context, embedding []float32, topK int, filter store.CommentFilter) ([]store.SimilarComment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.MemStore.SearchSimilar(ctx, embedding, topK, filter)
}

func TestGuardDelegatesWhenHealthy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := review.NewStoreGuard(store.NewMemStore())

	created, err := g.CreateSession(ctx, store.Session{Repo: "acme/api"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := g.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Repo != "acme/api" {
		t.Errorf("Repo = %q, want acme/api", got.Repo)
	}
	if g.IsDegraded() {
		t.Error("guard degraded after healthy operations")
	}
}

func TestGuardSwallowsInfrastructureFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flaky := &flakyStore{MemStore: store.NewMemStore(), err: errors.New("connection refused")}
	g := review.NewStoreGuard(flaky)

	sess := store.Session{ID: "s1", Repo: "acme/api", State: store.StateRecording}
	created, err := g.CreateSession(ctx, sess)
	if err != nil {
		t.Fatalf("CreateSession should swallow the failure, got %v", err)
	}
	if created.ID != "s1" {
		t.Errorf("swallowed CreateSession returned ID %q, want the caller's s1", created.ID)
	}

	if err := g.SetSessionState(ctx, "s1", store.StateFinished); err != nil {
		t.Errorf("SetSessionState: %v", err)
	}
	if err := g.AppendSnapshot(ctx, "s1", location.Snapshot{File: "a.go"}); err != nil {
		t.Errorf("AppendSnapshot: %v", err)
	}

	snaps, err := g.Snapshots(ctx, "s1")
	if err != nil || len(snaps) != 0 {
		t.Errorf("Snapshots = %d items, %v; want empty, nil", len(snaps), err)
	}
	sessions, err := g.ListSessions(ctx, store.ListOptions{})
	if err != nil || len(sessions) != 0 {
		t.Errorf("ListSessions = %d items, %v; want empty, nil", len(sessions), err)
	}
	comments, err := g.Comments(ctx, "s1")
	if err != nil || len(comments) != 0 {
		t.Errorf("Comments = %d items, %v; want empty, nil", len(comments), err)
	}
	similar, err := g.SearchSimilar(ctx, []float32{1, 0}, 5, store.CommentFilter{})
	if err != nil || len(similar) != 0 {
		t.Errorf("SearchSimilar = %d items, %v; want empty, nil", len(similar), err)
	}

	c := store.Comment{SessionID: "s1", Text: "Rename this."}
	put, err := g.PutComment(ctx, c)
	if err != nil {
		t.Fatalf("PutComment should swallow the failure, got %v", err)
	}
	if put.Text != c.Text {
		t.Errorf("swallowed PutComment returned %q, want the caller's comment back", put.Text)
	}

	if !g.IsDegraded() {
		t.Error("guard not degraded after infrastructure failures")
	}
}

func TestGuardRecovers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flaky := &flakyStore{MemStore: store.NewMemStore(), err: errors.New("timeout")}
	g := review.NewStoreGuard(flaky)

	if _, err := g.ListSessions(ctx, store.ListOptions{}); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if !g.IsDegraded() {
		t.Fatal("guard should be degraded while the store fails")
	}

	flaky.err = nil
	if _, err := g.ListSessions(ctx, store.ListOptions{}); err != nil {
		t.Fatalf("ListSessions after recovery: %v", err)
	}
	if g.IsDegraded() {
		t.Error("guard still degraded after a successful call")
	}
}

func TestGuardPassesSentinelsThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := review.NewStoreGuard(store.NewMemStore())

	if _, err := g.GetSession(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession(ghost) = %v, want ErrNotFound", err)
	}

	if _, err := g.CreateSession(ctx, store.Session{ID: "dup"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := g.CreateSession(ctx, store.Session{ID: "dup"}); !errors.Is(err, store.ErrDuplicateID) {
		t.Errorf("duplicate CreateSession = %v, want ErrDuplicateID", err)
	}

	if err := g.DeleteComment(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteComment(ghost) = %v, want ErrNotFound", err)
	}
	if err := g.AppendSnapshot(ctx, "ghost", location.Snapshot{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("AppendSnapshot(ghost) = %v, want ErrNotFound", err)
	}

	if g.IsDegraded() {
		t.Error("sentinel errors must not mark the guard degraded")
	}
}

func TestGuardPropagatesUnguardedErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("connection reset")
	g := review.NewStoreGuard(&flakyStore{MemStore: store.NewMemStore(), err: boom})

	if _, err := g.GetSession(ctx, "s1"); !errors.Is(err, boom) {
		t.Errorf("GetSession = %v, want the raw store error", err)
	}
	if err := g.DeleteComment(ctx, "c1"); !errors.Is(err, boom) {
		t.Errorf("DeleteComment = %v, want the raw store error", err)
	}
}
