package postgres_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/internal/store"
	"github.com/dictumlabs/dictum/internal/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if DICTUM_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("DICTUM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DICTUM_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop and recreate the schema.
	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

// mustPool opens a pgxpool with pgvector types registered best-effort; the
// extension may not be installed yet on a fresh database.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS review_comments CASCADE",
		"DROP TABLE IF EXISTS session_snapshots CASCADE",
		"DROP TABLE IF EXISTS review_sessions CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateSession(ctx, store.Session{Repo: "acme/api", PullNumber: 42})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.ID == "" {
		t.Fatal("CreateSession: expected generated ID")
	}
	if created.State != store.StateRecording {
		t.Errorf("State: want %q, got %q", store.StateRecording, created.State)
	}

	got, err := st.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Repo != "acme/api" || got.PullNumber != 42 {
		t.Errorf("GetSession: want acme/api#42, got %s#%d", got.Repo, got.PullNumber)
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt: want a timestamp, got zero")
	}
	if !got.FinishedAt.IsZero() {
		t.Errorf("FinishedAt: want zero, got %v", got.FinishedAt)
	}

	// Explicit IDs are preserved, duplicates rejected.
	if _, err := st.CreateSession(ctx, store.Session{ID: "rev-1", Repo: "acme/api"}); err != nil {
		t.Fatalf("CreateSession explicit: %v", err)
	}
	_, err = st.CreateSession(ctx, store.Session{ID: "rev-1", Repo: "acme/api"})
	if !errors.Is(err, store.ErrDuplicateID) {
		t.Errorf("CreateSession duplicate: want ErrDuplicateID, got %v", err)
	}

	_, err = st.GetSession(ctx, "does-not-exist")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession missing: want ErrNotFound, got %v", err)
	}
}

func TestListSessionsOrderAndFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := []store.Session{
		{ID: "s1", Repo: "acme/api", PullNumber: 7, StartedAt: now.Add(-3 * time.Hour)},
		{ID: "s2", Repo: "acme/api", PullNumber: 9, StartedAt: now.Add(-2 * time.Hour)},
		{ID: "s3", Repo: "acme/web", PullNumber: 7, State: store.StateFinished, StartedAt: now.Add(-1 * time.Hour)},
	}
	for _, sess := range seed {
		if _, err := st.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession %s: %v", sess.ID, err)
		}
	}

	tests := []struct {
		name    string
		opts    store.ListOptions
		wantIDs []string
	}{
		{"all newest first", store.ListOptions{}, []string{"s3", "s2", "s1"}},
		{"repo", store.ListOptions{Repo: "acme/api"}, []string{"s2", "s1"}},
		{"pull number", store.ListOptions{PullNumber: 7}, []string{"s3", "s1"}},
		{"state", store.ListOptions{State: store.StateFinished}, []string{"s3"}},
		{"limit", store.ListOptions{Limit: 2}, []string{"s3", "s2"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := st.ListSessions(ctx, tc.opts)
			if err != nil {
				t.Fatalf("ListSessions: %v", err)
			}
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("ListSessions: want %v, got %d results", tc.wantIDs, len(got))
			}
			for i := range got {
				if got[i].ID != tc.wantIDs[i] {
					t.Errorf("result %d: want %q, got %q", i, tc.wantIDs[i], got[i].ID)
				}
			}
		})
	}
}

func TestSetSessionStateTransitions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, store.Session{Repo: "acme/api"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := st.SetSessionState(ctx, sess.ID, store.StateProcessing); err != nil {
		t.Fatalf("SetSessionState processing: %v", err)
	}
	mid, _ := st.GetSession(ctx, sess.ID)
	if mid.State != store.StateProcessing {
		t.Errorf("State: want %q, got %q", store.StateProcessing, mid.State)
	}
	if !mid.FinishedAt.IsZero() {
		t.Errorf("FinishedAt before finish: want zero, got %v", mid.FinishedAt)
	}

	if err := st.SetSessionState(ctx, sess.ID, store.StateFinished); err != nil {
		t.Fatalf("SetSessionState finished: %v", err)
	}
	done, _ := st.GetSession(ctx, sess.ID)
	if done.FinishedAt.IsZero() {
		t.Error("FinishedAt after finish: want a timestamp, got zero")
	}

	// Finishing again keeps the original stamp.
	if err := st.SetSessionState(ctx, sess.ID, store.StateFinished); err != nil {
		t.Fatalf("SetSessionState finished again: %v", err)
	}
	again, _ := st.GetSession(ctx, sess.ID)
	if !again.FinishedAt.Equal(done.FinishedAt) {
		t.Errorf("FinishedAt: want %v unchanged, got %v", done.FinishedAt, again.FinishedAt)
	}

	err = st.SetSessionState(ctx, "ghost", store.StateFinished)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SetSessionState missing: want ErrNotFound, got %v", err)
	}
}

func TestSnapshotStreamRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, store.Session{Repo: "acme/api"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	snaps := []location.Snapshot{
		{Timestamp: 1.5, File: "server.go", CursorLine: 10},
		{
			Timestamp:     4.25,
			File:          "server.go",
			CursorLine:    42,
			VisibleRange:  [2]int{30, 60},
			SymbolsInView: []string{"Handle", "Dial"},
			CodeContext:   "func Handle(w http.ResponseWriter, r *http.Request) {",
		},
	}
	for _, snap := range snaps {
		if err := st.AppendSnapshot(ctx, sess.ID, snap); err != nil {
			t.Fatalf("AppendSnapshot: %v", err)
		}
	}

	got, err := st.Snapshots(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(got) != len(snaps) {
		t.Fatalf("Snapshots: want %d, got %d", len(snaps), len(got))
	}
	for i := range got {
		want := snaps[i]
		if got[i].Timestamp != want.Timestamp || got[i].File != want.File || got[i].CursorLine != want.CursorLine {
			t.Errorf("snapshot %d: want %+v, got %+v", i, want, got[i])
		}
		if got[i].VisibleRange != want.VisibleRange {
			t.Errorf("snapshot %d range: want %v, got %v", i, want.VisibleRange, got[i].VisibleRange)
		}
		if got[i].CodeContext != want.CodeContext {
			t.Errorf("snapshot %d context: want %q, got %q", i, want.CodeContext, got[i].CodeContext)
		}
	}
	if len(got[0].SymbolsInView) != 0 {
		t.Errorf("snapshot 0 symbols: want none, got %v", got[0].SymbolsInView)
	}
	if len(got[1].SymbolsInView) != 2 || got[1].SymbolsInView[0] != "Handle" {
		t.Errorf("snapshot 1 symbols: want [Handle Dial], got %v", got[1].SymbolsInView)
	}

	// The foreign key surfaces as ErrNotFound.
	err = st.AppendSnapshot(ctx, "ghost", location.Snapshot{File: "x.go"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("AppendSnapshot missing session: want ErrNotFound, got %v", err)
	}

	empty, err := st.Snapshots(ctx, "ghost")
	if err != nil {
		t.Fatalf("Snapshots missing session: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Snapshots missing session: want empty, got %d", len(empty))
	}
}

func TestCommentRoundTripAndUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, store.Session{Repo: "acme/api"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	put, err := st.PutComment(ctx, store.Comment{
		SessionID:      sess.ID,
		Text:           "This swallows the parse error.",
		Original:       "uh this one swallows the error I think",
		Classification: segment.ClassConcern,
		File:           "parser.go",
		Line:           88,
		SpokenAt:       12.5,
		Embedding:      []float32{1, 0, 0.5, 0},
	})
	if err != nil {
		t.Fatalf("PutComment: %v", err)
	}
	if put.ID == "" {
		t.Fatal("PutComment: expected generated ID")
	}
	if put.CreatedAt.IsZero() {
		t.Error("PutComment: expected CreatedAt to be stamped")
	}

	got, err := st.Comments(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Comments: want 1, got %d", len(got))
	}
	c := got[0]
	if c.Text != put.Text || c.Original != put.Original || c.Classification != segment.ClassConcern {
		t.Errorf("comment: want %+v, got %+v", put, c)
	}
	if c.File != "parser.go" || c.Line != 88 || c.SpokenAt != 12.5 {
		t.Errorf("placement: want parser.go:88 @12.5s, got %s:%d @%vs", c.File, c.Line, c.SpokenAt)
	}
	if len(c.Embedding) != 4 || c.Embedding[0] != 1 || c.Embedding[2] != 0.5 {
		t.Errorf("embedding: want [1 0 0.5 0], got %v", c.Embedding)
	}

	// Upsert replaces the row in place.
	put.Text = "This swallows the parse error; wrap and return it."
	put.Line = 90
	if _, err := st.PutComment(ctx, put); err != nil {
		t.Fatalf("PutComment upsert: %v", err)
	}
	after, _ := st.Comments(ctx, sess.ID)
	if len(after) != 1 {
		t.Fatalf("Comments after upsert: want 1, got %d", len(after))
	}
	if after[0].Line != 90 {
		t.Errorf("Line after upsert: want 90, got %d", after[0].Line)
	}

	// The foreign key surfaces as ErrNotFound.
	_, err = st.PutComment(ctx, store.Comment{SessionID: "ghost", Text: "orphan"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("PutComment missing session: want ErrNotFound, got %v", err)
	}

	if err := st.DeleteComment(ctx, put.ID); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	if err := st.DeleteComment(ctx, put.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteComment again: want ErrNotFound, got %v", err)
	}
}

func TestSearchSimilarRankingAndFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	api, err := st.CreateSession(ctx, store.Session{ID: "sess-api", Repo: "acme/api"})
	if err != nil {
		t.Fatalf("CreateSession api: %v", err)
	}
	web, err := st.CreateSession(ctx, store.Session{ID: "sess-web", Repo: "acme/web"})
	if err != nil {
		t.Fatalf("CreateSession web: %v", err)
	}

	for _, c := range []store.Comment{
		{ID: "a", SessionID: api.ID, Text: "error is swallowed", Classification: segment.ClassConcern, File: "server.go", Embedding: []float32{1, 0, 0, 0}},
		{ID: "b", SessionID: api.ID, Text: "rename this helper", Classification: segment.ClassSuggestion, File: "client.go", Embedding: []float32{0, 1, 0, 0}},
		{ID: "c", SessionID: web.ID, Text: "missing nil check", Classification: segment.ClassConcern, File: "server.go", Embedding: []float32{1, 1, 0, 0}},
		{ID: "no-embedding", SessionID: api.ID, Text: "never indexed", File: "server.go"},
	} {
		if _, err := st.PutComment(ctx, c); err != nil {
			t.Fatalf("PutComment %s: %v", c.ID, err)
		}
	}

	query := []float32{1, 0, 0, 0}

	results, err := st.SearchSimilar(ctx, query, 10, store.CommentFilter{})
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("SearchSimilar: want 3 (NULL embedding excluded), got %d", len(results))
	}
	for i, want := range []string{"a", "c", "b"} {
		if results[i].Comment.ID != want {
			t.Errorf("result %d: want %q, got %q (distance %.4f)", i, want, results[i].Comment.ID, results[i].Distance)
		}
	}
	if results[0].Distance > 1e-6 {
		t.Errorf("identical embedding: want distance 0, got %g", results[0].Distance)
	}
	if want := 1 - 1/math.Sqrt2; math.Abs(results[1].Distance-want) > 1e-6 {
		t.Errorf("diagonal embedding: want distance %.6f, got %.6f", want, results[1].Distance)
	}

	tests := []struct {
		name    string
		filter  store.CommentFilter
		wantIDs []string
	}{
		{"session", store.CommentFilter{SessionID: api.ID}, []string{"a", "b"}},
		{"file", store.CommentFilter{File: "server.go"}, []string{"a", "c"}},
		{"classification", store.CommentFilter{Classification: segment.ClassSuggestion}, []string{"b"}},
		{"repo", store.CommentFilter{Repo: "acme/web"}, []string{"c"}},
		{"repo and file", store.CommentFilter{Repo: "acme/api", File: "client.go"}, []string{"b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := st.SearchSimilar(ctx, query, 10, tc.filter)
			if err != nil {
				t.Fatalf("SearchSimilar: %v", err)
			}
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("SearchSimilar: want %v, got %d results", tc.wantIDs, len(got))
			}
			for i := range got {
				if got[i].Comment.ID != tc.wantIDs[i] {
					t.Errorf("result %d: want %q, got %q", i, tc.wantIDs[i], got[i].Comment.ID)
				}
			}
		})
	}

	topOne, err := st.SearchSimilar(ctx, query, 1, store.CommentFilter{})
	if err != nil {
		t.Fatalf("SearchSimilar topK=1: %v", err)
	}
	if len(topOne) != 1 || topOne[0].Comment.ID != "a" {
		t.Errorf("SearchSimilar topK=1: want [a], got %d results", len(topOne))
	}
}
