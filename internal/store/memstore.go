package store

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dictumlabs/dictum/internal/location"
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is
// suitable for tests and storeless runs. The zero value is ready to use.
type MemStore struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	snapshots map[string][]location.Snapshot
	comments  map[string]Comment
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:  make(map[string]Session),
		snapshots: make(map[string][]location.Snapshot),
		comments:  make(map[string]Comment),
	}
}

// CreateSession implements [SessionStore.CreateSession].
func (s *MemStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		id, err := NewID()
		if err != nil {
			return Session{}, fmt.Errorf("store: generate id: %w", err)
		}
		sess.ID = id
	}
	if sess.State == "" {
		sess.State = StateRecording
	}
	if !sess.State.IsValid() {
		return Session{}, fmt.Errorf("store: invalid session state %q", sess.State)
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions == nil {
		s.sessions = make(map[string]Session)
		s.snapshots = make(map[string][]location.Snapshot)
		s.comments = make(map[string]Comment)
	}

	if _, exists := s.sessions[sess.ID]; exists {
		return Session{}, ErrDuplicateID
	}

	s.sessions[sess.ID] = sess
	return sess, nil
}

// GetSession implements [SessionStore.GetSession].
func (s *MemStore) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// ListSessions implements [SessionStore.ListSessions].
func (s *MemStore) ListSessions(ctx context.Context, opts ListOptions) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !matchesListOpts(sess, opts) {
			continue
		}
		result = append(result, sess)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID < result[j].ID
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// SetSessionState implements [SessionStore.SetSessionState].
func (s *MemStore) SetSessionState(ctx context.Context, id string, state SessionState) error {
	if !state.IsValid() {
		return fmt.Errorf("store: invalid session state %q", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}

	sess.State = state
	if state == StateFinished && sess.FinishedAt.IsZero() {
		sess.FinishedAt = time.Now()
	}
	s.sessions[id] = sess
	return nil
}

// AppendSnapshot implements [SessionStore.AppendSnapshot].
func (s *MemStore) AppendSnapshot(ctx context.Context, sessionID string, snap location.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}

	s.snapshots[sessionID] = append(s.snapshots[sessionID], snap)
	return nil
}

// Snapshots implements [SessionStore.Snapshots].
func (s *MemStore) Snapshots(ctx context.Context, sessionID string) ([]location.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.snapshots[sessionID]), nil
}

// PutComment implements [CommentIndex.PutComment].
func (s *MemStore) PutComment(ctx context.Context, c Comment) (Comment, error) {
	if c.ID == "" {
		id, err := NewID()
		if err != nil {
			return Comment{}, fmt.Errorf("store: generate id: %w", err)
		}
		c.ID = id
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[c.SessionID]; !ok {
		return Comment{}, ErrNotFound
	}

	s.comments[c.ID] = c
	return c, nil
}

// Comments implements [CommentIndex.Comments].
func (s *MemStore) Comments(ctx context.Context, sessionID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Comment, 0)
	for _, c := range s.comments {
		if c.SessionID == sessionID {
			result = append(result, c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SpokenAt != result[j].SpokenAt {
			return result[i].SpokenAt < result[j].SpokenAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// DeleteComment implements [CommentIndex.DeleteComment].
func (s *MemStore) DeleteComment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[id]; !ok {
		return ErrNotFound
	}

	delete(s.comments, id)
	return nil
}

// SearchSimilar implements [CommentIndex.SearchSimilar]. Comments whose
// embedding length differs from the query never match.
func (s *MemStore) SearchSimilar(ctx context.Context, embedding []float32, topK int, filter CommentFilter) ([]SimilarComment, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]SimilarComment, 0)
	for _, c := range s.comments {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(embedding) {
			continue
		}
		if !s.commentMatches(c, filter) {
			continue
		}
		result = append(result, SimilarComment{
			Comment:  c,
			Distance: cosineDistance(embedding, c.Embedding),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Distance != result[j].Distance {
			return result[i].Distance < result[j].Distance
		}
		return result[i].Comment.ID < result[j].Comment.ID
	})

	if len(result) > topK {
		result = result[:topK]
	}
	return result, nil
}

// commentMatches reports whether c satisfies all conditions in filter.
// Callers hold mu.
func (s *MemStore) commentMatches(c Comment, filter CommentFilter) bool {
	if filter.SessionID != "" && c.SessionID != filter.SessionID {
		return false
	}
	if filter.File != "" && c.File != filter.File {
		return false
	}
	if filter.Classification != "" && c.Classification != filter.Classification {
		return false
	}
	if filter.Repo != "" && s.sessions[c.SessionID].Repo != filter.Repo {
		return false
	}
	return true
}

// matchesListOpts reports whether sess satisfies all conditions in opts.
func matchesListOpts(sess Session, opts ListOptions) bool {
	if opts.Repo != "" && sess.Repo != opts.Repo {
		return false
	}
	if opts.PullNumber != 0 && sess.PullNumber != opts.PullNumber {
		return false
	}
	if opts.State != "" && sess.State != opts.State {
		return false
	}
	return true
}

// cosineDistance returns 1 minus the cosine similarity of a and b, or 1 when
// either has zero magnitude so degenerate vectors never rank as similar.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
