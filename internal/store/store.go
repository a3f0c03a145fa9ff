// Package store persists review sessions, their append-only editor snapshot
// streams, and the finalized comments each session produced.
//
// Two implementations exist: [MemStore] keeps everything in process for tests
// and storeless runs, and the postgres subpackage backs the same interfaces
// with pgx and pgvector so similar past comments can be surfaced across
// sessions.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/segment"
)

// ErrNotFound is returned when the requested session or comment does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateID is returned by CreateSession when a session with the same ID
// already exists.
var ErrDuplicateID = errors.New("store: session with that ID already exists")

// DefaultTopK bounds similarity searches that pass topK <= 0.
const DefaultTopK = 10

// SessionState tracks where a review session is in its lifecycle.
type SessionState string

const (
	// StateRecording means audio and snapshots are still being accumulated.
	StateRecording SessionState = "recording"
	// StateProcessing means recording has stopped and the pipeline is running.
	StateProcessing SessionState = "processing"
	// StateFinished means comments are finalized; FinishedAt is stamped.
	StateFinished SessionState = "finished"
)

// IsValid reports whether s is one of the three lifecycle states.
func (s SessionState) IsValid() bool {
	switch s {
	case StateRecording, StateProcessing, StateFinished:
		return true
	}
	return false
}

// Session is one recorded review of a pull request.
type Session struct {
	// ID uniquely identifies the session. CreateSession generates one when
	// it is left empty.
	ID string

	// Repo names the repository under review as "owner/name". May be empty
	// for a local review not tied to any remote.
	Repo string

	// PullNumber is the pull request the review targets, 0 when none.
	PullNumber int

	// State is the current lifecycle state.
	State SessionState

	// StartedAt is when recording began.
	StartedAt time.Time

	// FinishedAt is when the session reached [StateFinished].
	// Zero until then.
	FinishedAt time.Time
}

// ListOptions narrows the result set of [SessionStore.ListSessions].
// All non-zero fields are applied as AND conditions.
type ListOptions struct {
	// Repo restricts results to sessions recorded against this repository.
	Repo string

	// PullNumber restricts results to sessions for this pull request.
	PullNumber int

	// State restricts results to sessions in this lifecycle state.
	State SessionState

	// Limit caps the number of results. 0 means no cap.
	Limit int
}

// SessionStore manages session records and their snapshot streams.
type SessionStore interface {
	// CreateSession stores a new session and returns it with defaults
	// applied: a generated ID when empty, [StateRecording] when the state
	// is empty, and the current time when StartedAt is zero.
	// Returns [ErrDuplicateID] when a session with the same ID exists.
	CreateSession(ctx context.Context, s Session) (Session, error)

	// GetSession retrieves a session by ID.
	// Returns [ErrNotFound] when no session with that ID exists.
	GetSession(ctx context.Context, id string) (Session, error)

	// ListSessions returns sessions matching opts, newest first.
	ListSessions(ctx context.Context, opts ListOptions) ([]Session, error)

	// SetSessionState moves a session to state. The transition to
	// [StateFinished] stamps FinishedAt; other transitions leave it alone.
	// Returns [ErrNotFound] when no session with that ID exists.
	SetSessionState(ctx context.Context, id string, state SessionState) error

	// AppendSnapshot adds one editor snapshot to the session's stream.
	// Returns [ErrNotFound] when the session does not exist.
	AppendSnapshot(ctx context.Context, sessionID string, snap location.Snapshot) error

	// Snapshots returns the session's snapshot stream in append order.
	// A session with no snapshots (or an unknown session) yields an empty
	// slice, not an error.
	Snapshots(ctx context.Context, sessionID string) ([]location.Snapshot, error)
}

// Comment is a finalized, placed review comment. It is what gets published
// and, when the embedding is present, what the similarity index searches.
type Comment struct {
	// ID uniquely identifies the comment. PutComment generates one when it
	// is left empty.
	ID string

	// SessionID is the session that produced this comment.
	SessionID string

	// Text is the polished, publishable comment text.
	Text string

	// Original is the raw transcript the comment was rewritten from.
	Original string

	// Classification is the comment's intent label.
	Classification segment.Classification

	// File is the placement target relative to the workspace root.
	File string

	// Line is the 1-based placement line, 0 for a file-level comment.
	Line int

	// SpokenAt is the offset into the recording where the remark was made.
	SpokenAt segment.Seconds

	// Embedding is the vector representation of Text. Nil when no
	// embeddings backend ran; such comments are stored but never surface
	// in similarity searches.
	Embedding []float32

	// CreatedAt is when the comment was first stored.
	CreatedAt time.Time
}

// CommentFilter narrows a similarity search to a subset of stored comments.
// All non-zero fields are applied as AND conditions.
type CommentFilter struct {
	// Repo restricts results to comments from sessions recorded against
	// this repository.
	Repo string

	// SessionID restricts results to a single session.
	SessionID string

	// File restricts results to comments placed in this file.
	File string

	// Classification restricts results to comments with this label.
	Classification segment.Classification
}

// SimilarComment pairs a retrieved comment with its cosine distance from the
// query embedding. Lower distance means higher similarity.
type SimilarComment struct {
	Comment  Comment
	Distance float64
}

// CommentIndex manages finalized comments and their similarity search.
type CommentIndex interface {
	// PutComment upserts a comment and returns it with defaults applied:
	// a generated ID when empty and the current time when CreatedAt is
	// zero. A comment with an existing ID is completely replaced.
	// Returns [ErrNotFound] when the session does not exist.
	PutComment(ctx context.Context, c Comment) (Comment, error)

	// Comments returns the session's comments ordered by SpokenAt.
	Comments(ctx context.Context, sessionID string) ([]Comment, error)

	// DeleteComment removes a comment by ID.
	// Returns [ErrNotFound] when no comment with that ID exists.
	DeleteComment(ctx context.Context, id string) error

	// SearchSimilar finds the topK stored comments whose embeddings are
	// closest (cosine distance) to embedding, most similar first.
	// Comments without an embedding never match. topK <= 0 applies
	// [DefaultTopK].
	SearchSimilar(ctx context.Context, embedding []float32, topK int, filter CommentFilter) ([]SimilarComment, error)
}

// Store is the full persistence surface: sessions plus the comment index.
type Store interface {
	SessionStore
	CommentIndex
}

// NewID returns a random 32-character hex identifier.
func NewID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
