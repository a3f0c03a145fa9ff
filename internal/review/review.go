// Package review runs recording sessions end to end: a [Manager] accumulates
// audio chunks and editor snapshots while the reviewer speaks, then hands the
// finished recording to a [Processor] and persists the comments it produced.
// Wrapping the store in a [StoreGuard] keeps recordings alive across storage
// outages.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/store"
	"github.com/dictumlabs/dictum/pkg/provider/embeddings"
	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// defaultMaxAudioBytes bounds what one recording may accumulate. 16 kHz mono
// 16-bit PCM runs about 115 MiB per hour, so this stops a runaway session
// short of nine hours.
const defaultMaxAudioBytes = 1 << 30

// ErrProcessing is returned when an operation needs a recording that is
// still accepting input but the session has already moved on to processing.
var ErrProcessing = errors.New("session is already processing")

// ErrAudioLimit is returned when an audio chunk would push a recording past
// its byte budget.
var ErrAudioLimit = errors.New("audio budget exhausted")

// Manager tracks every live recording and drives each one through its
// lifecycle. Safe for concurrent use.
type Manager struct {
	store         store.Store
	processor     *Processor
	embedder      embeddings.Provider
	maxAudioBytes int

	mu     sync.Mutex
	active map[string]*recording
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEmbeddings vectorizes finalized comments before storing them so that
// similar past remarks can be surfaced later. Without it comments are stored
// unembedded and never appear in similarity search.
func WithEmbeddings(p embeddings.Provider) ManagerOption {
	return func(m *Manager) { m.embedder = p }
}

// WithMaxAudioBytes caps the audio a single recording may accumulate.
func WithMaxAudioBytes(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxAudioBytes = n
		}
	}
}

// NewManager builds a Manager over the given store and processor.
func NewManager(st store.Store, processor *Processor, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         st,
		processor:     processor,
		maxAudioBytes: defaultMaxAudioBytes,
		active:        make(map[string]*recording),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartOptions describe the recording about to begin.
type StartOptions struct {
	// Repo is the "owner/name" of the repository under review. May be empty.
	Repo string

	// PullNumber is the pull request under review, zero when reviewing
	// outside one.
	PullNumber int

	// File narrows comment placement to one reviewed file when set.
	File string

	// MIMEType, SampleRate, and Channels describe the audio format of the
	// chunks AppendAudio will receive.
	MIMEType   string
	SampleRate int
	Channels   int

	// Language hints the recognition language as a BCP-47 tag.
	Language string

	// Keywords bias recognition toward domain vocabulary. Symbols observed
	// in snapshots are added on top at processing time.
	Keywords []string
}

// recording is the mutable state of one live session.
type recording struct {
	opts StartOptions

	mu         sync.Mutex
	audio      []byte
	snapshots  []location.Snapshot
	processing bool
}

// Start registers a new recording and journals its session to the store.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (store.Session, error) {
	// Generating the ID here rather than letting the store assign one keeps
	// the recording addressable even when a guarded store swallows the write.
	id, err := store.NewID()
	if err != nil {
		return store.Session{}, fmt.Errorf("review: generate session id: %w", err)
	}
	sess := store.Session{
		ID:         id,
		Repo:       opts.Repo,
		PullNumber: opts.PullNumber,
		State:      store.StateRecording,
		StartedAt:  time.Now(),
	}
	created, err := m.store.CreateSession(ctx, sess)
	if err != nil {
		return store.Session{}, fmt.Errorf("review: create session: %w", err)
	}

	m.mu.Lock()
	m.active[created.ID] = &recording{opts: opts}
	m.mu.Unlock()

	slog.Info("recording started", "session", created.ID, "repo", opts.Repo, "pull", opts.PullNumber)
	return created, nil
}

// AppendAudio adds one audio chunk to a live recording. Returns
// [store.ErrNotFound] when no live recording has that ID and
// [ErrAudioLimit] when the chunk would overflow the recording's budget.
func (m *Manager) AppendAudio(sessionID string, chunk []byte) error {
	rec, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.processing {
		return fmt.Errorf("review: session %s: %w", sessionID, ErrProcessing)
	}
	if len(rec.audio)+len(chunk) > m.maxAudioBytes {
		return fmt.Errorf("review: session %s over %d bytes: %w", sessionID, m.maxAudioBytes, ErrAudioLimit)
	}
	rec.audio = append(rec.audio, chunk...)
	return nil
}

// AddSnapshot appends one editor snapshot to a live recording and journals
// it to the store. The in-memory stream is what processing consumes; the
// stored copy exists for later inspection.
func (m *Manager) AddSnapshot(ctx context.Context, sessionID string, snap location.Snapshot) error {
	rec, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.processing {
		rec.mu.Unlock()
		return fmt.Errorf("review: session %s: %w", sessionID, ErrProcessing)
	}
	rec.snapshots = append(rec.snapshots, snap)
	rec.mu.Unlock()

	if err := m.store.AppendSnapshot(ctx, sessionID, snap); err != nil {
		return fmt.Errorf("review: journal snapshot: %w", err)
	}
	return nil
}

// Finish stops a live recording, processes it, persists the resulting
// comments, and retires the session. When processing fails the recording
// stays live and the session returns to the recording state so the caller
// can retry.
func (m *Manager) Finish(ctx context.Context, sessionID string) ([]store.Comment, error) {
	rec, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if rec.processing {
		rec.mu.Unlock()
		return nil, fmt.Errorf("review: session %s: %w", sessionID, ErrProcessing)
	}
	rec.processing = true
	audio := speech.Audio{
		Data:       rec.audio,
		MIMEType:   rec.opts.MIMEType,
		SampleRate: rec.opts.SampleRate,
		Channels:   rec.opts.Channels,
		Language:   rec.opts.Language,
		Keywords:   slices.Clone(rec.opts.Keywords),
	}
	snapshots := slices.Clone(rec.snapshots)
	rec.mu.Unlock()

	if err := m.store.SetSessionState(ctx, sessionID, store.StateProcessing); err != nil {
		slog.Warn("could not mark session processing", "session", sessionID, "error", err)
	}

	result, err := m.processor.Process(ctx, audio, snapshots, rec.opts.File)
	if err != nil {
		rec.mu.Lock()
		rec.processing = false
		rec.mu.Unlock()
		if serr := m.store.SetSessionState(ctx, sessionID, store.StateRecording); serr != nil {
			slog.Warn("could not revert session state", "session", sessionID, "error", serr)
		}
		return nil, err
	}

	stored := m.persistComments(ctx, sessionID, result.Comments)

	if err := m.store.SetSessionState(ctx, sessionID, store.StateFinished); err != nil {
		slog.Warn("could not mark session finished", "session", sessionID, "error", err)
	}

	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()

	slog.Info("recording finished", "session", sessionID,
		"comments", len(stored), "corrections", len(result.Corrections))
	return stored, nil
}

// Cancel retires a live recording without processing it. Accumulated audio
// is dropped; journaled snapshots stay in the store.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	rec, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.processing {
		rec.mu.Unlock()
		return fmt.Errorf("review: session %s: %w", sessionID, ErrProcessing)
	}
	rec.processing = true
	rec.mu.Unlock()

	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()

	if err := m.store.SetSessionState(ctx, sessionID, store.StateFinished); err != nil {
		slog.Warn("could not mark cancelled session finished", "session", sessionID, "error", err)
	}
	slog.Info("recording cancelled", "session", sessionID)
	return nil
}

// ActiveSessions reports how many recordings are currently live.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// lookup returns the live recording for sessionID.
func (m *Manager) lookup(sessionID string) (*recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[sessionID]
	if !ok {
		return nil, fmt.Errorf("review: session %s: %w", sessionID, store.ErrNotFound)
	}
	return rec, nil
}

// persistComments embeds and stores each placed comment. Storage failures
// are logged per comment; the comment is still returned so the caller never
// loses a finalized remark.
func (m *Manager) persistComments(ctx context.Context, sessionID string, placed []PlacedComment) []store.Comment {
	vectors := m.embedComments(ctx, placed)

	out := make([]store.Comment, 0, len(placed))
	for i, pc := range placed {
		c := store.Comment{
			SessionID:      sessionID,
			Text:           pc.Text,
			Original:       pc.Original,
			Classification: pc.Classification,
			File:           pc.Placement.File,
			Line:           pc.Placement.Line,
			SpokenAt:       pc.SpokenAt,
		}
		if vectors != nil {
			c.Embedding = vectors[i]
		}
		put, err := m.store.PutComment(ctx, c)
		if err != nil {
			slog.Warn("could not store comment", "session", sessionID, "error", err)
			out = append(out, c)
			continue
		}
		out = append(out, put)
	}
	return out
}

// embedComments returns one vector per comment, or nil when embedding is
// disabled or failed. Embedding failures never block comment delivery.
func (m *Manager) embedComments(ctx context.Context, placed []PlacedComment) [][]float32 {
	if m.embedder == nil || len(placed) == 0 {
		return nil
	}
	texts := make([]string, len(placed))
	for i, pc := range placed {
		texts[i] = pc.Text
	}
	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(placed) {
		slog.Warn("comment embedding failed, storing without vectors", "error", err)
		return nil
	}
	return vectors
}
