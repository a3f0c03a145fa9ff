// Package api exposes the review system over HTTP. Pipeline endpoints run
// individual stages on caller-supplied segments, a REST surface manages
// recording sessions, and a WebSocket ingest path streams audio and editor
// snapshots into a live recording.
//
// Every endpoint that takes a segment array follows one boundary
// convention: a body that is not a JSON array is rejected with 400, and an
// empty array succeeds immediately with an empty array, without an oracle
// call.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/observe"
	"github.com/dictumlabs/dictum/internal/pipeline"
	"github.com/dictumlabs/dictum/internal/publish"
	"github.com/dictumlabs/dictum/internal/review"
	"github.com/dictumlabs/dictum/internal/store"
	"github.com/dictumlabs/dictum/pkg/provider/embeddings"
)

// defaultMaxBodyBytes caps one request body or WebSocket frame. Audio
// arrives in chunks, so this bounds a single chunk, not a recording.
const defaultMaxBodyBytes = 8 << 20

// Server holds the handlers for the HTTP and WebSocket surface. Construct
// one with [NewServer] and attach it to a mux with [Server.Register].
type Server struct {
	pipe      *pipeline.Pipeline
	selector  *location.Selector
	manager   *review.Manager
	store     store.Store
	publisher *publish.Publisher
	embedder  embeddings.Provider
	metrics   *observe.Metrics
	defaults  func() SessionDefaults
	maxBody   int64

	// buffered tracks accepted audio bytes per live session so the gauge
	// can be released when the session retires.
	mu       sync.Mutex
	buffered map[string]int64
}

// Option adjusts a Server.
type Option func(*Server)

// WithPublisher enables posting finished comments to GitHub when a finish
// request asks for it.
func WithPublisher(p *publish.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithEmbeddings enables the similar-comments endpoint, which embeds the
// query text before searching the comment index.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(s *Server) { s.embedder = p }
}

// WithMetrics overrides the metrics instance the handlers record to.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxBodyBytes caps a single request body or WebSocket frame.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// SessionDefaults are recording options applied when a start request leaves
// them blank.
type SessionDefaults struct {
	Language string
	Keywords []string
}

// WithSessionDefaults supplies fallback recording options. The func is
// consulted per request, so a reloaded configuration reaches new sessions
// without a restart.
func WithSessionDefaults(f func() SessionDefaults) Option {
	return func(s *Server) { s.defaults = f }
}

// NewServer wires the HTTP surface over the given collaborators: pipe
// serves the stateless stage endpoints, selector the location endpoint,
// manager the session lifecycle, and st the reads.
func NewServer(pipe *pipeline.Pipeline, selector *location.Selector, manager *review.Manager, st store.Store, opts ...Option) *Server {
	s := &Server{
		pipe:     pipe,
		selector: selector,
		manager:  manager,
		store:    st,
		metrics:  observe.DefaultMetrics(),
		maxBody:  defaultMaxBodyBytes,
		buffered: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches every route to mux. Health probes and the Prometheus
// endpoint are composed by the application, not here.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/pipeline/classify", stageHandler(s, s.pipe.Classify))
	mux.HandleFunc("POST /v1/pipeline/split", stageHandler(s, s.pipe.Split))
	mux.HandleFunc("POST /v1/pipeline/transform", stageHandler(s, s.pipe.Transform))
	mux.HandleFunc("POST /v1/pipeline/process", stageHandler(s, s.pipe.ProcessSegments))
	mux.HandleFunc("POST /v1/pipeline/locations", s.handleLocations)

	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleCancelSession)
	mux.HandleFunc("POST /v1/sessions/{id}/audio", s.handleAppendAudio)
	mux.HandleFunc("POST /v1/sessions/{id}/snapshots", s.handleAddSnapshot)
	mux.HandleFunc("GET /v1/sessions/{id}/snapshots", s.handleListSnapshots)
	mux.HandleFunc("POST /v1/sessions/{id}/finish", s.handleFinishSession)
	mux.HandleFunc("GET /v1/sessions/{id}/comments", s.handleListComments)
	mux.HandleFunc("POST /v1/comments/similar", s.handleSimilarComments)

	mux.HandleFunc("GET /ws/sessions/{id}", s.handleWebSocket)
}

// errorReply is the uniform error body. The correlation ID is present when
// the tracing middleware wraps the handler.
type errorReply struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// statusFor maps error classes onto the response taxonomy: unknown sessions
// are 404, operations against a recording that already left the recording
// state are 409, an overflowing audio chunk is 413, and an oracle reply
// that violates a stage's protocol is 502. Everything else is a plain 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrProcessing):
		return http.StatusConflict
	case errors.Is(err, review.ErrAudioLimit):
		return http.StatusRequestEntityTooLarge
	case pipeline.IsProtocol(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail classifies err and writes the error reply.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusFor(err), err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorReply{
		Error:         err.Error(),
		CorrelationID: observe.CorrelationID(r.Context()),
	})
}

// readJSON decodes the request body into v under the server's body cap.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("api: decode request: %w", err)
	}
	return nil
}

// writeJSON encodes v with the given status. A failure after the header is
// out can only be logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response", "error", err)
	}
}

// noteSessionStarted registers a live session with the gauges.
func (s *Server) noteSessionStarted(ctx context.Context, id string) {
	s.mu.Lock()
	s.buffered[id] = 0
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(ctx, 1)
}

// noteAudio adds n accepted audio bytes to a live session's tally. Bytes
// for sessions this server never started are not tracked.
func (s *Server) noteAudio(ctx context.Context, id string, n int) {
	s.mu.Lock()
	_, live := s.buffered[id]
	if live {
		s.buffered[id] += int64(n)
	}
	s.mu.Unlock()
	if live {
		s.metrics.BufferedAudioBytes.Add(ctx, int64(n))
	}
}

// noteSessionEnded retires a session from the gauges, releasing whatever
// audio it had buffered.
func (s *Server) noteSessionEnded(ctx context.Context, id string) {
	s.mu.Lock()
	n, ok := s.buffered[id]
	delete(s.buffered, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.ActiveSessions.Add(ctx, -1)
	if n > 0 {
		s.metrics.BufferedAudioBytes.Add(ctx, -n)
	}
}
