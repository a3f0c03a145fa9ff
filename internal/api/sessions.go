package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/publish"
	"github.com/dictumlabs/dictum/internal/review"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/internal/store"
)

// startRequest configures a new recording session.
type startRequest struct {
	Repo       string   `json:"repo"`
	PullNumber int      `json:"pullNumber"`
	File       string   `json:"file"`
	MIMEType   string   `json:"mimeType"`
	SampleRate int      `json:"sampleRate"`
	Channels   int      `json:"channels"`
	Language   string   `json:"language"`
	Keywords   []string `json:"keywords"`
}

// sessionReply is the wire form of a session record.
type sessionReply struct {
	ID         string             `json:"id"`
	Repo       string             `json:"repo,omitempty"`
	PullNumber int                `json:"pullNumber,omitempty"`
	State      store.SessionState `json:"state"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt,omitzero"`
}

func toSessionReply(sess store.Session) sessionReply {
	return sessionReply{
		ID:         sess.ID,
		Repo:       sess.Repo,
		PullNumber: sess.PullNumber,
		State:      sess.State,
		StartedAt:  sess.StartedAt,
		FinishedAt: sess.FinishedAt,
	}
}

// commentReply is the wire form of a stored comment. Embeddings stay
// server-side.
type commentReply struct {
	ID             string                 `json:"id"`
	SessionID      string                 `json:"sessionId"`
	Text           string                 `json:"text"`
	Original       string                 `json:"original,omitempty"`
	Classification segment.Classification `json:"classification"`
	File           string                 `json:"file,omitempty"`
	Line           int                    `json:"line,omitempty"`
	SpokenAt       segment.Seconds        `json:"spokenAt"`
	CreatedAt      time.Time              `json:"createdAt,omitzero"`
}

func toCommentReply(c store.Comment) commentReply {
	return commentReply{
		ID:             c.ID,
		SessionID:      c.SessionID,
		Text:           c.Text,
		Original:       c.Original,
		Classification: c.Classification,
		File:           c.File,
		Line:           c.Line,
		SpokenAt:       c.SpokenAt,
		CreatedAt:      c.CreatedAt,
	}
}

func toCommentReplies(comments []store.Comment) []commentReply {
	out := make([]commentReply, len(comments))
	for i, c := range comments {
		out[i] = toCommentReply(c)
	}
	return out
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if s.defaults != nil {
		d := s.defaults()
		if req.Language == "" {
			req.Language = d.Language
		}
		if len(req.Keywords) == 0 {
			req.Keywords = d.Keywords
		}
	}
	sess, err := s.manager.Start(r.Context(), review.StartOptions{
		Repo:       req.Repo,
		PullNumber: req.PullNumber,
		File:       req.File,
		MIMEType:   req.MIMEType,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Language:   req.Language,
		Keywords:   req.Keywords,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.noteSessionStarted(r.Context(), sess.ID)
	writeJSON(w, http.StatusCreated, toSessionReply(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionReply(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Repo:  q.Get("repo"),
		State: store.SessionState(q.Get("state")),
	}
	if opts.State != "" && !opts.State.IsValid() {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("api: state %q is not a session state", opts.State))
		return
	}
	for param, dst := range map[string]*int{"pull": &opts.PullNumber, "limit": &opts.Limit} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("api: %s %q is not a non-negative number", param, v))
			return
		}
		*dst = n
	}
	sessions, err := s.store.ListSessions(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]sessionReply, len(sessions))
	for i, sess := range sessions {
		out[i] = toSessionReply(sess)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAppendAudio accepts one raw audio chunk for a live recording.
func (s *Server) handleAppendAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		status := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, r, status, fmt.Errorf("api: read audio chunk: %w", err))
		return
	}
	if err := s.manager.AppendAudio(id, chunk); err != nil {
		s.fail(w, r, err)
		return
	}
	s.noteAudio(r.Context(), id, len(chunk))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap location.Snapshot
	if err := s.readJSON(w, r, &snap); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.AddSnapshot(r.Context(), r.PathValue("id"), snap); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.Snapshots(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []location.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// finishRequest controls what happens after processing. Publishing needs a
// configured publisher and a session recorded against a repo and pull.
type finishRequest struct {
	Publish bool `json:"publish"`
}

// finishReply carries the finalized comments and, when publishing ran, one
// outcome per comment.
type finishReply struct {
	Comments     []commentReply `json:"comments"`
	Published    []publishReply `json:"published,omitempty"`
	PublishError string         `json:"publishError,omitempty"`
}

type publishReply struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleFinishSession stops the recording, runs it through the pipeline,
// and returns the finalized comments. An empty body is a finish without
// publishing. A publish failure is reported in the reply, not as a failed
// request: the comments are already stored by then.
func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req finishRequest
	if err := s.readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	comments, err := s.manager.Finish(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.noteSessionEnded(r.Context(), id)
	for _, c := range comments {
		s.metrics.RecordCommentPlaced(r.Context(), string(c.Classification))
	}

	reply := finishReply{Comments: toCommentReplies(comments)}
	if req.Publish {
		reply.Published, reply.PublishError = s.publishComments(r.Context(), id, comments)
	}
	writeJSON(w, http.StatusOK, reply)
}

// publishComments posts the finished comments to the session's pull
// request. The error comes back as a string so the finish reply can carry
// it verbatim.
func (s *Server) publishComments(ctx context.Context, sessionID string, comments []store.Comment) ([]publishReply, string) {
	results, err := s.runPublish(ctx, sessionID, comments)
	if err != nil {
		slog.Warn("publishing finished review failed", "session", sessionID, "error", err)
		return nil, err.Error()
	}
	return results, ""
}

func (s *Server) runPublish(ctx context.Context, sessionID string, comments []store.Comment) ([]publishReply, error) {
	if s.publisher == nil {
		return nil, errors.New("api: no publisher configured")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("api: load session for publishing: %w", err)
	}
	if sess.Repo == "" || sess.PullNumber == 0 {
		return nil, errors.New("api: session has no repo and pull request to publish to")
	}
	batch := make([]publish.Comment, len(comments))
	for i, c := range comments {
		batch[i] = publish.Comment{
			Path:           c.File,
			Line:           c.Line,
			Text:           c.Text,
			Classification: c.Classification,
		}
	}

	startAt := time.Now()
	results, err := s.publisher.Publish(ctx, sess.Repo, sess.PullNumber, batch)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.PublishDuration.Record(ctx, time.Since(startAt).Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
	if err != nil {
		return nil, err
	}

	out := make([]publishReply, len(results))
	for i, res := range results {
		out[i].URL = res.URL
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	return out, nil
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Cancel(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.noteSessionEnded(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.store.Comments(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommentReplies(comments))
}

// similarRequest is a free-text similarity query over stored comments.
type similarRequest struct {
	Text           string `json:"text"`
	TopK           int    `json:"topK"`
	Repo           string `json:"repo"`
	SessionID      string `json:"sessionId"`
	File           string `json:"file"`
	Classification string `json:"classification"`
}

// similarReply pairs a matching comment with its cosine distance.
type similarReply struct {
	Comment  commentReply `json:"comment"`
	Distance float64      `json:"distance"`
}

// handleSimilarComments embeds the query text and returns the closest
// stored comments. Unavailable without an embeddings provider.
func (s *Server) handleSimilarComments(w http.ResponseWriter, r *http.Request) {
	if s.embedder == nil {
		s.writeError(w, r, http.StatusNotImplemented, errors.New("api: no embeddings provider configured"))
		return
	}
	var req similarRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("api: text must not be empty"))
		return
	}
	filter := store.CommentFilter{Repo: req.Repo, SessionID: req.SessionID, File: req.File}
	if req.Classification != "" {
		label, ok := segment.ParseClassification(req.Classification)
		if !ok {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("api: %q is not a classification", req.Classification))
			return
		}
		filter.Classification = label
	}

	embedding, err := s.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		s.fail(w, r, fmt.Errorf("api: embed query: %w", err))
		return
	}
	matches, err := s.store.SearchSimilar(r.Context(), embedding, req.TopK, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]similarReply, len(matches))
	for i, m := range matches {
		out[i] = similarReply{Comment: toCommentReply(m.Comment), Distance: m.Distance}
	}
	writeJSON(w, http.StatusOK, out)
}
