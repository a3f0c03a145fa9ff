package api

import (
	"context"
	"net/http"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/segment"
)

// stageHandler adapts one pipeline stage into an HTTP handler. The body
// must be a JSON array of the stage's input type; anything else is a 400.
// An empty array returns an empty array without running the stage.
func stageHandler[In, Out any](s *Server, run func(context.Context, []In) ([]Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in []In
		if err := s.readJSON(w, r, &in); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		out, err := run(r.Context(), in)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if out == nil {
			out = []Out{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// locateRequest carries parallel arrays: one candidate set per comment.
type locateRequest struct {
	Comments      []locateComment        `json:"comments"`
	CandidateSets [][]location.Candidate `json:"candidateSets"`
}

// locateComment mirrors location.Comment on the wire.
type locateComment struct {
	Text      string          `json:"text"`
	Timestamp segment.Seconds `json:"timestamp"`
}

// handleLocations picks one candidate per comment. The only errors are
// violated preconditions (mismatched lengths, a comment without
// candidates); oracle trouble degrades to the selector's nearest-in-time
// fallback and still succeeds.
func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	comments := make([]location.Comment, len(req.Comments))
	for i, c := range req.Comments {
		comments[i] = location.Comment{Text: c.Text, Timestamp: c.Timestamp}
	}
	selections, err := s.selector.Select(r.Context(), comments, req.CandidateSets)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if selections == nil {
		selections = []location.Selection{}
	}
	writeJSON(w, http.StatusOK, selections)
}
