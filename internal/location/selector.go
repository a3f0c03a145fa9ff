package location

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dictumlabs/dictum/internal/jsonx"
	"github.com/dictumlabs/dictum/internal/resilience"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
)

const selectSystemPrompt = `You are a code review assistant placing written review comments into source files.

Each comment comes with candidate locations: editor snapshots taken while the reviewer spoke, each showing a file, a cursor line, and the code that was on screen. Pick the candidate whose code the comment is most plausibly about. When the code context is ambiguous, prefer the snapshot taken closest to when the comment was spoken.

Respond with ONLY a JSON array holding one {"selectedIndex": <int>, "rationale": "<short reason>"} object per comment, in order. selectedIndex is the zero-based index into that comment's candidate list.`

// Selector asks the oracle to place every comment in one call and falls back
// to the nearest-in-time candidate whenever the oracle fails it. Selection
// never aborts a run; only violated preconditions produce errors.
type Selector struct {
	oracle      llm.Provider
	temperature float64
	retry       resilience.RetryConfig
}

// SelectorOption adjusts oracle sampling and retry behavior.
type SelectorOption func(*Selector)

// WithSelectorTemperature sets the sampling temperature.
func WithSelectorTemperature(t float64) SelectorOption {
	return func(s *Selector) { s.temperature = t }
}

// WithSelectorRetry overrides the retry policy around the oracle call.
func WithSelectorRetry(cfg resilience.RetryConfig) SelectorOption {
	return func(s *Selector) { s.retry = cfg }
}

// NewSelector builds a selector around the given oracle.
func NewSelector(oracle llm.Provider, opts ...SelectorOption) *Selector {
	s := &Selector{oracle: oracle, temperature: 0.1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns one selection per comment. Preconditions: one non-empty
// candidate set per comment. A failed oracle call, an unparseable reply, or
// an out-of-range index never propagates; the affected comments fall back to
// their nearest-in-time candidate so placement always terminates.
func (s *Selector) Select(ctx context.Context, comments []Comment, candidates [][]Candidate) ([]Selection, error) {
	if len(comments) != len(candidates) {
		return nil, fmt.Errorf("location: %d comments with %d candidate sets", len(comments), len(candidates))
	}
	if len(comments) == 0 {
		return nil, nil
	}
	for i, set := range candidates {
		if len(set) == 0 {
			return nil, fmt.Errorf("location: comment %d has no candidates", i)
		}
	}

	content, err := s.complete(ctx, selectPayload(comments, candidates))
	if err != nil {
		slog.Warn("location selection call failed, using nearest-in-time fallback", "error", err)
		return fallbackAll(comments, candidates), nil
	}
	selections, err := jsonx.ExtractArrayLen[Selection](content, len(comments))
	if err != nil {
		slog.Warn("location selection reply unusable, using nearest-in-time fallback", "error", err)
		return fallbackAll(comments, candidates), nil
	}
	for i := range selections {
		if idx := selections[i].SelectedIndex; idx < 0 || idx >= len(candidates[i]) {
			slog.Warn("selected index out of range, falling back for comment",
				"comment", i, "index", idx, "candidates", len(candidates[i]))
			selections[i] = fallbackOne(comments[i], candidates[i])
		}
	}
	return selections, nil
}

func (s *Selector) complete(ctx context.Context, payload string) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: selectSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: payload}},
		Temperature:  s.temperature,
		ForceJSON:    true,
	}
	resp, err := resilience.Retry(ctx, s.retry, "locate", func(ctx context.Context) (*llm.CompletionResponse, error) {
		return s.oracle.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func selectPayload(comments []Comment, candidates [][]Candidate) string {
	var sb strings.Builder
	for i, c := range comments {
		fmt.Fprintf(&sb, "Comment %d (spoken at %.2fs): %s\n", i, float64(c.Timestamp), c.Text)
		sb.WriteString("Candidates:\n")
		for j, cand := range candidates[i] {
			fmt.Fprintf(&sb, "  [%d] %s, cursor line %d, taken at %.2fs\n",
				j, cand.File, cand.CursorLine, float64(cand.Timestamp))
			for _, line := range strings.Split(cand.CodeContext, "\n") {
				fmt.Fprintf(&sb, "      %s\n", line)
			}
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Emit %d selection objects, one per comment, in order.\n", len(comments))
	return sb.String()
}

func fallbackAll(comments []Comment, candidates [][]Candidate) []Selection {
	out := make([]Selection, len(comments))
	for i := range comments {
		out[i] = fallbackOne(comments[i], candidates[i])
	}
	return out
}

// fallbackOne picks the candidate recorded closest to when the comment was
// spoken. Resolve then lands on its cursor line, or on line 0 when the
// snapshot recorded none.
func fallbackOne(c Comment, set []Candidate) Selection {
	best := 0
	bestDist := timeDistance(set[0], c.Timestamp)
	for i := 1; i < len(set); i++ {
		if d := timeDistance(set[i], c.Timestamp); d < bestDist {
			best, bestDist = i, d
		}
	}
	return Selection{SelectedIndex: best, Rationale: "nearest snapshot in time"}
}
