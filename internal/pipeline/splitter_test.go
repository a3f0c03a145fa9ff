package pipeline_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dictumlabs/dictum/internal/pipeline"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
	"github.com/dictumlabs/dictum/pkg/provider/llm/mock"
)

func TestDecisionUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    pipeline.Decision
		wantErr bool
	}{
		{name: "keep", input: `"keep"`, want: pipeline.Decision{Kind: pipeline.DecisionKeep}},
		{name: "keep mixed case", input: `"Keep"`, want: pipeline.Decision{Kind: pipeline.DecisionKeep}},
		{name: "duplicate", input: `"duplicate"`, want: pipeline.Decision{Kind: pipeline.DecisionDuplicate}},
		{name: "split", input: `["first", "second"]`, want: pipeline.Decision{Kind: pipeline.DecisionSplit, Parts: []string{"first", "second"}}},
		{name: "unknown verdict", input: `"maybe"`, wantErr: true},
		{name: "number", input: `42`, wantErr: true},
		{name: "object", input: `{"kind": "keep"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d pipeline.Decision
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("unmarshal %s: want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %s: %v", tt.input, err)
			}
			if d.Kind != tt.want.Kind {
				t.Errorf("kind = %v, want %v", d.Kind, tt.want.Kind)
			}
			if len(d.Parts) != len(tt.want.Parts) {
				t.Fatalf("parts = %v, want %v", d.Parts, tt.want.Parts)
			}
			for i := range d.Parts {
				if d.Parts[i] != tt.want.Parts[i] {
					t.Errorf("part %d = %q, want %q", i, d.Parts[i], tt.want.Parts[i])
				}
			}
		})
	}
}

func TestSplitterAppliesDecisions(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(
		`["keep", "duplicate", ["rename the parameter", "and add a doc comment"]]`,
	)}
	s := pipeline.NewSplitter(oracle, pipeline.WithRetry(fastRetry))

	segs := []segment.Classified{
		classified(1, "the timeout feels too short", 0, 2, segment.ClassConcern),
		classified(1, "again the timeout is short", 5, 7, segment.ClassConcern),
		classified(2, "rename the parameter and add a doc comment", 8, 12, segment.ClassSuggestion),
	}
	got, err := s.Split(context.Background(), segs)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	wantTexts := []string{
		"the timeout feels too short",
		"rename the parameter",
		"and add a doc comment",
	}
	if len(got) != len(wantTexts) {
		t.Fatalf("got %d segments, want %d", len(got), len(wantTexts))
	}
	for i, want := range wantTexts {
		if got[i].Text != want {
			t.Errorf("segment %d: text = %q, want %q", i, got[i].Text, want)
		}
	}
	for _, part := range got[1:] {
		if part.Classification != segment.ClassSuggestion {
			t.Errorf("split part lost classification: %q", part.Classification)
		}
		if part.SpeakerTag != 2 {
			t.Errorf("split part lost speaker: %d", part.SpeakerTag)
		}
	}
}

func TestSplitterTimingConservation(t *testing.T) {
	// Parts of length 4 and 8 across a 6s span: shares of 2s and 4s.
	oracle := &mock.Provider{CompleteResponse: reply(`[["abcd", "efgh ijk"]]`)}
	s := pipeline.NewSplitter(oracle, pipeline.WithRetry(fastRetry))

	orig := classified(1, "abcd efgh ijk", 10, 16, segment.ClassSuggestion)
	got, err := s.Split(context.Background(), []segment.Classified{orig})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d parts, want 2", len(got))
	}
	if !approx(got[0].Start, orig.Start) {
		t.Errorf("first part start = %v, want %v", got[0].Start, orig.Start)
	}
	if !approx(got[0].End, 12) {
		t.Errorf("first part end = %v, want 12", got[0].End)
	}
	if got[1].Start != got[0].End {
		t.Errorf("parts not contiguous: %v then %v", got[0].End, got[1].Start)
	}
	if got[1].End != orig.End {
		t.Errorf("last part end = %v, want exactly %v", got[1].End, orig.End)
	}
	var total segment.Seconds
	for _, p := range got {
		total += p.End - p.Start
	}
	if !approx(total, orig.End-orig.Start) {
		t.Errorf("durations sum to %v, want %v", total, orig.End-orig.Start)
	}
}

func TestSplitterSingleSegmentSplitReply(t *testing.T) {
	// A one-element batch whose single decision is an array must read as a
	// split decision, not as a double-wrapped reply.
	oracle := &mock.Provider{CompleteResponse: reply(`[["one remark", "another remark"]]`)}
	s := pipeline.NewSplitter(oracle, pipeline.WithRetry(fastRetry))

	got, err := s.Split(context.Background(), []segment.Classified{
		classified(1, "one remark and another remark", 0, 4, segment.ClassStyle),
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2", len(got))
	}
}

func TestSplitterFinalizedContextFlows(t *testing.T) {
	oracle := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		reply(`["keep", "duplicate", "keep", "keep", "keep"]`),
		reply(`["keep", "keep"]`),
	}}
	s := pipeline.NewSplitter(oracle, pipeline.WithRetry(fastRetry))

	segs := make([]segment.Classified, 7)
	texts := []string{"alpha", "alpha again", "bravo", "charlie", "delta", "echo", "foxtrot"}
	for i, txt := range texts {
		segs[i] = classified(1, txt, float64(i), float64(i)+1, segment.ClassConcern)
	}
	got, err := s.Split(context.Background(), segs)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d segments, want 6", len(got))
	}

	calls := oracle.Calls()
	if len(calls) != 2 {
		t.Fatalf("oracle calls = %d, want 2", len(calls))
	}
	second := calls[1].Req.Messages[0].Content
	if !strings.Contains(second, "(context, finalized)") {
		t.Error("second batch has no finalized context")
	}
	// The duplicate was dropped, so finalized context is the tail of the
	// kept output: charlie and delta.
	if !strings.Contains(second, "charlie") || !strings.Contains(second, "delta") {
		t.Errorf("finalized context missing kept tail: %s", second)
	}
	if strings.Contains(second, "alpha again") {
		t.Error("dropped duplicate leaked into finalized context")
	}
}

func TestSplitterRejectsEmptyPart(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(`[["  ", "real part"]]`)}
	s := pipeline.NewSplitter(oracle, pipeline.WithRetry(fastRetry))

	_, err := s.Split(context.Background(), []segment.Classified{
		classified(1, "text", 0, 1, segment.ClassStyle),
	})
	if err == nil {
		t.Fatal("want error for blank split part")
	}
	if !pipeline.IsProtocol(err) {
		t.Errorf("error is not a protocol error: %v", err)
	}
}

func TestSplitterRejectsUnknownVerdict(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(`["maybe"]`)}
	s := pipeline.NewSplitter(oracle, pipeline.WithRetry(fastRetry))

	_, err := s.Split(context.Background(), []segment.Classified{
		classified(1, "text", 0, 1, segment.ClassStyle),
	})
	if err == nil {
		t.Fatal("want error for unknown verdict")
	}
	if !pipeline.IsProtocol(err) {
		t.Errorf("error is not a protocol error: %v", err)
	}
}

func TestSplitterEmptyInput(t *testing.T) {
	oracle := &mock.Provider{}
	s := pipeline.NewSplitter(oracle, pipeline.WithRetry(fastRetry))

	got, err := s.Split(context.Background(), nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d segments, want 0", len(got))
	}
	if calls := len(oracle.Calls()); calls != 0 {
		t.Errorf("oracle calls = %d, want 0", calls)
	}
}
