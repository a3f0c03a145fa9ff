package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dictumlabs/dictum/internal/jsonx"
	"github.com/dictumlabs/dictum/internal/pipeline"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
	"github.com/dictumlabs/dictum/pkg/provider/llm/mock"
)

func TestClassifierLabelsInOrder(t *testing.T) {
	oracle := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		reply(`["Suggestion", "Ignore", "Question"]`),
	}}
	c := pipeline.NewClassifier(oracle, pipeline.WithRetry(fastRetry))

	segs := []segment.SpeakerSegment{
		seg(1, "maybe rename this helper", 0, 2),
		seg(1, "um okay", 2, 3),
		seg(2, "why does this need a mutex", 3, 5),
	}
	got, err := c.Classify(context.Background(), segs)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := []segment.Classification{segment.ClassSuggestion, segment.ClassIgnore, segment.ClassQuestion}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Classification != want[i] {
			t.Errorf("segment %d: classification = %q, want %q", i, got[i].Classification, want[i])
		}
		if got[i].SpeakerSegment != segs[i] {
			t.Errorf("segment %d: original fields changed: %+v", i, got[i].SpeakerSegment)
		}
	}

	call := oracle.Calls()[0]
	if !call.Req.ForceJSON {
		t.Error("request did not force JSON output")
	}
	if !strings.Contains(call.Req.SystemPrompt, "JSON") {
		t.Error("system prompt never mentions JSON")
	}
}

func TestClassifierBatchesWithContext(t *testing.T) {
	first := make([]string, 7)
	for i := range first {
		first[i] = string(segment.ClassConcern)
	}
	oracle := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		jsonReply(t, first),
		reply(`["Style", "Style", "Style"]`),
	}}
	c := pipeline.NewClassifier(oracle, pipeline.WithRetry(fastRetry))

	segs := make([]segment.SpeakerSegment, 10)
	for i := range segs {
		segs[i] = seg(1, fmt.Sprintf("remark %d", i), float64(i), float64(i)+1)
	}
	got, err := c.Classify(context.Background(), segs)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d results, want 10", len(got))
	}
	if got[0].Classification != segment.ClassConcern || got[9].Classification != segment.ClassStyle {
		t.Errorf("batch results landed out of order: first %q, last %q",
			got[0].Classification, got[9].Classification)
	}

	calls := oracle.Calls()
	if len(calls) != 2 {
		t.Fatalf("oracle calls = %d, want 2", len(calls))
	}
	second := calls[1].Req.Messages[0].Content
	if n := strings.Count(second, "(classify)"); n != 3 {
		t.Errorf("second batch marks %d targets, want 3", n)
	}
	if n := strings.Count(second, "(context)"); n != 2 {
		t.Errorf("second batch carries %d context lines, want 2", n)
	}
	if !strings.Contains(second, "remark 5") || !strings.Contains(second, "remark 6") {
		t.Error("second batch lost its preceding context segments")
	}
}

func TestClassifierFencedReply(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply("```json\n[\"Concern\"]\n```")}
	c := pipeline.NewClassifier(oracle, pipeline.WithRetry(fastRetry))

	got, err := c.Classify(context.Background(), []segment.SpeakerSegment{seg(1, "possible nil deref", 0, 1)})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got[0].Classification != segment.ClassConcern {
		t.Errorf("classification = %q, want Concern", got[0].Classification)
	}
}

func TestClassifierRejectsUnknownLabel(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(`["Banana"]`)}
	c := pipeline.NewClassifier(oracle, pipeline.WithRetry(fastRetry))

	_, err := c.Classify(context.Background(), []segment.SpeakerSegment{seg(1, "x", 0, 1)})
	if err == nil {
		t.Fatal("want error for label outside the closed set")
	}
	if !pipeline.IsProtocol(err) {
		t.Errorf("error is not a protocol error: %v", err)
	}
	if !strings.Contains(err.Error(), "Banana") {
		t.Errorf("error does not name the bad label: %v", err)
	}
}

func TestClassifierRejectsWrongCount(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(`["Ignore"]`)}
	c := pipeline.NewClassifier(oracle, pipeline.WithRetry(fastRetry))

	_, err := c.Classify(context.Background(), []segment.SpeakerSegment{
		seg(1, "a", 0, 1),
		seg(1, "b", 1, 2),
	})
	if err == nil {
		t.Fatal("want error for short reply")
	}
	if !pipeline.IsProtocol(err) {
		t.Errorf("error is not a protocol error: %v", err)
	}
	var perr *jsonx.ParseError
	if !errors.As(err, &perr) {
		t.Errorf("parse cause not preserved in chain: %v", err)
	}
}

func TestClassifierEmptyInput(t *testing.T) {
	oracle := &mock.Provider{}
	c := pipeline.NewClassifier(oracle, pipeline.WithRetry(fastRetry))

	got, err := c.Classify(context.Background(), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if calls := len(oracle.Calls()); calls != 0 {
		t.Errorf("oracle calls = %d, want 0", calls)
	}
}

func TestClassifyParallelMatchesInput(t *testing.T) {
	oracle := scriptedOracle(t)
	c := pipeline.NewClassifier(oracle,
		pipeline.WithRetry(fastRetry),
		pipeline.WithBatchSize(2),
		pipeline.WithMaxInFlight(4),
	)

	segs := make([]segment.SpeakerSegment, 9)
	for i := range segs {
		segs[i] = seg(i, fmt.Sprintf("remark %d", i), float64(i), float64(i)+1)
	}
	got, err := c.ClassifyParallel(context.Background(), segs)
	if err != nil {
		t.Fatalf("ClassifyParallel: %v", err)
	}
	if len(got) != len(segs) {
		t.Fatalf("got %d results, want %d", len(got), len(segs))
	}
	for i := range got {
		if got[i].SpeakerSegment != segs[i] {
			t.Fatalf("result %d does not wrap input %d: %+v", i, i, got[i].SpeakerSegment)
		}
		want := segment.ClassConcern
		if i%2 == 0 {
			want = segment.ClassSuggestion
		}
		if got[i].Classification != want {
			t.Errorf("result %d: classification = %q, want %q", i, got[i].Classification, want)
		}
	}
	if calls := len(oracle.Calls()); calls != 5 {
		t.Errorf("oracle calls = %d, want 5", calls)
	}
}
