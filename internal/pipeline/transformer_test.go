package pipeline_test

import (
	"context"
	"strings"
	"testing"

	"github.com/dictumlabs/dictum/internal/pipeline"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm/mock"
)

func TestTransformerFiltersChatter(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(
		`["Consider renaming foo to parseHeader.", "Why does this need a mutex?"]`,
	)}
	tr := pipeline.NewTransformer(oracle, pipeline.WithRetry(fastRetry))

	segs := []segment.Classified{
		classified(1, "so maybe call foo something like parse header", 0, 3, segment.ClassSuggestion),
		classified(1, "uh let me scroll", 3, 4, segment.ClassIgnore),
		classified(2, "wait why is there a mutex here", 4, 6, segment.ClassQuestion),
	}
	got, err := tr.Transform(context.Background(), segs)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d comments, want 2", len(got))
	}
	if got[0].Classification != segment.ClassSuggestion || got[1].Classification != segment.ClassQuestion {
		t.Errorf("classifications scrambled: %q, %q", got[0].Classification, got[1].Classification)
	}
	if got[0].Text != segs[0].Text {
		t.Errorf("raw text lost: %q", got[0].Text)
	}
	if got[0].TransformedText != "Consider renaming foo to parseHeader." {
		t.Errorf("transformed = %q", got[0].TransformedText)
	}

	payload := oracle.Calls()[0].Req.Messages[0].Content
	if n := strings.Count(payload, "(rewrite"); n != 2 {
		t.Errorf("payload marks %d rewrite targets, want 2", n)
	}
	// The chatter segment stays visible, but only as context.
	if !strings.Contains(payload, "(context) speaker 1") || !strings.Contains(payload, "let me scroll") {
		t.Errorf("filtered segment missing from context: %s", payload)
	}
}

func TestTransformerAllChatterSkipsOracle(t *testing.T) {
	oracle := &mock.Provider{}
	tr := pipeline.NewTransformer(oracle, pipeline.WithRetry(fastRetry))

	got, err := tr.Transform(context.Background(), []segment.Classified{
		classified(1, "um", 0, 1, segment.ClassIgnore),
		classified(1, "okay next file", 1, 2, segment.ClassIgnore),
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d comments, want 0", len(got))
	}
	if calls := len(oracle.Calls()); calls != 0 {
		t.Errorf("oracle calls = %d, want 0", calls)
	}
}

func TestTransformerKeepsEmptyRewrite(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(`[""]`)}
	tr := pipeline.NewTransformer(oracle, pipeline.WithRetry(fastRetry))

	got, err := tr.Transform(context.Background(), []segment.Classified{
		classified(1, "hm this one", 0, 1, segment.ClassConcern),
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d comments, want 1", len(got))
	}
	if got[0].TransformedText != "" {
		t.Errorf("transformed = %q, want empty", got[0].TransformedText)
	}
}

func TestTransformerRejectsWrongCount(t *testing.T) {
	oracle := &mock.Provider{CompleteResponse: reply(`["only one"]`)}
	tr := pipeline.NewTransformer(oracle, pipeline.WithRetry(fastRetry))

	_, err := tr.Transform(context.Background(), []segment.Classified{
		classified(1, "a", 0, 1, segment.ClassConcern),
		classified(1, "b", 1, 2, segment.ClassConcern),
	})
	if err == nil {
		t.Fatal("want error for short reply")
	}
	if !pipeline.IsProtocol(err) {
		t.Errorf("error is not a protocol error: %v", err)
	}
	if !strings.Contains(err.Error(), "transform") {
		t.Errorf("error does not name the stage: %v", err)
	}
}

func TestTransformerContextSpansOriginalIndices(t *testing.T) {
	// Nine segments, the middle batch of kept ones sits far into the
	// original list; its context window must come from original neighbors,
	// including filtered chatter.
	oracle := scriptedOracle(t)
	tr := pipeline.NewTransformer(oracle,
		pipeline.WithRetry(fastRetry),
		pipeline.WithBatchSize(2),
	)

	var segs []segment.Classified
	for i := 0; i < 9; i++ {
		label := segment.ClassConcern
		if i%3 == 1 {
			label = segment.ClassIgnore
		}
		segs = append(segs, classified(i, textFor(i), float64(i), float64(i)+1, label))
	}
	got, err := tr.Transform(context.Background(), segs)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d comments, want 6", len(got))
	}
	wantOrder := []int{0, 2, 3, 5, 6, 8}
	for i, idx := range wantOrder {
		if got[i].Text != textFor(idx) {
			t.Errorf("comment %d: text = %q, want %q", i, got[i].Text, textFor(idx))
		}
		if got[i].TransformedText != "R:"+textFor(idx) {
			t.Errorf("comment %d: transformed = %q", i, got[i].TransformedText)
		}
	}

	// Second batch covers originals 3 and 5; chatter at original index 4
	// must appear between them as context.
	second := oracle.Calls()[1].Req.Messages[0].Content
	if !strings.Contains(second, "(context) speaker 4") {
		t.Errorf("second batch misses interleaved chatter context: %s", second)
	}
}

func textFor(i int) string {
	names := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india"}
	return "remark " + names[i]
}
