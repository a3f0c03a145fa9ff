package pipeline

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dictumlabs/dictum/internal/jsonx"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
)

// unifiedReply is the wire shape of one single-pass result.
type unifiedReply struct {
	Classification   string   `json:"classification"`
	TransformedParts []string `json:"transformedParts"`
}

// Unified folds classification, deduplication, splitting, and rewriting into
// one oracle call per batch. Cheaper than the staged pipeline and meant for
// models that follow compound instructions well; the staged path remains the
// default.
type Unified struct {
	oracle llm.Provider
	cfg    stageConfig
}

// NewUnified builds a single-pass processor around the given oracle.
func NewUnified(oracle llm.Provider, opts ...Option) *Unified {
	return &Unified{oracle: oracle, cfg: newStageConfig(defaultUnifiedBatch, opts)}
}

// Process runs all segments through the single-pass oracle, batch by batch.
// Ignore segments and duplicates come back with empty parts and are dropped.
// Empty input returns empty without an oracle call.
func (u *Unified) Process(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Transformed, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	var out []segment.Transformed
	for _, b := range batches(len(segs), u.cfg.batch) {
		results, err := u.ProcessBatch(ctx, segs[b.start:b.end])
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

// ProcessParallel issues all batch calls concurrently. Batches are
// independent here, so results only need reassembly in batch order.
func (u *Unified) ProcessParallel(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Transformed, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	ranges := batches(len(segs), u.cfg.batch)
	results := make([][]segment.Transformed, len(ranges))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.maxInFlight)
	for i, b := range ranges {
		g.Go(func() error {
			batchOut, err := u.ProcessBatch(ctx, segs[b.start:b.end])
			if err != nil {
				return err
			}
			results[i] = batchOut
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []segment.Transformed
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// ProcessBatch handles one batch. The reply must hold exactly one result
// object per segment with a valid classification. A segment with several
// parts becomes several comments sharing the original raw text, their spans
// cut proportionally to part length.
func (u *Unified) ProcessBatch(ctx context.Context, batch []segment.SpeakerSegment) ([]segment.Transformed, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	content, err := completeStage(ctx, u.oracle, StageUnified, u.cfg, unifiedSystemPrompt, unifiedPayload(batch))
	if err != nil {
		return nil, err
	}
	replies, err := jsonx.ExtractArrayLen[unifiedReply](content, len(batch))
	if err != nil {
		return nil, protocolErr(StageUnified, err, "expected %d results", len(batch))
	}

	var out []segment.Transformed
	for i, r := range replies {
		label, ok := segment.ParseClassification(r.Classification)
		if !ok {
			return nil, protocolErr(StageUnified, nil, "segment %d: unknown classification %q", i, r.Classification)
		}
		parts := visibleParts(r.TransformedParts)
		if label == segment.ClassIgnore || len(parts) == 0 {
			continue
		}
		spans := spanShares(batch[i].Start, batch[i].End, textWeights(parts))
		for j, p := range parts {
			out = append(out, segment.Transformed{
				Classified: segment.Classified{
					SpeakerSegment: segment.SpeakerSegment{
						SpeakerTag: batch[i].SpeakerTag,
						Text:       batch[i].Text,
						Start:      spans[j].start,
						End:        spans[j].end,
					},
					Classification: label,
				},
				TransformedText: p,
			})
		}
	}
	return out, nil
}

// visibleParts trims every part and drops the ones with no visible text.
func visibleParts(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
