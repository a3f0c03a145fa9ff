package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dictumlabs/dictum/internal/jsonx"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
)

// Classifier labels every speaker segment with one of the five review
// classifications. Labels come from the oracle; anything outside the closed
// set fails the batch.
type Classifier struct {
	oracle llm.Provider
	cfg    stageConfig
}

// NewClassifier builds a classifier around the given oracle.
func NewClassifier(oracle llm.Provider, opts ...Option) *Classifier {
	return &Classifier{oracle: oracle, cfg: newStageConfig(defaultClassifyBatch, opts)}
}

// Classify labels all segments batch by batch, in order. Output preserves
// input order and length. Empty input returns empty without an oracle call.
func (c *Classifier) Classify(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Classified, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	out := make([]segment.Classified, len(segs))
	for _, b := range batches(len(segs), c.cfg.batch) {
		if err := c.classifyRange(ctx, segs, b, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ClassifyParallel issues all batch calls concurrently. Each batch writes
// into its own slice of the result, so output order matches input order
// regardless of completion order.
func (c *Classifier) ClassifyParallel(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Classified, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	out := make([]segment.Classified, len(segs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.maxInFlight)
	for _, b := range batches(len(segs), c.cfg.batch) {
		g.Go(func() error {
			return c.classifyRange(ctx, segs, b, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Classifier) classifyRange(ctx context.Context, segs []segment.SpeakerSegment, b batchRange, out []segment.Classified) error {
	before := segs[max(0, b.start-c.cfg.radius):b.start]
	after := segs[b.end:min(len(segs), b.end+c.cfg.radius)]
	labels, err := c.ClassifyBatch(ctx, segs[b.start:b.end], before, after)
	if err != nil {
		return err
	}
	for i, label := range labels {
		out[b.start+i] = segment.Classified{
			SpeakerSegment: segs[b.start+i],
			Classification: label,
		}
	}
	return nil
}

// ClassifyBatch labels one batch. Context segments are visible to the oracle
// but never classified. The reply must hold exactly one valid classification
// per batch segment; any violation fails the whole batch.
func (c *Classifier) ClassifyBatch(ctx context.Context, batch, before, after []segment.SpeakerSegment) ([]segment.Classification, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	content, err := completeStage(ctx, c.oracle, StageClassify, c.cfg, classifySystemPrompt, classifyPayload(batch, before, after))
	if err != nil {
		return nil, err
	}
	raw, err := jsonx.ExtractArrayLen[string](content, len(batch))
	if err != nil {
		return nil, protocolErr(StageClassify, err, "expected %d classifications", len(batch))
	}
	labels := make([]segment.Classification, len(raw))
	for i, s := range raw {
		label, ok := segment.ParseClassification(s)
		if !ok {
			return nil, protocolErr(StageClassify, nil, "segment %d: unknown classification %q", i, s)
		}
		labels[i] = label
	}
	return labels, nil
}
