package pipeline

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dictumlabs/dictum/internal/jsonx"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
)

// indexed pairs a kept segment with its position in the pre-filter list, so
// context windows can be cut from the original transcript after Ignore
// segments are filtered out.
type indexed struct {
	orig int
	seg  segment.Classified
}

// Transformer rewrites spoken remarks into written review comments. Ignore
// segments are filtered out before any oracle call and never produce output;
// they only reappear as read-only context lines.
type Transformer struct {
	oracle llm.Provider
	cfg    stageConfig
}

// NewTransformer builds a transformer around the given oracle.
func NewTransformer(oracle llm.Provider, opts ...Option) *Transformer {
	return &Transformer{oracle: oracle, cfg: newStageConfig(defaultTransformBatch, opts)}
}

// Transform rewrites all non-Ignore segments batch by batch, preserving
// their order. When everything is Ignore the result is empty and the oracle
// is never called.
func (t *Transformer) Transform(ctx context.Context, segs []segment.Classified) ([]segment.Transformed, error) {
	kept := keepReviewable(segs)
	if len(kept) == 0 {
		return nil, nil
	}
	out := make([]segment.Transformed, len(kept))
	for _, b := range batches(len(kept), t.cfg.batch) {
		if err := t.transformRange(ctx, segs, kept, b, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TransformParallel issues all batch calls concurrently; output order still
// matches the kept segments' input order.
func (t *Transformer) TransformParallel(ctx context.Context, segs []segment.Classified) ([]segment.Transformed, error) {
	kept := keepReviewable(segs)
	if len(kept) == 0 {
		return nil, nil
	}
	out := make([]segment.Transformed, len(kept))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.maxInFlight)
	for _, b := range batches(len(kept), t.cfg.batch) {
		g.Go(func() error {
			return t.transformRange(ctx, segs, kept, b, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Transformer) transformRange(ctx context.Context, all []segment.Classified, kept []indexed, b batchRange, out []segment.Transformed) error {
	batch := kept[b.start:b.end]
	content, err := completeStage(ctx, t.oracle, StageTransform, t.cfg, transformSystemPrompt, transformPayload(all, batch, t.cfg.radius))
	if err != nil {
		return err
	}
	texts, err := jsonx.ExtractArrayLen[string](content, len(batch))
	if err != nil {
		return protocolErr(StageTransform, err, "expected %d rewrites", len(batch))
	}
	for i, txt := range texts {
		out[b.start+i] = segment.Transformed{
			Classified:      batch[i].seg,
			TransformedText: strings.TrimSpace(txt),
		}
	}
	return nil
}

func keepReviewable(segs []segment.Classified) []indexed {
	kept := make([]indexed, 0, len(segs))
	for i, s := range segs {
		if s.Classification == segment.ClassIgnore {
			continue
		}
		kept = append(kept, indexed{orig: i, seg: s})
	}
	return kept
}
