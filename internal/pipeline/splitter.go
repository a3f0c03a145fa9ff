package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dictumlabs/dictum/internal/jsonx"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
)

// DecisionKind says what happens to a segment after the split stage.
type DecisionKind int

const (
	// DecisionKeep leaves the segment untouched.
	DecisionKeep DecisionKind = iota
	// DecisionDuplicate drops the segment; an earlier one covers it.
	DecisionDuplicate
	// DecisionSplit replaces the segment with its parts.
	DecisionSplit
)

// Decision is the splitter's verdict for one segment: keep it, drop it as a
// duplicate, or split it into parts.
type Decision struct {
	Kind  DecisionKind
	Parts []string
}

// UnmarshalJSON accepts the wire forms "keep", "duplicate", or an array of
// part strings.
func (d *Decision) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty decision")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "keep":
			d.Kind = DecisionKeep
		case "duplicate":
			d.Kind = DecisionDuplicate
		default:
			return fmt.Errorf("unknown verdict %q", s)
		}
		return nil
	case '[':
		var parts []string
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		d.Kind = DecisionSplit
		d.Parts = parts
		return nil
	default:
		return errors.New("decision must be a verdict string or an array of parts")
	}
}

// Splitter deduplicates segments and splits multi-remark segments into
// parts. Earlier decisions feed later batches as finalized context, so later
// duplicates of an already-kept remark get caught.
type Splitter struct {
	oracle llm.Provider
	cfg    stageConfig
}

// NewSplitter builds a splitter around the given oracle.
func NewSplitter(oracle llm.Provider, opts ...Option) *Splitter {
	return &Splitter{oracle: oracle, cfg: newStageConfig(defaultSplitBatch, opts)}
}

// Split applies the oracle's decisions batch by batch. Kept and split
// segments come out in input order; duplicates vanish. Empty input returns
// empty without an oracle call.
func (s *Splitter) Split(ctx context.Context, segs []segment.Classified) ([]segment.Classified, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	out := make([]segment.Classified, 0, len(segs))
	for _, b := range batches(len(segs), s.cfg.batch) {
		batch := segs[b.start:b.end]
		before := tailOf(out, s.cfg.radius)
		after := segs[b.end:min(len(segs), b.end+s.cfg.radius)]
		decisions, err := s.SplitBatch(ctx, batch, before, after)
		if err != nil {
			return nil, err
		}
		out = applyDecisions(out, batch, decisions)
	}
	return out, nil
}

// SplitParallel issues all batch calls concurrently. Without sequential
// ordering there is no finalized output yet, so earlier context falls back
// to the undecided input neighbors. Decisions still apply in input order.
func (s *Splitter) SplitParallel(ctx context.Context, segs []segment.Classified) ([]segment.Classified, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	ranges := batches(len(segs), s.cfg.batch)
	decided := make([][]Decision, len(ranges))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.maxInFlight)
	for i, b := range ranges {
		g.Go(func() error {
			before := segs[max(0, b.start-s.cfg.radius):b.start]
			after := segs[b.end:min(len(segs), b.end+s.cfg.radius)]
			decisions, err := s.SplitBatch(ctx, segs[b.start:b.end], before, after)
			if err != nil {
				return err
			}
			decided[i] = decisions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]segment.Classified, 0, len(segs))
	for i, b := range ranges {
		out = applyDecisions(out, segs[b.start:b.end], decided[i])
	}
	return out, nil
}

// SplitBatch asks the oracle for one decision per batch segment. The reply
// must hold exactly len(batch) decisions; split decisions must carry at
// least one part with visible text.
func (s *Splitter) SplitBatch(ctx context.Context, batch, before, after []segment.Classified) ([]Decision, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	content, err := completeStage(ctx, s.oracle, StageSplit, s.cfg, splitSystemPrompt, splitPayload(batch, before, after))
	if err != nil {
		return nil, err
	}
	decisions, err := jsonx.ExtractArrayLen[Decision](content, len(batch))
	if err != nil {
		return nil, protocolErr(StageSplit, err, "expected %d decisions", len(batch))
	}
	for i, d := range decisions {
		if d.Kind != DecisionSplit {
			continue
		}
		if len(d.Parts) == 0 {
			return nil, protocolErr(StageSplit, nil, "segment %d: split with no parts", i)
		}
		for j, p := range d.Parts {
			if strings.TrimSpace(p) == "" {
				return nil, protocolErr(StageSplit, nil, "segment %d: split part %d is empty", i, j)
			}
		}
	}
	return decisions, nil
}

func applyDecisions(out []segment.Classified, batch []segment.Classified, decisions []Decision) []segment.Classified {
	for i, d := range decisions {
		switch d.Kind {
		case DecisionKeep:
			out = append(out, batch[i])
		case DecisionDuplicate:
			// dropped, first occurrence already in out
		case DecisionSplit:
			out = append(out, explode(batch[i], d.Parts)...)
		}
	}
	return out
}

// explode replaces one segment with its parts. Parts sit contiguously inside
// the original span, each getting a share of the duration proportional to
// its text length.
func explode(orig segment.Classified, parts []string) []segment.Classified {
	trimmed := make([]string, len(parts))
	for i, p := range parts {
		trimmed[i] = strings.TrimSpace(p)
	}

	spans := spanShares(orig.Start, orig.End, textWeights(trimmed))
	out := make([]segment.Classified, len(trimmed))
	for i, p := range trimmed {
		out[i] = segment.Classified{
			SpeakerSegment: segment.SpeakerSegment{
				SpeakerTag: orig.SpeakerTag,
				Text:       p,
				Start:      spans[i].start,
				End:        spans[i].end,
			},
			Classification: orig.Classification,
		}
	}
	return out
}

// span is one contiguous time slice inside a segment.
type span struct {
	start, end segment.Seconds
}

// spanShares cuts [start, end] into contiguous slices sized proportionally
// to the weights. A zero weight total degrades to equal shares. The last
// slice closes exactly on end so no duration is lost to rounding.
func spanShares(start, end segment.Seconds, weights []int) []span {
	total := 0
	for _, w := range weights {
		total += w
	}
	duration := float64(end - start)
	out := make([]span, len(weights))
	cursor := start
	for i, w := range weights {
		share := duration / float64(len(weights))
		if total > 0 {
			share = duration * float64(w) / float64(total)
		}
		sliceEnd := cursor + segment.Seconds(share)
		if i == len(weights)-1 {
			sliceEnd = end
		}
		out[i] = span{start: cursor, end: sliceEnd}
		cursor = sliceEnd
	}
	return out
}

func textWeights(parts []string) []int {
	weights := make([]int, len(parts))
	for i, p := range parts {
		weights[i] = len(p)
	}
	return weights
}

func tailOf(segs []segment.Classified, n int) []segment.Classified {
	if len(segs) <= n {
		return segs
	}
	return segs[len(segs)-n:]
}
