package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dictumlabs/dictum/internal/chunking"
	"github.com/dictumlabs/dictum/internal/lexicon"
	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/pipeline"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/internal/transcribe"
	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// Processor runs one finished recording through the whole chain: recognition,
// identifier correction, segmentation, oracle polishing, and placement.
// Construct once and share; it holds no per-recording state.
type Processor struct {
	transcriber *transcribe.Service
	pipe        *pipeline.Pipeline
	builder     *location.Builder
	selector    *location.Selector
	corrector   *lexicon.Corrector
	chunker     *chunking.Chunker
}

// ProcessorOption configures optional stages.
type ProcessorOption func(*Processor)

// WithCorrector repairs misheard identifiers against the symbols seen in
// snapshots before segmentation.
func WithCorrector(c *lexicon.Corrector) ProcessorOption {
	return func(p *Processor) { p.corrector = c }
}

// WithChunker merges semantically connected speaker segments before the
// oracle sees them. Coalescing failures fall back to plain speaker grouping.
func WithChunker(c *chunking.Chunker) ProcessorOption {
	return func(p *Processor) { p.chunker = c }
}

// NewProcessor wires the mandatory stages together.
func NewProcessor(transcriber *transcribe.Service, pipe *pipeline.Pipeline, builder *location.Builder, selector *location.Selector, opts ...ProcessorOption) *Processor {
	p := &Processor{
		transcriber: transcriber,
		pipe:        pipe,
		builder:     builder,
		selector:    selector,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlacedComment is one polished remark together with its publish target.
// A zero Placement means the recording carried no snapshots to place against.
type PlacedComment struct {
	// Text is the polished comment.
	Text string

	// Original is the raw transcript span the comment came from.
	Original string

	// Classification labels the comment's intent.
	Classification segment.Classification

	// SpokenAt is the comment's start offset within the recording.
	SpokenAt segment.Seconds

	// Placement is the file and line the comment should attach to.
	Placement location.Placement
}

// Result carries the finished output plus the intermediate stages that
// clients surface for transparency.
type Result struct {
	// Words is the recognized word stream, after identifier correction.
	Words []segment.WordInfo

	// Corrections lists the identifier repairs that were applied.
	Corrections []lexicon.Correction

	// Segments is the grouping the oracle stages consumed.
	Segments []segment.SpeakerSegment

	// Comments is the finished, placed output.
	Comments []PlacedComment
}

// Process turns one recording into placed comments. The symbols observed
// across snapshots are fed to recognition as keywords and drive identifier
// correction. reviewedFile narrows candidate placements to one file; empty
// means no narrowing. With no snapshots at all, comments come back with zero
// placements rather than guessed ones.
func (p *Processor) Process(ctx context.Context, audio speech.Audio, snapshots []location.Snapshot, reviewedFile string) (*Result, error) {
	symbols := snapshotSymbols(snapshots)
	audio.Keywords = append(audio.Keywords, symbols...)

	words, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("review: transcribe: %w", err)
	}

	result := &Result{
		Words:    words,
		Segments: []segment.SpeakerSegment{},
		Comments: []PlacedComment{},
	}
	if len(words) == 0 {
		return result, nil
	}

	if p.corrector != nil && len(symbols) > 0 {
		result.Words, result.Corrections = p.corrector.CorrectWords(words, lexicon.Build(symbols))
	}

	segs := segment.Group(result.Words)
	if p.chunker != nil {
		coalesced, err := p.chunker.Coalesce(ctx, segs)
		if err != nil {
			slog.Warn("semantic coalescing failed, keeping speaker grouping", "error", err)
		} else {
			segs = coalesced
		}
	}
	result.Segments = segs

	transformed, err := p.pipe.ProcessSegments(ctx, segs)
	if err != nil {
		return nil, fmt.Errorf("review: polish segments: %w", err)
	}
	if len(transformed) == 0 {
		return result, nil
	}

	placements, err := p.place(ctx, transformed, snapshots, reviewedFile)
	if err != nil {
		return nil, err
	}

	placed := make([]PlacedComment, len(transformed))
	for i, t := range transformed {
		placed[i] = PlacedComment{
			Text:           t.TransformedText,
			Original:       t.Text,
			Classification: t.Classification,
			SpokenAt:       t.Start,
			Placement:      placements[i],
		}
	}
	result.Comments = placed
	return result, nil
}

// place picks a publish target for every transformed segment. Without
// snapshots there is nothing to anchor against and all placements stay zero.
func (p *Processor) place(ctx context.Context, transformed []segment.Transformed, snapshots []location.Snapshot, reviewedFile string) ([]location.Placement, error) {
	placements := make([]location.Placement, len(transformed))
	if len(snapshots) == 0 {
		return placements, nil
	}

	comments := make([]location.Comment, len(transformed))
	times := make([]segment.Seconds, len(transformed))
	for i, t := range transformed {
		comments[i] = location.Comment{Text: t.TransformedText, Timestamp: t.Start}
		times[i] = t.Start
	}

	candidates := p.builder.BuildAll(ctx, times, snapshots, reviewedFile)
	selections, err := p.selector.Select(ctx, comments, candidates)
	if err != nil {
		return nil, fmt.Errorf("review: place comments: %w", err)
	}
	for i, sel := range selections {
		placements[i] = sel.Resolve(candidates[i])
	}
	return placements, nil
}

// snapshotSymbols collects the distinct symbol names seen across snapshots,
// in first-seen order.
func snapshotSymbols(snapshots []location.Snapshot) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, snap := range snapshots {
		for _, sym := range snap.SymbolsInView {
			if _, ok := seen[sym]; ok {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}
