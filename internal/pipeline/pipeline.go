// Package pipeline turns diarized transcript words into polished review
// comments. The staged path classifies, deduplicates and splits, then
// rewrites; the unified path does all of it in one oracle call per batch.
// Every stage talks to the oracle through batched requests with bounded
// read-only context and validates replies against a strict wire contract.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/dictumlabs/dictum/internal/resilience"
	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
)

// Mode selects how the oracle work is orchestrated.
type Mode string

const (
	// ModeStaged runs classify, split, and transform as separate passes.
	ModeStaged Mode = "staged"
	// ModeUnified folds everything into one pass per batch.
	ModeUnified Mode = "unified"
)

// StageObserver receives per-stage timing. The metrics layer implements it;
// a nil observer disables recording.
type StageObserver interface {
	ObserveStage(ctx context.Context, stage string, seconds float64, failed bool)
}

// Config tunes the pipeline. Zero values fall back to stage defaults.
type Config struct {
	Mode     Mode
	Parallel bool

	ClassifyBatch  int
	SplitBatch     int
	TransformBatch int
	UnifiedBatch   int
	ContextRadius  int
	Temperature    float64
	MaxInFlight    int
	Retry          resilience.RetryConfig

	Observer StageObserver
}

// Pipeline owns the oracle stages and runs them in order. Construct one per
// oracle provider; it is safe for concurrent use.
type Pipeline struct {
	classifier  *Classifier
	splitter    *Splitter
	transformer *Transformer
	unified     *Unified

	mode     Mode
	parallel bool
	observer StageObserver
}

// New assembles a pipeline over the given oracle provider.
func New(oracle llm.Provider, cfg Config) *Pipeline {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeStaged
	}
	shared := []Option{
		WithTemperature(cfg.Temperature),
		WithRetry(cfg.Retry),
	}
	if cfg.ContextRadius > 0 {
		shared = append(shared, WithContextRadius(cfg.ContextRadius))
	}
	if cfg.MaxInFlight > 0 {
		shared = append(shared, WithMaxInFlight(cfg.MaxInFlight))
	}
	stageOpts := func(batch int) []Option {
		opts := append([]Option{}, shared...)
		if batch > 0 {
			opts = append(opts, WithBatchSize(batch))
		}
		return opts
	}
	return &Pipeline{
		classifier:  NewClassifier(oracle, stageOpts(cfg.ClassifyBatch)...),
		splitter:    NewSplitter(oracle, stageOpts(cfg.SplitBatch)...),
		transformer: NewTransformer(oracle, stageOpts(cfg.TransformBatch)...),
		unified:     NewUnified(oracle, stageOpts(cfg.UnifiedBatch)...),
		mode:        mode,
		parallel:    cfg.Parallel,
		observer:    cfg.Observer,
	}
}

// Process groups diarized words into speaker segments and runs them through
// the configured mode. Empty input yields an empty result with no oracle
// traffic.
func (p *Pipeline) Process(ctx context.Context, words []segment.WordInfo) ([]segment.Transformed, error) {
	return p.ProcessSegments(ctx, segment.Group(words))
}

// ProcessSegments runs already-grouped segments through the configured mode.
func (p *Pipeline) ProcessSegments(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Transformed, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	if p.mode == ModeUnified {
		return p.runUnified(ctx, segs)
	}

	classified, err := p.runClassify(ctx, segs)
	if err != nil {
		return nil, err
	}
	deduped, err := p.runSplit(ctx, classified)
	if err != nil {
		return nil, err
	}
	return p.runTransform(ctx, deduped)
}

// Classify runs only the classification stage. Empty input yields an empty
// result with no oracle traffic.
func (p *Pipeline) Classify(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Classified, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	return p.runClassify(ctx, segs)
}

// Split runs only the splitting stage on already-classified segments.
func (p *Pipeline) Split(ctx context.Context, segs []segment.Classified) ([]segment.Classified, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	return p.runSplit(ctx, segs)
}

// Transform runs only the transformation stage on already-classified
// segments.
func (p *Pipeline) Transform(ctx context.Context, segs []segment.Classified) ([]segment.Transformed, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	return p.runTransform(ctx, segs)
}

func (p *Pipeline) runClassify(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Classified, error) {
	startAt := time.Now()
	var out []segment.Classified
	var err error
	if p.parallel {
		out, err = p.classifier.ClassifyParallel(ctx, segs)
	} else {
		out, err = p.classifier.Classify(ctx, segs)
	}
	p.observe(ctx, StageClassify, time.Since(startAt), len(segs), len(out), err)
	return out, err
}

func (p *Pipeline) runSplit(ctx context.Context, segs []segment.Classified) ([]segment.Classified, error) {
	startAt := time.Now()
	var out []segment.Classified
	var err error
	if p.parallel {
		out, err = p.splitter.SplitParallel(ctx, segs)
	} else {
		out, err = p.splitter.Split(ctx, segs)
	}
	p.observe(ctx, StageSplit, time.Since(startAt), len(segs), len(out), err)
	return out, err
}

func (p *Pipeline) runTransform(ctx context.Context, segs []segment.Classified) ([]segment.Transformed, error) {
	startAt := time.Now()
	var out []segment.Transformed
	var err error
	if p.parallel {
		out, err = p.transformer.TransformParallel(ctx, segs)
	} else {
		out, err = p.transformer.Transform(ctx, segs)
	}
	p.observe(ctx, StageTransform, time.Since(startAt), len(segs), len(out), err)
	return out, err
}

func (p *Pipeline) runUnified(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.Transformed, error) {
	startAt := time.Now()
	var out []segment.Transformed
	var err error
	if p.parallel {
		out, err = p.unified.ProcessParallel(ctx, segs)
	} else {
		out, err = p.unified.Process(ctx, segs)
	}
	p.observe(ctx, StageUnified, time.Since(startAt), len(segs), len(out), err)
	return out, err
}

func (p *Pipeline) observe(ctx context.Context, stage Stage, d time.Duration, in, out int, err error) {
	if err != nil {
		slog.Error("pipeline stage failed", "stage", stage, "duration", d, "error", err)
	} else {
		slog.Debug("pipeline stage complete", "stage", stage, "in", in, "out", out, "duration", d)
	}
	if p.observer != nil {
		p.observer.ObserveStage(ctx, string(stage), d.Seconds(), err != nil)
	}
}
