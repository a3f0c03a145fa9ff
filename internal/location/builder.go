package location

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dictumlabs/dictum/internal/segment"
)

const (
	defaultMaxCandidates = 5
	defaultSymbolPadding = 2
	defaultCursorPadding = 10
	defaultRenderWorkers = 8

	noCodeContext = "no code context available"
)

// Builder gathers candidate locations for comments and renders the code that
// was on screen when each snapshot was taken.
type Builder struct {
	docs    DocumentSource
	symbols SymbolResolver

	maxCandidates int
	symbolPadding int
	cursorPadding int
	renderWorkers int
}

// BuilderOption adjusts candidate gathering and rendering.
type BuilderOption func(*Builder)

// WithSymbolResolver enables the symbol tier of context rendering.
func WithSymbolResolver(r SymbolResolver) BuilderOption {
	return func(b *Builder) { b.symbols = r }
}

// WithMaxCandidates bounds how many snapshots each comment considers.
func WithMaxCandidates(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxCandidates = n
		}
	}
}

// WithSymbolPadding sets the lines of padding around a resolved symbol.
func WithSymbolPadding(n int) BuilderOption {
	return func(b *Builder) {
		if n >= 0 {
			b.symbolPadding = n
		}
	}
}

// WithCursorPadding sets the lines of padding around the cursor line.
func WithCursorPadding(n int) BuilderOption {
	return func(b *Builder) {
		if n >= 0 {
			b.cursorPadding = n
		}
	}
}

// WithRenderWorkers bounds concurrent context rendering in BuildAll.
func WithRenderWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.renderWorkers = n
		}
	}
}

// NewBuilder builds candidates against the given document source.
func NewBuilder(docs DocumentSource, opts ...BuilderOption) *Builder {
	b := &Builder{
		docs:          docs,
		maxCandidates: defaultMaxCandidates,
		symbolPadding: defaultSymbolPadding,
		cursorPadding: defaultCursorPadding,
		renderWorkers: defaultRenderWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildCandidates returns the snapshots nearest in time to the comment,
// rendered and ready for selection. When currentFile is set, snapshots of
// other files are excluded; if that leaves nothing, the unfiltered set is
// used and a degraded-context warning is logged, since an approximate
// location beats none.
func (b *Builder) BuildCandidates(ctx context.Context, at segment.Seconds, snapshots []Snapshot, currentFile string) []Candidate {
	if len(snapshots) == 0 {
		return nil
	}
	pool := snapshots
	if currentFile != "" {
		var filtered []Snapshot
		for _, s := range snapshots {
			if s.File == currentFile {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) == 0 {
			slog.Warn("no snapshots for reviewed file, considering all files",
				"file", currentFile, "snapshots", len(snapshots))
		} else {
			pool = filtered
		}
	}

	ordered := make([]Candidate, len(pool))
	copy(ordered, pool)
	sort.SliceStable(ordered, func(i, j int) bool {
		return timeDistance(ordered[i], at) < timeDistance(ordered[j], at)
	})
	if len(ordered) > b.maxCandidates {
		ordered = ordered[:b.maxCandidates]
	}
	for i := range ordered {
		ordered[i].CodeContext = b.render(ctx, ordered[i])
	}
	return ordered
}

// BuildAll builds one candidate set per comment time. Rendering only reads
// documents, so sets are built concurrently.
func (b *Builder) BuildAll(ctx context.Context, times []segment.Seconds, snapshots []Snapshot, currentFile string) [][]Candidate {
	sets := make([][]Candidate, len(times))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.renderWorkers)
	for i, at := range times {
		g.Go(func() error {
			sets[i] = b.BuildCandidates(ctx, at, snapshots, currentFile)
			return nil
		})
	}
	// Workers only render, they never fail; Wait just joins them.
	_ = g.Wait()
	return sets
}

// render produces the candidate's code-context block. Exactly one tier
// applies: visible symbols, then cursor surroundings, then the visible
// range, then the sentinel. A snapshot that already carries context keeps
// it.
func (b *Builder) render(ctx context.Context, snap Snapshot) string {
	if snap.CodeContext != "" {
		return snap.CodeContext
	}
	lines, err := b.docs.Lines(ctx, snap.File)
	if err != nil {
		slog.Debug("document unavailable for context rendering",
			"file", snap.File, "error", err)
		lines = nil
	}
	if block := b.renderSymbols(ctx, snap, lines); block != "" {
		return block
	}
	if snap.CursorLine > 0 {
		if block := renderSpan(lines, snap.CursorLine-b.cursorPadding, snap.CursorLine+b.cursorPadding); block != "" {
			return block
		}
	}
	if snap.VisibleRange[0] > 0 || snap.VisibleRange[1] > 0 {
		if block := renderSpan(lines, snap.VisibleRange[0], snap.VisibleRange[1]); block != "" {
			return block
		}
	}
	return noCodeContext
}

func (b *Builder) renderSymbols(ctx context.Context, snap Snapshot, lines []string) string {
	if b.symbols == nil || len(snap.SymbolsInView) == 0 || len(lines) == 0 {
		return ""
	}
	var blocks []string
	for _, name := range snap.SymbolsInView {
		rng, found, err := b.symbols.Resolve(ctx, snap.File, name)
		if err != nil {
			slog.Debug("symbol resolution failed",
				"file", snap.File, "symbol", name, "error", err)
			continue
		}
		if !found {
			continue
		}
		block := renderSpan(lines, rng.StartLine-b.symbolPadding, rng.EndLine+b.symbolPadding)
		if block == "" {
			continue
		}
		blocks = append(blocks, name+":\n"+block)
	}
	return strings.Join(blocks, "\n\n")
}

// renderSpan emits numbered source lines for the 1-based inclusive range,
// clamped to the document. Empty when the clamped range holds no lines.
func renderSpan(lines []string, startLine, endLine int) string {
	if len(lines) == 0 {
		return ""
	}
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > endLine {
		return ""
	}
	var sb strings.Builder
	for n := startLine; n <= endLine; n++ {
		fmt.Fprintf(&sb, "%4d | %s\n", n, lines[n-1])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func timeDistance(s Snapshot, at segment.Seconds) float64 {
	return math.Abs(float64(s.Timestamp - at))
}
