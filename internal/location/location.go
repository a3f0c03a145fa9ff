// Package location maps finalized review comments to source positions.
//
// While a review is recorded, the editor integration appends snapshots of
// where the reviewer is looking. After the pipeline produces comments, the
// builder gathers the temporally nearest snapshots per comment and renders
// what was on screen; the selector then asks the oracle to pick the best
// candidate, with a deterministic nearest-in-time fallback so every comment
// always lands somewhere.
package location

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dictumlabs/dictum/internal/segment"
)

// Snapshot is one captured editor state. Timestamp counts seconds from the
// start of the recording, aligned with segment times. CursorLine and the
// VisibleRange bounds are 1-based; zero means the field was not recorded.
type Snapshot struct {
	Timestamp     segment.Seconds `json:"timestamp"`
	File          string          `json:"file"`
	CursorLine    int             `json:"cursorLine"`
	VisibleRange  [2]int          `json:"visibleRange"`
	SymbolsInView []string        `json:"symbolsInView,omitempty"`
	CodeContext   string          `json:"codeContext,omitempty"`
}

// Candidate is a snapshot considered as a placement site for a comment.
// Same shape, different role: the builder fills CodeContext on candidates.
type Candidate = Snapshot

// Selection is the chosen candidate for one comment.
type Selection struct {
	SelectedIndex int    `json:"selectedIndex"`
	Rationale     string `json:"rationale,omitempty"`
}

// Placement is the concrete publish target a selection resolves to.
// Line 0 means file-level.
type Placement struct {
	File string
	Line int
}

// Resolve turns the selection into the placement its candidate points at.
// An index outside the set resolves to the zero placement.
func (sel Selection) Resolve(candidates []Candidate) Placement {
	if sel.SelectedIndex < 0 || sel.SelectedIndex >= len(candidates) {
		return Placement{}
	}
	c := candidates[sel.SelectedIndex]
	line := c.CursorLine
	if line < 0 {
		line = 0
	}
	return Placement{File: c.File, Line: line}
}

// Comment is what location matching needs to know about one finalized
// comment: its polished text and when it was spoken.
type Comment struct {
	Text      string
	Timestamp segment.Seconds
}

// DocumentSource provides read access to reviewed files for context
// rendering.
type DocumentSource interface {
	// Lines returns the file's content split into lines, index 0 being
	// line 1.
	Lines(ctx context.Context, file string) ([]string, error)
}

// SymbolRange is a resolved symbol's position in a file, 1-based and
// inclusive.
type SymbolRange struct {
	StartLine int
	EndLine   int
}

// SymbolResolver locates a named symbol inside a file. The second result
// reports whether the symbol was found; errors are reserved for transport
// failures.
type SymbolResolver interface {
	Resolve(ctx context.Context, file, symbol string) (SymbolRange, bool, error)
}

// FileSource reads documents from a workspace directory. Paths in snapshots
// are relative to Root; anything escaping it is refused.
type FileSource struct {
	Root string
}

func (s *FileSource) Lines(ctx context.Context, file string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.Clean(filepath.FromSlash(file))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(filepath.Join(s.Root, rel))
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, nil
}

var _ DocumentSource = (*FileSource)(nil)
