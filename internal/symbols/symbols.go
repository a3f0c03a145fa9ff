// Package symbols resolves identifier definition ranges inside reviewed
// files. The location builder renders resolved ranges as the richest tier of
// candidate context, so a resolver only has to be roughly right: the range it
// reports is padded and shown to the oracle, never to the reviewer.
//
// Two resolvers are provided. [Scanner] walks the document text and needs
// nothing beyond the files themselves, which makes it the always-available
// fallback. [MCPResolver] asks a language-tools server over the Model Context
// Protocol for authoritative ranges. [Chain] tries resolvers in order and
// takes the first hit.
package symbols

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dictumlabs/dictum/internal/location"
)

// maxBlockLines caps how far a definition block may extend past its opening
// line before the scan gives up on finding the closing brace.
const maxBlockLines = 200

// definitionKeywords are the introducers that make an occurrence count as a
// definition rather than a use.
var definitionKeywords = map[string]bool{
	"func": true, "function": true, "def": true, "fn": true,
	"class": true, "type": true, "struct": true, "interface": true,
	"trait": true, "enum": true, "var": true, "let": true, "const": true,
}

// Compile-time interface assertion.
var _ location.SymbolResolver = (*Scanner)(nil)

// Scanner resolves symbols by scanning document text. Definition-looking
// occurrences win over plain mentions, and a brace-delimited body extends the
// range over the whole block.
type Scanner struct {
	docs location.DocumentSource
}

// NewScanner builds a scanner over the given document source.
func NewScanner(docs location.DocumentSource) *Scanner {
	return &Scanner{docs: docs}
}

// Resolve scans file for symbol as a whole word. The first occurrence
// introduced by a definition keyword is preferred; otherwise the first
// occurrence of any kind is used.
func (s *Scanner) Resolve(ctx context.Context, file, symbol string) (location.SymbolRange, bool, error) {
	if symbol == "" {
		return location.SymbolRange{}, false, nil
	}
	lines, err := s.docs.Lines(ctx, file)
	if err != nil {
		return location.SymbolRange{}, false, fmt.Errorf("symbols: read %s: %w", file, err)
	}

	first, def := -1, -1
	for i, line := range lines {
		col := wordIndex(line, symbol)
		if col < 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		if looksLikeDefinition(line, col, symbol) {
			def = i
			break
		}
	}

	pick := def
	if pick < 0 {
		pick = first
	}
	if pick < 0 {
		return location.SymbolRange{}, false, nil
	}
	return location.SymbolRange{
		StartLine: pick + 1,
		EndLine:   blockEnd(lines, pick) + 1,
	}, true, nil
}

// wordIndex returns the byte offset of the first whole-word occurrence of
// symbol in line, or -1.
func wordIndex(line, symbol string) int {
	for from := 0; ; {
		i := strings.Index(line[from:], symbol)
		if i < 0 {
			return -1
		}
		i += from
		if wordBoundary(line, i, len(symbol)) {
			return i
		}
		from = i + 1
	}
}

func wordBoundary(line string, start, length int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(line[:start])
		if isWordRune(r) {
			return false
		}
	}
	if start+length < len(line) {
		r, _ := utf8.DecodeRuneInString(line[start+length:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// looksLikeDefinition reports whether the occurrence at col is introduced by
// a definition keyword. Methods put a receiver between the keyword and the
// name, so a leading keyword also counts when the symbol opens a parameter
// list.
func looksLikeDefinition(line string, col int, symbol string) bool {
	fields := strings.Fields(line[:col])
	if len(fields) == 0 {
		return false
	}
	if definitionKeywords[strings.ToLower(fields[len(fields)-1])] {
		return true
	}
	return definitionKeywords[strings.ToLower(fields[0])] && nextNonSpace(line, col+len(symbol)) == '('
}

func nextNonSpace(line string, from int) rune {
	for _, r := range line[from:] {
		if r == ' ' || r == '\t' {
			continue
		}
		return r
	}
	return 0
}

// blockEnd extends a definition line over its brace-delimited body. The body
// may open on the definition line or on the line right after it; without a
// brace the symbol stays single-line. Scanning stops when the block closes,
// at the cap, or at end of file.
func blockEnd(lines []string, start int) int {
	depth := 0
	opened := false
	end := start
	limit := start + maxBlockLines
	if limit >= len(lines) {
		limit = len(lines) - 1
	}
	for i := start; i <= limit; i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened {
			end = i
			if depth <= 0 {
				return end
			}
		} else if i > start {
			return start
		}
	}
	return end
}

// Chain tries each resolver in order and returns the first hit. A resolver
// error is logged and the next resolver is consulted, so a flaky language
// server degrades to the scanner instead of losing the symbol tier.
type Chain []location.SymbolResolver

var _ location.SymbolResolver = (Chain)(nil)

func (c Chain) Resolve(ctx context.Context, file, symbol string) (location.SymbolRange, bool, error) {
	for _, r := range c {
		if err := ctx.Err(); err != nil {
			return location.SymbolRange{}, false, err
		}
		rng, ok, err := r.Resolve(ctx, file, symbol)
		if err != nil {
			slog.Debug("symbol resolver failed, trying next",
				"file", file, "symbol", symbol, "error", err)
			continue
		}
		if ok {
			return rng, true, nil
		}
	}
	return location.SymbolRange{}, false, nil
}
