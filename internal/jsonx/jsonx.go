// Package jsonx extracts JSON payloads from language-model replies.
//
// Models wrap JSON in markdown fences, preamble prose, or an extra layer of
// array nesting. Rather than demand clean output, callers hand the raw reply
// to Extract and get back the first decodable payload. Extraction is lenient;
// validation of the decoded values stays with the caller.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseError reports that no attempt produced a decodable payload, or that
// the decoded payload had the wrong shape. Snippet holds the start of the
// offending reply for logs.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("jsonx: %v (reply: %q)", e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Extract decodes the first JSON payload found in text into T.
//
// Attempts run in a fixed order: the contents of a markdown code fence, the
// span from the first '[' to the last ']', the span from the first '{' to
// the last '}', the whole trimmed text, and finally a balanced-bracket scan
// that honors string literals and escapes. The first candidate that
// unmarshals into T wins.
func Extract[T any](text string) (T, error) {
	var zero T
	for _, cand := range candidates(text) {
		var v T
		if err := json.Unmarshal([]byte(cand), &v); err == nil {
			return v, nil
		}
	}
	return zero, &ParseError{Snippet: snippet(text), Err: errors.New("no JSON payload found")}
}

// ExtractArrayLen decodes a JSON array of exactly n elements from text.
//
// When the decoded array has a single element that is itself an array of n
// elements, the outer layer is discarded. Models produce this double wrapping
// often enough that every batch-shaped reply goes through here.
func ExtractArrayLen[T any](text string, n int) ([]T, error) {
	items, err := Extract[[]json.RawMessage](text)
	if err != nil {
		return nil, err
	}
	if len(items) != n && len(items) == 1 {
		var inner []json.RawMessage
		if err := json.Unmarshal(items[0], &inner); err == nil && len(inner) == n {
			items = inner
		}
	}
	if len(items) != n {
		return nil, &ParseError{Snippet: snippet(text), Err: fmt.Errorf("array length %d, want %d", len(items), n)}
	}
	out := make([]T, n)
	for i, raw := range items {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, &ParseError{Snippet: snippet(text), Err: fmt.Errorf("element %d: %w", i, err)}
		}
	}
	return out, nil
}

func candidates(text string) []string {
	t := strings.TrimSpace(text)
	var cands []string
	if fenced, ok := stripFence(t); ok {
		cands = append(cands, fenced)
	}
	if span, ok := outerSpan(t, '[', ']'); ok {
		cands = append(cands, span)
	}
	if span, ok := outerSpan(t, '{', '}'); ok {
		cands = append(cands, span)
	}
	cands = append(cands, t)
	if arr, ok := balancedArray(t); ok {
		cands = append(cands, arr)
	}
	return cands
}

// stripFence returns the body of the first markdown code fence, dropping an
// optional language tag on the opening line.
func stripFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// outerSpan returns the widest span from the first open byte to the last
// close byte. Greedy on purpose: nested payloads stay intact.
func outerSpan(s string, open, close byte) (string, bool) {
	i := strings.IndexByte(s, open)
	if i < 0 {
		return "", false
	}
	j := strings.LastIndexByte(s, close)
	if j <= i {
		return "", false
	}
	return s[i : j+1], true
}

// balancedArray scans from the first '[' tracking bracket depth, skipping
// over string literals and backslash escapes, and returns the first closed
// top-level array. This recovers arrays followed by trailing prose where the
// greedy span picks up too much.
func balancedArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	var depth int
	var inString, escaped bool
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	const max = 160
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
