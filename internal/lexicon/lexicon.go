// Package lexicon corrects misheard source identifiers in transcribed
// speech. A reviewer says "parse header" while looking at ParseHeader and
// the speech engine writes down whatever it heard; the matcher aligns such
// spans with the symbols that were actually on screen using Double Metaphone
// phonetic codes filtered through Jaro-Winkler similarity.
//
// Identifiers are indexed by their spoken form: camelCase, ALLCAPS runs,
// underscores, and separators split into lowercase tokens, so "maxRetryCount"
// is matched against "max retry count". Corrections always restore the
// original identifier spelling.
package lexicon

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// term is one identifier prepared for matching.
type term struct {
	display string              // identifier as written, e.g. "ParseHeader"
	spoken  string              // space-joined lowercase tokens, e.g. "parse header"
	tokens  []string
	codes   map[string]struct{} // Double Metaphone codes of all tokens
}

// Lexicon is a prepared set of identifiers with precomputed phonetic codes.
// Read-only after Build; safe for concurrent use.
type Lexicon struct {
	terms    []term
	maxWords int
}

// Build prepares the given identifiers for matching. Duplicates and blanks
// are dropped.
func Build(identifiers []string) *Lexicon {
	lex := &Lexicon{}
	seen := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		tokens := splitIdentifier(id)
		if len(tokens) == 0 {
			continue
		}
		lex.terms = append(lex.terms, term{
			display: id,
			spoken:  strings.Join(tokens, " "),
			tokens:  tokens,
			codes:   codesFor(tokens),
		})
		if len(tokens) > lex.maxWords {
			lex.maxWords = len(tokens)
		}
	}
	return lex
}

// Len returns the number of prepared identifiers.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.terms)
}

// MaxWords returns the token count of the longest identifier. Bounds the
// n-gram window during correction.
func (l *Lexicon) MaxWords() int {
	if l == nil {
		return 0
	}
	return l.maxWords
}

// splitIdentifier breaks an identifier into its spoken tokens: lowercase
// words split on case boundaries, digits, and separator characters. ALLCAPS
// runs stay together ("HTTPServer" -> "http", "server").
func splitIdentifier(s string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || r == '/' || r == ' ' || r == ':':
			flush()
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextIsLower) {
					flush()
				}
			}
			cur = append(cur, r)
		case unicode.IsDigit(r):
			if i > 0 && !unicode.IsDigit(runes[i-1]) {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}

// codesFor returns the union of Double Metaphone codes for the tokens.
// Empty codes (too short, no consonants) are excluded.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
