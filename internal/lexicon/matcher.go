package lexicon

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// Identifiers whose spoken form is shorter than this require an exact
	// match; phonetic codes of one- and two-letter names collide with half
	// the dictionary.
	shortTermExact = 3
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched identifier to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists and matching falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher aligns spoken phrases with prepared identifiers. Phonetic
// candidates (Double Metaphone code overlap) are ranked by Jaro-Winkler
// score against the identifier's spoken form; without any phonetic candidate
// a stricter pure-similarity pass applies. Read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a matcher with the supplied options applied.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the identifier most phonetically similar to phrase. phrase may
// span several transcribed words. When matched is false, corrected equals
// phrase unchanged and confidence is 0.
func (m *Matcher) Match(phrase string, lex *Lexicon) (corrected string, confidence float64, matched bool) {
	if lex.Len() == 0 {
		return phrase, 0, false
	}
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	inputCodes := codesFor(tokens)

	type candidate struct {
		term     *term
		score    float64
		phonetic bool
	}
	var best candidate

	for i := range lex.terms {
		t := &lex.terms[i]

		if utf8.RuneCountInString(t.spoken) < shortTermExact {
			if lower == t.spoken || strings.EqualFold(phrase, t.display) {
				return t.display, 1, true
			}
			continue
		}

		// A multi-word span must open with the identifier's first word.
		// Filler ahead of a phrase ("the parse ...") stays out of the window
		// and gets retried one position later.
		if len(tokens) > 1 && matchr.JaroWinkler(tokens[0], t.tokens[0], false) < m.phoneticThreshold {
			continue
		}

		score := bestSimilarity(tokens, t.tokens, lower, t.spoken)
		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: t, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{term: t, score: score, phonetic: false}
		}
	}

	if best.term != nil {
		return best.term.display, best.score, true
	}
	return phrase, 0, false
}

// bestSimilarity computes the highest Jaro-Winkler score between the spoken
// phrase and an identifier's spoken form:
//
//  1. Full-string comparison ("parse header" vs "parse header").
//  2. Space-stripped comparison ("parseheader" vs "parse header" heard as
//     one word).
//  3. Aligned token comparison, only when both sides have the same token
//     count: the score is the worst position-wise pair, so every spoken word
//     must resemble its counterpart. A best-pair rule would let a lone
//     "header" claim ParseHeader on the strength of its second token alone.
func bestSimilarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concatIn := strings.Join(inputTokens, "")
		concatTerm := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concatIn, concatTerm, false); s > score {
			score = s
		}
	}

	if len(inputTokens) == len(termTokens) {
		aligned := 1.0
		for i := range inputTokens {
			if s := matchr.JaroWinkler(inputTokens[i], termTokens[i], false); s < aligned {
				aligned = s
			}
		}
		if aligned > score {
			score = aligned
		}
	}

	return score
}
