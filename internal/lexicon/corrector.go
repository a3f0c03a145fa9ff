package lexicon

import (
	"strings"

	"github.com/dictumlabs/dictum/internal/segment"
)

// Correction records a single identifier substitution applied to the word
// stream.
type Correction struct {
	// Original is the spoken phrase as produced by the speech backend.
	Original string

	// Corrected is the identifier spelling that replaced it.
	Corrected string

	// Confidence is the match score for this substitution (0.0–1.0).
	// Exact spoken-form matches score 1.0.
	Confidence float64
}

// Corrector restores identifier spellings in transcribed word streams.
//
// It scans the stream with n-gram windows, longest first, so that multi-word
// spoken forms ("parse header") win over any single-word match inside them.
// A matched span collapses into one word carrying the identifier's canonical
// spelling and the span's combined time range. Windows never cross a speaker
// change: half a phrase said by one reviewer cannot complete a phrase begun
// by another.
type Corrector struct {
	matcher *Matcher
}

// NewCorrector returns a Corrector using the given matcher, or a
// default-configured one when m is nil.
func NewCorrector(m *Matcher) *Corrector {
	if m == nil {
		m = NewMatcher()
	}
	return &Corrector{matcher: m}
}

// CorrectWords applies lex to words and returns the corrected stream along
// with the substitutions that were made.
//
// Unmatched words pass through untouched. A span replaced by an identifier
// keeps the start offset of its first word, the end offset of its last word,
// and the speaker tag shared by the whole span. Substitutions that leave the
// text byte-identical are not reported.
func (c *Corrector) CorrectWords(words []segment.WordInfo, lex *Lexicon) ([]segment.WordInfo, []Correction) {
	if len(words) == 0 || lex.Len() == 0 {
		return words, nil
	}

	out := make([]segment.WordInfo, 0, len(words))
	var corrections []Correction

	i := 0
	for i < len(words) {
		maxN := lex.MaxWords()
		if i+maxN > len(words) {
			maxN = len(words) - i
		}
		// Shrink the window to the current speaker's run.
		for n := 1; n < maxN; n++ {
			if words[i+n].SpeakerTag != words[i].SpeakerTag {
				maxN = n
				break
			}
		}

		consumed := 0
		for n := maxN; n >= 1; n-- {
			phrase := joinWords(words[i : i+n])
			display, conf, ok := c.matcher.Match(phrase, lex)
			if !ok {
				continue
			}

			out = append(out, segment.WordInfo{
				Word:       display,
				SpeakerTag: words[i].SpeakerTag,
				Start:      words[i].Start,
				End:        words[i+n-1].End,
			})
			if phrase != display {
				corrections = append(corrections, Correction{
					Original:   phrase,
					Corrected:  display,
					Confidence: conf,
				})
			}
			consumed = n
			break
		}

		if consumed == 0 {
			out = append(out, words[i])
			consumed = 1
		}
		i += consumed
	}

	return out, corrections
}

func joinWords(span []segment.WordInfo) string {
	parts := make([]string, len(span))
	for i, w := range span {
		parts[i] = w.Word
	}
	return strings.Join(parts, " ")
}
