// Package segment defines the shared data model of the review pipeline.
//
// These types form the lingua franca between the speech layer, the oracle
// stages, and the location engine. Values flow through the pipeline by copy;
// no stage mutates its input, so earlier results stay valid as context for
// later batches.
package segment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Seconds is an offset from the start of the recording, in seconds.
//
// On the wire it accepts either a JSON number (1.25) or a duration string
// ("1.250s"), since speech engines disagree on the encoding. It always
// marshals back to a number.
type Seconds float64

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("segment: parse offset %q: %w", str, err)
		}
		*s = Seconds(d.Seconds())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Seconds(f)
	return nil
}

// Duration converts the offset to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// SecondsOf converts a time.Duration to a Seconds offset.
func SecondsOf(d time.Duration) Seconds {
	return Seconds(d.Seconds())
}

// WordInfo is a single recognized word with speaker attribution and timing.
// It is the atomic unit produced by the speech layer and is never modified
// downstream.
type WordInfo struct {
	Word       string  `json:"word"`
	SpeakerTag int     `json:"speakerTag"`
	Start      Seconds `json:"startOffset"`
	End        Seconds `json:"endOffset"`
}

// SpeakerSegment is a contiguous run of words by one speaker.
//
// Start and End are inherited from the first and last word of the run, so
// Start <= End always holds for grouper output.
type SpeakerSegment struct {
	SpeakerTag int     `json:"speakerTag"`
	Text       string  `json:"text"`
	Start      Seconds `json:"startTime"`
	End        Seconds `json:"endTime"`
}

// Classification buckets a reviewer remark by intent.
type Classification string

// The closed set of classification labels. Ignore marks filler and chatter
// that produces no comment; the other four become comment flavors.
const (
	ClassIgnore     Classification = "Ignore"
	ClassQuestion   Classification = "Question"
	ClassConcern    Classification = "Concern"
	ClassSuggestion Classification = "Suggestion"
	ClassStyle      Classification = "Style"
)

// Classifications lists every valid label in canonical order.
func Classifications() []Classification {
	return []Classification{ClassIgnore, ClassQuestion, ClassConcern, ClassSuggestion, ClassStyle}
}

// IsValid reports whether c is one of the five labels.
func (c Classification) IsValid() bool {
	switch c {
	case ClassIgnore, ClassQuestion, ClassConcern, ClassSuggestion, ClassStyle:
		return true
	}
	return false
}

// ParseClassification matches s against the label set, ignoring case and
// surrounding whitespace. It does not coerce: anything outside the five
// labels reports ok == false and the caller decides how hard to fail.
func ParseClassification(s string) (Classification, bool) {
	trimmed := strings.TrimSpace(s)
	for _, c := range Classifications() {
		if strings.EqualFold(trimmed, string(c)) {
			return c, true
		}
	}
	return "", false
}

// Classified is a speaker segment with its assigned classification.
// The embedding keeps the timing and speaker fields addressable without
// repeating them, and makes the "segment plus label" relationship a type
// instead of a convention.
type Classified struct {
	SpeakerSegment
	Classification Classification `json:"classification"`
}

// Transformed is a classified segment whose text has been rewritten into a
// polished review comment. Text retains the raw transcript; TransformedText
// is what gets published.
type Transformed struct {
	Classified
	TransformedText string `json:"transformedText"`
}
