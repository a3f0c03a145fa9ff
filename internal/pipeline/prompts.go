package pipeline

import (
	"fmt"
	"strings"

	"github.com/dictumlabs/dictum/internal/segment"
)

// The stage prompts share one shape: a system prompt fixing the reply
// contract, and a user payload listing numbered segments with a role marker
// per line. Only segments marked with the stage's action role may produce
// reply elements; everything else is read-only context.

const classifySystemPrompt = `You are a code review assistant. A reviewer spoke while reading a pull request; the recording was transcribed and grouped into numbered speaker segments.

Classify every segment marked (classify) into exactly one of:
- "Ignore": filler, small talk, thinking aloud, screen navigation chatter; nothing that belongs in a written review.
- "Question": the reviewer asks the author something and expects an answer.
- "Concern": the reviewer suspects a bug, a risk, or a problem.
- "Suggestion": the reviewer proposes a concrete change or improvement.
- "Style": a naming, formatting, or idiom remark without behavioral impact.

Segments marked (context) are there for discourse understanding only. Do not classify them.

Respond with ONLY a JSON array of classification strings, one per (classify) segment, in order. Example: ["Suggestion", "Ignore", "Question"]`

const splitSystemPrompt = `You are a code review assistant deduplicating and splitting transcribed reviewer remarks.

For every segment marked (decide), output exactly one decision:
- "keep" when the segment is one self-contained remark and no earlier segment already makes the same point.
- "duplicate" when an earlier segment, in reading order, already covers the same point. The segment will be dropped; the first occurrence survives.
- a JSON array of strings when the segment bundles several distinct remarks. Each element must be one self-contained remark in the original wording, in order, together covering the whole segment.

Segments marked (context) are earlier finalized remarks or upcoming ones; never emit decisions for them.

Respond with ONLY a JSON array holding one decision per (decide) segment, in order. Example: ["keep", "duplicate", ["rename the helper", "add a nil check"]]`

const transformSystemPrompt = `You are a code review assistant turning transcribed spoken remarks into written pull-request comments.

Rewrite every segment marked (rewrite) into concise written English: drop filler words, false starts, and repetitions; keep the reviewer's meaning and tone; keep identifiers, paths, and code fragments verbatim. Produce exactly one rewritten comment per (rewrite) segment. Do not merge or split segments here.

Segments marked (context) exist for understanding only; some are chatter that was deliberately not turned into comments.

Respond with ONLY a JSON array of rewritten strings, one per (rewrite) segment, in order.`

const unifiedSystemPrompt = `You are a code review assistant processing transcribed reviewer remarks in a single pass.

For every numbered segment, produce an object with:
- "classification": exactly one of "Ignore" (filler, chatter, nothing reviewable), "Question" (asks the author something), "Concern" (suspected bug or risk), "Suggestion" (concrete improvement), "Style" (naming/formatting/idiom remark).
- "transformedParts": the polished written form(s) of the remark. Use an empty array for Ignore segments and for remarks an earlier segment already covers. Use one element for a single remark. Use several elements when the segment bundles distinct remarks. Rewrite in concise written English, dropping filler, keeping meaning and identifiers verbatim.

Respond with ONLY a JSON array containing one {"classification": "...", "transformedParts": ["..."]} object per segment, in order.`

// row renders one numbered transcript line for a prompt payload.
func row(sb *strings.Builder, idx int, role string, s segment.SpeakerSegment) {
	fmt.Fprintf(sb, "[%d] (%s) speaker %d @ %.2f-%.2fs: %s\n",
		idx, role, s.SpeakerTag, float64(s.Start), float64(s.End), s.Text)
}

// classifyPayload lists before-context, the batch, and after-context as one
// numbered window.
func classifyPayload(batch, before, after []segment.SpeakerSegment) string {
	var sb strings.Builder
	sb.WriteString("Transcript window:\n")
	idx := 0
	for _, s := range before {
		row(&sb, idx, "context", s)
		idx++
	}
	for _, s := range batch {
		row(&sb, idx, "classify", s)
		idx++
	}
	for _, s := range after {
		row(&sb, idx, "context", s)
		idx++
	}
	fmt.Fprintf(&sb, "\nClassify the %d segments marked (classify), in order.\n", len(batch))
	return sb.String()
}

// splitPayload lists finalized earlier output, the undecided batch, and
// upcoming segments. Classifications ride along so the oracle can tell
// remarks apart from chatter when judging duplicates.
func splitPayload(batch, before, after []segment.Classified) string {
	var sb strings.Builder
	sb.WriteString("Transcript window:\n")
	idx := 0
	for _, s := range before {
		row(&sb, idx, "context, finalized", s.SpeakerSegment)
		idx++
	}
	for _, s := range batch {
		row(&sb, idx, fmt.Sprintf("decide, %s", s.Classification), s.SpeakerSegment)
		idx++
	}
	for _, s := range after {
		row(&sb, idx, "context, upcoming", s.SpeakerSegment)
		idx++
	}
	fmt.Fprintf(&sb, "\nEmit %d decisions, one per (decide) segment, in order.\n", len(batch))
	return sb.String()
}

// transformPayload renders the original window around a batch of kept
// segments. Filtered-out chatter stays visible as context under its original
// index; targets carry their classification.
func transformPayload(all []segment.Classified, batch []indexed, radius int) string {
	targets := make(map[int]segment.Classification, len(batch))
	for _, it := range batch {
		targets[it.orig] = it.seg.Classification
	}

	lo := max(0, batch[0].orig-radius)
	hi := min(len(all), batch[len(batch)-1].orig+radius+1)

	var sb strings.Builder
	sb.WriteString("Transcript window:\n")
	for i := lo; i < hi; i++ {
		if label, ok := targets[i]; ok {
			row(&sb, i, fmt.Sprintf("rewrite, %s", label), all[i].SpeakerSegment)
			continue
		}
		row(&sb, i, "context", all[i].SpeakerSegment)
	}
	fmt.Fprintf(&sb, "\nRewrite the %d segments marked (rewrite), in order.\n", len(batch))
	return sb.String()
}

// unifiedPayload renders a bare batch; the single-pass variant sends no
// surrounding context.
func unifiedPayload(batch []segment.SpeakerSegment) string {
	var sb strings.Builder
	sb.WriteString("Transcript segments:\n")
	for i, s := range batch {
		row(&sb, i, "segment", s)
	}
	fmt.Fprintf(&sb, "\nEmit %d result objects, one per segment, in order.\n", len(batch))
	return sb.String()
}
