package segment

// Group collapses a temporally ordered word stream into speaker segments.
// A new segment opens on every speaker-tag change, including when a speaker
// reappears after an interruption. Words are joined with single spaces; the
// segment inherits Start from its first word and End from its last.
//
// Group is pure: it allocates its result and never retains or mutates words.
// An empty or nil input yields a nil slice.
func Group(words []WordInfo) []SpeakerSegment {
	var segs []SpeakerSegment
	for _, w := range words {
		if n := len(segs); n > 0 && segs[n-1].SpeakerTag == w.SpeakerTag {
			segs[n-1].Text += " " + w.Word
			segs[n-1].End = w.End
			continue
		}
		segs = append(segs, SpeakerSegment{
			SpeakerTag: w.SpeakerTag,
			Text:       w.Word,
			Start:      w.Start,
			End:        w.End,
		})
	}
	return segs
}
