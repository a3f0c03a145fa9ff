// Package speech defines provider interfaces for batch speech recognition.
//
// A review recording is processed after the fact, so the interfaces here are
// buffer-in, result-out rather than streaming: the whole audio buffer goes to
// the backend and comes back as words with timestamps. Speaker attribution is
// a separate concern behind [Diarizer], because not every recognition backend
// can do it and the pipeline tolerates losing it.
//
// Implementations must be safe for concurrent use; transcription and
// diarization for the same recording run in parallel.
package speech

import (
	"context"
	"time"
)

// Audio is a complete recorded buffer handed to a backend. The bytes are
// opaque to the pipeline; codec work happens before ingest.
type Audio struct {
	// Data is the audio payload, typically a WAV container or raw PCM.
	Data []byte

	// MIMEType describes Data, e.g. "audio/wav". Backends that accept only
	// one format document it and may ignore this field.
	MIMEType string

	// SampleRate in Hz for raw PCM payloads. Ignored for containers that
	// carry their own header.
	SampleRate int

	// Channels for raw PCM payloads. 1 = mono.
	Channels int

	// Language is the BCP-47 recognition language (e.g. "en-US"). Empty
	// lets the backend auto-detect where supported.
	Language string

	// Keywords bias recognition toward expected vocabulary. The pipeline
	// passes identifier names visible in the editor during the recording.
	Keywords []string
}

// Word is one recognized word with timing relative to the recording start.
type Word struct {
	// Text is the recognized word without surrounding whitespace.
	Text string

	// SpeakerTag attributes the word to a speaker. Zero means unattributed;
	// real tags start at 1.
	SpeakerTag int

	// Start and End bound the word within the recording.
	Start time.Duration
	End   time.Duration

	// Confidence is the backend's score in [0, 1], zero when unreported.
	Confidence float64
}

// Result is a full transcription of one Audio buffer.
type Result struct {
	// Words is the temporally ordered word list.
	Words []Word

	// Transcript is the backend's joined text, formatting preserved. May be
	// empty when the backend reports only words.
	Transcript string
}

// Turn is a span of the recording attributed to one speaker.
type Turn struct {
	SpeakerTag int
	Start      time.Duration
	End        time.Duration
}

// Provider is a batch transcription backend.
type Provider interface {
	// Transcribe converts the audio buffer into timed words. Implementations
	// must honor ctx cancellation; recordings can be long and uploads slow.
	Transcribe(ctx context.Context, audio Audio) (*Result, error)
}

// Diarizer segments an audio buffer by speaker. Backends that diarize during
// transcription implement both interfaces; the pipeline still calls them
// separately so a diarization failure cannot take transcription down with it.
type Diarizer interface {
	Diarize(ctx context.Context, audio Audio) ([]Turn, error)
}
