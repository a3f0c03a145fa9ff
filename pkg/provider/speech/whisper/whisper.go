// Package whisper provides a local whisper.cpp-backed transcription provider.
//
// The model is loaded once through the whisper.cpp CGO bindings and shared by
// every call; each Transcribe creates its own inference context, so calls may
// run concurrently. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// Word timing comes from running the engine with token timestamps and a
// single-word segment limit, which is how whisper.cpp exposes per-word
// offsets. The engine does not attribute speakers, so every word carries
// SpeakerTag zero and the provider implements only [speech.Provider]; run a
// separate [speech.Diarizer] when attribution matters. Together with an
// Ollama embeddings backend this keeps a review session fully local.
//
// Usage:
//
//	p, err := whisper.New("models/ggml-base.en.bin", whisper.WithThreads(4))
//	defer p.Close()
//	res, err := p.Transcribe(ctx, speech.Audio{Data: wav, MIMEType: "audio/wav"})
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

const defaultLanguage = "en"

// Compile-time interface assertion.
var _ speech.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default recognition language as a BCP-47 tag or bare
// ISO 639-1 code (e.g. "en", "de-DE"). The special value "auto" enables
// language detection. Audio.Language overrides this per call. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithThreads sets the number of CPU threads used per inference. Zero or
// negative leaves the engine default in place.
func WithThreads(n int) Option {
	return func(p *Provider) { p.threads = n }
}

// Provider implements speech.Provider using the whisper.cpp Go bindings. The
// loaded model is shared; inference contexts are created per call because the
// engine contexts are not safe for concurrent use.
type Provider struct {
	model    whisperlib.Model
	language string
	threads  int
}

// New loads the whisper.cpp model from the given file path. The caller must
// call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the loaded model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs batch inference over the whole audio buffer and returns the
// recognized words with their timing. WAV containers are unwrapped; anything
// else is treated as raw 16-bit PCM described by the Audio fields. The engine
// accepts 16 kHz audio only.
func (p *Provider) Transcribe(ctx context.Context, audio speech.Audio) (*speech.Result, error) {
	samples, err := samplesFor(audio)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return &speech.Result{}, nil
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	return p.run(ctx, wctx, samples, audio)
}

// inferContext is the slice of the bindings' context that one inference
// drives. Narrowed so tests can substitute the engine; whisperlib.Context
// satisfies it.
type inferContext interface {
	SetLanguage(string) error
	SetTokenTimestamps(bool)
	SetSplitOnWord(bool)
	SetMaxSegmentLength(uint)
	SetThreads(uint)
	SetInitialPrompt(string)
	Process([]float32, whisperlib.EncoderBeginCallback, whisperlib.SegmentCallback, whisperlib.ProgressCallback) error
	NextSegment() (whisperlib.Segment, error)
}

// run configures a fresh context, processes the samples, and collects the
// resulting single-word segments.
func (p *Provider) run(ctx context.Context, wctx inferContext, samples []float32, audio speech.Audio) (*speech.Result, error) {
	lang := audio.Language
	if lang == "" {
		lang = p.language
	}
	if code := languageCode(lang); code != "" {
		if err := wctx.SetLanguage(code); err != nil {
			slog.Warn("whisper: language not accepted, engine default applies", "language", code, "error", err)
		}
	}

	// The single-word segment limit only takes effect with token timestamps on.
	wctx.SetTokenTimestamps(true)
	wctx.SetSplitOnWord(true)
	wctx.SetMaxSegmentLength(1)
	if p.threads > 0 {
		wctx.SetThreads(uint(p.threads))
	}

	// The engine has no keyword boosting. Feeding the expected vocabulary as
	// the initial prompt biases decoding toward those spellings instead.
	if len(audio.Keywords) > 0 {
		wctx.SetInitialPrompt(strings.Join(audio.Keywords, ", "))
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("whisper: transcription cancelled: %w", cerr)
		}
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: transcription cancelled: %w", err)
	}

	var (
		words []speech.Word
		parts []string
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" || isMarker(text) {
			continue
		}
		words = append(words, speech.Word{
			Text:       text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: tokenConfidence(seg.Tokens),
		})
		parts = append(parts, text)
	}

	return &speech.Result{Words: words, Transcript: strings.Join(parts, " ")}, nil
}

// languageCode reduces a BCP-47 tag to the bare ISO 639-1 code the engine
// understands. "en-US" becomes "en"; "auto" passes through for detection.
func languageCode(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

// tokenConfidence averages the token probabilities of one segment.
func tokenConfidence(tokens []whisperlib.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tokens {
		sum += float64(t.P)
	}
	return sum / float64(len(tokens))
}

// isMarker reports whether text is an engine marker such as "[_BEG_]".
func isMarker(text string) bool {
	return strings.HasPrefix(text, "[_") && strings.HasSuffix(text, "]")
}
