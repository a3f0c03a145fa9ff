package resilience

import (
	"context"

	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// SpeechFallback implements [speech.Provider] with automatic failover across
// multiple recognition backends, typically a hosted service first and a local
// model as the backstop. Each backend has its own circuit breaker.
type SpeechFallback struct {
	group *FallbackGroup[speech.Provider]
}

// Compile-time interface assertion.
var _ speech.Provider = (*SpeechFallback)(nil)

// NewSpeechFallback creates a [SpeechFallback] with primary as the preferred
// backend.
func NewSpeechFallback(primary speech.Provider, primaryName string, cfg FallbackConfig) *SpeechFallback {
	return &SpeechFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognition backend as a fallback.
func (f *SpeechFallback) AddFallback(name string, provider speech.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the buffer against the first healthy backend. If the
// primary fails, subsequent fallbacks are tried with the same buffer.
func (f *SpeechFallback) Transcribe(ctx context.Context, audio speech.Audio) (*speech.Result, error) {
	return ExecuteWithResult(f.group, func(p speech.Provider) (*speech.Result, error) {
		return p.Transcribe(ctx, audio)
	})
}
