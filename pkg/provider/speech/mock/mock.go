// Package mock provides test doubles for the speech provider interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// Provider is a mock implementation of speech.Provider and speech.Diarizer.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject failures.
type Provider struct {
	mu sync.Mutex

	// TranscribeResult is returned by Transcribe. May be nil (returns nil, nil).
	TranscribeResult *speech.Result

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeDelay makes Transcribe wait before answering, honoring ctx.
	// Useful for timeout tests.
	TranscribeDelay func(ctx context.Context) error

	// DiarizeTurns is returned by Diarize.
	DiarizeTurns []speech.Turn

	// DiarizeErr, if non-nil, is returned as the error from Diarize.
	DiarizeErr error

	// DiarizeDelay makes Diarize wait before answering, honoring ctx.
	DiarizeDelay func(ctx context.Context) error

	// TranscribeCalls records the Audio passed to each Transcribe call.
	TranscribeCalls []speech.Audio

	// DiarizeCalls records the Audio passed to each Diarize call.
	DiarizeCalls []speech.Audio
}

// Transcribe records the call and returns TranscribeResult, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, audio speech.Audio) (*speech.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, audio)
	delay := p.TranscribeDelay
	result, err := p.TranscribeResult, p.TranscribeErr
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	return result, err
}

// Diarize records the call and returns DiarizeTurns, DiarizeErr.
func (p *Provider) Diarize(ctx context.Context, audio speech.Audio) ([]speech.Turn, error) {
	p.mu.Lock()
	p.DiarizeCalls = append(p.DiarizeCalls, audio)
	delay := p.DiarizeDelay
	turns, err := p.DiarizeTurns, p.DiarizeErr
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	return turns, err
}

// Ensure Provider implements both interfaces at compile time.
var (
	_ speech.Provider = (*Provider)(nil)
	_ speech.Diarizer = (*Provider)(nil)
)
