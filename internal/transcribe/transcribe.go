// Package transcribe turns recorded review audio into speaker-attributed
// words. Transcription and diarization run concurrently against the same
// buffer; diarization is a soft dependency with its own timeout, so a failed
// or slow speaker analysis degrades attribution instead of losing the
// recording.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

const defaultDiarizeTimeout = 5 * time.Minute

// Service transcribes audio and merges in speaker turns when a diarizer is
// configured.
type Service struct {
	transcriber    speech.Provider
	diarizer       speech.Diarizer
	diarizeTimeout time.Duration
}

// Option adjusts the service.
type Option func(*Service)

// WithDiarizer enables speaker attribution through the given diarizer.
func WithDiarizer(d speech.Diarizer) Option {
	return func(s *Service) { s.diarizer = d }
}

// WithDiarizeTimeout bounds how long diarization may run before the
// recording proceeds unattributed.
func WithDiarizeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.diarizeTimeout = d
		}
	}
}

// New builds a transcription service around the given speech backend.
func New(transcriber speech.Provider, opts ...Option) *Service {
	s := &Service{
		transcriber:    transcriber,
		diarizeTimeout: defaultDiarizeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe produces the word stream the segment grouper consumes.
//
// With a diarizer configured, both calls are issued concurrently. A
// transcription failure fails the whole operation; a diarization failure or
// timeout only logs a degraded warning and leaves words unattributed
// (speaker tag 0) unless the transcriber tagged them itself.
func (s *Service) Transcribe(ctx context.Context, audio speech.Audio) ([]segment.WordInfo, error) {
	if s.diarizer == nil {
		result, err := s.transcriber.Transcribe(ctx, audio)
		if err != nil {
			return nil, fmt.Errorf("transcribe: %w", err)
		}
		if result == nil {
			return nil, nil
		}
		return mergeWords(result.Words, nil), nil
	}

	var (
		wg     sync.WaitGroup
		result *speech.Result
		terr   error
		turns  []speech.Turn
		derr   error
	)
	// Not an errgroup join: a diarization error must not cancel the
	// transcription call.
	wg.Add(2)
	go func() {
		defer wg.Done()
		result, terr = s.transcriber.Transcribe(ctx, audio)
	}()
	go func() {
		defer wg.Done()
		dctx, cancel := context.WithTimeout(ctx, s.diarizeTimeout)
		defer cancel()
		turns, derr = s.diarizer.Diarize(dctx, audio)
	}()
	wg.Wait()

	if terr != nil {
		return nil, fmt.Errorf("transcribe: %w", terr)
	}
	if derr != nil {
		slog.Warn("diarization failed, continuing without speaker attribution", "error", derr)
		turns = nil
	}
	// A nil result is silence.
	if result == nil {
		return nil, nil
	}
	return mergeWords(result.Words, turns), nil
}

// mergeWords attributes each word to the speaker turn containing its
// midpoint. Words and turns both arrive in time order, so one forward scan
// covers the merge. Turn spans are half-open: a word on the boundary belongs
// to the later turn.
func mergeWords(words []speech.Word, turns []speech.Turn) []segment.WordInfo {
	if len(words) == 0 {
		return nil
	}
	out := make([]segment.WordInfo, 0, len(words))
	ti := 0
	for _, w := range words {
		tag := w.SpeakerTag
		if len(turns) > 0 {
			mid := w.Start + (w.End-w.Start)/2
			for ti < len(turns) && turns[ti].End <= mid {
				ti++
			}
			if ti < len(turns) && turns[ti].Start <= mid {
				tag = turns[ti].SpeakerTag
			}
		}
		out = append(out, segment.WordInfo{
			Word:       w.Text,
			SpeakerTag: tag,
			Start:      segment.SecondsOf(w.Start),
			End:        segment.SecondsOf(w.End),
		})
	}
	return out
}
