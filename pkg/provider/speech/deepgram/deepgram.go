// Package deepgram provides speech recognition backed by the Deepgram API.
//
// Recorded review sessions go through the prerecorded REST endpoint, which
// returns per-word timestamps and speaker labels in one call; Provider
// therefore implements both speech.Provider and speech.Diarizer. A live
// microphone session for in-editor captions is available via StartLive.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	listenPath = "/v1/listen"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithTimeout sets a per-request HTTP timeout for the prerecorded endpoint.
// Zero means no timeout. Recordings upload whole, so allow for their size.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.client.Timeout = d
	}
}

// Provider implements speech.Provider and speech.Diarizer using Deepgram.
type Provider struct {
	apiKey   string
	model    string
	language string
	baseURL  string
	client   *http.Client
}

// Compile-time interface assertions.
var (
	_ speech.Provider = (*Provider)(nil)
	_ speech.Diarizer = (*Provider)(nil)
)

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		baseURL:  defaultBaseURL,
		client:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements speech.Provider via the prerecorded endpoint.
// Speaker labels arrive with the words, so the result is already attributed
// when diarization succeeds server-side.
func (p *Provider) Transcribe(ctx context.Context, audio speech.Audio) (*speech.Result, error) {
	reqURL, err := p.listenURL(audio, false)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	resp, err := p.post(ctx, reqURL, audio)
	if err != nil {
		return nil, fmt.Errorf("deepgram: transcribe: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return nil, errors.New("deepgram: transcribe: no alternatives in response")
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	return &speech.Result{
		Words:      mapWords(alt.Words),
		Transcript: alt.Transcript,
	}, nil
}

// Diarize implements speech.Diarizer. The prerecorded endpoint is called
// with utterance grouping enabled and each utterance becomes one Turn.
func (p *Provider) Diarize(ctx context.Context, audio speech.Audio) ([]speech.Turn, error) {
	reqURL, err := p.listenURL(audio, true)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	resp, err := p.post(ctx, reqURL, audio)
	if err != nil {
		return nil, fmt.Errorf("deepgram: diarize: %w", err)
	}

	turns := make([]speech.Turn, 0, len(resp.Results.Utterances))
	for _, u := range resp.Results.Utterances {
		turns = append(turns, speech.Turn{
			SpeakerTag: u.Speaker + 1,
			Start:      seconds(u.Start),
			End:        seconds(u.End),
		})
	}
	return turns, nil
}

// listenURL constructs the prerecorded endpoint URL for the given audio.
func (p *Provider) listenURL(audio speech.Audio, utterances bool) (string, error) {
	u, err := url.Parse(p.baseURL + listenPath)
	if err != nil {
		return "", err
	}

	lang := audio.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	if utterances {
		q.Set("utterances", "true")
	}
	if audio.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	}
	if audio.Channels > 0 {
		q.Set("channels", strconv.Itoa(audio.Channels))
	}
	// Containers carry their own header; raw PCM needs an explicit encoding.
	if audio.MIMEType == "audio/pcm" || audio.MIMEType == "audio/l16" {
		q.Set("encoding", "linear16")
	}
	for _, kw := range audio.Keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// post uploads the audio buffer and decodes the prerecorded response.
func (p *Provider) post(ctx context.Context, reqURL string, audio speech.Audio) (*prerecordedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(audio.Data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	contentType := audio.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result prerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// prerecordedResponse is the JSON shape returned by the prerecorded endpoint.
type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string         `json:"transcript"`
				Confidence float64        `json:"confidence"`
				Words      []responseWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
			Speaker int     `json:"speaker"`
		} `json:"utterances"`
	} `json:"results"`
}

// responseWord is one word as Deepgram reports it. Speaker is a pointer
// because label 0 is a real speaker and must be distinguished from absent.
type responseWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    *int    `json:"speaker"`
}

// mapWords converts response words to the provider contract. Deepgram labels
// speakers from 0; the contract reserves 0 for unattributed, so labels shift
// up by one.
func mapWords(in []responseWord) []speech.Word {
	words := make([]speech.Word, 0, len(in))
	for _, w := range in {
		tag := 0
		if w.Speaker != nil {
			tag = *w.Speaker + 1
		}
		words = append(words, speech.Word{
			Text:       w.Word,
			SpeakerTag: tag,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return words
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
