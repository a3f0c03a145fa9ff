package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// LiveConfig configures a streaming recognition session.
type LiveConfig struct {
	// SampleRate of the raw PCM stream in Hz.
	SampleRate int

	// Channels of the stream. 1 = mono.
	Channels int

	// Language is the BCP-47 recognition language. Empty uses the provider
	// default.
	Language string

	// Keywords bias recognition, same as for prerecorded audio.
	Keywords []string

	// Diarize asks for speaker labels on live words.
	Diarize bool
}

// LiveEvent is one recognition update from a live session. Interim events
// revise each other; only events with IsFinal true are stable.
type LiveEvent struct {
	Text       string
	Words      []speech.Word
	Confidence float64
	IsFinal    bool
}

// StartLive opens a streaming recognition session for microphone capture.
// The caller feeds PCM chunks through SendAudio and consumes Events until
// the channel closes.
func (p *Provider) StartLive(ctx context.Context, cfg LiveConfig) (*LiveSession, error) {
	wsURL, err := p.liveURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &LiveSession{
		conn:   conn,
		events: make(chan LiveEvent, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)
	return s, nil
}

// liveURL constructs the streaming endpoint URL for the given config.
func (p *Provider) liveURL(cfg LiveConfig) (string, error) {
	u, err := url.Parse(p.baseURL + listenPath)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if cfg.SampleRate > 0 {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.Diarize {
		q.Set("diarize", "true")
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LiveSession is an open streaming recognition session.
type LiveSession struct {
	conn   *websocket.Conn
	events chan LiveEvent
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM chunk for delivery. It fails once the session is
// closed.
func (s *LiveSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Events returns the channel of recognition updates. It closes when the
// backend ends the stream or the session is closed.
func (s *LiveSession) Events() <-chan LiveEvent { return s.events }

// Close flushes pending audio, tells the backend to finish, and tears the
// connection down. Safe to call more than once.
func (s *LiveSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop forwards queued audio chunks as binary frames.
func (s *LiveSession) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives recognition messages and dispatches them as events.
func (s *LiveSession) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		ev, ok := parseLiveMessage(msg)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

// liveResponse is the JSON shape of a streaming Results message.
type liveResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string         `json:"transcript"`
			Confidence float64        `json:"confidence"`
			Words      []responseWord `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseLiveMessage converts a raw streaming message into a LiveEvent.
// Non-Results messages (metadata, utterance boundaries) report ok=false.
func parseLiveMessage(data []byte) (LiveEvent, bool) {
	var resp liveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return LiveEvent{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return LiveEvent{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return LiveEvent{
		Text:       alt.Transcript,
		Words:      mapWords(alt.Words),
		Confidence: alt.Confidence,
		IsFinal:    resp.IsFinal,
	}, true
}
