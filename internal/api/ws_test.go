package api_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dictumlabs/dictum/pkg/provider/llm"
	llmmock "github.com/dictumlabs/dictum/pkg/provider/llm/mock"
	"github.com/dictumlabs/dictum/pkg/provider/speech"
	speechmock "github.com/dictumlabs/dictum/pkg/provider/speech/mock"
)

// wsFrame mirrors the server's text frames for decoding in tests.
type wsFrame struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Comments []struct {
		Text           string `json:"text"`
		Classification string `json:"classification"`
		File           string `json:"file"`
		Line           int    `json:"line"`
	} `json:"comments"`
}

// dialSession opens the ingest socket for a session on the fixture server.
func dialSession(t *testing.T, ctx context.Context, f *fixture, id string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", wsURL, err)
	}
	return conn
}

func sendText(t *testing.T, ctx context.Context, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write text frame: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsFrame {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type = %v, want text", typ)
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame
}

func TestWebSocketIngest(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	oracle := &llmmock.Provider{CompleteResponses: []*llm.CompletionResponse{
		reply(`[{"classification": "Suggestion", "transformedParts": ["Add a doc comment to HandleRequest."]}]`),
		reply(`[{"selectedIndex": 0, "rationale": "cursor on the handler"}]`),
	}}
	spx := &speechmock.Provider{TranscribeResult: &speech.Result{
		Words: spoken("this function needs a doc comment", 1, 10.0, 0.3),
	}}
	f := newFixture(t, oracle, spx)

	id := f.startSession(t, `{"repo": "acme/api", "pullNumber": 7, "mimeType": "audio/wav"}`)
	conn := dialSession(t, ctx, f, id)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("pcm-chunk-1")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("pcm-chunk-2")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	sendText(t, ctx, conn,
		`{"type": "snapshot", "snapshot": {"timestamp": 9.5, "file": "server.go", "cursorLine": 42, "symbolsInView": ["HandleRequest"]}}`)
	sendText(t, ctx, conn, `{"type": "finish"}`)

	frame := readFrame(t, ctx, conn)
	if frame.Type != "comments" {
		t.Fatalf("frame type = %q (error %q), want comments", frame.Type, frame.Error)
	}
	if len(frame.Comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(frame.Comments))
	}
	c := frame.Comments[0]
	if c.Text != "Add a doc comment to HandleRequest." || c.File != "server.go" || c.Line != 42 {
		t.Errorf("comment = %+v", c)
	}

	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", websocket.CloseStatus(err))
	}
	if f.mgr.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d after socket finish, want 0", f.mgr.ActiveSessions())
	}
}

func TestWebSocketUnknownSessionCloses(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newFixture(t, &llmmock.Provider{}, nil)
	conn := dialSession(t, ctx, f, "ghost")
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("audio for nobody")); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	frame := readFrame(t, ctx, conn)
	if frame.Type != "error" || !strings.Contains(frame.Error, "not found") {
		t.Fatalf("frame = %+v, want a not-found error", frame)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", websocket.CloseStatus(err))
	}
}

func TestWebSocketBadControlFrameKeepsStream(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newFixture(t, &llmmock.Provider{}, nil)
	id := f.startSession(t, `{}`)
	conn := dialSession(t, ctx, f, id)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	sendText(t, ctx, conn, `this is not JSON`)
	frame := readFrame(t, ctx, conn)
	if frame.Type != "error" || !strings.Contains(frame.Error, "decode control frame") {
		t.Fatalf("frame = %+v, want a decode error", frame)
	}

	sendText(t, ctx, conn, `{"type": "pause"}`)
	frame = readFrame(t, ctx, conn)
	if frame.Type != "error" || !strings.Contains(frame.Error, "unknown control frame") {
		t.Fatalf("frame = %+v, want an unknown-type error", frame)
	}

	// The stream survives bad frames: a finish still works. With no audio
	// the recording produces no comments.
	sendText(t, ctx, conn, `{"type": "finish"}`)
	frame = readFrame(t, ctx, conn)
	if frame.Type != "comments" {
		t.Fatalf("frame type = %q (error %q), want comments", frame.Type, frame.Error)
	}
	if len(frame.Comments) != 0 {
		t.Errorf("got %d comments from an empty recording", len(frame.Comments))
	}
}
