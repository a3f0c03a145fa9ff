package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/store"
)

// wsControl is a client text frame on the ingest socket. Binary frames are
// always audio and need no envelope.
type wsControl struct {
	// Type is "snapshot" or "finish".
	Type string `json:"type"`

	// Snapshot accompanies a snapshot frame.
	Snapshot *location.Snapshot `json:"snapshot,omitempty"`

	// Publish asks a finish frame to also post the comments.
	Publish bool `json:"publish,omitempty"`
}

// wsReply is a server text frame: "error" for a rejected input, "comments"
// for the closing frame after a finish.
type wsReply struct {
	Type         string         `json:"type"`
	Error        string         `json:"error,omitempty"`
	Comments     []commentReply `json:"comments,omitempty"`
	Published    []publishReply `json:"published,omitempty"`
	PublishError string         `json:"publishError,omitempty"`
}

// handleWebSocket streams a recording into a live session. Binary messages
// are audio chunks; text messages are control frames. A "finish" frame
// processes the recording, delivers the comments as the final frame, and
// closes the socket. A dropped socket leaves the recording live for a
// reconnect or a REST finish.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written its own HTTP error.
		slog.Debug("websocket accept failed", "session", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "ingest aborted")
	conn.SetReadLimit(s.maxBody)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("ingest socket closed", "session", id, "error", err)
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if err := s.manager.AppendAudio(id, data); err != nil {
				if s.wsReject(ctx, conn, id, err) {
					return
				}
				continue
			}
			s.noteAudio(ctx, id, len(data))
		case websocket.MessageText:
			var ctrl wsControl
			if err := json.Unmarshal(data, &ctrl); err != nil {
				s.wsError(ctx, conn, fmt.Errorf("api: decode control frame: %w", err))
				continue
			}
			switch ctrl.Type {
			case "snapshot":
				if ctrl.Snapshot == nil {
					s.wsError(ctx, conn, errors.New("api: snapshot frame without a snapshot"))
					continue
				}
				if err := s.manager.AddSnapshot(ctx, id, *ctrl.Snapshot); err != nil {
					if s.wsReject(ctx, conn, id, err) {
						return
					}
				}
			case "finish":
				s.finishOverSocket(ctx, conn, id, ctrl.Publish)
				return
			default:
				s.wsError(ctx, conn, fmt.Errorf("api: unknown control frame type %q", ctrl.Type))
			}
		}
	}
}

// finishOverSocket processes the recording and sends the result as the
// closing frame.
func (s *Server) finishOverSocket(ctx context.Context, conn *websocket.Conn, id string, publishWanted bool) {
	comments, err := s.manager.Finish(ctx, id)
	if err != nil {
		s.wsError(ctx, conn, err)
		conn.Close(websocket.StatusInternalError, "finish failed")
		return
	}
	s.noteSessionEnded(ctx, id)
	for _, c := range comments {
		s.metrics.RecordCommentPlaced(ctx, string(c.Classification))
	}

	reply := wsReply{Type: "comments", Comments: toCommentReplies(comments)}
	if publishWanted {
		reply.Published, reply.PublishError = s.publishComments(ctx, id, comments)
	}
	if err := s.writeFrame(ctx, conn, reply); err != nil {
		slog.Warn("could not deliver finished comments over socket", "session", id, "error", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "review finished")
}

// wsReject reports a rejected chunk or snapshot. An unknown session is
// fatal to the socket; everything else lets the stream continue.
func (s *Server) wsReject(ctx context.Context, conn *websocket.Conn, id string, err error) (fatal bool) {
	s.wsError(ctx, conn, err)
	if errors.Is(err, store.ErrNotFound) {
		conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return true
	}
	return false
}

// wsError sends an error frame without dropping the socket.
func (s *Server) wsError(ctx context.Context, conn *websocket.Conn, err error) {
	if werr := s.writeFrame(ctx, conn, wsReply{Type: "error", Error: err.Error()}); werr != nil {
		slog.Debug("could not send error frame", "error", werr)
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, reply wsReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("api: encode frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
