package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/gorilla/websocket"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

var (
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream serves the event stream as SSE, or over WebSocket when the
// request asks for an upgrade.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.streamWebSocket(w, r)
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSON(w, http.StatusNotAcceptable, protocol.Error[any](protocol.CodeInvalidRequest, "stream requires Accept: text/event-stream"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, protocol.Error[any](protocol.CodeInternalError, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	err := s.Pump(r.Context(), func(line string) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	s.logStreamEnd(r.Context(), "sse", err)
}

func (s *Server) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.log.WarnContext(r.Context(), "websocket upgrade failed", slog.String("err", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The peer never sends; reading surfaces its close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.Pump(ctx, func(line string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.logStreamEnd(ctx, "websocket", err)
}

// Pump subscribes to the broker and passes encoded events to send until ctx
// ends or send fails. A heartbeat goes out first and then on every
// heartbeat interval.
func (s *Server) Pump(ctx context.Context, send func(line string) error) error {
	events, cancel := s.events.Subscribe(ctx)
	defer cancel()

	if err := s.sendHeartbeat(send); err != nil {
		return err
	}

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := s.sendHeartbeat(send); err != nil {
				return err
			}
		case line, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := send(line); err != nil {
				return err
			}
		}
	}
}

func (s *Server) sendHeartbeat(send func(string) error) error {
	data, err := json.Marshal(protocol.StreamEventEnvelope{
		Event:     EventHeartbeat,
		EmittedAt: s.now().UTC(),
		Response:  protocol.Success(protocol.CodeHeartbeat, "server heartbeat", map[string]any{"status": "alive"}),
	})
	if err != nil {
		return err
	}
	return send(string(data))
}

func (s *Server) logStreamEnd(ctx context.Context, kind string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		s.log.DebugContext(ctx, "stream closed", slog.String("kind", kind))
		return
	}
	s.log.WarnContext(ctx, "stream ended", slog.String("kind", kind), slog.String("err", err.Error()))
}
