package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
	httptransport "github.com/universal-tool-calling-protocol/go-mcp/src/transports/http"
)

// WebSocketTransport sends unary calls over HTTP and receives the event
// stream over a WebSocket, one text frame per event.
type WebSocketTransport struct {
	*httptransport.HttpClientTransport

	wsBase      string
	dialer      *websocket.Dialer
	headers     http.Header
	readTimeout time.Duration
	logger      transports.Logf
}

var _ transports.Transport = (*WebSocketTransport)(nil)

// Option configures a WebSocketTransport.
type Option func(*WebSocketTransport)

// WithHeader adds a header to the WebSocket handshake.
func WithHeader(key, value string) Option {
	return func(t *WebSocketTransport) { t.headers.Add(key, value) }
}

// WithStreamReadTimeout bounds the wait between two frames.
func WithStreamReadTimeout(d time.Duration) Option {
	return func(t *WebSocketTransport) { t.readTimeout = d }
}

// WithLogger installs a logging hook.
func WithLogger(l transports.Logf) Option {
	return func(t *WebSocketTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewWebSocketTransport wraps an HTTP transport for baseURL. httpOpts
// configure the unary side (interceptors, client).
func NewWebSocketTransport(baseURL string, httpOpts []httptransport.Option, opts ...Option) (*WebSocketTransport, error) {
	ht, err := httptransport.NewHttpClientTransport(baseURL, httpOpts...)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	t := &WebSocketTransport{
		HttpClientTransport: ht,
		wsBase:              u.String(),
		dialer:              &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		headers:             http.Header{},
		logger:              transports.NopLogf,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Stream dials path as a WebSocket.
func (t *WebSocketTransport) Stream(ctx context.Context, path string) (transports.StreamResult, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.wsBase+path, t.headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", path, &transports.StatusError{Code: resp.StatusCode})
		}
		return nil, fmt.Errorf("websocket dial %s: %w", path, err)
	}
	t.logger("Opened WebSocket stream %s", path)

	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan transports.StreamItem, 16)
	go func() {
		<-streamCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
	go func() {
		defer cancel()
		defer close(ch)
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				if streamCtx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				select {
				case ch <- transports.StreamItem{Err: err}:
				case <-streamCtx.Done():
				}
				return
			}
			if kind != websocket.TextMessage || strings.TrimSpace(string(msg)) == "" {
				continue
			}
			select {
			case ch <- transports.StreamItem{Line: string(msg)}:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return transports.NewChannelStreamResult(ch, func() error {
		cancel()
		return nil
	}, t.readTimeout), nil
}
