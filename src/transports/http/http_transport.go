package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
)

// HttpClientTransport talks to an MCP server over plain HTTP. Unary calls are
// JSON request/response; the event stream is a long-lived GET answered with
// text/event-stream.
type HttpClientTransport struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	interceptors []Interceptor
	readTimeout  time.Duration
	logger       transports.Logf
}

var _ transports.Transport = (*HttpClientTransport)(nil)

// Option configures an HttpClientTransport.
type Option func(*HttpClientTransport)

// WithInterceptors appends interceptors; they run in the given order.
func WithInterceptors(ics ...Interceptor) Option {
	return func(t *HttpClientTransport) { t.interceptors = append(t.interceptors, ics...) }
}

// WithHTTPClient replaces the client used for unary calls.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HttpClientTransport) { t.httpClient = c }
}

// WithStreamReadTimeout bounds the wait between two stream events.
func WithStreamReadTimeout(d time.Duration) Option {
	return func(t *HttpClientTransport) { t.readTimeout = d }
}

// WithLogger installs a logging hook.
func WithLogger(l transports.Logf) Option {
	return func(t *HttpClientTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewHttpClientTransport constructs a transport rooted at baseURL.
func NewHttpClientTransport(baseURL string, opts ...Option) (*HttpClientTransport, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("http transport requires a base URL")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("security error: URL must use HTTP(S); got: %s", baseURL)
	}
	t := &HttpClientTransport{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		logger:       transports.NopLogf,
	}
	for _, o := range opts {
		o(t)
	}
	if u.Scheme == "http" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		t.logger("Using plaintext HTTP for %s, suitable only for non-production", baseURL)
	}
	return t, nil
}

func (t *HttpClientTransport) newRequest(ctx context.Context, method, path string, body []byte, accept string) (*http.Request, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	for _, ic := range t.interceptors {
		if err := ic.Intercept(req, body); err != nil {
			return nil, fmt.Errorf("interceptor: %w", err)
		}
	}
	return req, nil
}

func (t *HttpClientTransport) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := t.newRequest(ctx, method, path, body, "application/json")
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger("Error calling %s %s: %v", method, path, err)
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &transports.StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// PostJSON sends body with POST.
func (t *HttpClientTransport) PostJSON(ctx context.Context, path string, body []byte) ([]byte, error) {
	if body == nil {
		body = []byte("null")
	}
	return t.do(ctx, http.MethodPost, path, body)
}

// GetJSON issues a GET.
func (t *HttpClientTransport) GetJSON(ctx context.Context, path string) ([]byte, error) {
	return t.do(ctx, http.MethodGet, path, nil)
}

// Stream opens the event stream. Each non-empty line is one event.
func (t *HttpClientTransport) Stream(ctx context.Context, path string) (transports.StreamResult, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := t.newRequest(streamCtx, http.MethodGet, path, nil, "text/event-stream")
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := t.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &transports.StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	t.logger("Opened event stream %s", path)
	ch := make(chan transports.StreamItem, 16)
	go transports.ScanLines(streamCtx, resp.Body, ch)
	return transports.NewChannelStreamResult(ch, func() error {
		cancel()
		return resp.Body.Close()
	}, t.readTimeout), nil
}

// Close releases idle connections.
func (t *HttpClientTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	t.streamClient.CloseIdleConnections()
	return nil
}
