package grpc

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeHandler struct {
	mu        sync.Mutex
	lastPath  string
	lastBody  string
	signature string
	streamEnd chan struct{}
}

func (h *fakeHandler) Invoke(ctx context.Context, path, body string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPath, h.lastBody = path, body
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-mcp-signature"); len(v) > 0 {
			h.signature = v[0]
		}
	}
	if path == "/boom" {
		return "", status.Error(codes.Internal, "boom")
	}
	return `{"path":"` + path + `"}`, nil
}

func (h *fakeHandler) Stream(ctx context.Context, path string, send func(string) error) error {
	for _, line := range []string{`{"event":"heartbeat"}`, "", `{"event":"` + path + `"}`} {
		if err := send(line); err != nil {
			return err
		}
	}
	select {
	case <-h.streamEnd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHandler) seen() (path, body, signature string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPath, h.lastBody, h.signature
}

func startServer(t *testing.T, h Handler) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen err: %v", err)
	}
	srv := grpc.NewServer(ServerOption())
	RegisterService(srv, h)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().(*net.TCPAddr).Port
}

type staticSigner struct{}

func (staticSigner) Headers([]byte) http.Header {
	h := http.Header{}
	h.Set("X-MCP-Signature", "sig")
	return h
}

func TestGRPCClientTransport_Invoke(t *testing.T) {
	h := &fakeHandler{streamEnd: make(chan struct{})}
	port := startServer(t, h)

	tr, err := NewGRPCClientTransport("127.0.0.1", port, WithSigner(staticSigner{}))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := tr.PostJSON(ctx, "/mcp/invoke", []byte(`{"tool":"echo"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(out) != `{"path":"/mcp/invoke"}` {
		t.Fatalf("unexpected response %s", out)
	}
	if _, body, sig := h.seen(); body != `{"tool":"echo"}` || sig != "sig" {
		t.Fatalf("server saw body=%q signature=%q", body, sig)
	}

	if _, err := tr.GetJSON(ctx, "/mcp/tools"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if path, body, _ := h.seen(); body != "" || path != "/mcp/tools" {
		t.Fatalf("GET-style call should send an empty body, got %q", body)
	}

	_, err = tr.PostJSON(ctx, "/boom", []byte(`{}`))
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestGRPCClientTransport_Stream(t *testing.T) {
	h := &fakeHandler{streamEnd: make(chan struct{})}
	port := startServer(t, h)

	tr, _ := NewGRPCClientTransport("127.0.0.1", port)
	defer tr.Close()

	sr, err := tr.Stream(context.Background(), "/mcp/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	for _, want := range []string{`{"event":"heartbeat"}`, `{"event":"/mcp/stream"}`} {
		got, err := sr.Next()
		if err != nil || got != want {
			t.Fatalf("want %s, got %q (%v)", want, got, err)
		}
	}
	close(h.streamEnd)
	if _, err := sr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after server ends stream, got %v", err)
	}
	sr.Close()
}

func TestGRPCClientTransport_StreamCloseStopsReading(t *testing.T) {
	h := &fakeHandler{streamEnd: make(chan struct{})}
	defer close(h.streamEnd)
	port := startServer(t, h)

	tr, _ := NewGRPCClientTransport("127.0.0.1", port)
	defer tr.Close()
	sr, err := tr.Stream(context.Background(), "/mcp/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, err := sr.Next(); err != nil {
		t.Fatalf("first event: %v", err)
	}
	sr.Close()
	deadline := time.After(2 * time.Second)
	for {
		done := make(chan error, 1)
		go func() { _, err := sr.Next(); done <- err }()
		select {
		case err := <-done:
			if err != nil {
				return
			}
		case <-deadline:
			t.Fatalf("stream kept producing events after close")
		}
	}
}

func TestNewGRPCClientTransport_RequiresHostAndPort(t *testing.T) {
	if _, err := NewGRPCClientTransport("", 50051); err == nil {
		t.Fatalf("expected error for missing host")
	}
	if _, err := NewGRPCClientTransport("localhost", 0); err == nil {
		t.Fatalf("expected error for missing port")
	}
}

func TestStringCodec(t *testing.T) {
	c := stringCodec{}
	b, err := c.Marshal("hello")
	if err != nil || string(b) != "hello" {
		t.Fatalf("marshal: %s %v", b, err)
	}
	var s string
	if err := c.Unmarshal([]byte("world"), &s); err != nil || s != "world" {
		t.Fatalf("unmarshal: %s %v", s, err)
	}
	if _, err := c.Marshal(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
