package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/universal-tool-calling-protocol/go-mcp/src/signing"
	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
)

func TestHttpClientTransport_PostAndGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mcp/invoke":
			body, _ := io.ReadAll(r.Body)
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"echo":` + string(body) + `}`))
		case "/mcp/tools":
			w.Write([]byte(`{"status":"success"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	tr, err := NewHttpClientTransport(server.URL + "/")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	ctx := context.Background()
	out, err := tr.PostJSON(ctx, "/mcp/invoke", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if string(out) != `{"echo":{"a":1}}` {
		t.Fatalf("unexpected body: %s", out)
	}
	out, err = tr.GetJSON(ctx, "/mcp/tools")
	if err != nil || !strings.Contains(string(out), "success") {
		t.Fatalf("get: %s %v", out, err)
	}
}

func TestHttpClientTransport_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":"error","code":"INVALID_SIGNATURE"}`))
	}))
	defer server.Close()

	tr, _ := NewHttpClientTransport(server.URL)
	_, err := tr.PostJSON(context.Background(), "/mcp/invoke", []byte(`{}`))
	var se *transports.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected status error, got %v", err)
	}
	if se.Error() != "HTTP error: 401" {
		t.Fatalf("unexpected message %q", se.Error())
	}
}

func TestHttpClientTransport_InterceptorsRunInOrderAndSignPostOnly(t *testing.T) {
	secret := []byte("s3cret")
	verifier := signing.NewVerifier(secret)
	var order []string
	var getSigned bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method == http.MethodGet {
			getSigned = r.Header.Get(signing.HeaderSignature) != ""
			w.Write([]byte(`{}`))
			return
		}
		if rej := verifier.Verify(r.Header, body); rej != nil {
			w.WriteHeader(rej.Status)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	record := func(name string) Interceptor {
		return InterceptorFunc(func(req *http.Request, body []byte) error {
			order = append(order, name)
			return nil
		})
	}
	tr, _ := NewHttpClientTransport(server.URL, WithInterceptors(
		record("first"),
		signing.NewSigner("client-a", secret),
		record("last"),
	))
	if _, err := tr.PostJSON(context.Background(), "/mcp/invoke", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("signed post rejected: %v", err)
	}
	if fmt.Sprint(order) != "[first last]" {
		t.Fatalf("unexpected interceptor order %v", order)
	}
	if _, err := tr.GetJSON(context.Background(), "/mcp/tools"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if getSigned {
		t.Fatalf("GET requests must not be signed")
	}
}

func TestHttpClientTransport_InterceptorErrorAborts(t *testing.T) {
	tr, _ := NewHttpClientTransport("http://127.0.0.1:1", WithInterceptors(InterceptorFunc(func(*http.Request, []byte) error {
		return errors.New("denied")
	})))
	if _, err := tr.PostJSON(context.Background(), "/x", nil); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected interceptor error, got %v", err)
	}
}

func TestHttpClientTransport_Stream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "{\"event\":\"one\"}\n\n{\"event\":\"two\"}\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	tr, _ := NewHttpClientTransport(server.URL)
	sr, err := tr.Stream(context.Background(), "/mcp/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	for _, want := range []string{`{"event":"one"}`, `{"event":"two"}`} {
		got, err := sr.Next()
		if err != nil || got != want {
			t.Fatalf("want %s, got %q (%v)", want, got, err)
		}
	}
	if err := sr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := sr.Next(); err == nil {
		t.Fatalf("expected the stream to end after close")
	}
}

func TestHttpClientTransport_StreamReadTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	tr, _ := NewHttpClientTransport(server.URL, WithStreamReadTimeout(20*time.Millisecond))
	sr, err := tr.Stream(context.Background(), "/mcp/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer sr.Close()
	if _, err := sr.Next(); !errors.Is(err, transports.ErrReadTimeout) {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestNewHttpClientTransport_Validation(t *testing.T) {
	if _, err := NewHttpClientTransport(""); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
	if _, err := NewHttpClientTransport("ftp://example.com"); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}
