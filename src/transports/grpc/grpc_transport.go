package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
)

// HeaderSigner produces signature headers for a request body.
type HeaderSigner interface {
	Headers(body []byte) http.Header
}

// GRPCClientTransport implements transports.Transport over McpService with
// string-marshaled messages.
type GRPCClientTransport struct {
	conn        *grpc.ClientConn
	addr        string
	readTimeout time.Duration
	signer      HeaderSigner
	logger      transports.Logf
}

var _ transports.Transport = (*GRPCClientTransport)(nil)

type config struct {
	plaintext   bool
	readTimeout time.Duration
	signer      HeaderSigner
	logger      transports.Logf
	dialOpts    []grpc.DialOption
}

// Option configures a GRPCClientTransport.
type Option func(*config)

// WithTLS switches from plaintext to TLS with the system roots.
func WithTLS() Option { return func(c *config) { c.plaintext = false } }

// WithStreamReadTimeout bounds the wait between two stream events.
func WithStreamReadTimeout(d time.Duration) Option { return func(c *config) { c.readTimeout = d } }

// WithSigner attaches signature metadata to every unary call that carries a
// body.
func WithSigner(s HeaderSigner) Option { return func(c *config) { c.signer = s } }

// WithLogger installs a logging hook.
func WithLogger(l transports.Logf) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDialOptions appends raw grpc dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *config) { c.dialOpts = append(c.dialOpts, opts...) }
}

// NewGRPCClientTransport creates a client for host:port. The connection is
// established lazily on first use.
func NewGRPCClientTransport(host string, port int, opts ...Option) (*GRPCClientTransport, error) {
	if strings.TrimSpace(host) == "" || port <= 0 {
		return nil, errors.New("grpc transport requires host and port")
	}
	cfg := config{plaintext: true, logger: transports.NopLogf}
	for _, o := range opts {
		o(&cfg)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var creds credentials.TransportCredentials
	if cfg.plaintext {
		creds = insecure.NewCredentials()
		cfg.logger("Using insecure gRPC transport for %s, suitable only for non-production", addr)
	} else {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(stringCodec{})),
	}, cfg.dialOpts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClientTransport{
		conn:        conn,
		addr:        addr,
		readTimeout: cfg.readTimeout,
		signer:      cfg.signer,
		logger:      cfg.logger,
	}, nil
}

func (t *GRPCClientTransport) invoke(ctx context.Context, path string, body []byte) ([]byte, error) {
	pairs := []string{PathMetadataKey, path}
	if t.signer != nil && body != nil {
		for k, vs := range t.signer.Headers(body) {
			for _, v := range vs {
				pairs = append(pairs, strings.ToLower(k), v)
			}
		}
	}
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	in := string(body)
	var out string
	if err := t.conn.Invoke(ctx, invokeMethod, &in, &out); err != nil {
		t.logger("Error calling %s on %s: %v", path, t.addr, err)
		return nil, err
	}
	return []byte(out), nil
}

// PostJSON calls McpService/Invoke with body.
func (t *GRPCClientTransport) PostJSON(ctx context.Context, path string, body []byte) ([]byte, error) {
	if body == nil {
		body = []byte("null")
	}
	return t.invoke(ctx, path, body)
}

// GetJSON calls McpService/Invoke with an empty body.
func (t *GRPCClientTransport) GetJSON(ctx context.Context, path string) ([]byte, error) {
	return t.invoke(ctx, path, nil)
}

// Stream calls McpService/Stream with path as the request message.
func (t *GRPCClientTransport) Stream(ctx context.Context, path string) (transports.StreamResult, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{StreamName: "Stream", ServerStreams: true}
	cs, err := t.conn.NewStream(streamCtx, desc, streamMethod)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cs.SendMsg(&path); err != nil {
		cancel()
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, err
	}

	ch := make(chan transports.StreamItem, 16)
	go func() {
		defer close(ch)
		for {
			var line string
			err := cs.RecvMsg(&line)
			if err == io.EOF {
				return
			}
			item := transports.StreamItem{Line: line, Err: err}
			if err != nil && streamCtx.Err() != nil {
				return
			}
			if err == nil && strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case ch <- item:
			case <-streamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return transports.NewChannelStreamResult(ch, func() error {
		cancel()
		return nil
	}, t.readTimeout), nil
}

// Close tears down the connection.
func (t *GRPCClientTransport) Close() error {
	return t.conn.Close()
}
