package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	grpctransport "github.com/universal-tool-calling-protocol/go-mcp/src/transports/grpc"
)

// GRPCHandler serves McpService by replaying unary calls through the HTTP
// handler, so signing, tracing and interceptors apply unchanged. Call
// metadata becomes request headers.
type GRPCHandler struct {
	srv     *Server
	handler http.Handler
}

var _ grpctransport.Handler = (*GRPCHandler)(nil)

func (s *Server) GRPCHandler() *GRPCHandler {
	return &GRPCHandler{srv: s, handler: s.Handler()}
}

// NewGRPCServer returns a grpc.Server with McpService registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(append([]grpc.ServerOption{grpctransport.ServerOption()}, opts...)...)
	grpctransport.RegisterService(gs, s.GRPCHandler())
	return gs
}

// Invoke treats an empty body as GET and anything else as POST.
func (h *GRPCHandler) Invoke(ctx context.Context, path string, body string) (string, error) {
	if path == "" {
		return "", status.Error(codes.InvalidArgument, "missing "+grpctransport.PathMetadataKey+" metadata")
	}
	method := http.MethodPost
	if body == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, path, strings.NewReader(body))
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	req.Header = headersFromMetadata(ctx)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		req.RemoteAddr = p.Addr.String()
	}

	rw := newBufferedResponse()
	h.handler.ServeHTTP(rw, req)
	if rw.status >= 200 && rw.status < 300 {
		return rw.body.String(), nil
	}
	return "", status.Error(grpcCode(rw.status), strings.TrimSpace(rw.body.String()))
}

// Stream pushes events until the client goes away.
func (h *GRPCHandler) Stream(ctx context.Context, path string, send func(line string) error) error {
	if path != "" && path != h.srv.paths.Stream {
		return status.Errorf(codes.NotFound, "no stream at %s", path)
	}
	err := h.srv.Pump(ctx, send)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func headersFromMetadata(ctx context.Context) http.Header {
	h := make(http.Header)
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return h
	}
	for k, vs := range md {
		if strings.HasPrefix(k, ":") || strings.HasPrefix(k, "grpc-") ||
			k == grpctransport.PathMetadataKey || k == "content-type" {
			continue
		}
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func grpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest, http.StatusNotAcceptable:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusMethodNotAllowed:
		return codes.Unimplemented
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// bufferedResponse collects a handler's reply in memory.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}
