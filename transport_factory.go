package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cast"

	"github.com/universal-tool-calling-protocol/go-mcp/src/signing"
	"github.com/universal-tool-calling-protocol/go-mcp/src/tracing"
	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
	grpctransport "github.com/universal-tool-calling-protocol/go-mcp/src/transports/grpc"
	httptransport "github.com/universal-tool-calling-protocol/go-mcp/src/transports/http"
	"github.com/universal-tool-calling-protocol/go-mcp/src/transports/sdk"
	wstransport "github.com/universal-tool-calling-protocol/go-mcp/src/transports/websocket"
)

// Interceptor names accepted in ServerConfig.Interceptors.
const (
	InterceptorHMAC    = "hmac"
	InterceptorTrace   = "trace"
	InterceptorHeaders = "headers"
)

// TransportOptions carries what NewTransport needs beyond the server block.
type TransportOptions struct {
	// ClientID signs requests when an hmac interceptor sets none.
	ClientID string
	Logger   *slog.Logger
}

func slogf(l *slog.Logger, server string) transports.Logf {
	return func(format string, args ...interface{}) {
		l.Debug(fmt.Sprintf(format, args...), slog.String("server", server))
	}
}

// NewTransport builds the transport described by sc.
func NewTransport(ctx context.Context, sc ServerConfig, opts TransportOptions) (transports.Transport, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	logf := slogf(opts.Logger, sc.Name)

	switch sc.Type {
	case "", TransportHTTP:
		if sc.BaseURL == "" {
			return nil, fmt.Errorf("server %s: http transport requires baseUrl", sc.Name)
		}
		ics, _, err := buildInterceptors(sc, opts.ClientID)
		if err != nil {
			return nil, err
		}
		return httptransport.NewHttpClientTransport(sc.BaseURL,
			httptransport.WithInterceptors(ics...),
			httptransport.WithStreamReadTimeout(sc.StreamTimeout),
			httptransport.WithLogger(logf),
		)

	case TransportWebSocket:
		if sc.BaseURL == "" {
			return nil, fmt.Errorf("server %s: websocket transport requires baseUrl", sc.Name)
		}
		ics, _, err := buildInterceptors(sc, opts.ClientID)
		if err != nil {
			return nil, err
		}
		return wstransport.NewWebSocketTransport(sc.BaseURL,
			[]httptransport.Option{
				httptransport.WithInterceptors(ics...),
				httptransport.WithLogger(logf),
			},
			wstransport.WithStreamReadTimeout(sc.StreamTimeout),
			wstransport.WithLogger(logf),
		)

	case TransportGRPC:
		if sc.Host == "" || sc.Port == 0 {
			return nil, fmt.Errorf("server %s: grpc transport requires host and port", sc.Name)
		}
		ics, signer, err := buildInterceptors(sc, opts.ClientID)
		if err != nil {
			return nil, err
		}
		if len(ics) > 0 && (signer == nil || len(ics) > 1) {
			return nil, fmt.Errorf("server %s: grpc transport supports only the %s interceptor", sc.Name, InterceptorHMAC)
		}
		gopts := []grpctransport.Option{
			grpctransport.WithStreamReadTimeout(sc.StreamTimeout),
			grpctransport.WithLogger(logf),
		}
		if !sc.IsPlaintext() {
			gopts = append(gopts, grpctransport.WithTLS())
		}
		if signer != nil {
			gopts = append(gopts, grpctransport.WithSigner(signer))
		}
		return grpctransport.NewGRPCClientTransport(sc.Host, sc.Port, gopts...)

	case TransportSDK:
		// an empty name picks the only registered sdk
		tr, err := sdk.Open(ctx, sc.SDK, sc.SDKArgs)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", sc.Name, err)
		}
		return tr, nil

	default:
		return nil, fmt.Errorf("server %s: unsupported transport type %q", sc.Name, sc.Type)
	}
}

// buildInterceptors resolves the configured chain in order. The hmac signer
// is also returned on its own for transports that sign outside net/http.
func buildInterceptors(sc ServerConfig, clientID string) ([]httptransport.Interceptor, *signing.Signer, error) {
	var (
		out    []httptransport.Interceptor
		signer *signing.Signer
	)
	for _, ic := range sc.Interceptors {
		switch ic.Name {
		case InterceptorHMAC:
			secret := cast.ToString(ic.Args["secret"])
			if secret == "" {
				return nil, nil, fmt.Errorf("server %s: hmac interceptor requires a secret", sc.Name)
			}
			id := cast.ToString(ic.Args["clientId"])
			if id == "" {
				id = clientID
			}
			signer = signing.NewSigner(id, []byte(secret))
			out = append(out, signer)
		case InterceptorTrace:
			out = append(out, tracing.Interceptor{})
		case InterceptorHeaders:
			out = append(out, httptransport.HeadersInterceptor(cast.ToStringMapString(ic.Args)))
		default:
			return nil, nil, fmt.Errorf("server %s: unknown interceptor %q", sc.Name, ic.Name)
		}
	}
	return out, signer, nil
}
