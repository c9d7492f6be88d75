package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/universal-tool-calling-protocol/go-mcp/src/async"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/routing"
)

// Registry holds one Client per configured server.
type Registry struct {
	clients map[string]*Client
	order   []string
}

var _ routing.Resolver = (*Registry)(nil)

// NewRegistry builds a transport and client for every server in cfg. Any
// failure closes what was already built.
func NewRegistry(ctx context.Context, cfg *ClientConfig, logger *slog.Logger, executor async.Executor) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{clients: make(map[string]*Client, len(cfg.Servers))}
	for _, sc := range cfg.Servers {
		tr, err := NewTransport(ctx, sc, TransportOptions{ClientID: cfg.ClientID, Logger: logger})
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		opts := []ClientOption{
			WithClientID(cfg.ClientID),
			WithLogger(logger.With(slog.String("server", sc.Name))),
		}
		if executor != nil {
			opts = append(opts, WithExecutor(executor))
		}
		c, err := NewClient(tr, opts...)
		if err != nil {
			_ = tr.Close()
			_ = r.Close()
			return nil, err
		}
		r.clients[sc.Name] = c
		r.order = append(r.order, sc.Name)
	}
	return r, nil
}

// Client returns the client for server.
func (r *Registry) Client(server string) (*Client, error) {
	c, ok := r.clients[server]
	if !ok {
		return nil, fmt.Errorf("unknown MCP server: %s", server)
	}
	return c, nil
}

// Names lists servers in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Invoker adapts the server's client for the route dispatcher.
func (r *Registry) Invoker(server string) (routing.Invoker, error) {
	c, err := r.Client(server)
	if err != nil {
		return nil, err
	}
	return routing.InvokerFunc(func(ctx context.Context, tool string, payload any) (protocol.StdResponse[any], error) {
		return Invoke[any](ctx, c, tool, payload)
	}), nil
}

func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.order {
		if err := r.clients[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
