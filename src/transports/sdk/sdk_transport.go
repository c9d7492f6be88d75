// Package sdk adapts an externally supplied client library to the transport
// interface. Libraries register a named Factory; configuration selects one
// by name.
package sdk

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
)

// Client is the narrow surface an embedded SDK must expose.
type Client interface {
	PostJSON(ctx context.Context, path string, body []byte) ([]byte, error)
	// GetSSE blocks, calling onEvent for each event line, until the stream
	// ends or ctx is cancelled.
	GetSSE(ctx context.Context, path string, onEvent func(line string)) error
}

// JSONGetter is implemented by clients with a native GET.
type JSONGetter interface {
	GetJSON(ctx context.Context, path string) ([]byte, error)
}

// Factory builds a Client from free-form configuration arguments.
type Factory func(ctx context.Context, args map[string]any) (Client, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a factory available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(name)] = f
}

// Registered lists registered factory names in sorted order.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open builds the transport for the named factory. An empty name selects
// the only registered factory and fails when there is not exactly one.
func Open(ctx context.Context, name string, args map[string]any) (*SDKTransport, error) {
	mu.RLock()
	var (
		f  Factory
		ok bool
	)
	if name == "" {
		if len(factories) == 1 {
			for n, only := range factories {
				name, f, ok = n, only, true
			}
		}
	} else {
		f, ok = factories[strings.ToLower(name)]
	}
	count := len(factories)
	mu.RUnlock()

	if !ok {
		if name == "" {
			return nil, fmt.Errorf("sdk transport: cannot autodetect client, %d factories registered", count)
		}
		return nil, fmt.Errorf("sdk transport: no client registered as %q", name)
	}
	c, err := f(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("sdk transport %s: %w", name, err)
	}
	return New(name, c), nil
}

// SDKTransport forwards calls to a Client.
type SDKTransport struct {
	name   string
	client Client
}

var _ transports.Transport = (*SDKTransport)(nil)

func New(name string, c Client) *SDKTransport {
	return &SDKTransport{name: name, client: c}
}

func (t *SDKTransport) PostJSON(ctx context.Context, path string, body []byte) ([]byte, error) {
	return t.client.PostJSON(ctx, path, body)
}

// GetJSON uses the client's native GET when present and otherwise falls
// back to a bodiless PostJSON.
func (t *SDKTransport) GetJSON(ctx context.Context, path string) ([]byte, error) {
	if g, ok := t.client.(JSONGetter); ok {
		return g.GetJSON(ctx, path)
	}
	return t.client.PostJSON(ctx, path, nil)
}

// Stream runs GetSSE on its own goroutine and exposes it as a StreamResult.
func (t *SDKTransport) Stream(ctx context.Context, path string) (transports.StreamResult, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan transports.StreamItem, 16)
	go func() {
		defer close(ch)
		err := t.client.GetSSE(streamCtx, path, func(line string) {
			if strings.TrimSpace(line) == "" {
				return
			}
			select {
			case ch <- transports.StreamItem{Line: line}:
			case <-streamCtx.Done():
			}
		})
		if err != nil && streamCtx.Err() == nil {
			select {
			case ch <- transports.StreamItem{Err: err}:
			case <-streamCtx.Done():
			}
		}
	}()
	return transports.NewChannelStreamResult(ch, func() error {
		cancel()
		return nil
	}, 0), nil
}

// Close closes the client when it implements io.Closer.
func (t *SDKTransport) Close() error {
	if c, ok := t.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
