// Package routing drives tool invocations through event bus traffic.
//
// A Dispatcher listens on <route>.request and answers on <route>.response
// or <route>.error. A Client publishes requests and matches the answers by
// correlation id.
package routing

import (
	"context"
	"fmt"
	"sync"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// RouteConfig binds a route name to a tool on a server.
type RouteConfig struct {
	Name          string `yaml:"name" json:"name"`
	Server        string `yaml:"server,omitempty" json:"server,omitempty"`
	Tool          string `yaml:"tool" json:"tool"`
	RequestType   string `yaml:"requestType,omitempty" json:"requestType,omitempty"`
	ResponseType  string `yaml:"responseType,omitempty" json:"responseType,omitempty"`
	RequestEvent  string `yaml:"requestEvent,omitempty" json:"requestEvent,omitempty"`
	ResponseEvent string `yaml:"responseEvent,omitempty" json:"responseEvent,omitempty"`
	ErrorEvent    string `yaml:"errorEvent,omitempty" json:"errorEvent,omitempty"`
}

// WithDefaults fills unset event names from the route name.
func (r RouteConfig) WithDefaults() RouteConfig {
	if r.RequestEvent == "" {
		r.RequestEvent = r.Name + ".request"
	}
	if r.ResponseEvent == "" {
		r.ResponseEvent = r.Name + ".response"
	}
	if r.ErrorEvent == "" {
		r.ErrorEvent = r.Name + ".error"
	}
	return r
}

func indexRoutes(routes []RouteConfig) (map[string]RouteConfig, []string, error) {
	byName := make(map[string]RouteConfig, len(routes))
	order := make([]string, 0, len(routes))
	for _, r := range routes {
		if r.Name == "" {
			return nil, nil, fmt.Errorf("route without a name (tool %q)", r.Tool)
		}
		if _, dup := byName[r.Name]; dup {
			return nil, nil, fmt.Errorf("route %s configured twice", r.Name)
		}
		byName[r.Name] = r.WithDefaults()
		order = append(order, r.Name)
	}
	return byName, order, nil
}

// Invoker performs a single tool call on one server.
type Invoker interface {
	Invoke(ctx context.Context, tool string, payload any) (protocol.StdResponse[any], error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, tool string, payload any) (protocol.StdResponse[any], error)

func (f InvokerFunc) Invoke(ctx context.Context, tool string, payload any) (protocol.StdResponse[any], error) {
	return f(ctx, tool, payload)
}

// Resolver maps server names to invokers.
type Resolver interface {
	Invoker(server string) (Invoker, error)
}

// Types maps type hint names to constructors. A dispatcher refuses to start
// routes whose hints are not registered; routes without hints carry payloads
// unchanged.
type Types struct {
	mu    sync.RWMutex
	ctors map[string]func() any
}

func NewTypes() *Types {
	return &Types{ctors: make(map[string]func() any)}
}

// Register binds name to ctor, which must return a pointer.
func (t *Types) Register(name string, ctor func() any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctors[name] = ctor
}

// RegisterType binds name to *T.
func RegisterType[T any](t *Types, name string) {
	t.Register(name, func() any { return new(T) })
}

func (t *Types) Known(name string) bool {
	if t == nil || name == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ctors[name]
	return ok
}

// Convert re-types v as name. The result is a pointer to the registered type.
func (t *Types) Convert(name string, v any) (any, error) {
	if t == nil || name == "" {
		return v, nil
	}
	t.mu.RLock()
	ctor, ok := t.ctors[name]
	t.mu.RUnlock()
	if !ok {
		return v, nil
	}
	dst := ctor()
	if err := json.ConvertInto(v, dst); err != nil {
		return nil, fmt.Errorf("convert payload to %s: %w", name, err)
	}
	return dst, nil
}
