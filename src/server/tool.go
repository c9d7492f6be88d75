package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// ErrInvalidPayload marks a payload that does not decode into the tool's
// input type. The invoke endpoint answers it with 400.
var ErrInvalidPayload = errors.New("invalid payload")

// Tool is one server-side tool.
type Tool interface {
	Descriptor() protocol.ToolDescriptor
	// Handle runs the tool. Handlers may record usage and metadata on ictx.
	Handle(ctx context.Context, ictx *protocol.Context, payload json.RawMessage) (protocol.StdResponse[any], error)
}

// CardBuilder is implemented by tools that render a UiCard for a response.
type CardBuilder interface {
	Card(resp protocol.StdResponse[any], ictx protocol.Context) *protocol.UiCard
}

// HandlerFunc is the typed body of a tool.
type HandlerFunc[I, O any] func(ctx context.Context, ictx *protocol.Context, in I) (protocol.StdResponse[O], error)

// CardFunc renders a UiCard, or returns nil for none.
type CardFunc func(resp protocol.StdResponse[any], ictx protocol.Context) *protocol.UiCard

type toolOptions struct {
	title        string
	description  string
	capabilities []string
	card         CardFunc
}

type ToolOption func(*toolOptions)

func WithTitle(title string) ToolOption { return func(o *toolOptions) { o.title = title } }

func WithDescription(d string) ToolOption { return func(o *toolOptions) { o.description = d } }

func WithCapabilities(tags ...string) ToolOption {
	return func(o *toolOptions) { o.capabilities = append(o.capabilities, tags...) }
}

func WithCard(fn CardFunc) ToolOption { return func(o *toolOptions) { o.card = fn } }

// TypedTool adapts a HandlerFunc. Input and output schemas are reflected from
// I and O.
type TypedTool[I, O any] struct {
	desc    protocol.ToolDescriptor
	handler HandlerFunc[I, O]
	card    CardFunc
}

var _ CardBuilder = (*TypedTool[struct{}, struct{}])(nil)

// NewTool builds a TypedTool. It panics on an empty name or nil handler, as
// tools are registered at startup.
func NewTool[I, O any](name string, fn func(ctx context.Context, ictx *protocol.Context, in I) (protocol.StdResponse[O], error), opts ...ToolOption) *TypedTool[I, O] {
	if name == "" {
		panic("tool must have a name")
	}
	if fn == nil {
		panic("tool " + name + " has no handler")
	}
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &TypedTool[I, O]{
		desc: protocol.ToolDescriptor{
			Name:         name,
			Title:        o.title,
			Description:  o.description,
			InputSchema:  reflectSchema[I](),
			OutputSchema: reflectSchema[O](),
			Capabilities: o.capabilities,
		},
		handler: fn,
		card:    o.card,
	}
}

func (t *TypedTool[I, O]) Descriptor() protocol.ToolDescriptor { return t.desc }

func (t *TypedTool[I, O]) Handle(ctx context.Context, ictx *protocol.Context, payload json.RawMessage) (protocol.StdResponse[any], error) {
	var in I
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &in); err != nil {
			return protocol.StdResponse[any]{}, fmt.Errorf("%w for %s: %v", ErrInvalidPayload, t.desc.Name, err)
		}
	}
	resp, err := t.handler(ctx, ictx, in)
	if err != nil {
		return protocol.StdResponse[any]{}, err
	}
	out := protocol.StdResponse[any]{Status: resp.Status, Code: resp.Code, Message: resp.Message}
	if resp.IsSuccess() || !reflect.ValueOf(&resp.Data).Elem().IsZero() {
		out.Data = resp.Data
	}
	return out, nil
}

func (t *TypedTool[I, O]) Card(resp protocol.StdResponse[any], ictx protocol.Context) *protocol.UiCard {
	if t.card == nil {
		return nil
	}
	return t.card(resp, ictx)
}

// reflectSchema reflects T into an inline JSON schema.
func reflectSchema[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return raw
}

// ToolRegistry holds tools in registration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be unique.
func (r *ToolRegistry) Register(t Tool) error {
	name := t.Descriptor().Name
	if name == "" {
		return errors.New("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %s registered twice", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *ToolRegistry) Find(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors lists every tool in registration order.
func (r *ToolRegistry) Descriptors() []protocol.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}
