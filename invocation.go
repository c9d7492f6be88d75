package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/universal-tool-calling-protocol/go-mcp/internal/logctx"
	"github.com/universal-tool-calling-protocol/go-mcp/src/async"
	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/tracing"
)

const (
	DefaultSamples              = 1
	DefaultMaxElicitationRounds = 3
)

// ErrNoSamples is returned by Invoke when sampling produced nothing.
var ErrNoSamples = errors.New("invocation produced no samples")

// ElicitationStrategy refines a payload after a clarify response. Returning
// nil, or a payload equal to the current one, ends the loop.
type ElicitationStrategy interface {
	Refine(ctx context.Context, payload any, resp protocol.StdResponse[json.RawMessage], ictx protocol.Context) (any, error)
}

type ElicitationFunc func(ctx context.Context, payload any, resp protocol.StdResponse[json.RawMessage], ictx protocol.Context) (any, error)

func (f ElicitationFunc) Refine(ctx context.Context, payload any, resp protocol.StdResponse[json.RawMessage], ictx protocol.Context) (any, error) {
	return f(ctx, payload, resp, ictx)
}

// Options tunes a single invocation. Zero values mean defaults; Samples and
// MaxElicitationRounds below 1 are raised to 1.
type Options struct {
	Samples              int
	MaxElicitationRounds int
	Elicitation          ElicitationStrategy
	Logger               InvocationLogger
	Progress             ProgressListener

	Locale      string
	Metadata    map[string]string
	Attachments map[string]string
}

func DefaultOptions() Options {
	return Options{Samples: DefaultSamples, MaxElicitationRounds: DefaultMaxElicitationRounds}
}

func (o Options) normalized() Options {
	if o.Samples == 0 {
		o.Samples = DefaultSamples
	}
	if o.MaxElicitationRounds == 0 {
		o.MaxElicitationRounds = DefaultMaxElicitationRounds
	}
	if o.Samples < 1 {
		o.Samples = 1
	}
	if o.MaxElicitationRounds < 1 {
		o.MaxElicitationRounds = 1
	}
	return o
}

// SamplingResult holds one response per sample, in sample order.
type SamplingResult[T any] struct {
	Samples []protocol.StdResponse[T]
}

// Primary returns the first sample.
func (r SamplingResult[T]) Primary() (protocol.StdResponse[T], bool) {
	if len(r.Samples) == 0 {
		return protocol.StdResponse[T]{}, false
	}
	return r.Samples[0], true
}

func (r SamplingResult[T]) Len() int { return len(r.Samples) }

// Invoke calls tool once with default options and returns the primary sample.
func Invoke[T any](ctx context.Context, c *Client, tool string, payload any) (protocol.StdResponse[T], error) {
	res, err := InvokeWithOptions[T](ctx, c, tool, payload, DefaultOptions())
	if err != nil {
		return protocol.StdResponse[T]{}, err
	}
	primary, ok := res.Primary()
	if !ok {
		return protocol.StdResponse[T]{}, ErrNoSamples
	}
	return primary, nil
}

// InvokeWithOptions runs opts.Samples attempts one after another. Error and
// clarify statuses are returned as samples; a transport failure aborts the
// whole call.
func InvokeWithOptions[T any](ctx context.Context, c *Client, tool string, payload any, opts Options) (SamplingResult[T], error) {
	opts = opts.normalized()
	raw, err := repeat(opts.Samples, func(int) (protocol.StdResponse[json.RawMessage], error) {
		return c.elicit(ctx, tool, payload, opts)
	})
	if err != nil {
		return SamplingResult[T]{}, err
	}
	out := make([]protocol.StdResponse[T], 0, len(raw))
	for _, r := range raw {
		typed, err := protocol.ConvertResponse[T](r)
		if err != nil {
			if r.IsSuccess() {
				return SamplingResult[T]{}, fmt.Errorf("%s: %w", tool, err)
			}
			// non-success data is advisory; keep the status and message
			typed = protocol.StdResponse[T]{Status: r.Status, Code: r.Code, Message: r.Message}
		}
		out = append(out, typed)
	}
	return SamplingResult[T]{Samples: out}, nil
}

// InvokeAsync runs InvokeWithOptions on the client's executor.
func InvokeAsync[T any](ctx context.Context, c *Client, tool string, payload any, opts Options) *async.Future[SamplingResult[T]] {
	return async.Run(c.executor, func() (SamplingResult[T], error) {
		return InvokeWithOptions[T](ctx, c, tool, payload, opts)
	})
}

// repeat calls fn n times in order and stops at the first error.
func repeat[R any](n int, fn func(i int) (R, error)) ([]R, error) {
	out := make([]R, 0, n)
	for i := 0; i < n; i++ {
		r, err := fn(i)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

type elicitationState struct {
	payload any
	round   int
	last    protocol.StdResponse[json.RawMessage]
	ictx    protocol.Context
}

type stepKind int

const (
	stepDone stepKind = iota
	stepContinue
)

type step struct {
	kind     stepKind
	response protocol.StdResponse[json.RawMessage]
	payload  any
}

func done(r protocol.StdResponse[json.RawMessage]) step { return step{kind: stepDone, response: r} }
func next(p any) step                                  { return step{kind: stepContinue, payload: p} }

// advance decides what follows the response held in st.
func advance(ctx context.Context, st elicitationState, opts Options) (step, error) {
	if !st.last.IsClarify() || opts.Elicitation == nil || st.round >= opts.MaxElicitationRounds {
		return done(st.last), nil
	}
	refined, err := opts.Elicitation.Refine(ctx, st.payload, st.last, st.ictx)
	if err != nil {
		return step{}, fmt.Errorf("refine payload: %w", err)
	}
	if refined == nil || json.Equal(refined, st.payload) {
		return done(st.last), nil
	}
	return next(refined), nil
}

// elicit runs one sample: send, and while the server asks for
// clarification, refine and resend.
func (c *Client) elicit(ctx context.Context, tool string, payload any, opts Options) (protocol.StdResponse[json.RawMessage], error) {
	st := elicitationState{payload: payload}
	for {
		st.round++
		resp, ictx, err := c.attempt(ctx, tool, st.payload, opts)
		if err != nil {
			return protocol.StdResponse[json.RawMessage]{}, err
		}
		st.last, st.ictx = resp, ictx

		s, err := advance(ctx, st, opts)
		if err != nil {
			return protocol.StdResponse[json.RawMessage]{}, err
		}
		if s.kind == stepDone {
			return s.response, nil
		}
		st.payload = s.payload
	}
}

func (c *Client) newContext(ctx context.Context, opts Options) protocol.Context {
	traceID := tracing.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	locale := opts.Locale
	if locale == "" {
		locale = c.locale
	}
	ictx := protocol.Context{
		ClientID:  c.clientID,
		RequestID: uuid.NewString(),
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
		Locale:    locale,
	}
	if len(opts.Metadata) > 0 {
		ictx.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			ictx.Metadata[k] = v
		}
	}
	return ictx
}

// attempt sends one envelope with a fresh request id.
func (c *Client) attempt(ctx context.Context, tool string, payload any, opts Options) (protocol.StdResponse[json.RawMessage], protocol.Context, error) {
	ictx := c.newContext(ctx, opts)
	req := protocol.RequestEnvelope{
		Tool:        tool,
		Context:     ictx,
		Payload:     payload,
		Attachments: opts.Attachments,
	}
	ctx = tracing.WithTraceID(ctx, ictx.TraceID)
	ctx = logctx.WithCallData(ctx, &logctx.CallData{Tool: tool, RequestID: ictx.RequestID, TraceID: ictx.TraceID})

	if opts.Progress != nil {
		sub := c.hub.Register(FilterByRequestID(ictx.RequestID, opts.Progress))
		defer sub.Release()
	}

	loggers := c.loggersFor(opts)
	loggers.request(ctx, req)

	fail := func(err error) (protocol.StdResponse[json.RawMessage], protocol.Context, error) {
		loggers.failure(ctx, req, err)
		return protocol.StdResponse[json.RawMessage]{}, ictx, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Errorf("encode %s request: %w", tool, err))
	}
	start := time.Now()
	raw, err := c.transport.PostJSON(ctx, c.Paths().Invoke, body)
	if err != nil {
		return fail(fmt.Errorf("invoke %s: %w", tool, err))
	}
	env, err := protocol.DecodeResponseEnvelope(raw)
	if err != nil {
		return fail(fmt.Errorf("decode %s response: %w", tool, err))
	}
	loggers.response(ctx, req, env.Response, time.Since(start))
	return env.Response, ictx, nil
}
