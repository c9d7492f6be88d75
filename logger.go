package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// Subscription is a release handle. Release is idempotent and may be called
// from inside the callback it guards.
type Subscription struct {
	once    sync.Once
	release func()
}

func newSubscription(release func()) *Subscription {
	return &Subscription{release: release}
}

func (s *Subscription) Release() {
	if s == nil || s.release == nil {
		return
	}
	s.once.Do(s.release)
}

// InvocationLogger observes every attempt made by the engine. Implementations
// must not rely on being able to influence the call: panics are recovered and
// logged.
type InvocationLogger interface {
	OnRequest(ctx context.Context, req protocol.RequestEnvelope)
	OnResponse(ctx context.Context, req protocol.RequestEnvelope, resp protocol.StdResponse[json.RawMessage], elapsed time.Duration)
	OnError(ctx context.Context, req protocol.RequestEnvelope, err error)
}

// LoggerFuncs adapts plain functions to InvocationLogger. Nil fields are
// skipped.
type LoggerFuncs struct {
	Request  func(ctx context.Context, req protocol.RequestEnvelope)
	Response func(ctx context.Context, req protocol.RequestEnvelope, resp protocol.StdResponse[json.RawMessage], elapsed time.Duration)
	Error    func(ctx context.Context, req protocol.RequestEnvelope, err error)
}

func (f LoggerFuncs) OnRequest(ctx context.Context, req protocol.RequestEnvelope) {
	if f.Request != nil {
		f.Request(ctx, req)
	}
}

func (f LoggerFuncs) OnResponse(ctx context.Context, req protocol.RequestEnvelope, resp protocol.StdResponse[json.RawMessage], elapsed time.Duration) {
	if f.Response != nil {
		f.Response(ctx, req, resp, elapsed)
	}
}

func (f LoggerFuncs) OnError(ctx context.Context, req protocol.RequestEnvelope, err error) {
	if f.Error != nil {
		f.Error(ctx, req, err)
	}
}

// SlogLogger writes attempts to a slog.Logger. Pair it with a logctx handler
// to get the call group on each record.
type SlogLogger struct {
	Log *slog.Logger
}

func (l SlogLogger) logger() *slog.Logger {
	if l.Log == nil {
		return slog.Default()
	}
	return l.Log
}

func (l SlogLogger) OnRequest(ctx context.Context, req protocol.RequestEnvelope) {
	l.logger().DebugContext(ctx, "invoking tool")
}

func (l SlogLogger) OnResponse(ctx context.Context, req protocol.RequestEnvelope, resp protocol.StdResponse[json.RawMessage], elapsed time.Duration) {
	l.logger().InfoContext(ctx, "tool responded",
		slog.String("status", resp.Status),
		slog.String("code", resp.Code),
		slog.Duration("elapsed", elapsed),
	)
}

func (l SlogLogger) OnError(ctx context.Context, req protocol.RequestEnvelope, err error) {
	l.logger().ErrorContext(ctx, "tool invocation failed", slog.Any("error", err))
}

var (
	_ InvocationLogger = LoggerFuncs{}
	_ InvocationLogger = SlogLogger{}
)

// loggerSet fans one notification out to several loggers.
type loggerSet struct {
	loggers []InvocationLogger
	log     *slog.Logger
}

func (s loggerSet) each(ctx context.Context, what string, fn func(InvocationLogger)) {
	for _, l := range s.loggers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.WarnContext(ctx, "invocation logger panicked", slog.String("callback", what), slog.Any("panic", r))
				}
			}()
			fn(l)
		}()
	}
}

func (s loggerSet) request(ctx context.Context, req protocol.RequestEnvelope) {
	s.each(ctx, "OnRequest", func(l InvocationLogger) { l.OnRequest(ctx, req) })
}

func (s loggerSet) response(ctx context.Context, req protocol.RequestEnvelope, resp protocol.StdResponse[json.RawMessage], elapsed time.Duration) {
	s.each(ctx, "OnResponse", func(l InvocationLogger) { l.OnResponse(ctx, req, resp, elapsed) })
}

func (s loggerSet) failure(ctx context.Context, req protocol.RequestEnvelope, err error) {
	s.each(ctx, "OnError", func(l InvocationLogger) { l.OnError(ctx, req, err) })
}
