// Package logctx enriches slog records with invocation data carried on the
// context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends context groups to each
// record.
type Handler struct {
	slog.Handler
}

// New returns a logger whose records carry context groups.
func New(h slog.Handler) *slog.Logger {
	return slog.New(Handler{Handler: h})
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("client_id", rd.ClientID),
		))
	}

	if cd, ok := ctx.Value(callDataKey{}).(*CallData); ok {
		r.AddAttrs(slog.Group("call",
			slog.String("tool", cd.Tool),
			slog.String("request_id", cd.RequestID),
			slog.String("trace_id", cd.TraceID),
		))
	}

	if rt, ok := ctx.Value(routeDataKey{}).(*RouteData); ok {
		r.AddAttrs(slog.Group("route",
			slog.String("name", rt.Route),
			slog.String("server", rt.Server),
			slog.String("correlation_id", rt.CorrelationID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

type RequestData struct {
	Method     string
	Path       string
	RemoteAddr string
	ClientID   string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type callDataKey struct{}

type CallData struct {
	Tool      string
	RequestID string
	TraceID   string
}

func WithCallData(ctx context.Context, data *CallData) context.Context {
	return context.WithValue(ctx, callDataKey{}, data)
}

type routeDataKey struct{}

type RouteData struct {
	Route         string
	Server        string
	CorrelationID string
}

func WithRouteData(ctx context.Context, data *RouteData) context.Context {
	return context.WithValue(ctx, routeDataKey{}, data)
}
