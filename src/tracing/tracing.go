// Package tracing carries a trace id through contexts and W3C traceparent
// headers.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const HeaderTraceparent = "traceparent"

type traceKey struct{}

// WithTraceID stores id on ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceIDFromContext returns the trace id stored on ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// NewTraceID returns 32 lowercase hex characters.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newSpanID() string {
	return NewTraceID()[:16]
}

// Traceparent formats a version-00 sampled traceparent value.
func Traceparent(traceID string) string {
	return fmt.Sprintf("00-%s-%s-01", traceID, newSpanID())
}

// ParseTraceparent extracts the trace id from a traceparent value.
func ParseTraceparent(v string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 4 || len(parts[1]) != 32 || len(parts[2]) != 16 {
		return "", false
	}
	if strings.Trim(parts[1], "0") == "" {
		return "", false
	}
	return parts[1], true
}

// Interceptor sets traceparent on outgoing requests whose context carries a
// trace id.
type Interceptor struct{}

func (Interceptor) Intercept(req *http.Request, _ []byte) error {
	if id := TraceIDFromContext(req.Context()); id != "" {
		req.Header.Set(HeaderTraceparent, Traceparent(id))
	}
	return nil
}

// Middleware stores the incoming trace id on the request context, minting one
// when the header is absent or malformed.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := ParseTraceparent(r.Header.Get(HeaderTraceparent))
		if !ok {
			id = NewTraceID()
		}
		w.Header().Set(HeaderTraceparent, Traceparent(id))
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), id)))
	})
}
