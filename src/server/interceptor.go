package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// Call is one invocation as seen by interceptors. Context is the request
// context after defaults were filled in.
type Call struct {
	Tool    string
	Context *protocol.Context
	Payload json.RawMessage
}

// Interceptor observes every invocation. Before may stop a call by returning
// an error; a *RejectError chooses the HTTP status and code.
type Interceptor interface {
	Before(ctx context.Context, call *Call) error
	After(ctx context.Context, call *Call, resp protocol.StdResponse[any])
	OnError(ctx context.Context, call *Call, err error)
}

// InterceptorFuncs implements Interceptor from optional funcs.
type InterceptorFuncs struct {
	BeforeFunc func(ctx context.Context, call *Call) error
	AfterFunc  func(ctx context.Context, call *Call, resp protocol.StdResponse[any])
	ErrorFunc  func(ctx context.Context, call *Call, err error)
}

func (f InterceptorFuncs) Before(ctx context.Context, call *Call) error {
	if f.BeforeFunc == nil {
		return nil
	}
	return f.BeforeFunc(ctx, call)
}

func (f InterceptorFuncs) After(ctx context.Context, call *Call, resp protocol.StdResponse[any]) {
	if f.AfterFunc != nil {
		f.AfterFunc(ctx, call, resp)
	}
}

func (f InterceptorFuncs) OnError(ctx context.Context, call *Call, err error) {
	if f.ErrorFunc != nil {
		f.ErrorFunc(ctx, call, err)
	}
}

// RejectError refuses a call before it reaches the tool.
type RejectError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectError) Error() string { return e.Code + ": " + e.Message }

// RateLimitInterceptor allows each client at most perMinute calls per minute,
// refilled continuously.
type RateLimitInterceptor struct {
	InterceptorFuncs

	perMinute int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
}

func NewRateLimitInterceptor(perMinute int) (*RateLimitInterceptor, error) {
	if perMinute <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", perMinute)
	}
	return &RateLimitInterceptor{perMinute: perMinute, limiters: make(map[string]*rate.Limiter)}, nil
}

func (r *RateLimitInterceptor) limiter(clientID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMinute)), r.perMinute)
		r.limiters[clientID] = l
	}
	return l
}

func (r *RateLimitInterceptor) Before(_ context.Context, call *Call) error {
	id := call.Context.ClientID
	if !r.limiter(id).Allow() {
		return &RejectError{
			Status:  http.StatusTooManyRequests,
			Code:    protocol.CodeRateLimited,
			Message: fmt.Sprintf("client %q exceeded %d calls per minute", id, r.perMinute),
		}
	}
	return nil
}

// AccessInterceptor enforces client allow and deny lists. An empty allow
// list admits every client not denied.
type AccessInterceptor struct {
	InterceptorFuncs

	allow map[string]bool
	deny  map[string]bool
}

func NewAccessInterceptor(allow, deny []string) *AccessInterceptor {
	a := &AccessInterceptor{allow: make(map[string]bool), deny: make(map[string]bool)}
	for _, id := range allow {
		a.allow[id] = true
	}
	for _, id := range deny {
		a.deny[id] = true
	}
	return a
}

func (a *AccessInterceptor) Before(_ context.Context, call *Call) error {
	id := call.Context.ClientID
	if a.deny[id] || (len(a.allow) > 0 && !a.allow[id]) {
		return &RejectError{
			Status:  http.StatusForbidden,
			Code:    protocol.CodeAccessDenied,
			Message: fmt.Sprintf("client %q may not invoke %s", id, call.Tool),
		}
	}
	return nil
}
