// Package server serves tools over the MCP endpoints: session handshake,
// discovery, signed invocation, governance audit and the push-event stream.
// The same handler backs HTTP, WebSocket and gRPC listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/universal-tool-calling-protocol/go-mcp/internal/logctx"
	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/signing"
	"github.com/universal-tool-calling-protocol/go-mcp/src/tracing"
)

const (
	DefaultName              = "demo-mcp-server"
	DefaultVersion           = "1.0.0"
	DefaultSessionTTL        = time.Hour
	DefaultHeartbeatInterval = 30 * time.Second
)

// Stream event names published by the server.
const (
	EventHeartbeat = "heartbeat"
	EventProgress  = "progress"
)

// Progress stages carried in progress event data.
const (
	StageStarted   = "started"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// Options configures a Server. Zero values select defaults.
type Options struct {
	Name    string
	Version string
	// Paths are served and advertised in the session response.
	Paths protocol.ProtocolDescriptor
	// Secret enables HMAC verification on the invoke endpoint.
	Secret    []byte
	Tolerance time.Duration
	Audit     AuditStore
	// Interceptors run in order around every tool call.
	Interceptors []Interceptor
	SessionTTL   time.Duration
	// HeartbeatInterval repeats the heartbeat on open streams. Negative
	// disables repeats; the connect heartbeat is always sent.
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

type Server struct {
	name, version string
	paths         protocol.ProtocolDescriptor
	tools         *ToolRegistry
	audit         AuditStore
	interceptors  []Interceptor
	verifier      *signing.Verifier
	events        *Broker
	sessionTTL    time.Duration
	heartbeat     time.Duration
	log           *slog.Logger
	now           func() time.Time
}

func New(tools *ToolRegistry, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if tools == nil {
		tools, _ = NewToolRegistry()
	}
	s := &Server{
		name:         opts.Name,
		version:      opts.Version,
		paths:        protocol.DefaultProtocol().Merge(&opts.Paths),
		tools:        tools,
		audit:        opts.Audit,
		interceptors: opts.Interceptors,
		events:       NewBroker(log),
		sessionTTL:   opts.SessionTTL,
		heartbeat:    opts.HeartbeatInterval,
		log:          log,
		now:          time.Now,
	}
	if s.name == "" {
		s.name = DefaultName
	}
	if s.version == "" {
		s.version = DefaultVersion
	}
	if s.audit == nil {
		s.audit = NewMemoryAuditStore(0)
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.heartbeat == 0 {
		s.heartbeat = DefaultHeartbeatInterval
	}
	if len(opts.Secret) > 0 {
		s.verifier = signing.NewVerifier(opts.Secret)
		if opts.Tolerance > 0 {
			s.verifier.Tolerance = opts.Tolerance
		}
	}
	return s
}

func (s *Server) Tools() *ToolRegistry               { return s.tools }
func (s *Server) Events() *Broker                    { return s.events }
func (s *Server) Paths() protocol.ProtocolDescriptor { return s.paths }

// Handler returns the HTTP surface of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	var invoke http.Handler = http.HandlerFunc(s.handleInvoke)
	if s.verifier != nil {
		invoke = signing.Middleware(s.verifier, s.log)(invoke)
	}
	mux.Handle("POST "+s.paths.Invoke, invoke)
	mux.HandleFunc("POST "+s.paths.Session, s.handleSession)
	mux.HandleFunc("GET "+s.paths.Discovery, s.handleTools)
	mux.HandleFunc("GET "+s.paths.Governance, s.handleAudit)
	mux.HandleFunc("GET "+s.paths.Governance+"/{requestId}", s.handleAudit)
	mux.HandleFunc("GET "+s.paths.Stream, s.handleStream)

	return tracing.Middleware(s.withRequestData(mux))
}

func (s *Server) withRequestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			ClientID:   r.Header.Get(signing.HeaderClientID),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.SessionOpenRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Error[any](protocol.CodeInvalidRequest, "malformed session request"))
		return
	}
	resp := protocol.SessionOpenResponse{
		SessionID:     uuid.NewString(),
		ServerName:    s.name,
		ServerVersion: s.version,
		ExpiresAt:     s.now().UTC().Add(s.sessionTTL),
		Tools:         s.tools.Descriptors(),
		Protocol:      &s.paths,
	}
	s.log.InfoContext(r.Context(), "session opened",
		slog.String("session_id", resp.SessionID),
		slog.String("client_id", req.ClientID),
		slog.String("client_version", req.ClientVersion),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.Success(protocol.CodeTools, "tools discovered", s.tools.Descriptors()))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.audit.Find(r.Context(), r.PathValue("requestId"))
	if err != nil {
		s.log.ErrorContext(r.Context(), "audit lookup failed", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, protocol.Error[any](protocol.CodeInternalError, "Failed to read audit records"))
		return
	}
	writeJSON(w, http.StatusOK, protocol.Success(protocol.CodeAudit, "governance audit", protocol.GovernanceReport{Events: records}))
}

type invokeRequest struct {
	Tool        string            `json:"tool"`
	Context     *protocol.Context `json:"context"`
	Payload     json.RawMessage   `json:"payload"`
	Attachments map[string]string `json:"attachments,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Error[any](protocol.CodeInvalidRequest, "malformed request envelope"))
		return
	}
	ictx := s.fillContext(r, req.Context)
	ctx := logctx.WithCallData(r.Context(), &logctx.CallData{Tool: req.Tool, RequestID: ictx.RequestID, TraceID: ictx.TraceID})

	tool, ok := s.tools.Find(req.Tool)
	if !ok {
		s.log.WarnContext(ctx, "invocation of unknown tool")
		writeJSON(w, http.StatusBadRequest, protocol.Error[any](protocol.CodeInvalidRequest, "Unknown tool: "+req.Tool))
		return
	}

	call := &Call{Tool: req.Tool, Context: &ictx, Payload: req.Payload}
	for _, ic := range s.interceptors {
		if err := ic.Before(ctx, call); err != nil {
			var rej *RejectError
			if !errors.As(err, &rej) {
				rej = &RejectError{Status: http.StatusForbidden, Code: protocol.CodeAccessDenied, Message: err.Error()}
			}
			s.log.WarnContext(ctx, "invocation rejected", slog.String("code", rej.Code))
			s.record(ctx, ictx, req.Tool, protocol.StatusError, 0)
			writeJSON(w, rej.Status, protocol.Error[any](rej.Code, rej.Message))
			return
		}
	}

	s.publishProgress(req.Tool, ictx.RequestID, StageStarted)
	start := s.now()
	resp, err := s.run(ctx, tool, &ictx, req.Payload)
	elapsed := s.now().Sub(start)

	if err != nil {
		for _, ic := range s.interceptors {
			ic.OnError(ctx, call, err)
		}
		s.publishProgress(req.Tool, ictx.RequestID, StageFailed)
		s.record(ctx, ictx, req.Tool, protocol.StatusError, elapsed.Milliseconds())
		if errors.Is(err, ErrInvalidPayload) {
			s.log.WarnContext(ctx, "invalid payload", slog.String("err", err.Error()))
			writeJSON(w, http.StatusBadRequest, protocol.Error[any](protocol.CodeInvalidRequest, err.Error()))
			return
		}
		s.log.ErrorContext(ctx, "tool invocation failed", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, protocol.Error[any](protocol.CodeInternalError, "Failed to invoke tool"))
		return
	}

	for _, ic := range s.interceptors {
		ic.After(ctx, call, resp)
	}
	accountUsage(&ictx, req.Payload, resp.Data, elapsed)

	env := protocol.ResponseEnvelope[any]{Tool: req.Tool, Context: ictx, Response: resp}
	if cb, ok := tool.(CardBuilder); ok {
		env.UiCard = cb.Card(resp, ictx)
	}
	s.record(ctx, ictx, req.Tool, resp.Status, ictx.Usage.LatencyMs)
	s.log.InfoContext(ctx, "tool invoked",
		slog.String("status", resp.Status),
		slog.String("code", resp.Code),
		slog.Int64("latency_ms", ictx.Usage.LatencyMs),
	)
	s.publishProgress(req.Tool, ictx.RequestID, StageCompleted)
	writeJSON(w, http.StatusOK, env)
}

// run calls the tool, turning a panic into an error.
func (s *Server) run(ctx context.Context, tool Tool, ictx *protocol.Context, payload json.RawMessage) (resp protocol.StdResponse[any], err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return tool.Handle(ctx, ictx, payload)
}

// fillContext copies the request context and fills in the request id,
// timestamp, client id and trace id when absent.
func (s *Server) fillContext(r *http.Request, in *protocol.Context) protocol.Context {
	var ictx protocol.Context
	if in != nil {
		ictx = in.Clone()
	}
	if ictx.RequestID == "" {
		ictx.RequestID = uuid.NewString()
	}
	if ictx.Timestamp.IsZero() {
		ictx.Timestamp = s.now().UTC()
	}
	if ictx.ClientID == "" {
		ictx.ClientID = r.Header.Get(signing.HeaderClientID)
	}
	if ictx.TraceID == "" {
		ictx.TraceID = tracing.TraceIDFromContext(r.Context())
	}
	return ictx
}

func (s *Server) record(ctx context.Context, ictx protocol.Context, tool, status string, latencyMs int64) {
	rec := protocol.InvocationAuditRecord{
		RequestID:  ictx.RequestID,
		ClientID:   ictx.ClientID,
		Tool:       tool,
		Status:     status,
		OccurredAt: s.now().UTC(),
		LatencyMs:  latencyMs,
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.log.ErrorContext(ctx, "failed to record audit", slog.String("err", err.Error()))
	}
}

func (s *Server) publishProgress(tool, requestID, stage string) {
	s.events.Publish(protocol.StreamEventEnvelope{
		Tool:      tool,
		Event:     EventProgress,
		EmittedAt: s.now().UTC(),
		Response: protocol.Success(protocol.CodeProgress, "invocation "+stage, map[string]any{
			"requestId": requestID,
			"stage":     stage,
		}),
	})
}

// accountUsage fills latency and token estimates the tool did not report.
func accountUsage(ictx *protocol.Context, payload json.RawMessage, data any, elapsed time.Duration) {
	if ictx.Usage.LatencyMs == 0 {
		ictx.Usage.LatencyMs = elapsed.Milliseconds()
	}
	if ictx.Usage.InputTokens == 0 {
		ictx.Usage.InputTokens = estimateTokens(payload)
	}
	if ictx.Usage.OutputTokens == 0 && data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ictx.Usage.OutputTokens = estimateTokens(raw)
		}
	}
}

// estimateTokens approximates four bytes per token.
func estimateTokens(b []byte) int64 {
	if len(b) == 0 || string(b) == "null" {
		return 0
	}
	return int64((len(b) + 3) / 4)
}

// decodeOptional decodes r into v, accepting an empty body.
func decodeOptional(r io.Reader, v any) error {
	if r == nil {
		return nil
	}
	err := json.NewDecoder(r).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
