package signing

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// Rejection describes why a request was refused.
type Rejection struct {
	Status  int
	Code    string
	Message string
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

func reject(code, message string) *Rejection {
	return &Rejection{Status: http.StatusUnauthorized, Code: code, Message: message}
}

// Verifier checks signature headers against a shared secret.
type Verifier struct {
	Secret    []byte
	Tolerance time.Duration
	Now       func() time.Time
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{Secret: secret, Tolerance: DefaultTolerance, Now: time.Now}
}

// Verify returns nil when the headers carry a valid signature for body.
func (v *Verifier) Verify(h http.Header, body []byte) *Rejection {
	clientID := h.Get(HeaderClientID)
	ts := h.Get(HeaderTimestamp)
	sig := h.Get(HeaderSignature)
	if clientID == "" || ts == "" || sig == "" {
		return reject(protocol.CodeMissingHeaders, "Missing HMAC authentication headers")
	}
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return reject(protocol.CodeInvalidTime, "Timestamp header must be epoch milliseconds")
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	nowMs, tolMs := now().UnixMilli(), tolerance.Milliseconds()
	if millis < nowMs-tolMs || millis > nowMs+tolMs {
		return reject(protocol.CodeTimestampDrift, "Request timestamp outside tolerance")
	}
	if !constantTimeEqual(Sign(v.Secret, ts, body), sig) {
		return reject(protocol.CodeInvalidSig, "Signature verification failed")
	}
	return nil
}

// Middleware verifies signed requests. The body is read once, verified, and
// replayed to next.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rej := func() (rej *Rejection) {
				defer func() {
					if p := recover(); p != nil {
						logger.ErrorContext(r.Context(), "signature verification panicked", slog.Any("panic", p))
						rej = &Rejection{Status: http.StatusInternalServerError, Code: protocol.CodeHMACError, Message: "Failed to verify signature"}
					}
				}()
				body, err := readBody(r)
				if err != nil {
					logger.ErrorContext(r.Context(), "failed to buffer request body", slog.String("err", err.Error()))
					return &Rejection{Status: http.StatusInternalServerError, Code: protocol.CodeHMACError, Message: "Failed to verify signature"}
				}
				return v.Verify(r.Header, body)
			}()
			if rej != nil {
				logger.WarnContext(r.Context(), "rejected unsigned request",
					slog.String("code", rej.Code),
					slog.String("client_id", r.Header.Get(HeaderClientID)),
				)
				WriteRejection(w, rej)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// readBody buffers r.Body and installs a replayable copy.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		r.Body = http.NoBody
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	return body, nil
}

// WriteRejection writes rej as a StdResponse error body.
func WriteRejection(w http.ResponseWriter, rej *Rejection) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	_ = json.NewEncoder(w).Encode(protocol.Error[any](rej.Code, rej.Message))
}
