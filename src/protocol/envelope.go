package protocol

import (
	"errors"
	"strings"
	"time"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
)

// Usage records token and latency accounting attached by the server.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	LatencyMs    int64 `json:"latencyMs"`
}

// Context travels with every request. It is treated as immutable once sent.
type Context struct {
	ClientID  string            `json:"clientId,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	TraceID   string            `json:"traceId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Locale    string            `json:"locale,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Usage     Usage             `json:"usage"`
}

// Clone returns a deep copy so callers may mutate the result.
func (c Context) Clone() Context {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

type RequestEnvelope struct {
	Tool        string            `json:"tool"`
	Context     Context           `json:"context"`
	Payload     any               `json:"payload,omitempty"`
	Attachments map[string]string `json:"attachments,omitempty"`
}

type UiCard struct {
	Title    string            `json:"title,omitempty"`
	Subtitle string            `json:"subtitle,omitempty"`
	Body     string            `json:"body,omitempty"`
	Actions  map[string]string `json:"actions,omitempty"`
}

// ResponseEnvelope is the one shape returned by the invoke endpoint.
type ResponseEnvelope[T any] struct {
	Tool     string         `json:"tool"`
	Context  Context        `json:"context"`
	Response StdResponse[T] `json:"response"`
	UiCard   *UiCard        `json:"uiCard,omitempty"`
}

// StreamEventEnvelope is one event on the push stream.
type StreamEventEnvelope struct {
	Tool      string                      `json:"tool,omitempty"`
	Event     string                      `json:"event"`
	EmittedAt time.Time                   `json:"emittedAt"`
	Response  StdResponse[map[string]any] `json:"response"`
}

// RequestID extracts response.data.requestId, or "" when absent.
func (e StreamEventEnvelope) RequestID() string {
	if e.Response.Data == nil {
		return ""
	}
	id, _ := e.Response.Data["requestId"].(string)
	return id
}

// ParseStreamEvent decodes a single stream line. An SSE "data:" field
// prefix is accepted.
func ParseStreamEvent(line string) (StreamEventEnvelope, error) {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		line = strings.TrimSpace(rest)
	}
	var ev StreamEventEnvelope
	err := json.Unmarshal([]byte(line), &ev)
	return ev, err
}

var errMissingResponse = errors.New("response envelope has no response status")

// DecodeResponseEnvelope decodes the invoke endpoint's body.
func DecodeResponseEnvelope(body []byte) (ResponseEnvelope[json.RawMessage], error) {
	var env ResponseEnvelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, err
	}
	if env.Response.Status == "" {
		return env, errMissingResponse
	}
	return env, nil
}
