package protocol

import (
	"slices"
	"time"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
)

// Default endpoint paths.
const (
	BasePath       = "/mcp"
	SessionPath    = BasePath + "/session"
	InvokePath     = BasePath + "/invoke"
	StreamPath     = BasePath + "/stream"
	ToolsPath      = BasePath + "/tools"
	GovernancePath = BasePath + "/governance/audit"
)

// ToolDescriptor describes a tool. Name is the unique key.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
}

// HasCapability reports whether tag is one of the tool's capabilities. Tags
// match exactly.
func (d ToolDescriptor) HasCapability(tag string) bool {
	return slices.Contains(d.Capabilities, tag)
}

type SessionOpenRequest struct {
	ClientID      string   `json:"clientId"`
	ClientVersion string   `json:"clientVersion,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// ProtocolDescriptor carries negotiated endpoint paths. Empty fields keep the
// client's current value.
type ProtocolDescriptor struct {
	Session    string `json:"session,omitempty"`
	Invoke     string `json:"invoke,omitempty"`
	Stream     string `json:"stream,omitempty"`
	Discovery  string `json:"discovery,omitempty"`
	Governance string `json:"governance,omitempty"`
}

// DefaultProtocol returns the default path set.
func DefaultProtocol() ProtocolDescriptor {
	return ProtocolDescriptor{
		Session:    SessionPath,
		Invoke:     InvokePath,
		Stream:     StreamPath,
		Discovery:  ToolsPath,
		Governance: GovernancePath,
	}
}

// Merge overlays the non-empty fields of o onto p.
func (p ProtocolDescriptor) Merge(o *ProtocolDescriptor) ProtocolDescriptor {
	if o == nil {
		return p
	}
	pick := func(cur, next string) string {
		if next == "" {
			return cur
		}
		return next
	}
	return ProtocolDescriptor{
		Session:    pick(p.Session, o.Session),
		Invoke:     pick(p.Invoke, o.Invoke),
		Stream:     pick(p.Stream, o.Stream),
		Discovery:  pick(p.Discovery, o.Discovery),
		Governance: pick(p.Governance, o.Governance),
	}
}

type SessionOpenResponse struct {
	SessionID     string              `json:"sessionId"`
	ServerName    string              `json:"serverName"`
	ServerVersion string              `json:"serverVersion"`
	ExpiresAt     time.Time           `json:"expiresAt"`
	Tools         []ToolDescriptor    `json:"tools,omitempty"`
	Protocol      *ProtocolDescriptor `json:"protocol,omitempty"`
}

// InvocationAuditRecord is one governance entry.
type InvocationAuditRecord struct {
	RequestID  string    `json:"requestId"`
	ClientID   string    `json:"clientId,omitempty"`
	Tool       string    `json:"tool"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
	LatencyMs  int64     `json:"latencyMs"`
}

type GovernanceReport struct {
	Events []InvocationAuditRecord `json:"events"`
}
