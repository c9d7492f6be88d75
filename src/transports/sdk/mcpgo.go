package sdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpapi "github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// MCPGoName is the registry name of the mcp-go adapter.
const MCPGoName = "mcp-go"

func init() {
	Register(MCPGoName, func(ctx context.Context, args map[string]any) (Client, error) {
		url := cast.ToString(args["url"])
		if url == "" {
			return nil, errors.New("mcp-go client requires a url argument")
		}
		return NewMCPGoClient(ctx, url)
	})
}

// MCPGoClient maps the invocation protocol onto a Model Context Protocol
// server reached through mark3labs/mcp-go: the handshake becomes initialize,
// discovery becomes tools/list, invoke becomes tools/call and server
// notifications become stream events.
type MCPGoClient struct {
	cli *mcpclient.Client

	mu        sync.Mutex
	listeners map[uint64]func(string)
	nextID    uint64
}

// NewMCPGoClient connects to a streamable-HTTP MCP endpoint.
func NewMCPGoClient(ctx context.Context, url string) (*MCPGoClient, error) {
	cli, err := mcpclient.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP HTTP client: %w", err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP HTTP client: %w", err)
	}
	c := &MCPGoClient{cli: cli, listeners: make(map[uint64]func(string))}
	cli.OnNotification(c.dispatch)
	return c, nil
}

type mcpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Annotations struct {
		Title string `json:"title"`
	} `json:"annotations"`
}

type mcpServerInfo struct {
	ServerInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type mcpCallResult struct {
	IsError           bool `json:"isError"`
	StructuredContent any  `json:"structuredContent"`
	Content           []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *MCPGoClient) listTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	res, err := c.cli.ListTools(ctx, mcpapi.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	raw, err := json.Convert[[]mcpTool](res.Tools)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.ToolDescriptor, len(raw))
	for i, tl := range raw {
		title := tl.Annotations.Title
		if title == "" {
			title = tl.Name
		}
		out[i] = protocol.ToolDescriptor{
			Name:         tl.Name,
			Title:        title,
			Description:  tl.Description,
			InputSchema:  tl.InputSchema,
			Capabilities: []string{tl.Name},
		}
	}
	return out, nil
}

func (c *MCPGoClient) openSession(ctx context.Context, body []byte) (any, error) {
	var req protocol.SessionOpenRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("decode session request: %w", err)
		}
	}
	initReq := mcpapi.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpapi.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpapi.Implementation{Name: req.ClientID, Version: req.ClientVersion}
	res, err := c.cli.Initialize(ctx, initReq)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}
	info, err := json.Convert[mcpServerInfo](res)
	if err != nil {
		return nil, err
	}
	tools, err := c.listTools(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.SessionOpenResponse{
		SessionID:     uuid.NewString(),
		ServerName:    info.ServerInfo.Name,
		ServerVersion: info.ServerInfo.Version,
		ExpiresAt:     time.Now().Add(time.Hour),
		Tools:         tools,
	}, nil
}

func (c *MCPGoClient) callTool(ctx context.Context, body []byte) (any, error) {
	var env protocol.RequestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode request envelope: %w", err)
	}
	req := mcpapi.CallToolRequest{}
	req.Params.Name = env.Tool
	req.Params.Arguments = env.Payload
	if env.Context.RequestID != "" {
		req.Params.Meta = &mcpapi.Meta{ProgressToken: env.Context.RequestID}
	}
	res, err := c.cli.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := json.Convert[mcpCallResult](res)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(out.Content))
	for _, part := range out.Content {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	message := strings.Join(texts, "\n")

	var resp protocol.StdResponse[any]
	switch {
	case out.IsError:
		resp = protocol.Error[any]("TOOL_ERROR", message)
	case out.StructuredContent != nil:
		resp = protocol.Success[any](protocol.CodeOK, message, out.StructuredContent)
	case len(texts) == 1 && json.Valid([]byte(texts[0])):
		resp = protocol.Success[any](protocol.CodeOK, "", json.RawMessage(texts[0]))
	default:
		resp = protocol.Success[any](protocol.CodeOK, "", message)
	}
	return protocol.ResponseEnvelope[any]{Tool: env.Tool, Context: env.Context, Response: resp}, nil
}

// PostJSON serves the session and invoke paths.
func (c *MCPGoClient) PostJSON(ctx context.Context, path string, body []byte) ([]byte, error) {
	var (
		out any
		err error
	)
	switch {
	case strings.HasSuffix(path, "/session"):
		out, err = c.openSession(ctx, body)
	case strings.HasSuffix(path, "/invoke"):
		out, err = c.callTool(ctx, body)
	default:
		return c.GetJSON(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// GetJSON serves discovery and governance. MCP servers keep no audit trail,
// so governance reports are empty.
func (c *MCPGoClient) GetJSON(ctx context.Context, path string) ([]byte, error) {
	switch {
	case strings.HasSuffix(path, "/tools"):
		tools, err := c.listTools(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(protocol.Success(protocol.CodeTools, "", tools))
	case strings.Contains(path, "/governance"):
		return json.Marshal(protocol.Success(protocol.CodeAudit, "", protocol.GovernanceReport{}))
	default:
		return nil, fmt.Errorf("mcp-go client: unsupported path %s", path)
	}
}

// GetSSE forwards server notifications until ctx ends.
func (c *MCPGoClient) GetSSE(ctx context.Context, _ string, onEvent func(string)) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = onEvent
	c.mu.Unlock()

	<-ctx.Done()

	c.mu.Lock()
	delete(c.listeners, id)
	c.mu.Unlock()
	return nil
}

func (c *MCPGoClient) dispatch(n mcpapi.JSONRPCNotification) {
	var raw struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.ConvertInto(n, &raw); err != nil {
		return
	}
	data := raw.Params
	if data == nil {
		data = map[string]any{}
	}
	if tok, ok := data["progressToken"]; ok {
		data["requestId"] = cast.ToString(tok)
	}
	ev := protocol.StreamEventEnvelope{
		Event:     raw.Method,
		EmittedAt: time.Now().UTC(),
		Response:  protocol.Success(protocol.CodeProgress, cast.ToString(data["message"]), data),
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}

	c.mu.Lock()
	fns := make([]func(string), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(string(line))
	}
}

// Close shuts the underlying MCP client down.
func (c *MCPGoClient) Close() error {
	return c.cli.Close()
}
