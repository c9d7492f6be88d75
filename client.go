package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/universal-tool-calling-protocol/go-mcp/src/async"
	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
)

const (
	DefaultClientID      = "mcp-client"
	DefaultClientVersion = "0.1.0"
)

// Session is the client-side view of an opened session.
type Session struct {
	ID            string
	ServerName    string
	ServerVersion string
	ExpiresAt     time.Time
	Paths         protocol.ProtocolDescriptor
	Tools         []protocol.ToolDescriptor
}

// Client invokes tools on one server through a Transport.
type Client struct {
	transport     transports.Transport
	clientID      string
	clientVersion string
	locale        string
	log           *slog.Logger
	executor      async.Executor

	catalog *ToolCatalog
	hub     *NotificationHub

	mu      sync.RWMutex
	paths   protocol.ProtocolDescriptor
	session *Session

	loggersMu sync.RWMutex
	loggers   []registeredLogger
	nextID    uint64
}

type registeredLogger struct {
	id uint64
	l  InvocationLogger
}

type ClientOption func(*Client)

func WithClientID(id string) ClientOption {
	return func(c *Client) { c.clientID = id }
}

func WithClientVersion(v string) ClientOption {
	return func(c *Client) { c.clientVersion = v }
}

func WithLocale(locale string) ClientOption {
	return func(c *Client) { c.locale = locale }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithExecutor sets where InvokeAsync runs. The default is a pool of 8.
func WithExecutor(ex async.Executor) ClientOption {
	return func(c *Client) { c.executor = ex }
}

// WithPaths replaces the default endpoint paths before any negotiation.
func WithPaths(p protocol.ProtocolDescriptor) ClientOption {
	return func(c *Client) { c.paths = protocol.DefaultProtocol().Merge(&p) }
}

// NewClient wraps tr. The client owns tr and closes it on Close.
func NewClient(tr transports.Transport, opts ...ClientOption) (*Client, error) {
	if tr == nil {
		return nil, errors.New("mcp client requires a transport")
	}
	c := &Client{
		transport:     tr,
		clientID:      DefaultClientID,
		clientVersion: DefaultClientVersion,
		catalog:       NewToolCatalog(),
		paths:         protocol.DefaultProtocol(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.executor == nil {
		c.executor = async.NewPool(8)
	}
	c.hub = NewNotificationHub(func(ctx context.Context) (transports.StreamResult, error) {
		return c.transport.Stream(ctx, c.Paths().Stream)
	}, c.log)
	return c, nil
}

func (c *Client) ClientID() string { return c.clientID }

// Paths returns the endpoint paths currently in force.
func (c *Client) Paths() protocol.ProtocolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paths
}

// Session returns the last opened session, if any.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// OpenSession performs the handshake. Tools returned by the server are
// cached and every negotiated path that is non-empty replaces the current
// one.
func (c *Client) OpenSession(ctx context.Context, req protocol.SessionOpenRequest) (Session, error) {
	if req.ClientID == "" {
		req.ClientID = c.clientID
	}
	if req.ClientVersion == "" {
		req.ClientVersion = c.clientVersion
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, fmt.Errorf("encode session request: %w", err)
	}
	raw, err := c.transport.PostJSON(ctx, c.Paths().Session, body)
	if err != nil {
		return Session{}, fmt.Errorf("open session: %w", err)
	}
	var resp protocol.SessionOpenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Session{}, fmt.Errorf("decode session response: %w", err)
	}

	c.catalog.Save(resp.Tools...)

	c.mu.Lock()
	c.paths = c.paths.Merge(resp.Protocol)
	s := Session{
		ID:            resp.SessionID,
		ServerName:    resp.ServerName,
		ServerVersion: resp.ServerVersion,
		ExpiresAt:     resp.ExpiresAt,
		Paths:         c.paths,
		Tools:         resp.Tools,
	}
	c.session = &s
	c.mu.Unlock()

	c.log.InfoContext(ctx, "session opened",
		slog.String("session_id", s.ID),
		slog.String("server", s.ServerName),
		slog.Int("tools", len(s.Tools)),
	)
	return s, nil
}

// DiscoverTools refreshes the catalog from the discovery endpoint. Entries
// missing from the response stay cached.
func (c *Client) DiscoverTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	raw, err := c.transport.GetJSON(ctx, c.Paths().Discovery)
	if err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	var resp protocol.StdResponse[[]protocol.ToolDescriptor]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode tools response: %w", err)
	}
	if err := protocol.AsError(resp); err != nil {
		return nil, err
	}
	c.catalog.Save(resp.Data...)
	return resp.Data, nil
}

func (c *Client) FindTool(name string) (protocol.ToolDescriptor, bool) {
	return c.catalog.Get(name)
}

func (c *Client) FindToolByCapability(tag string) (protocol.ToolDescriptor, bool) {
	return c.catalog.FindByCapability(tag)
}

func (c *Client) CachedTools() []protocol.ToolDescriptor {
	return c.catalog.All()
}

func (c *Client) SearchTools(query string, limit int) []protocol.ToolDescriptor {
	return c.catalog.Search(query, limit)
}

// FetchGovernanceReport reads audit records, all of them or those of one
// request.
func (c *Client) FetchGovernanceReport(ctx context.Context, requestID string) (protocol.GovernanceReport, error) {
	path := c.Paths().Governance
	if requestID != "" {
		path = strings.TrimRight(path, "/") + "/" + requestID
	}
	raw, err := c.transport.GetJSON(ctx, path)
	if err != nil {
		return protocol.GovernanceReport{}, fmt.Errorf("fetch governance report: %w", err)
	}
	var resp protocol.StdResponse[protocol.GovernanceReport]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return protocol.GovernanceReport{}, fmt.Errorf("decode governance report: %w", err)
	}
	if err := protocol.AsError(resp); err != nil {
		return protocol.GovernanceReport{}, err
	}
	return resp.Data, nil
}

// RegisterLogger adds a logger notified on every invocation.
func (c *Client) RegisterLogger(l InvocationLogger) *Subscription {
	c.loggersMu.Lock()
	c.nextID++
	id := c.nextID
	c.loggers = append(c.loggers, registeredLogger{id: id, l: l})
	c.loggersMu.Unlock()

	return newSubscription(func() {
		c.loggersMu.Lock()
		defer c.loggersMu.Unlock()
		for i, rl := range c.loggers {
			if rl.id == id {
				c.loggers = append(c.loggers[:i:i], c.loggers[i+1:]...)
				return
			}
		}
	})
}

func (c *Client) loggersFor(opts Options) loggerSet {
	c.loggersMu.RLock()
	ls := make([]InvocationLogger, 0, len(c.loggers)+1)
	for _, rl := range c.loggers {
		ls = append(ls, rl.l)
	}
	c.loggersMu.RUnlock()
	if opts.Logger != nil {
		ls = append(ls, opts.Logger)
	}
	return loggerSet{loggers: ls, log: c.log}
}

// SubscribeProgress registers an unfiltered listener on the event stream.
func (c *Client) SubscribeProgress(l ProgressListener) *Subscription {
	return c.hub.Register(l)
}

// SubscribeStream delivers stream lines to onEvent until the stream ends
// (nil), fails (the error) or ctx is done (ctx.Err()).
func (c *Client) SubscribeStream(ctx context.Context, onEvent func(line string)) error {
	errc := make(chan error, 1)
	sub := c.hub.Register(ListenerFuncs{
		Event: onEvent,
		Error: func(err error) {
			select {
			case errc <- err:
			default:
			}
		},
	})
	defer sub.Release()

	select {
	case err := <-errc:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hub exposes the client's notification hub.
func (c *Client) Hub() *NotificationHub { return c.hub }

// Close tears down the event stream and the transport.
func (c *Client) Close() error {
	c.hub.Close()
	return c.transport.Close()
}
