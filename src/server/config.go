package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// Audit backends accepted in Config.AuditBackend.
const (
	AuditMemory = "memory"
	AuditRedis  = "redis"
)

// Config is the environment-driven server configuration. Slices are
// semicolon separated.
type Config struct {
	Addr     string `env:"MCP_ADDR,default=:8080"`
	GRPCAddr string `env:"MCP_GRPC_ADDR"`
	Name     string `env:"MCP_SERVER_NAME,default=demo-mcp-server"`
	Version  string `env:"MCP_SERVER_VERSION,default=1.0.0"`
	BasePath string `env:"MCP_BASE_PATH,default=/mcp"`

	Secret    string        `env:"MCP_HMAC_SECRET"`
	Tolerance time.Duration `env:"MCP_HMAC_TOLERANCE,default=5m"`

	RateLimitPerMinute int      `env:"MCP_RATE_LIMIT_PER_MINUTE,default=0"`
	AllowClients       []string `env:"MCP_ALLOW_CLIENTS"`
	DenyClients        []string `env:"MCP_DENY_CLIENTS"`

	HeartbeatInterval time.Duration `env:"MCP_HEARTBEAT_INTERVAL,default=30s"`
	LogLevel          string        `env:"MCP_LOG_LEVEL,default=info"`

	AuditBackend string `env:"MCP_AUDIT_BACKEND,default=memory"`
	AuditLimit   int    `env:"MCP_AUDIT_LIMIT,default=10000"`
	Redis        RedisConfig
}

// LoadConfig decodes Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode server config: %w", err)
	}
	return cfg, nil
}

// Level parses LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// PathsUnder returns the default endpoint layout rooted at base.
func PathsUnder(base string) protocol.ProtocolDescriptor {
	base = "/" + strings.Trim(base, "/")
	if base == "/" {
		base = ""
	}
	return protocol.ProtocolDescriptor{
		Session:    base + "/session",
		Invoke:     base + "/invoke",
		Stream:     base + "/stream",
		Discovery:  base + "/tools",
		Governance: base + "/governance/audit",
	}
}

// Options builds server options from c. The returned closer releases the
// audit backend.
func (c Config) Options(ctx context.Context, logger *slog.Logger) (Options, io.Closer, error) {
	opts := Options{
		Name:              c.Name,
		Version:           c.Version,
		Paths:             PathsUnder(c.BasePath),
		Tolerance:         c.Tolerance,
		HeartbeatInterval: c.HeartbeatInterval,
		Logger:            logger,
	}
	if c.Secret != "" {
		opts.Secret = []byte(c.Secret)
	}
	if len(c.AllowClients) > 0 || len(c.DenyClients) > 0 {
		opts.Interceptors = append(opts.Interceptors, NewAccessInterceptor(c.AllowClients, c.DenyClients))
	}
	if c.RateLimitPerMinute > 0 {
		rl, err := NewRateLimitInterceptor(c.RateLimitPerMinute)
		if err != nil {
			return Options{}, nil, err
		}
		opts.Interceptors = append(opts.Interceptors, rl)
	}

	switch c.AuditBackend {
	case "", AuditMemory:
		opts.Audit = NewMemoryAuditStore(c.AuditLimit)
		return opts, closerFunc(func() error { return nil }), nil
	case AuditRedis:
		store, err := NewRedisAuditStore(ctx, c.Redis)
		if err != nil {
			return Options{}, nil, err
		}
		opts.Audit = store
		return opts, store, nil
	default:
		return Options{}, nil, fmt.Errorf("unknown audit backend %q", c.AuditBackend)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
