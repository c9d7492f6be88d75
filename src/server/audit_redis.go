package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// RedisConfig configures a RedisAuditStore. Defaults load via envdecode.
type RedisConfig struct {
	// Addr like "localhost:6379". ENV: MCP_REDIS_ADDR
	Addr string `env:"MCP_REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: MCP_AUDIT_KEY_PREFIX
	KeyPrefix string `env:"MCP_AUDIT_KEY_PREFIX,default=mcp:audit:"`
	// TTL of per-request lists. ENV: MCP_AUDIT_TTL
	TTL time.Duration `env:"MCP_AUDIT_TTL,default=24h"`
	// MaxRecords caps the global list. ENV: MCP_AUDIT_MAX_RECORDS
	MaxRecords int64 `env:"MCP_AUDIT_MAX_RECORDS,default=10000"`
}

// RedisAuditStore keeps records in Redis lists: one global list plus one list
// per request id.
type RedisAuditStore struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	maxRecords int64
}

// NewRedisAuditStore connects to cfg.Addr and checks the connection.
func NewRedisAuditStore(ctx context.Context, cfg RedisConfig) (*RedisAuditStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisAuditStoreWithClient(client, cfg), nil
}

// NewRedisAuditStoreWithClient uses an existing client; cfg.Addr is ignored.
func NewRedisAuditStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisAuditStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:audit:"
	}
	return &RedisAuditStore{
		client:     client,
		keyPrefix:  prefix,
		ttl:        cfg.TTL,
		maxRecords: cfg.MaxRecords,
	}
}

// NewRedisAuditStoreFromEnv builds a store from envdecode-populated config.
func NewRedisAuditStoreFromEnv(ctx context.Context) (*RedisAuditStore, error) {
	var cfg RedisConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return NewRedisAuditStore(ctx, cfg)
}

func (s *RedisAuditStore) Close() error { return s.client.Close() }

func (s *RedisAuditStore) allKey() string              { return s.keyPrefix + "all" }
func (s *RedisAuditStore) requestKey(id string) string { return s.keyPrefix + "request:" + id }

func (s *RedisAuditStore) Record(ctx context.Context, rec protocol.InvocationAuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, s.allKey(), data)
		if s.maxRecords > 0 {
			p.LTrim(ctx, s.allKey(), -s.maxRecords, -1)
		}
		if rec.RequestID != "" {
			key := s.requestKey(rec.RequestID)
			p.RPush(ctx, key, data)
			if s.ttl > 0 {
				p.Expire(ctx, key, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

func (s *RedisAuditStore) Find(ctx context.Context, requestID string) ([]protocol.InvocationAuditRecord, error) {
	key := s.allKey()
	if requestID != "" {
		key = s.requestKey(requestID)
	}
	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	out := make([]protocol.InvocationAuditRecord, 0, len(items))
	for _, item := range items {
		var rec protocol.InvocationAuditRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
