package server

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

func TestRedisAuditStore(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(ctx)

	store := NewRedisAuditStoreWithClient(client, RedisConfig{KeyPrefix: "test:audit:", TTL: time.Minute, MaxRecords: 2})
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, id := range []string{"r1", "r2", "r1"} {
		require.NoError(t, store.Record(ctx, protocol.InvocationAuditRecord{
			RequestID: id, Tool: "echo", Status: protocol.StatusSuccess, OccurredAt: now, LatencyMs: 3,
		}))
	}

	r1, err := store.Find(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, r1, 2)
	assert.Equal(t, "echo", r1[0].Tool)
	assert.True(t, now.Equal(r1[0].OccurredAt))

	all, err := store.Find(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "global list is trimmed to MaxRecords")

	none, err := store.Find(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	ttl, err := client.TTL(ctx, "test:audit:request:r1").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}

func TestRedisAuditStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisAuditStore(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
