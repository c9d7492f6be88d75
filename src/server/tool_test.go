package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

type greetIn struct {
	Name string `json:"name"`
	Loud bool   `json:"loud,omitempty"`
}

type greetOut struct {
	Greeting string `json:"greeting"`
}

func greetTool() *TypedTool[greetIn, greetOut] {
	return NewTool("greet",
		func(_ context.Context, ictx *protocol.Context, in greetIn) (protocol.StdResponse[greetOut], error) {
			if in.Name == "" {
				return protocol.Clarify[greetOut]("NAME_REQUIRED", "who?", greetOut{}), nil
			}
			ictx.Usage.LatencyMs = 7
			return protocol.Success("GREETED", "", greetOut{Greeting: "hello " + in.Name}), nil
		},
		WithTitle("Greeter"),
		WithCapabilities("greeting"),
	)
}

func TestTypedToolDescriptor(t *testing.T) {
	d := greetTool().Descriptor()
	assert.Equal(t, "greet", d.Name)
	assert.Equal(t, "Greeter", d.Title)
	assert.True(t, d.HasCapability("greeting"))
	assert.False(t, d.HasCapability("GREETING"))

	var in map[string]any
	require.NoError(t, json.Unmarshal(d.InputSchema, &in))
	assert.Equal(t, "object", in["type"])
	assert.Contains(t, in["properties"], "name")
	assert.Contains(t, in["properties"], "loud")

	var out map[string]any
	require.NoError(t, json.Unmarshal(d.OutputSchema, &out))
	assert.Contains(t, out["properties"], "greeting")
}

func TestTypedToolHandle(t *testing.T) {
	tool := greetTool()
	ctx := context.Background()

	var ictx protocol.Context
	resp, err := tool.Handle(ctx, &ictx, json.RawMessage(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, greetOut{Greeting: "hello ada"}, resp.Data)
	assert.EqualValues(t, 7, ictx.Usage.LatencyMs)

	resp, err = tool.Handle(ctx, &ictx, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsClarify())
	assert.Nil(t, resp.Data, "zero data on a clarify is dropped")

	_, err = tool.Handle(ctx, &ictx, json.RawMessage(`"ada"`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestToolRegistry(t *testing.T) {
	reg, err := NewToolRegistry(greetTool())
	require.NoError(t, err)

	assert.EqualError(t, reg.Register(greetTool()), "tool greet registered twice")

	_, ok := reg.Find("greet")
	assert.True(t, ok)
	_, ok = reg.Find("missing")
	assert.False(t, ok)
	require.Len(t, reg.Descriptors(), 1)

	assert.Panics(t, func() {
		NewTool[greetIn, greetOut]("", func(context.Context, *protocol.Context, greetIn) (protocol.StdResponse[greetOut], error) {
			return protocol.StdResponse[greetOut]{}, nil
		})
	})
}

func TestMemoryAuditStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuditStore(2)
	for _, id := range []string{"a", "b", "a"} {
		require.NoError(t, store.Record(ctx, protocol.InvocationAuditRecord{RequestID: id, Tool: "greet"}))
	}

	all, err := store.Find(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2, "limit keeps the newest records")
	assert.Equal(t, "b", all[0].RequestID)

	only, err := store.Find(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, only, 1)

	none, err := store.Find(ctx, "zzz")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	store.Clear()
	all, _ = store.Find(ctx, "")
	assert.Empty(t, all)
}
