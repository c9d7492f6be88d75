package sdk

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postOnly struct {
	paths  []string
	bodies [][]byte
	events []string
	err    error
}

func (p *postOnly) PostJSON(_ context.Context, path string, body []byte) ([]byte, error) {
	p.paths = append(p.paths, path)
	p.bodies = append(p.bodies, body)
	return []byte(`{"via":"post"}`), nil
}

func (p *postOnly) GetSSE(ctx context.Context, _ string, onEvent func(string)) error {
	for _, e := range p.events {
		onEvent(e)
	}
	if p.err != nil {
		return p.err
	}
	<-ctx.Done()
	return nil
}

type withGet struct{ postOnly }

func (w *withGet) GetJSON(context.Context, string) ([]byte, error) {
	return []byte(`{"via":"get"}`), nil
}

func TestGetJSONFallsBackToBodilessPost(t *testing.T) {
	c := &postOnly{}
	tr := New("fake", c)
	out, err := tr.GetJSON(context.Background(), "/mcp/tools")
	require.NoError(t, err)
	assert.JSONEq(t, `{"via":"post"}`, string(out))
	assert.Equal(t, []string{"/mcp/tools"}, c.paths)
	assert.Nil(t, c.bodies[0])
}

func TestGetJSONPrefersNativeGet(t *testing.T) {
	tr := New("fake", &withGet{})
	out, err := tr.GetJSON(context.Background(), "/mcp/tools")
	require.NoError(t, err)
	assert.JSONEq(t, `{"via":"get"}`, string(out))
}

func TestStreamForwardsEventsUntilClosed(t *testing.T) {
	tr := New("fake", &postOnly{events: []string{"one", "", "two"}})
	sr, err := tr.Stream(context.Background(), "/mcp/stream")
	require.NoError(t, err)

	a, err := sr.Next()
	require.NoError(t, err)
	b, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, []string{a, b})

	require.NoError(t, sr.Close())
	_, err = sr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReportsClientErrors(t *testing.T) {
	boom := errors.New("socket closed")
	tr := New("fake", &postOnly{err: boom})
	sr, err := tr.Stream(context.Background(), "/mcp/stream")
	require.NoError(t, err)
	defer sr.Close()
	_, err = sr.Next()
	assert.ErrorIs(t, err, boom)
}

func TestOpenByName(t *testing.T) {
	Register("Fake-Test", func(_ context.Context, args map[string]any) (Client, error) {
		return &postOnly{}, nil
	})
	tr, err := Open(context.Background(), "fake-test", nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.Contains(t, Registered(), "fake-test")

	_, err = Open(context.Background(), "missing", nil)
	assert.ErrorContains(t, err, `no client registered as "missing"`)

	_, err = Open(context.Background(), "", nil)
	assert.ErrorContains(t, err, "cannot autodetect")
}

func TestMCPGoFactoryRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), MCPGoName, map[string]any{})
	assert.ErrorContains(t, err, "url")
}
