package mcp

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/server"
	"github.com/universal-tool-calling-protocol/go-mcp/src/server/demo"
)

const testSecret = "integration-secret"

func startDemoServer(t *testing.T, paths protocol.ProtocolDescriptor) *httptest.Server {
	t.Helper()
	srv := server.New(demo.Registry(), server.Options{
		Secret:            []byte(testSecret),
		Paths:             paths,
		HeartbeatInterval: -1,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialDemo(t *testing.T, baseURL string) *Client {
	t.Helper()
	tr, err := NewTransport(context.Background(), ServerConfig{
		Name:    "demo",
		Type:    TransportHTTP,
		BaseURL: baseURL,
		Interceptors: []InterceptorConfig{
			{Name: InterceptorHMAC, Args: map[string]any{"secret": testSecret, "clientId": "it-client"}},
			{Name: InterceptorTrace},
		},
	}, TransportOptions{})
	require.NoError(t, err)
	c, err := NewClient(tr, WithClientID("it-client"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// refineTranslation answers each clarify code with the field it asks for.
func refineTranslation(_ context.Context, payload any, resp protocol.StdResponse[json.RawMessage], _ protocol.Context) (any, error) {
	in, err := json.Convert[demo.TranslationRequest](payload)
	if err != nil {
		return nil, err
	}
	switch resp.Code {
	case demo.CodeTextRequired:
		in.SourceText = "good morning"
	case demo.CodeTargetRequired:
		in.TargetLocale = "ja-JP"
	default:
		return nil, nil
	}
	return in, nil
}

type lineCollector struct {
	mu    sync.Mutex
	lines []protocol.StreamEventEnvelope
}

func (c *lineCollector) OnEvent(line string) {
	ev, err := protocol.ParseStreamEvent(line)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.lines = append(c.lines, ev)
	c.mu.Unlock()
}

func (c *lineCollector) OnError(error) {}

func (c *lineCollector) stages(requestID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.lines {
		if ev.RequestID() != requestID {
			continue
		}
		data, err := json.Convert[map[string]string](ev.Response.Data)
		if err == nil {
			out = append(out, data["stage"])
		}
	}
	return out
}

func TestEndToEndAgainstDemoServer(t *testing.T) {
	paths := server.PathsUnder("/api/mcp")
	paths.Session = protocol.SessionPath
	ts := startDemoServer(t, paths)
	c := dialDemo(t, ts.URL)
	ctx := context.Background()

	session, err := c.OpenSession(ctx, protocol.SessionOpenRequest{})
	require.NoError(t, err)
	assert.Equal(t, server.DefaultName, session.ServerName)
	assert.Equal(t, "/api/mcp/invoke", c.Paths().Invoke)
	_, ok := c.FindToolByCapability("clarification")
	assert.True(t, ok)

	events := &lineCollector{}
	sub := c.SubscribeProgress(events)
	defer sub.Release()

	var requestIDs []string
	var mu sync.Mutex
	res, err := InvokeWithOptions[demo.TranslationResponse](ctx, c, demo.TranslationTool, demo.TranslationRequest{}, Options{
		MaxElicitationRounds: 3,
		Elicitation:          ElicitationFunc(refineTranslation),
		Logger: LoggerFuncs{Request: func(_ context.Context, req protocol.RequestEnvelope) {
			mu.Lock()
			requestIDs = append(requestIDs, req.Context.RequestID)
			mu.Unlock()
		}},
	})
	require.NoError(t, err)
	primary, ok := res.Primary()
	require.True(t, ok)
	require.True(t, primary.IsSuccess(), "%+v", primary)
	assert.Equal(t, "GOOD MORNING", primary.Data.TranslatedText)
	assert.Equal(t, "ja-JP", primary.Data.TargetLocale)

	mu.Lock()
	require.Len(t, requestIDs, 3, "two refinements after the first attempt")
	last := requestIDs[2]
	mu.Unlock()

	assert.Eventually(t, func() bool {
		stages := events.stages(last)
		return len(stages) == 2 && stages[1] == server.StageCompleted
	}, 2*time.Second, 10*time.Millisecond)

	report, err := c.FetchGovernanceReport(ctx, last)
	require.NoError(t, err)
	require.Len(t, report.Events, 1)
	assert.Equal(t, "it-client", report.Events[0].ClientID)
	assert.Equal(t, protocol.StatusSuccess, report.Events[0].Status)

	all, err := c.FetchGovernanceReport(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all.Events, 3)
}

func TestEnvironmentRoutesToDemoServer(t *testing.T) {
	ts := startDemoServer(t, protocol.ProtocolDescriptor{})
	t.Setenv("MCP_IT_SECRET", testSecret)

	cfg, err := ParseConfig([]byte(`
clientId: route-client
variables:
  DEMO_URL: `+ts.URL+`
servers:
  - name: demo
    baseUrl: ${DEMO_URL}
    interceptors:
      - name: hmac
        args:
          secret: ${MCP_IT_SECRET}
routes:
  - name: vehicle
    tool: mcp.vehicle.state.get
  - name: qa
    server: demo
    tool: mcp.qa.answer.invoke
`), "")
	require.NoError(t, err)

	ctx := context.Background()
	env, err := NewEnvironment(ctx, cfg, EnvironmentOptions{})
	require.NoError(t, err)
	defer env.Close()
	require.NoError(t, env.Start(ctx))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := env.RouteClient().Invoke(ctx, "vehicle", map[string]any{"vehicleId": "car-7"}).Await(ctx)
	require.NoError(t, err)
	require.True(t, resp.IsSuccess(), "%+v", resp)
	state, err := json.Convert[demo.VehicleStateResponse](resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "car-7", state.VehicleID)

	qa, err := env.RouteClient().InvokeBlocking(ctx, "qa", demo.QARequest{Question: "ping"})
	require.NoError(t, err)
	answer, err := json.Convert[demo.QAResponse](qa.Data)
	require.NoError(t, err)
	assert.Equal(t, "Stub answer to: ping", answer.Answer)
}
