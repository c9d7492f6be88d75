package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/server"
)

func handle(t *testing.T, tool server.Tool, payload string) (protocol.StdResponse[any], protocol.Context) {
	t.Helper()
	var ictx protocol.Context
	resp, err := tool.Handle(context.Background(), &ictx, json.RawMessage(payload))
	require.NoError(t, err)
	return resp, ictx
}

func TestTranslationClarifiesInOrder(t *testing.T) {
	tool := Translation()

	resp, ictx := handle(t, tool, `{}`)
	assert.True(t, resp.IsClarify())
	assert.Equal(t, CodeTextRequired, resp.Code)
	assert.Equal(t, "sourceText", ictx.Metadata[MetaMissingField])

	resp, ictx = handle(t, tool, `{"sourceText":"hello"}`)
	assert.Equal(t, CodeTargetRequired, resp.Code)
	assert.Equal(t, "zh-CN,en-US,ja-JP", ictx.Metadata[MetaOptions])

	resp, ictx = handle(t, tool, `{"sourceText":"hello","targetLocale":"ja-JP"}`)
	require.True(t, resp.IsSuccess())
	out, err := json.Convert[TranslationResponse](resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out.TranslatedText)
	assert.Equal(t, "mock-transformer", out.Model)
	assert.EqualValues(t, 12, ictx.Usage.LatencyMs)

	card := tool.(server.CardBuilder).Card(resp, ictx)
	require.NotNil(t, card)
	assert.Equal(t, "HELLO", card.Body)
}

func TestTranslationCardForErrorsIsEmpty(t *testing.T) {
	card := translationCard(protocol.Error[any]("X", "y"), protocol.Context{})
	assert.Nil(t, card)
}

func TestStaticTools(t *testing.T) {
	resp, _ := handle(t, VehicleState(), `{"vehicleId":"v1"}`)
	state, err := json.Convert[VehicleStateResponse](resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "v1", state.VehicleID)
	assert.Equal(t, -122.4194, state.Longitude)

	resp, _ = handle(t, QA(), `{"question":"why"}`)
	qa, err := json.Convert[QAResponse](resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "Stub answer to: why", qa.Answer)

	resp, _ = handle(t, Audio(), `{"audioUri":"s3://a.wav"}`)
	tr, err := json.Convert[TranscriptionResponse](resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "en", tr.Language)

	resp, _ = handle(t, Echo(), `{"k":"v"}`)
	assert.Equal(t, map[string]any{"k": "v"}, resp.Data)
}

func TestRegistryDescribesEveryTool(t *testing.T) {
	descs := Registry().Descriptors()
	require.Len(t, descs, 5)
	for _, d := range descs {
		assert.NotEmpty(t, d.InputSchema, d.Name)
		assert.True(t, d.HasCapability("invocation"), d.Name)
	}
}
