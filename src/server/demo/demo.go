// Package demo provides mock tools for trying the server end to end. Their
// answers are static or trivially computed.
package demo

import (
	"context"
	"strings"
	"time"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/server"
)

// Tool names.
const (
	EchoTool        = "echo"
	TranslationTool = "mcp.translation.invoke"
	VehicleTool     = "mcp.vehicle.state.get"
	QATool          = "mcp.qa.answer.invoke"
	AudioTool       = "mcp.audio.transcribe.invoke"
)

// Clarify codes returned by the translation tool.
const (
	CodeTextRequired   = "TRANSLATION_TEXT_REQUIRED"
	CodeTargetRequired = "TRANSLATION_TARGET_REQUIRED"
)

// Metadata keys set on the request context when a tool asks to clarify.
const (
	MetaMissingField = "clarify.missingField"
	MetaPrompt       = "clarify.prompt"
	MetaExamples     = "clarify.examples"
	MetaOptions      = "clarify.options"
)

// Tools returns every demo tool.
func Tools() []server.Tool {
	return []server.Tool{Echo(), Translation(), VehicleState(), QA(), Audio()}
}

// Registry returns a registry holding every demo tool.
func Registry() *server.ToolRegistry {
	r, err := server.NewToolRegistry(Tools()...)
	if err != nil {
		panic(err)
	}
	return r
}

func Echo() server.Tool {
	return server.NewTool(EchoTool,
		func(_ context.Context, _ *protocol.Context, in map[string]any) (protocol.StdResponse[map[string]any], error) {
			return protocol.Success(protocol.CodeOK, "echo", in), nil
		},
		server.WithTitle("Echo"),
		server.WithDescription("Returns the payload unchanged"),
		server.WithCapabilities("invocation", "echo"),
	)
}

type TranslationRequest struct {
	SourceText   string `json:"sourceText,omitempty" jsonschema:"description=Text to translate"`
	TargetLocale string `json:"targetLocale,omitempty" jsonschema:"description=BCP 47 target locale,example=en-US"`
}

type TranslationResponse struct {
	SourceText     string `json:"sourceText"`
	TargetLocale   string `json:"targetLocale"`
	TranslatedText string `json:"translatedText"`
	Model          string `json:"model"`
}

var supportedLocales = []string{"zh-CN", "en-US", "ja-JP"}

// Translation asks to clarify a missing text, then a missing target locale.
// Otherwise it upper-cases the text.
func Translation() server.Tool {
	return server.NewTool(TranslationTool, translate,
		server.WithTitle("Translation"),
		server.WithDescription("Demonstrates the full invoke and clarify flow"),
		server.WithCapabilities("invocation", "clarification", "translate"),
		server.WithCard(translationCard),
	)
}

func translate(_ context.Context, ictx *protocol.Context, in TranslationRequest) (protocol.StdResponse[TranslationResponse], error) {
	if ictx.Metadata == nil {
		ictx.Metadata = make(map[string]string)
	}
	if strings.TrimSpace(in.SourceText) == "" {
		ictx.Metadata[MetaMissingField] = "sourceText"
		ictx.Metadata[MetaPrompt] = "Provide the text to translate"
		ictx.Metadata[MetaExamples] = "e.g. hello, world"
		return protocol.Clarify[TranslationResponse](CodeTextRequired, "source text is required before translating", TranslationResponse{}), nil
	}
	if strings.TrimSpace(in.TargetLocale) == "" {
		ictx.Metadata[MetaMissingField] = "targetLocale"
		ictx.Metadata[MetaPrompt] = "Choose a target locale, e.g. zh-CN or en-US"
		ictx.Metadata[MetaOptions] = strings.Join(supportedLocales, ",")
		return protocol.Clarify[TranslationResponse](CodeTargetRequired, "target locale is required before translating", TranslationResponse{}), nil
	}
	ictx.Usage.LatencyMs = 12
	return protocol.Success("TRANSLATED", "Translation completed", TranslationResponse{
		SourceText:     in.SourceText,
		TargetLocale:   in.TargetLocale,
		TranslatedText: strings.ToUpper(in.SourceText),
		Model:          "mock-transformer",
	}), nil
}

func translationCard(resp protocol.StdResponse[any], ictx protocol.Context) *protocol.UiCard {
	switch {
	case resp.IsClarify():
		card := &protocol.UiCard{Title: "Clarification needed", Body: resp.Message, Actions: map[string]string{}}
		if p := ictx.Metadata[MetaPrompt]; p != "" {
			card.Body = p
		}
		switch ictx.Metadata[MetaMissingField] {
		case "targetLocale":
			for _, l := range supportedLocales {
				card.Actions["Translate to "+l] = "targetLocale=" + l
			}
		case "sourceText":
			card.Actions["Enter text"] = "sourceText=<text to translate>"
			card.Subtitle = ictx.Metadata[MetaExamples]
		}
		return card
	case resp.IsSuccess():
		tr, err := json.Convert[TranslationResponse](resp.Data)
		if err != nil {
			return &protocol.UiCard{Title: "Translation Result"}
		}
		return &protocol.UiCard{Title: "Translation Result", Body: tr.TranslatedText}
	default:
		return nil
	}
}

type VehicleStateRequest struct {
	VehicleID string `json:"vehicleId"`
}

type VehicleStateResponse struct {
	VehicleID         string    `json:"vehicleId"`
	BatteryPercentage float64   `json:"batteryPercentage"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func VehicleState() server.Tool {
	return server.NewTool(VehicleTool,
		func(_ context.Context, ictx *protocol.Context, in VehicleStateRequest) (protocol.StdResponse[VehicleStateResponse], error) {
			ictx.Usage.LatencyMs = 25
			return protocol.Success("VEHICLE_STATE", "Vehicle state retrieved", VehicleStateResponse{
				VehicleID:         in.VehicleID,
				BatteryPercentage: 82.5,
				Latitude:          37.7749,
				Longitude:         -122.4194,
				UpdatedAt:         time.Now().UTC(),
			}), nil
		},
		server.WithTitle("Vehicle state"),
		server.WithDescription("Battery and position of a vehicle"),
		server.WithCapabilities("invocation", "vehicle"),
	)
}

type QARequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

type QAResponse struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func QA() server.Tool {
	return server.NewTool(QATool,
		func(_ context.Context, ictx *protocol.Context, in QARequest) (protocol.StdResponse[QAResponse], error) {
			ictx.Usage.LatencyMs = 18
			return protocol.Success("QA_ANSWERED", "Answer generated", QAResponse{
				Answer:     "Stub answer to: " + in.Question,
				Confidence: 0.42,
			}), nil
		},
		server.WithTitle("Question answering"),
		server.WithCapabilities("invocation", "qa"),
	)
}

type TranscriptionRequest struct {
	AudioURI string `json:"audioUri"`
	Language string `json:"language,omitempty"`
}

type TranscriptionResponse struct {
	AudioURI   string `json:"audioUri"`
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
}

func Audio() server.Tool {
	return server.NewTool(AudioTool,
		func(_ context.Context, ictx *protocol.Context, in TranscriptionRequest) (protocol.StdResponse[TranscriptionResponse], error) {
			lang := in.Language
			if lang == "" {
				lang = "en"
			}
			ictx.Usage.LatencyMs = 45
			return protocol.Success("AUDIO_TRANSCRIBED", "Audio transcription complete", TranscriptionResponse{
				AudioURI:   in.AudioURI,
				Transcript: "Transcribed audio from " + in.AudioURI,
				Language:   lang,
			}), nil
		},
		server.WithTitle("Audio transcription"),
		server.WithCapabilities("invocation", "audio"),
	)
}
