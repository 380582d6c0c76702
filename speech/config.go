package speech

import (
	"strings"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
)

const (
	DefaultModel              = "gpt-realtime"
	DefaultTranscriptionModel = "gpt-4o-mini-transcribe"
	DefaultNoiseReduction     = "near_field"
	DefaultVADEagerness       = "medium"

	// The model is told to stay silent; only input transcription is used.
	sessionInstructions = "Do not respond. Only listen."
)

// SessionConfig selects how the realtime session transcribes microphone
// audio.
type SessionConfig struct {
	Model              string `yaml:"model"`
	TranscriptionModel string `yaml:"transcriptionModel"`
	Language           string `yaml:"language"`
	Prompt             string `yaml:"prompt"`
	NoiseReduction     string `yaml:"noiseReduction"`
	VADEagerness       string `yaml:"vadEagerness"`
}

func DefaultSessionConfig(language string) SessionConfig {
	return SessionConfig{
		Model:              DefaultModel,
		TranscriptionModel: DefaultTranscriptionModel,
		Language:           language,
		NoiseReduction:     DefaultNoiseReduction,
		VADEagerness:       DefaultVADEagerness,
	}
}

// LanguageCode reduces a BCP 47 tag such as "en-US" to its ISO-639-1
// primary subtag.
func LanguageCode(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// Params builds the session create request.
func (c SessionConfig) Params() *realtime.RealtimeSessionCreateRequestParam {
	d := DefaultSessionConfig(c.Language)
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = d.TranscriptionModel
	}
	if c.NoiseReduction == "" {
		c.NoiseReduction = d.NoiseReduction
	}
	if c.VADEagerness == "" {
		c.VADEagerness = d.VADEagerness
	}

	transcription := realtime.AudioTranscriptionParam{
		Model: realtime.AudioTranscriptionModel(c.TranscriptionModel),
	}
	if lang := LanguageCode(c.Language); lang != "" {
		transcription.Language = param.NewOpt(lang)
	}
	if c.Prompt != "" {
		transcription.Prompt = param.NewOpt(c.Prompt)
	}

	return &realtime.RealtimeSessionCreateRequestParam{
		Instructions: param.NewOpt(sessionInstructions),
		Model:        c.Model,
		Audio: realtime.RealtimeAudioConfigParam{
			Input: realtime.RealtimeAudioConfigInputParam{
				TurnDetection: realtime.RealtimeAudioInputTurnDetectionUnionParam{
					OfSemanticVad: &realtime.RealtimeAudioInputTurnDetectionSemanticVadParam{
						CreateResponse:    param.NewOpt(false),
						InterruptResponse: param.NewOpt(false),
						Eagerness:         c.VADEagerness,
					},
				},
				NoiseReduction: realtime.RealtimeAudioConfigInputNoiseReductionParam{
					Type: realtime.NoiseReductionType(c.NoiseReduction),
				},
				Transcription: transcription,
			},
		},
		MaxOutputTokens: realtime.RealtimeSessionCreateRequestMaxOutputTokensUnionParam{
			OfInt: param.NewOpt(int64(1)),
		},
	}
}
