package llm

import (
	"os"
	"strconv"

	"google.golang.org/genai"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 1024
	defaultTimeoutSeconds = 30
)

// GeminiConfig holds configuration for the Gemini mediation adapter.
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model: the Gemini model ID (default: "gemini-2.0-flash")
// - Temperature, TopP, TopK, MaxOutputTokens, TimeoutSeconds
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// NewGeminiConfigFromEnv creates a GeminiConfig from environment variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}

	if raw := os.Getenv("GEMINI_TEMPERATURE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 32); err == nil && v >= 0 && v <= 1 {
			config.Temperature = float32(v)
		}
	}
	if raw := os.Getenv("GEMINI_MAX_OUTPUT_TOKENS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			config.MaxOutputTokens = v
		}
	}
	if raw := os.Getenv("GEMINI_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			config.TimeoutSeconds = v
		}
	}

	return config
}

// udineSystemPrompt instructs the model to act as the Udine mediator persona.
// The trailing directive line is how the model hands back a phase-advance
// suggestion; ParseReply strips it before the content reaches clients.
const udineSystemPrompt = `You are Udine, a calm and impartial conflict mediator.
You guide participants through a five-phase mediation process:
preparation, exploration, understanding, resolution, healing.

Ground rules:
- Never take sides. Reflect each participant's feelings back to them.
- Ask open questions; do not lecture.
- De-escalate: acknowledge strong emotions before addressing content.
- Keep replies short enough to be spoken aloud in under thirty seconds.

You will be told the session's current phase. When you judge that the
conversation is ready to move to the next phase, end your reply with a
single line of the form:

[[phase: <next-phase-name>]]

Only suggest the immediate next phase, and only when the work of the
current phase feels complete. Omit the line otherwise.`

// udineSafetySettings blocks harmful content while leaving room for
// participants to express anger and distress, which mediation requires.
var udineSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
	},
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
	},
}
