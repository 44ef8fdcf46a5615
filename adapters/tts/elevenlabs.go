package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultChunkSize    = 1024                     // Size of audio chunks to stream
	defaultOutputFormat = "pcm_24000"              // PCM format for real-time applications
	defaultModelID      = "eleven_multilingual_v2" // Default model ID
	defaultStability    = 0.5                      // Default voice stability
	defaultClarity      = 0.75                     // Default voice clarity/similarity_boost
)

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter.
// APIKey is required; every other field falls back to a sensible default.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	ChunkSize    int
	Stability    float64 // between 0 and 1
	Clarity      float64 // similarity boost, between 0 and 1
}

// ElevenLabsTTS implements TextToSpeech using the Eleven Labs API
type ElevenLabsTTS struct {
	apiKey       string
	apiBaseURL   string
	voiceID      string
	modelID      string
	outputFormat string
	chunkSize    int
	stability    float64
	clarity      float64
	httpClient   *http.Client
	logger       *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}

	if config.Stability != 0 && (config.Stability < 0 || config.Stability > 1) {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}

	if config.Clarity != 0 && (config.Clarity < 0 || config.Clarity > 1) {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}

	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}

	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
	}

	outputFormat := config.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
	}

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}

	stability := config.Stability
	if stability == 0 {
		stability = defaultStability
	}

	clarity := config.Clarity
	if clarity == 0 {
		clarity = defaultClarity
	}

	return &ElevenLabsTTS{
		apiKey:       config.APIKey,
		apiBaseURL:   apiBaseURL,
		voiceID:      voiceID,
		modelID:      modelID,
		outputFormat: outputFormat,
		chunkSize:    chunkSize,
		stability:    stability,
		clarity:      clarity,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
	}, nil
}

// Name implements repositories.TextToSpeech
func (e *ElevenLabsTTS) Name() string {
	return "elevenlabs"
}

// Synthesize converts text to a stream of audio chunks. The HTTP request
// executes before returning so callers can fall back to another provider on
// failure; only the body streaming happens in the background.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	e.logger.Info("Converting text to speech",
		zap.Int("textLength", len(text)),
		zap.String("voiceID", e.voiceID),
		zap.String("modelID", e.modelID))

	request := ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.modelID,
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.clarity,
			Style:           0.0,
			UseSpeakerBoost: true,
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.apiBaseURL, e.voiceID, e.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// PCM format requires audio/pcm accept header
	acceptHeader := "audio/mpeg"
	if strings.HasPrefix(e.outputFormat, "pcm") {
		acceptHeader = "audio/pcm"
	}
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("eleven labs API returned %d: %s", resp.StatusCode, string(errorBody))
	}

	audioChan := make(chan []byte, 10)

	go func() {
		defer close(audioChan)
		defer resp.Body.Close()

		buffer := make([]byte, e.chunkSize)
		totalBytes := 0
		chunkCount := 0

		for {
			select {
			case <-ctx.Done():
				e.logger.Warn("Context cancelled while streaming audio data")
				return
			default:
				n, err := resp.Body.Read(buffer)
				if n > 0 {
					totalBytes += n
					chunkCount++

					chunk := make([]byte, n)
					copy(chunk, buffer[:n])

					select {
					case audioChan <- chunk:
					case <-ctx.Done():
						e.logger.Warn("Context cancelled while sending audio chunk")
						return
					}
				}

				if err == io.EOF {
					e.logger.Info("Finished streaming audio data",
						zap.Int("totalChunks", chunkCount),
						zap.Int("totalBytes", totalBytes))
					return
				}

				if err != nil {
					e.logger.Error("Error reading response body", zap.Error(err))
					return
				}
			}
		}
	}()

	return audioChan, nil
}

// SetVoiceSettings allows customization of voice parameters
func (e *ElevenLabsTTS) SetVoiceSettings(stability, clarity float64) {
	e.stability = stability
	e.clarity = clarity
	e.logger.Info("Updated voice settings",
		zap.Float64("stability", stability),
		zap.Float64("clarity", clarity))
}

// SetVoiceID allows changing the voice used for TTS
func (e *ElevenLabsTTS) SetVoiceID(voiceID string) {
	e.voiceID = voiceID
	e.logger.Info("Updated voice ID", zap.String("voiceID", voiceID))
}

// NewElevenLabsConfigFromEnv creates a new ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	if chunkSizeStr := os.Getenv("ELEVEN_LABS_CHUNK_SIZE"); chunkSizeStr != "" {
		if chunkSize, err := strconv.Atoi(chunkSizeStr); err == nil && chunkSize > 0 {
			config.ChunkSize = chunkSize
		}
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}
