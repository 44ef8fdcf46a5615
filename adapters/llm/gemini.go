package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// GeminiMediator implements the MediationModel interface using Google's
// Gemini API
type GeminiMediator struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

var _ repositories.MediationModel = (*GeminiMediator)(nil)

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}
	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}
	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// NewGeminiMediator creates a new Gemini-backed mediator
func NewGeminiMediator(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiMediator, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if config.Model == "" {
		config.Model = defaultModel
		logger.Info("Using default model", zap.String("model", config.Model))
	}
	if config.Temperature == 0 {
		config.Temperature = float32(defaultTemperature)
	}
	if config.TopP == 0 {
		config.TopP = float32(defaultTopP)
	}
	if config.TopK == 0 {
		config.TopK = float32(defaultTopK)
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = defaultMaxTokens
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = defaultTimeoutSeconds
	}

	return &GeminiMediator{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// StartChat creates a mediation chat seeded with prior turns and the
// session's current phase
func (g *GeminiMediator) StartChat(ctx context.Context, history []entities.ConversationTurn, currentPhase entities.Phase) (repositories.MediationChat, error) {
	return newGeminiMediationChat(g.client, g.config, g.logger, history, currentPhase), nil
}
