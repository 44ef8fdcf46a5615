package emotion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

const defaultTimeoutSeconds = 15

// HTTPAnalyzerConfig holds configuration for the remote emotion scorer client
type HTTPAnalyzerConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// ValidateHTTPAnalyzerConfig validates the HTTPAnalyzerConfig
func ValidateHTTPAnalyzerConfig(config HTTPAnalyzerConfig) error {
	if config.BaseURL == "" {
		return fmt.Errorf("emotion API base URL is required")
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// NewHTTPAnalyzerConfigFromEnv creates an HTTPAnalyzerConfig from environment variables
func NewHTTPAnalyzerConfigFromEnv() HTTPAnalyzerConfig {
	config := HTTPAnalyzerConfig{
		BaseURL: os.Getenv("EMOTION_API_BASE_URL"),
		APIKey:  os.Getenv("EMOTION_API_KEY"),
	}

	if timeoutStr := os.Getenv("EMOTION_API_TIMEOUT_SECONDS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil && timeout > 0 {
			config.TimeoutSeconds = timeout
		}
	}

	return config
}

// HTTPAnalyzer calls a remote emotion scorer over REST. Any transport or
// server failure surfaces as *entities.AnalysisUnavailableError so callers
// can continue the conversation without emotional context.
type HTTPAnalyzer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.EmotionAnalyzer = (*HTTPAnalyzer)(nil)

// NewHTTPAnalyzer creates a new remote emotion scorer client
func NewHTTPAnalyzer(config HTTPAnalyzerConfig, logger *zap.Logger) (*HTTPAnalyzer, error) {
	if err := ValidateHTTPAnalyzerConfig(config); err != nil {
		return nil, err
	}

	timeout := config.TimeoutSeconds
	if timeout == 0 {
		timeout = defaultTimeoutSeconds
	}

	return &HTTPAnalyzer{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		logger:     logger,
	}, nil
}

type analyzeRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	AudioData string `json:"audio_data,omitempty"`
	Modality  string `json:"modality"`
}

type analyzeResponse struct {
	Analysis entities.EmotionRecord `json:"analysis"`
}

// Analyze implements repositories.EmotionAnalyzer
func (a *HTTPAnalyzer) Analyze(ctx context.Context, input repositories.AnalysisInput) (*entities.EmotionRecord, error) {
	if input.Text == "" && len(input.AudioData) == 0 {
		return nil, fmt.Errorf("analysis input requires text or audio data")
	}

	payload := analyzeRequest{
		SessionID: input.SessionID,
		Text:      input.Text,
		Modality:  string(input.Modality),
	}
	if len(input.AudioData) > 0 {
		payload.AudioData = base64.StdEncoding.EncodeToString(input.AudioData)
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	url := a.baseURL + "/emotions/analyze"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		a.logger.Warn("Emotion scorer unreachable", zap.Error(err))
		return nil, &entities.AnalysisUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		a.logger.Warn("Emotion scorer returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return nil, &entities.AnalysisUnavailableError{
			Err: fmt.Errorf("emotion scorer returned %d", resp.StatusCode),
		}
	}

	var decoded analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &entities.AnalysisUnavailableError{
			Err: fmt.Errorf("failed to decode analysis response: %w", err),
		}
	}

	record := decoded.Analysis
	record.SessionID = input.SessionID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := record.Validate(); err != nil {
		return nil, &entities.AnalysisUnavailableError{
			Err: fmt.Errorf("scorer returned invalid record: %w", err),
		}
	}

	record.SortSecondaryEmotions()
	return &record, nil
}
