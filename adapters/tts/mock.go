package tts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/repositories"
)

// MockTTS is a deterministic synthesizer used when no API key is configured
// and in tests. It emits one fixed-size silent chunk per word.
type MockTTS struct {
	chunkSize int
	logger    *zap.Logger
}

var _ repositories.TextToSpeech = (*MockTTS)(nil)

// NewMockTTS creates a new mock text-to-speech service
func NewMockTTS(logger *zap.Logger) *MockTTS {
	return &MockTTS{
		chunkSize: defaultChunkSize,
		logger:    logger,
	}
}

// Name implements repositories.TextToSpeech
func (m *MockTTS) Name() string {
	return "mock"
}

// Synthesize implements repositories.TextToSpeech
func (m *MockTTS) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	words := strings.Fields(text)
	m.logger.Info("Synthesizing mock audio", zap.Int("words", len(words)))

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		for range words {
			chunk := make([]byte, m.chunkSize)
			select {
			case audioChan <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioChan, nil
}
