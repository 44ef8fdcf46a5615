package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/repositories"
)

// MockSpeechToText is a deterministic recognizer used when no cloud
// credentials are configured and in tests
type MockSpeechToText struct {
	logger *zap.Logger
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	logger        *zap.Logger
	language      string
	audioReceived bool
	transcription string
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) repositories.SpeechToText {
	return &MockSpeechToText{
		logger: logger,
	}
}

// Name implements repositories.SpeechToText
func (s *MockSpeechToText) Name() string {
	return "mock"
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{
		logger:   s.logger,
		language: config.Language,
	}, nil
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.logger.Debug("Processing mock audio chunk", zap.Int("size", len(data)))

	if len(data) > 0 {
		m.audioReceived = true
		m.transcription = transcriptForSize(len(data))
	}

	return nil
}

// End returns the mock transcription result
func (m *MockSpeechToTextStream) End() (repositories.Transcription, error) {
	m.logger.Info("Ending mock transcription stream", zap.String("result", m.transcription))

	if !m.audioReceived {
		return repositories.Transcription{}, fmt.Errorf("no audio data received")
	}

	if m.transcription == "" {
		return repositories.Transcription{}, fmt.Errorf("no speech detected in audio")
	}

	confidence := 0.92
	return repositories.Transcription{
		Text:       m.transcription,
		Confidence: &confidence,
		Language:   m.language,
	}, nil
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcription, error) {
	s.logger.Info("Processing mock speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	if len(audioData) == 0 {
		return repositories.Transcription{}, fmt.Errorf("no audio data received")
	}

	confidence := 0.92
	return repositories.Transcription{
		Text:       transcriptForSize(len(audioData)),
		Confidence: &confidence,
		Language:   config.Language,
	}, nil
}

// transcriptForSize keys the canned utterance off the audio size so tests can
// choose which one they get
func transcriptForSize(size int) string {
	switch {
	case size > 10000:
		return "I keep feeling like I'm not being heard when we talk about the budget."
	case size > 5000:
		return "I think we're ready to move on."
	case size > 1000:
		return "That actually makes sense to me now."
	default:
		return "Okay."
	}
}
