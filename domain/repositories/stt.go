package repositories

import "context"

// SpeechToText abstracts speech recognition providers
type SpeechToText interface {
	// Name identifies the provider in logs and fallback decisions.
	Name() string
	// TranscribeAudio converts audio data to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (Transcription, error)
	// InitTranscribeStreaming initializes a streaming transcription session
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// Transcription is the result of one recognition pass
type Transcription struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Language   string   `json:"language,omitempty"`
}

type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (Transcription, error)
}
