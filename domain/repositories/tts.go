package repositories

import "context"

// TextToSpeech abstracts speech synthesis providers
type TextToSpeech interface {
	// Name identifies the provider in logs and fallback decisions.
	Name() string
	// Synthesize converts text to a stream of audio chunks.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
