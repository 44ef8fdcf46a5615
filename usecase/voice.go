package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// wordsPerSecond is the speaking-rate estimate used when a provider cannot
// report playback duration
const wordsPerSecond = 2.5

// VoiceIO fronts the ranked speech provider chains. Each chain ends with the
// deterministic mock, so a provider failure degrades to the next provider
// instead of failing the interaction; VoiceProviderError is logged, never
// returned.
type VoiceIO struct {
	recognizers  []repositories.SpeechToText
	synthesizers []repositories.TextToSpeech
	logger       *zap.Logger
}

// NewVoiceIO creates a voice I/O service over ranked provider chains. Both
// chains must end with a provider that cannot fail (the mock).
func NewVoiceIO(recognizers []repositories.SpeechToText, synthesizers []repositories.TextToSpeech, logger *zap.Logger) *VoiceIO {
	return &VoiceIO{
		recognizers:  recognizers,
		synthesizers: synthesizers,
		logger:       logger,
	}
}

// SpokenReply is the synthesized form of one assistant reply
type SpokenReply struct {
	Provider   string
	Audio      []byte
	DurationMs int64
}

// SpeechToText transcribes audio, walking the provider chain on failure
func (v *VoiceIO) SpeechToText(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcription, error) {
	var lastErr error
	for _, provider := range v.recognizers {
		result, err := provider.TranscribeAudio(ctx, audioData, config)
		if err == nil {
			return result, nil
		}
		lastErr = &entities.VoiceProviderError{Provider: provider.Name(), Err: err}
		v.logger.Warn("Speech provider failed, falling back",
			zap.String("provider", provider.Name()),
			zap.Error(err))
	}
	if lastErr != nil {
		return repositories.Transcription{}, lastErr
	}
	return repositories.Transcription{}, errors.New("no speech providers configured")
}

// TextToSpeech synthesizes text, walking the provider chain on failure.
// Empty text is a zero-duration no-op, not an error.
func (v *VoiceIO) TextToSpeech(ctx context.Context, text string) (SpokenReply, error) {
	if strings.TrimSpace(text) == "" {
		return SpokenReply{}, nil
	}

	var lastErr error
	for _, provider := range v.synthesizers {
		stream, err := provider.Synthesize(ctx, text)
		if err != nil {
			lastErr = &entities.VoiceProviderError{Provider: provider.Name(), Err: err}
			v.logger.Warn("Synthesis provider failed, falling back",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			continue
		}

		var audio []byte
		for chunk := range stream {
			audio = append(audio, chunk...)
		}
		return SpokenReply{
			Provider:   provider.Name(),
			Audio:      audio,
			DurationMs: estimateDurationMs(text),
		}, nil
	}
	if lastErr != nil {
		return SpokenReply{}, lastErr
	}
	return SpokenReply{}, errors.New("no synthesis providers configured")
}

// SynthesizeStream synthesizes text and hands back the raw chunk stream for
// callers that relay audio as it arrives (the websocket voice loop)
func (v *VoiceIO) SynthesizeStream(ctx context.Context, text string) (string, <-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		closed := make(chan []byte)
		close(closed)
		return "", closed, nil
	}

	var lastErr error
	for _, provider := range v.synthesizers {
		stream, err := provider.Synthesize(ctx, text)
		if err != nil {
			lastErr = &entities.VoiceProviderError{Provider: provider.Name(), Err: err}
			v.logger.Warn("Synthesis provider failed, falling back",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			continue
		}
		return provider.Name(), stream, nil
	}
	if lastErr != nil {
		return "", nil, lastErr
	}
	return "", nil, errors.New("no synthesis providers configured")
}

func estimateDurationMs(text string) int64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	seconds := float64(words) / wordsPerSecond
	return int64(seconds * float64(time.Second/time.Millisecond))
}
