package repositories

import (
	"context"

	"github.com/kintsugi-app/server/domain/entities"
)

// AnalysisModality identifies the kind of input sent to the emotion scorer
type AnalysisModality string

const (
	ModalityText   AnalysisModality = "text"
	ModalityVoice  AnalysisModality = "voice"
	ModalityFacial AnalysisModality = "facial"
)

// AnalysisInput carries one payload for emotion analysis
type AnalysisInput struct {
	SessionID string           `json:"session_id,omitempty"`
	Modality  AnalysisModality `json:"modality"`
	Text      string           `json:"text,omitempty"`
	AudioData []byte           `json:"audio_data,omitempty"`
}

// EmotionAnalyzer produces an EmotionRecord from text, voice, or facial
// input. An unreachable scorer is reported as *AnalysisUnavailableError;
// callers treat that as non-fatal and continue without emotional context for
// the turn.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, input AnalysisInput) (*entities.EmotionRecord, error)
}
