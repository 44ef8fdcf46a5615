// Package turn defines the voice-turn pipeline: transcribe the captured
// audio, run the mediation round trip, and synthesize the reply. Steps share
// state through saga.Data under the Key* constants below.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/kintsugi-app/server/domain/repositories"
	"github.com/kintsugi-app/server/internal/saga"
	"github.com/kintsugi-app/server/usecase"
)

const (
	KeySessionID   = "session_id"
	KeyAudioData   = "audio_data"
	KeyAudioConfig = "audio_config"
	KeyTranscript  = "transcript"
	KeyOutcome     = "outcome"
	KeyReply       = "reply"
)

const pipelineTimeout = 60 * time.Second

// NewDefinition builds the voice-turn pipeline over the given services.
func NewDefinition(voice *usecase.VoiceIO, store *usecase.SessionStore) saga.Definition {
	return saga.Definition{
		ID:      "voice-turn",
		Timeout: pipelineTimeout,
		Steps: []saga.Step{
			&TranscribeStep{voice: voice},
			&MediateStep{store: store},
			&SynthesizeStep{voice: voice},
		},
	}
}

// TranscribeStep turns the buffered audio into text.
type TranscribeStep struct {
	voice *usecase.VoiceIO
}

func (s *TranscribeStep) ID() string { return "transcribe" }

func (s *TranscribeStep) Execute(ctx context.Context, data saga.Data) error {
	audio, ok := data[KeyAudioData].([]byte)
	if !ok || len(audio) == 0 {
		return fmt.Errorf("no audio buffered for transcription")
	}
	config, _ := data[KeyAudioConfig].(repositories.AudioConfig)

	transcription, err := s.voice.SpeechToText(ctx, audio, config)
	if err != nil {
		return err
	}
	data[KeyTranscript] = transcription
	return nil
}

func (s *TranscribeStep) Compensate(_ context.Context, _ saga.Data) error {
	// Transcription has no side effects to undo.
	return nil
}

// MediateStep submits the transcript through the session store, which
// appends the user and assistant turns.
type MediateStep struct {
	store *usecase.SessionStore
}

func (s *MediateStep) ID() string { return "mediate" }

func (s *MediateStep) Execute(ctx context.Context, data saga.Data) error {
	sessionID, _ := data[KeySessionID].(string)
	transcription, ok := data[KeyTranscript].(repositories.Transcription)
	if !ok {
		return fmt.Errorf("transcript missing from pipeline data")
	}

	outcome, err := s.store.SubmitUtterance(ctx, sessionID, transcription.Text)
	if outcome != nil {
		data[KeyOutcome] = outcome
	}
	return err
}

// Compensate removes the optimistically appended turns when a later step
// fails.
func (s *MediateStep) Compensate(ctx context.Context, data saga.Data) error {
	sessionID, _ := data[KeySessionID].(string)
	outcome, ok := data[KeyOutcome].(*usecase.SubmitOutcome)
	if !ok {
		return nil
	}
	if outcome.AssistantTurn != nil {
		s.store.RemoveTurn(ctx, sessionID, outcome.AssistantTurn.ID)
	}
	s.store.RemoveTurn(ctx, sessionID, outcome.UserTurn.ID)
	return nil
}

// SynthesizeStep voices the assistant reply.
type SynthesizeStep struct {
	voice *usecase.VoiceIO
}

func (s *SynthesizeStep) ID() string { return "synthesize" }

func (s *SynthesizeStep) Execute(ctx context.Context, data saga.Data) error {
	outcome, ok := data[KeyOutcome].(*usecase.SubmitOutcome)
	if !ok || outcome.AssistantTurn == nil {
		return fmt.Errorf("no assistant reply to synthesize")
	}

	reply, err := s.voice.TextToSpeech(ctx, outcome.AssistantTurn.Content)
	if err != nil {
		return err
	}
	data[KeyReply] = reply
	return nil
}

func (s *SynthesizeStep) Compensate(_ context.Context, _ saga.Data) error {
	// Nothing was persisted; the audio simply goes unused.
	return nil
}
