package turn

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kintsugi-app/server/adapters"
	"github.com/kintsugi-app/server/adapters/emotion"
	"github.com/kintsugi-app/server/adapters/llm"
	"github.com/kintsugi-app/server/adapters/stt"
	"github.com/kintsugi-app/server/adapters/tts"
	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/phase"
	"github.com/kintsugi-app/server/domain/repositories"
	"github.com/kintsugi-app/server/internal/saga"
	"github.com/kintsugi-app/server/usecase"
)

type brokenTTS struct{}

func (b *brokenTTS) Name() string { return "broken" }

func (b *brokenTTS) Synthesize(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, errors.New("synthesis unavailable")
}

func newPipeline(t *testing.T, synthesizers []repositories.TextToSpeech) (saga.Definition, *usecase.SessionStore, *saga.Runner) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	repo := adapters.NewMemorySessionRepository()
	orch := usecase.NewOrchestrator(llm.NewMockMediator(), logger)
	store := usecase.NewSessionStore(repo, phase.NewMachine(), orch, emotion.NewLexiconAnalyzer(logger), logger)
	voice := usecase.NewVoiceIO(
		[]repositories.SpeechToText{stt.NewMockSpeechToText(logger)},
		synthesizers,
		logger,
	)

	return NewDefinition(voice, store), store, saga.NewRunner(logger)
}

func startedSession(t *testing.T, store *usecase.SessionStore) *entities.Session {
	t.Helper()
	session, err := store.CreateSession(context.Background(), "kitchen standoff", entities.SessionModeSolo, "host-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	session, err = store.StartSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return session
}

func TestVoiceTurnPipeline(t *testing.T) {
	logger := zaptest.NewLogger(t)
	def, store, runner := newPipeline(t, []repositories.TextToSpeech{tts.NewMockTTS(logger)})
	session := startedSession(t, store)

	data := saga.Data{
		KeySessionID:   session.ID,
		KeyAudioData:   bytes.Repeat([]byte{0x01}, 2000),
		KeyAudioConfig: repositories.AudioConfig{SampleRate: 16000, Encoding: "pcm", Language: "en-US"},
	}
	outcome, err := runner.Run(context.Background(), def, data)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Compensated {
		t.Error("successful pipeline should not compensate")
	}

	submit, ok := data[KeyOutcome].(*usecase.SubmitOutcome)
	if !ok || submit.AssistantTurn == nil {
		t.Fatal("expected a submit outcome with an assistant turn")
	}
	reply, ok := data[KeyReply].(usecase.SpokenReply)
	if !ok || len(reply.Audio) == 0 {
		t.Fatal("expected synthesized audio in pipeline data")
	}

	refreshed, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(refreshed.Turns) != 2 {
		t.Errorf("turns = %d, want 2", len(refreshed.Turns))
	}
}

func TestVoiceTurnPipelineRejectsEmptyAudio(t *testing.T) {
	logger := zaptest.NewLogger(t)
	def, store, runner := newPipeline(t, []repositories.TextToSpeech{tts.NewMockTTS(logger)})
	session := startedSession(t, store)

	data := saga.Data{KeySessionID: session.ID, KeyAudioData: []byte{}}
	if _, err := runner.Run(context.Background(), def, data); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestVoiceTurnPipelineCompensatesOnSynthesisFailure(t *testing.T) {
	// No mock at the end of the chain, so synthesis hard-fails and the
	// mediation step's optimistic appends must be rolled back.
	def, store, runner := newPipeline(t, []repositories.TextToSpeech{&brokenTTS{}})
	session := startedSession(t, store)

	data := saga.Data{
		KeySessionID:   session.ID,
		KeyAudioData:   bytes.Repeat([]byte{0x01}, 2000),
		KeyAudioConfig: repositories.AudioConfig{SampleRate: 16000, Encoding: "pcm", Language: "en-US"},
	}
	outcome, err := runner.Run(context.Background(), def, data)
	if err == nil {
		t.Fatal("expected pipeline failure")
	}
	if !outcome.Compensated {
		t.Error("expected compensation to run")
	}

	refreshed, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(refreshed.Turns) != 0 {
		t.Errorf("turns = %d, want 0 after rollback", len(refreshed.Turns))
	}
}
