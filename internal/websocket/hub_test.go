package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kintsugi-app/server/adapters"
	"github.com/kintsugi-app/server/adapters/emotion"
	"github.com/kintsugi-app/server/adapters/llm"
	"github.com/kintsugi-app/server/adapters/stt"
	"github.com/kintsugi-app/server/adapters/tts"
	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/phase"
	"github.com/kintsugi-app/server/domain/repositories"
	"github.com/kintsugi-app/server/usecase"
)

func setupTestHub(t testing.TB) (*Hub, *usecase.SessionStore, *zap.Logger) {
	logger := zap.NewNop() // No-op logger for tests

	repo := adapters.NewMemorySessionRepository()
	orch := usecase.NewOrchestrator(llm.NewMockMediator(), logger)
	store := usecase.NewSessionStore(repo, phase.NewMachine(), orch, emotion.NewLexiconAnalyzer(logger), logger)
	voice := usecase.NewVoiceIO(
		[]repositories.SpeechToText{stt.NewMockSpeechToText(logger)},
		[]repositories.TextToSpeech{tts.NewMockTTS(logger)},
		logger,
	)

	return NewHub(store, voice, logger), store, logger
}

func activeSession(t testing.TB, store *usecase.SessionStore, hostID string) *entities.Session {
	t.Helper()
	session, err := store.CreateSession(context.Background(), "weekend plans", entities.SessionModeSolo, hostID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	session, err = store.StartSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return session
}

func newTestClient(hub *Hub, logger *zap.Logger, participantID string) *Client {
	return &Client{
		hub:           hub,
		send:          make(chan WriteData, 256),
		done:          make(chan struct{}),
		participantID: participantID,
		logger:        logger,
	}
}

func readJSON(t *testing.T, client *Client) map[string]interface{} {
	t.Helper()
	select {
	case frame := <-client.send:
		if frame.Type != websocket.TextMessage {
			t.Fatalf("expected text frame, got type %d", frame.Type)
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			t.Fatalf("failed to unmarshal frame: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received within timeout")
		return nil
	}
}

func TestHub_NewHub(t *testing.T) {
	hub, _, _ := setupTestHub(t)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil {
		t.Error("Hub clients map not initialized")
	}
	if hub.rooms == nil {
		t.Error("Hub rooms map not initialized")
	}
	if hub.register == nil {
		t.Error("Hub register channel not initialized")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel not initialized")
	}
}

func TestClientMessageProcessing(t *testing.T) {
	hub, _, logger := setupTestHub(t)
	client := newTestClient(hub, logger, "participant-1")

	client.processMessage([]byte(`{"type": "ping", "data": "test-ping"}`))

	pong := readJSON(t, client)
	if pong["type"] != "pong" {
		t.Errorf("Expected pong type, got %v", pong["type"])
	}

	client.processMessage([]byte(`{invalid json}`))

	errMsg := readJSON(t, client)
	if errMsg["type"] != "error" {
		t.Errorf("Expected error type, got %v", errMsg["type"])
	}
}

func TestJoinSessionAndEventRelay(t *testing.T) {
	hub, store, logger := setupTestHub(t)
	session := activeSession(t, store, "participant-1")
	client := newTestClient(hub, logger, "participant-1")

	client.handleJoinSession(&JoinSessionMessage{SessionID: session.ID})

	joined := readJSON(t, client)
	if joined["type"] != string(MessageTypeJoined) {
		t.Fatalf("Expected joined message, got %v", joined["type"])
	}
	if joined["session_id"] != session.ID {
		t.Errorf("Expected session_id %s, got %v", session.ID, joined["session_id"])
	}

	// A store mutation must reach the room through the event relay.
	if _, err := store.AppendSystemTurn(context.Background(), session.ID, "Welcome to the preparation phase."); err != nil {
		t.Fatalf("AppendSystemTurn failed: %v", err)
	}

	event := readJSON(t, client)
	if event["type"] != string(MessageTypeSessionEvent) {
		t.Fatalf("Expected session_event, got %v", event["type"])
	}
}

func TestJoinSessionRejectsNonParticipant(t *testing.T) {
	hub, store, logger := setupTestHub(t)
	session := activeSession(t, store, "participant-1")
	client := newTestClient(hub, logger, "stranger")

	client.handleJoinSession(&JoinSessionMessage{SessionID: session.ID})

	errMsg := readJSON(t, client)
	if errMsg["type"] != "error" {
		t.Fatalf("Expected error, got %v", errMsg["type"])
	}
	if errMsg["error_code"] != "not_a_participant" {
		t.Errorf("Expected not_a_participant, got %v", errMsg["error_code"])
	}
}

func TestListeningStartGuards(t *testing.T) {
	hub, store, logger := setupTestHub(t)
	session := activeSession(t, store, "participant-1")
	client := newTestClient(hub, logger, "participant-1")

	client.handleJoinSession(&JoinSessionMessage{SessionID: session.ID})
	readJSON(t, client) // joined

	client.handleListeningStart(&ListeningStartMessage{SampleRate: 16000, Encoding: "pcm"})
	ack := readJSON(t, client)
	if ack["type"] != string(MessageTypeListeningStart) {
		t.Fatalf("Expected listening_start ack, got %v", ack["type"])
	}

	// Second start while the window is open is rejected.
	client.handleListeningStart(&ListeningStartMessage{})
	errMsg := readJSON(t, client)
	if errMsg["error_code"] != "already_listening" {
		t.Errorf("Expected already_listening, got %v", errMsg["error_code"])
	}
}

func TestListeningStartRequiresSession(t *testing.T) {
	hub, _, logger := setupTestHub(t)
	client := newTestClient(hub, logger, "participant-1")

	client.handleListeningStart(&ListeningStartMessage{})
	errMsg := readJSON(t, client)
	if errMsg["error_code"] != "no_session" {
		t.Errorf("Expected no_session, got %v", errMsg["error_code"])
	}
}

func TestListeningEndWithoutStartYieldsNullTranscript(t *testing.T) {
	hub, store, logger := setupTestHub(t)
	session := activeSession(t, store, "participant-1")
	client := newTestClient(hub, logger, "participant-1")

	client.handleJoinSession(&JoinSessionMessage{SessionID: session.ID})
	readJSON(t, client) // joined

	client.handleListeningEnd()

	ack := readJSON(t, client)
	if ack["type"] != string(MessageTypeListeningEnd) {
		t.Fatalf("Expected listening_end, got %v", ack["type"])
	}
	transcript, present := ack["transcript"]
	if !present {
		t.Fatal("Expected transcript field in null-result ack")
	}
	if transcript != nil {
		t.Errorf("Expected null transcript, got %v", transcript)
	}
}

func TestVoiceTurnRoundTrip(t *testing.T) {
	hub, store, logger := setupTestHub(t)
	session := activeSession(t, store, "participant-1")
	client := newTestClient(hub, logger, "participant-1")

	client.handleJoinSession(&JoinSessionMessage{SessionID: session.ID})
	readJSON(t, client) // joined

	client.handleListeningStart(&ListeningStartMessage{SampleRate: 16000, Encoding: "pcm"})
	readJSON(t, client) // listening_start ack

	client.processBinaryAudioChunk(bytes.Repeat([]byte{0x01}, 2000))
	client.handleListeningEnd()

	var sawTranscript, sawSpeakingStart, sawSpeakingEnd bool
	var audioBytes int
	deadline := time.After(5 * time.Second)
	for !sawSpeakingEnd {
		select {
		case frame := <-client.send:
			if frame.Type == websocket.BinaryMessage {
				audioBytes += len(frame.Payload)
				continue
			}
			var msg map[string]interface{}
			if err := json.Unmarshal(frame.Payload, &msg); err != nil {
				t.Fatalf("failed to unmarshal frame: %v", err)
			}
			switch msg["type"] {
			case string(MessageTypeTranscript):
				sawTranscript = true
			case string(MessageTypeSpeakingStart):
				sawSpeakingStart = true
			case string(MessageTypeSpeakingEnd):
				sawSpeakingEnd = true
			case string(MessageTypeSessionEvent), string(MessageTypeListeningEnd):
				// Expected alongside the voice flow
			case "error":
				t.Fatalf("unexpected error frame: %v", msg)
			}
		case <-deadline:
			t.Fatal("voice turn did not complete within timeout")
		}
	}

	if !sawTranscript {
		t.Error("expected a transcript message")
	}
	if !sawSpeakingStart {
		t.Error("expected a speaking_start message")
	}
	if audioBytes == 0 {
		t.Error("expected assistant audio chunks")
	}

	refreshed, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(refreshed.Turns) != 2 {
		t.Errorf("turns = %d, want 2", len(refreshed.Turns))
	}
}

func TestPlayReplyUnloadsPriorPlayback(t *testing.T) {
	hub, _, logger := setupTestHub(t)
	client := newTestClient(hub, logger, "participant-1")

	cancelled := false
	client.playbackCancel = func() { cancelled = true }

	turnContent := "Take a breath before you answer."
	assistant := entities.NewTurn("s1", entities.TurnRoleAssistant, turnContent)
	client.playReply("s1", &usecase.SubmitOutcome{AssistantTurn: &assistant}, usecase.SpokenReply{
		Provider:   "mock",
		Audio:      bytes.Repeat([]byte{0x02}, 100),
		DurationMs: 2400,
	})

	if !cancelled {
		t.Error("starting a new playback must cancel the prior handle")
	}

	start := readJSON(t, client)
	if start["type"] != string(MessageTypeSpeakingStart) {
		t.Errorf("Expected speaking_start, got %v", start["type"])
	}
}

func TestPlayReplySurvivesDisconnect(t *testing.T) {
	hub, _, logger := setupTestHub(t)
	client := newTestClient(hub, logger, "participant-1")

	// The peer is gone: the hub has unregistered the client while a voice
	// turn was still in flight. Outbound sends must return instead of
	// panicking, even with the send buffer too small to absorb the reply.
	client.send = make(chan WriteData, 1)
	close(client.done)

	assistant := entities.NewTurn("s1", entities.TurnRoleAssistant, "Let's slow down for a moment.")
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		client.playReply("s1", &usecase.SubmitOutcome{AssistantTurn: &assistant}, usecase.SpokenReply{
			Provider:   "mock",
			Audio:      bytes.Repeat([]byte{0x03}, playbackChunkSize*8),
			DurationMs: 1200,
		})
		client.sendError("turn_failed", "peer went away")
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not unwind after the client disconnected")
	}
}

func TestConcurrentClientHandling(t *testing.T) {
	hub, _, logger := setupTestHub(t)
	go hub.Run()

	numClients := 10
	clients := make([]*Client, numClients)
	for i := 0; i < numClients; i++ {
		clients[i] = newTestClient(hub, logger, fmt.Sprintf("participant-%d", i))
		hub.register <- clients[i]
	}

	time.Sleep(100 * time.Millisecond)

	hub.mu.RLock()
	registered := len(hub.clients)
	hub.mu.RUnlock()
	if registered != numClients {
		t.Errorf("Expected %d registered clients, got %d", numClients, registered)
	}

	for _, client := range clients {
		hub.unregister <- client
	}

	time.Sleep(100 * time.Millisecond)

	hub.mu.RLock()
	registered = len(hub.clients)
	hub.mu.RUnlock()
	if registered != 0 {
		t.Errorf("Expected 0 registered clients, got %d", registered)
	}
}

func BenchmarkMessageValidation(b *testing.B) {
	validator := NewMessageValidator()
	message := []byte(`{"type": "listening_start", "sample_rate": 16000, "encoding": "pcm", "language": "en-US"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := validator.ValidateMessage(message); err != nil {
			b.Errorf("Validation failed: %v", err)
		}
	}
}
