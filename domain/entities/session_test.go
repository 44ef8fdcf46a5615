package entities

import (
	"testing"
	"time"
)

func TestSessionCreation(t *testing.T) {
	session := NewSession("Roommate dispute", SessionModeMulti, "host-1")

	if session.Status != SessionStatusCreated {
		t.Errorf("Expected status %s, got %s", SessionStatusCreated, session.Status)
	}

	if session.CurrentPhase != PhaseNone {
		t.Errorf("Expected phase %s, got %s", PhaseNone, session.CurrentPhase)
	}

	if len(session.ParticipantIDs) != 1 || session.ParticipantIDs[0] != "host-1" {
		t.Errorf("Expected host participant, got %v", session.ParticipantIDs)
	}

	if len(session.Turns) != 0 {
		t.Errorf("Expected empty turns, got %d", len(session.Turns))
	}
}

func TestAddParticipantUnique(t *testing.T) {
	session := NewSession("Test", SessionModeMulti, "host-1")

	if !session.AddParticipant("guest-1") {
		t.Error("Adding a new participant should succeed")
	}
	if session.AddParticipant("guest-1") {
		t.Error("Adding a duplicate participant should be a no-op")
	}
	if session.AddParticipant("") {
		t.Error("Adding an empty participant ID should be rejected")
	}
	if len(session.ParticipantIDs) != 2 {
		t.Errorf("Expected 2 participants, got %d", len(session.ParticipantIDs))
	}
}

func TestRequiredParticipants(t *testing.T) {
	solo := NewSession("Journal", SessionModeSolo, "p1")
	if solo.RequiredParticipants() != 1 {
		t.Errorf("Solo session should require 1 participant, got %d", solo.RequiredParticipants())
	}

	multi := NewSession("Mediation", SessionModeMulti, "p1")
	if multi.RequiredParticipants() != 2 {
		t.Errorf("Multi session should require 2 participants, got %d", multi.RequiredParticipants())
	}
}

func TestAppendAndRemoveTurn(t *testing.T) {
	session := NewSession("Test", SessionModeSolo, "p1")
	session.ID = "session-1"

	userTurn := NewTurn(session.ID, TurnRoleUser, "I feel unheard")
	session.AppendTurn(userTurn)

	assistantTurn := NewTurn(session.ID, TurnRoleAssistant, "Tell me more about that")
	session.AppendTurn(assistantTurn)

	if len(session.Turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(session.Turns))
	}
	if session.Turns[0].Role != TurnRoleUser {
		t.Errorf("Expected user role first, got %s", session.Turns[0].Role)
	}
	if session.Turns[1].Content != "Tell me more about that" {
		t.Errorf("Unexpected assistant content: %s", session.Turns[1].Content)
	}

	if !session.RemoveTurn(assistantTurn.ID) {
		t.Error("Removing an existing turn should succeed")
	}
	if session.RemoveTurn("missing") {
		t.Error("Removing an unknown turn should report false")
	}
	if len(session.Turns) != 1 {
		t.Errorf("Expected 1 turn after removal, got %d", len(session.Turns))
	}
}

func TestSessionLifecycleInvariants(t *testing.T) {
	session := NewSession("Test", SessionModeSolo, "p1")

	if err := session.Validate(); err != nil {
		t.Errorf("Fresh session should be valid, got: %v", err)
	}

	// Active session without a phase violates the invariant.
	session.Status = SessionStatusActive
	if err := session.Validate(); err == nil {
		t.Error("Active session without a phase should be invalid")
	}

	session.CurrentPhase = PhasePreparation
	if err := session.Validate(); err != nil {
		t.Errorf("Active session in preparation should be valid, got: %v", err)
	}

	// A phase on a non-active session violates the invariant.
	session.Status = SessionStatusCreated
	if err := session.Validate(); err == nil {
		t.Error("Created session carrying a phase should be invalid")
	}

	session.Status = SessionStatusActive
	session.Complete()
	if session.Status != SessionStatusCompleted {
		t.Errorf("Expected completed status, got %s", session.Status)
	}
	if session.CurrentPhase != PhaseNone {
		t.Error("Completing a session should clear the phase")
	}
	if session.CompletedAt == nil {
		t.Error("Completed session should have completed_at")
	}
	if err := session.Validate(); err != nil {
		t.Errorf("Completed session should be valid, got: %v", err)
	}

	// Open session with completed_at violates the invariant.
	session.Status = SessionStatusActive
	session.CurrentPhase = PhaseExploration
	if err := session.Validate(); err == nil {
		t.Error("Active session with completed_at should be invalid")
	}
}

func TestRecordTransition(t *testing.T) {
	session := NewSession("Test", SessionModeSolo, "p1")
	session.Activate()

	transition := PhaseTransition{
		From:        PhaseNone,
		To:          PhasePreparation,
		TriggeredBy: TriggerManual,
		Timestamp:   time.Now(),
	}
	session.RecordTransition(transition)

	if session.CurrentPhase != PhasePreparation {
		t.Errorf("Expected phase preparation, got %s", session.CurrentPhase)
	}
	if len(session.Transitions) != 1 {
		t.Errorf("Expected 1 recorded transition, got %d", len(session.Transitions))
	}
}

func TestPhaseIndex(t *testing.T) {
	if PhaseIndex(PhaseNone) != -1 {
		t.Error("PhaseNone should have no index")
	}
	if PhaseIndex(PhasePreparation) != 0 {
		t.Errorf("Expected preparation at index 0, got %d", PhaseIndex(PhasePreparation))
	}
	if PhaseIndex(PhaseHealing) != 4 {
		t.Errorf("Expected healing at index 4, got %d", PhaseIndex(PhaseHealing))
	}
}

func TestAttachEmotionalTone(t *testing.T) {
	turn := NewTurn("session-1", TurnRoleUser, "I'm frustrated")
	if turn.EmotionalTone != nil {
		t.Error("New turn should have no emotional tone")
	}

	turn.AttachEmotionalTone("frustrated")
	if turn.EmotionalTone == nil || *turn.EmotionalTone != "frustrated" {
		t.Error("Expected attached emotional tone")
	}
}
