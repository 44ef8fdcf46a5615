package phase

import (
	"errors"
	"testing"

	"github.com/kintsugi-app/server/domain/entities"
)

func activeSession(current entities.Phase) *entities.Session {
	session := entities.NewSession("Test", entities.SessionModeMulti, "p1")
	session.AddParticipant("p2")
	session.Activate()
	session.CurrentPhase = current
	return session
}

func TestStartRequiresParticipants(t *testing.T) {
	machine := NewMachine()

	session := entities.NewSession("Mediation", entities.SessionModeMulti, "p1")
	if _, err := machine.Start(session); !errors.Is(err, entities.ErrInvalidState) {
		t.Errorf("Start with one of two participants should fail, got %v", err)
	}

	session.AddParticipant("p2")
	transition, err := machine.Start(session)
	if err != nil {
		t.Fatalf("Start with enough participants should succeed, got %v", err)
	}
	if transition.From != entities.PhaseNone || transition.To != entities.PhasePreparation {
		t.Errorf("Expected none -> preparation, got %s -> %s", transition.From, transition.To)
	}

	solo := entities.NewSession("Journal", entities.SessionModeSolo, "p1")
	if _, err := machine.Start(solo); err != nil {
		t.Errorf("Solo session with one participant should start, got %v", err)
	}
}

func TestStartRejectsNonCreatedSession(t *testing.T) {
	machine := NewMachine()

	session := activeSession(entities.PhasePreparation)
	if _, err := machine.Start(session); !errors.Is(err, entities.ErrInvalidState) {
		t.Errorf("Start on an active session should fail, got %v", err)
	}
}

func TestAdvanceSuccessorAndNoOp(t *testing.T) {
	machine := NewMachine()

	for i, p := range entities.PhaseOrder {
		session := activeSession(p)

		// Same-phase request is a legal no-op.
		transition, err := machine.Advance(session, p, entities.TriggerManual)
		if err != nil {
			t.Errorf("advance(%s, %s) no-op should succeed, got %v", p, p, err)
		}
		if transition.To != p {
			t.Errorf("No-op should return the same phase, got %s", transition.To)
		}

		// Immediate successor is legal for every non-terminal phase.
		if i+1 < len(entities.PhaseOrder) {
			next := entities.PhaseOrder[i+1]
			transition, err := machine.Advance(session, next, entities.TriggerManual)
			if err != nil {
				t.Errorf("advance(%s, %s) should succeed, got %v", p, next, err)
			}
			if transition.From != p || transition.To != next {
				t.Errorf("Expected %s -> %s, got %s -> %s", p, next, transition.From, transition.To)
			}
		}
	}
}

func TestAdvanceRejectsSkips(t *testing.T) {
	machine := NewMachine()

	for i, p := range entities.PhaseOrder {
		if i+2 >= len(entities.PhaseOrder) {
			continue
		}
		session := activeSession(p)
		skip := entities.PhaseOrder[i+2]

		_, err := machine.Advance(session, skip, entities.TriggerManual)
		var illegal *entities.IllegalTransitionError
		if !errors.As(err, &illegal) {
			t.Errorf("advance(%s, %s) should fail with IllegalTransitionError, got %v", p, skip, err)
		}
	}
}

func TestAdvanceRevisitPolicy(t *testing.T) {
	machine := NewMachine()

	// Manual revisit of an earlier phase is allowed while the session is open.
	session := activeSession(entities.PhaseResolution)
	if _, err := machine.Advance(session, entities.PhaseExploration, entities.TriggerManual); err != nil {
		t.Errorf("Manual revisit of an earlier phase should succeed, got %v", err)
	}

	// The same backward move is illegal for non-manual triggers.
	_, err := machine.Advance(session, entities.PhaseExploration, entities.TriggerOrchestratorSignal)
	var illegal *entities.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Errorf("Non-manual backward move should be illegal, got %v", err)
	}
}

func TestFullPhaseWalk(t *testing.T) {
	machine := NewMachine()

	session := entities.NewSession("Mediation", entities.SessionModeMulti, "p1")
	session.AddParticipant("p2")

	transition, err := machine.Start(session)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Activate()
	session.RecordTransition(transition)
	if session.CurrentPhase != entities.PhasePreparation {
		t.Fatalf("Expected preparation after start, got %s", session.CurrentPhase)
	}

	for _, next := range entities.PhaseOrder[1:] {
		transition, err := machine.Advance(session, next, entities.TriggerManual)
		if err != nil {
			t.Fatalf("Advance to %s failed: %v", next, err)
		}
		session.RecordTransition(transition)
	}
	if session.CurrentPhase != entities.PhaseHealing {
		t.Fatalf("Expected healing at end of walk, got %s", session.CurrentPhase)
	}

	// Healing is terminal. Even while the session stays open, the only
	// accepted request is the same-phase no-op.
	_, err = machine.Advance(session, entities.PhasePreparation, entities.TriggerManual)
	var illegal *entities.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Errorf("Backward jump out of healing should be illegal, got %v", err)
	}
	if _, err := machine.Advance(session, entities.PhaseHealing, entities.TriggerManual); err != nil {
		t.Errorf("Same-phase no-op on healing should succeed, got %v", err)
	}

	session.Complete()
	_, err = machine.Advance(session, entities.PhasePreparation, entities.TriggerManual)
	if !errors.As(err, &illegal) {
		t.Errorf("Revisit on a completed session should be illegal, got %v", err)
	}
}

func TestAdvanceTerminalPhaseRejectsRevisit(t *testing.T) {
	machine := NewMachine()

	session := activeSession(entities.PhaseHealing)
	for _, earlier := range entities.PhaseOrder[:len(entities.PhaseOrder)-1] {
		_, err := machine.Advance(session, earlier, entities.TriggerManual)
		var illegal *entities.IllegalTransitionError
		if !errors.As(err, &illegal) {
			t.Errorf("advance(healing, %s, manual) should fail with IllegalTransitionError, got %v", earlier, err)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	machine := NewMachine()

	if !machine.IsTerminal(entities.PhaseHealing) {
		t.Error("healing should be terminal")
	}
	for _, p := range entities.PhaseOrder[:len(entities.PhaseOrder)-1] {
		if machine.IsTerminal(p) {
			t.Errorf("%s should not be terminal", p)
		}
	}
	if machine.IsTerminal(entities.PhaseNone) {
		t.Error("none should not be terminal")
	}
}

func TestProgressRatio(t *testing.T) {
	machine := NewMachine()

	if machine.ProgressRatio(entities.PhaseNone) != 0 {
		t.Errorf("Expected 0 for none, got %f", machine.ProgressRatio(entities.PhaseNone))
	}
	if machine.ProgressRatio(entities.PhaseHealing) != 1 {
		t.Errorf("Expected exactly 1 for healing, got %f", machine.ProgressRatio(entities.PhaseHealing))
	}

	// Monotonically non-decreasing along legal forward advances.
	previous := machine.ProgressRatio(entities.PhaseNone)
	for _, p := range entities.PhaseOrder {
		ratio := machine.ProgressRatio(p)
		if ratio < previous {
			t.Errorf("Progress decreased at %s: %f < %f", p, ratio, previous)
		}
		if ratio <= 0 || ratio > 1 {
			t.Errorf("Progress for %s out of range: %f", p, ratio)
		}
		previous = ratio
	}
}

func TestSuccessor(t *testing.T) {
	machine := NewMachine()

	if machine.Successor(entities.PhasePreparation) != entities.PhaseExploration {
		t.Error("preparation should advance to exploration")
	}
	if machine.Successor(entities.PhaseHealing) != entities.PhaseNone {
		t.Error("healing has no successor")
	}
	if machine.Successor(entities.PhaseNone) != entities.PhaseNone {
		t.Error("none has no successor")
	}
}
