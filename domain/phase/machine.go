// Package phase implements the mediation session phase state machine.
// The machine is pure and synchronous: it validates transitions and returns
// PhaseTransition records, leaving persistence to the caller.
package phase

import (
	"time"

	"github.com/kintsugi-app/server/domain/entities"
)

// Machine validates phase transitions for mediation sessions. The zero value
// is ready to use.
type Machine struct{}

// NewMachine creates a phase machine
func NewMachine() *Machine {
	return &Machine{}
}

// Start transitions a session from no phase into preparation. It fails with
// ErrInvalidState unless the session is in the created status and enough
// participants have joined (two for multi-party sessions, one for solo).
func (m *Machine) Start(session *entities.Session) (entities.PhaseTransition, error) {
	if session.Status != entities.SessionStatusCreated {
		return entities.PhaseTransition{}, entities.ErrInvalidState
	}
	if len(session.ParticipantIDs) < session.RequiredParticipants() {
		return entities.PhaseTransition{}, entities.ErrInvalidState
	}

	return entities.PhaseTransition{
		From:        entities.PhaseNone,
		To:          entities.PhasePreparation,
		TriggeredBy: entities.TriggerManual,
		Timestamp:   time.Now(),
	}, nil
}

// Advance validates a transition from current to requested. Legal moves are:
// the immediate successor of current, the current phase itself (no-op), or a
// manual revisit of an earlier phase while the session is not closed. Healing
// is terminal: once reached, only the same-phase no-op is accepted. Illegal
// requests return *IllegalTransitionError; the machine never clamps or
// retries.
func (m *Machine) Advance(session *entities.Session, requested entities.Phase, trigger entities.TransitionTrigger) (entities.PhaseTransition, error) {
	current := session.CurrentPhase

	currentIdx := entities.PhaseIndex(current)
	requestedIdx := entities.PhaseIndex(requested)

	illegal := func() (entities.PhaseTransition, error) {
		return entities.PhaseTransition{}, &entities.IllegalTransitionError{
			From:    current,
			To:      requested,
			Trigger: trigger,
		}
	}

	if requestedIdx < 0 {
		return illegal()
	}
	if session.Status != entities.SessionStatusActive {
		return illegal()
	}

	switch {
	case requestedIdx == currentIdx:
		// No-op transition, stays on the same phase.
	case requestedIdx == currentIdx+1:
		// Forward to the immediate successor.
	case requestedIdx < currentIdx && trigger == entities.TriggerManual && !m.IsTerminal(current) && !session.IsClosed():
		// Non-destructive revisit of an already-passed phase.
	default:
		return illegal()
	}

	return entities.PhaseTransition{
		From:        current,
		To:          requested,
		TriggeredBy: trigger,
		Timestamp:   time.Now(),
	}, nil
}

// Successor returns the next phase in the fixed order, or PhaseNone when the
// phase is terminal or unknown.
func (m *Machine) Successor(p entities.Phase) entities.Phase {
	idx := entities.PhaseIndex(p)
	if idx < 0 || idx+1 >= len(entities.PhaseOrder) {
		return entities.PhaseNone
	}
	return entities.PhaseOrder[idx+1]
}

// IsTerminal reports whether p is the final phase
func (m *Machine) IsTerminal(p entities.Phase) bool {
	return p == entities.PhaseHealing
}

// ProgressRatio maps a phase to a progress value for UI display. PhaseNone is
// 0, the terminal phase is exactly 1, and every in-flight phase counts its
// completed predecessors plus a half credit for being underway.
func (m *Machine) ProgressRatio(p entities.Phase) float64 {
	idx := entities.PhaseIndex(p)
	if idx < 0 {
		return 0
	}
	if m.IsTerminal(p) {
		return 1
	}
	total := float64(len(entities.PhaseOrder))
	return (float64(idx) + 0.5) / total
}
