package entities

import (
	"errors"
	"time"
)

// SessionStatus represents the lifecycle status of a mediation session
type SessionStatus string

const (
	SessionStatusCreated   SessionStatus = "created"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// SessionMode distinguishes solo reflection sessions from multi-party mediation
type SessionMode string

const (
	SessionModeSolo  SessionMode = "solo"
	SessionModeMulti SessionMode = "multi"
)

// Phase is one stage of the mediation flow. Phases form a fixed linear order;
// PhaseNone precedes preparation and is the only valid phase for a session
// that is not active.
type Phase string

const (
	PhaseNone          Phase = "none"
	PhasePreparation   Phase = "preparation"
	PhaseExploration   Phase = "exploration"
	PhaseUnderstanding Phase = "understanding"
	PhaseResolution    Phase = "resolution"
	PhaseHealing       Phase = "healing"
)

// PhaseOrder is the canonical forward order of mediation phases.
var PhaseOrder = []Phase{
	PhasePreparation,
	PhaseExploration,
	PhaseUnderstanding,
	PhaseResolution,
	PhaseHealing,
}

// PhaseIndex returns the position of p in PhaseOrder, or -1 for PhaseNone and
// unknown values.
func PhaseIndex(p Phase) int {
	for i, candidate := range PhaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// TransitionTrigger identifies what caused a phase transition
type TransitionTrigger string

const (
	TriggerOrchestratorSignal TransitionTrigger = "orchestrator_signal"
	TriggerManual             TransitionTrigger = "manual"
	TriggerTimeout            TransitionTrigger = "timeout"
)

// PhaseTransition records one edge taken in the phase state machine
type PhaseTransition struct {
	From        Phase             `json:"from_phase" bson:"from_phase"`
	To          Phase             `json:"to_phase" bson:"to_phase"`
	TriggeredBy TransitionTrigger `json:"triggered_by" bson:"triggered_by"`
	Timestamp   time.Time         `json:"timestamp" bson:"timestamp"`
}

// Session represents a mediation engagement between participants
type Session struct {
	ID             string             `json:"id" bson:"_id,omitempty"`
	Title          string             `json:"title" bson:"title"`
	Status         SessionStatus      `json:"status" bson:"status"`
	CurrentPhase   Phase              `json:"current_phase" bson:"current_phase"`
	Mode           SessionMode        `json:"mode" bson:"mode"`
	ParticipantIDs []string           `json:"participant_ids" bson:"participant_ids"`
	Transitions    []PhaseTransition  `json:"transitions,omitempty" bson:"transitions,omitempty"`
	Turns          []ConversationTurn `json:"turns,omitempty" bson:"turns,omitempty"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	LastActiveAt   time.Time          `json:"last_active_at" bson:"last_active_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// NewSession creates a new session hosted by the given participant
func NewSession(title string, mode SessionMode, hostID string) *Session {
	now := time.Now()
	s := &Session{
		Title:        title,
		Status:       SessionStatusCreated,
		CurrentPhase: PhaseNone,
		Mode:         mode,
		CreatedAt:    now,
		LastActiveAt: now,
		Turns:        make([]ConversationTurn, 0),
	}
	s.AddParticipant(hostID)
	return s
}

// RequiredParticipants returns how many participants must have joined before
// the session may start
func (s *Session) RequiredParticipants() int {
	if s.Mode == SessionModeSolo {
		return 1
	}
	return 2
}

// AddParticipant adds a participant, keeping the set unique
func (s *Session) AddParticipant(id string) bool {
	if id == "" {
		return false
	}
	for _, existing := range s.ParticipantIDs {
		if existing == id {
			return false
		}
	}
	s.ParticipantIDs = append(s.ParticipantIDs, id)
	return true
}

// HasParticipant reports whether id has joined the session
func (s *Session) HasParticipant(id string) bool {
	for _, existing := range s.ParticipantIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// AppendTurn appends a turn to the session's history. Turns are append-only
// and ordered by creation time.
func (s *Session) AppendTurn(turn ConversationTurn) {
	s.Turns = append(s.Turns, turn)
	s.LastActiveAt = time.Now()
}

// RemoveTurn removes the turn with the given ID. Used only to undo a locally
// appended turn whose remote persist was compensated.
func (s *Session) RemoveTurn(turnID string) bool {
	for i, turn := range s.Turns {
		if turn.ID == turnID {
			s.Turns = append(s.Turns[:i], s.Turns[i+1:]...)
			return true
		}
	}
	return false
}

// RecordTransition applies a phase transition to the session
func (s *Session) RecordTransition(t PhaseTransition) {
	s.CurrentPhase = t.To
	s.Transitions = append(s.Transitions, t)
	s.LastActiveAt = t.Timestamp
}

// Activate moves the session from created to active
func (s *Session) Activate() {
	s.Status = SessionStatusActive
	s.LastActiveAt = time.Now()
}

// Complete marks the session as completed. The current phase is cleared since
// only active sessions carry a phase.
func (s *Session) Complete() {
	now := time.Now()
	s.Status = SessionStatusCompleted
	s.CurrentPhase = PhaseNone
	s.CompletedAt = &now
}

// Cancel marks the session as cancelled
func (s *Session) Cancel() {
	now := time.Now()
	s.Status = SessionStatusCancelled
	s.CurrentPhase = PhaseNone
	s.CompletedAt = &now
}

// IsClosed reports whether the session reached a final status
func (s *Session) IsClosed() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusCancelled
}

// Validate validates the session invariants: current phase is non-none iff
// the session is active, and a completion timestamp is present iff the
// session is completed or cancelled.
func (s *Session) Validate() error {
	switch s.Status {
	case SessionStatusCreated, SessionStatusActive, SessionStatusCompleted, SessionStatusCancelled:
	default:
		return errors.New("invalid session status")
	}

	if s.Status == SessionStatusActive && s.CurrentPhase == PhaseNone {
		return errors.New("active session must have a current phase")
	}
	if s.Status != SessionStatusActive && s.CurrentPhase != PhaseNone {
		return errors.New("only active sessions carry a current phase")
	}
	if s.CurrentPhase != PhaseNone && PhaseIndex(s.CurrentPhase) < 0 {
		return errors.New("unknown phase")
	}

	if s.IsClosed() && s.CompletedAt == nil {
		return errors.New("closed session must have completed_at")
	}
	if !s.IsClosed() && s.CompletedAt != nil {
		return errors.New("open session must not have completed_at")
	}

	if len(s.ParticipantIDs) == 0 {
		return errors.New("session requires at least one participant")
	}
	seen := make(map[string]struct{}, len(s.ParticipantIDs))
	for _, id := range s.ParticipantIDs {
		if _, dup := seen[id]; dup {
			return errors.New("duplicate participant id")
		}
		seen[id] = struct{}{}
	}

	return nil
}
