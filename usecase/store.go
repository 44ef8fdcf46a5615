package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/phase"
	"github.com/kintsugi-app/server/domain/repositories"
)

// StoreEventType classifies session updates fanned out to subscribers
type StoreEventType string

const (
	EventTurnAppended    StoreEventType = "turn_appended"
	EventPhaseChanged    StoreEventType = "phase_changed"
	EventStatusChanged   StoreEventType = "status_changed"
	EventEmotionRecorded StoreEventType = "emotion_recorded"
)

// StoreEvent is one session update pushed to subscribers
type StoreEvent struct {
	Type       StoreEventType             `json:"type"`
	SessionID  string                     `json:"session_id"`
	Turn       *entities.ConversationTurn `json:"turn,omitempty"`
	Transition *entities.PhaseTransition  `json:"transition,omitempty"`
	Status     entities.SessionStatus     `json:"status,omitempty"`
	Emotion    *entities.EmotionRecord    `json:"emotion,omitempty"`
}

// SessionStore is the exclusive owner of active-session state. The phase
// machine and orchestrator compute on snapshots it hands out and return new
// values; only the store mutates the session, then mirrors the change to the
// repository. A failed remote write leaves local state in place and marks the
// session dirty; the next fetch re-pushes unsynced turns and reconciles
// against the stored document.
type SessionStore struct {
	repo         repositories.SessionRepository
	machine      *phase.Machine
	orchestrator *Orchestrator
	analyzer     repositories.EmotionAnalyzer
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*entities.Session
	dirty    map[string]bool

	// submitting holds the per-session submission guard from acceptance
	// through the turn appends, so concurrent submissions cannot interleave
	// their turns in the history.
	submitMu   sync.Mutex
	submitting map[string]struct{}

	subMu       sync.RWMutex
	subscribers map[string]map[chan StoreEvent]struct{}
}

// NewSessionStore creates a session store
func NewSessionStore(
	repo repositories.SessionRepository,
	machine *phase.Machine,
	orchestrator *Orchestrator,
	analyzer repositories.EmotionAnalyzer,
	logger *zap.Logger,
) *SessionStore {
	return &SessionStore{
		repo:         repo,
		machine:      machine,
		orchestrator: orchestrator,
		analyzer:     analyzer,
		logger:       logger,
		sessions:     make(map[string]*entities.Session),
		dirty:        make(map[string]bool),
		submitting:   make(map[string]struct{}),
		subscribers:  make(map[string]map[chan StoreEvent]struct{}),
	}
}

// CreateSession creates and persists a new session hosted by hostID
func (s *SessionStore) CreateSession(ctx context.Context, title string, mode entities.SessionMode, hostID string) (*entities.Session, error) {
	if hostID == "" {
		return nil, fmt.Errorf("host participant ID is required")
	}

	session := entities.NewSession(title, mode, hostID)
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return snapshot(session), nil
}

// GetSession returns a snapshot of the session, loading it from the
// repository when not cached. Dirty sessions reconcile first.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *SessionStore) getLocked(ctx context.Context, id string) (*entities.Session, error) {
	session, cached := s.sessions[id]
	if cached && !s.dirty[id] {
		return snapshot(session), nil
	}

	if cached && s.dirty[id] {
		s.reconcileLocked(ctx, session)
		return snapshot(session), nil
	}

	stored, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}

	s.sessions[id] = stored
	return snapshot(stored), nil
}

// reconcileLocked re-pushes turns the repository is missing, then adopts the
// stored document as the new projection. Clearing the dirty flag requires
// every pending write to land.
func (s *SessionStore) reconcileLocked(ctx context.Context, local *entities.Session) {
	stored, err := s.repo.GetByID(ctx, local.ID)
	if err != nil || stored == nil {
		s.logger.Warn("Reconcile fetch failed, keeping local state",
			zap.String("sessionID", local.ID),
			zap.Error(err))
		return
	}

	persisted := make(map[string]struct{}, len(stored.Turns))
	for _, turn := range stored.Turns {
		persisted[turn.ID] = struct{}{}
	}

	clean := true
	for _, turn := range local.Turns {
		if _, ok := persisted[turn.ID]; ok {
			continue
		}
		if err := s.repo.AppendTurn(ctx, local.ID, turn); err != nil {
			s.logger.Warn("Reconcile re-push failed",
				zap.String("sessionID", local.ID),
				zap.String("turnID", turn.ID),
				zap.Error(err))
			clean = false
		}
		// The turn stays in the projection either way; a failed push just
		// keeps the session dirty.
		stored.Turns = append(stored.Turns, turn)
	}

	// Local phase and status are authoritative while dirty; re-push them too.
	if stored.CurrentPhase != local.CurrentPhase || stored.Status != local.Status {
		if err := s.repo.UpdateStatus(ctx, local.ID, local.Status); err != nil {
			clean = false
		}
		stored.Status = local.Status
		stored.CurrentPhase = local.CurrentPhase
		stored.Transitions = local.Transitions
		stored.CompletedAt = local.CompletedAt
	}

	s.sessions[local.ID] = stored
	if clean {
		delete(s.dirty, local.ID)
		s.logger.Info("Session reconciled", zap.String("sessionID", local.ID))
	}
}

// ListSessions returns the sessions a participant belongs to
func (s *SessionStore) ListSessions(ctx context.Context, participantID string) ([]*entities.Session, error) {
	return s.repo.ListByParticipant(ctx, participantID)
}

// JoinSession adds a participant to an open session
func (s *SessionStore) JoinSession(ctx context.Context, sessionID, participantID string) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLockedMutable(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return nil, fmt.Errorf("%w: session %s is %s", entities.ErrInvalidState, sessionID, session.Status)
	}

	if !session.AddParticipant(participantID) {
		return snapshot(session), nil // Already joined
	}

	if err := s.repo.AddParticipant(ctx, sessionID, participantID); err != nil {
		s.dirty[sessionID] = true
		return snapshot(session), err
	}

	return snapshot(session), nil
}

// StartSession moves a created session into the active status and the
// preparation phase
func (s *SessionStore) StartSession(ctx context.Context, sessionID string) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLockedMutable(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	transition, err := s.machine.Start(session)
	if err != nil {
		return nil, err
	}

	session.Activate()
	session.RecordTransition(transition)

	var persistErr error
	if err := s.repo.UpdateStatus(ctx, sessionID, entities.SessionStatusActive); err != nil {
		persistErr = err
	} else if err := s.repo.UpdatePhase(ctx, sessionID, transition); err != nil {
		persistErr = err
	}
	if persistErr != nil {
		s.dirty[sessionID] = true
		s.logger.Warn("Start persisted locally only",
			zap.String("sessionID", sessionID),
			zap.Error(persistErr))
	}

	s.broadcast(StoreEvent{Type: EventStatusChanged, SessionID: sessionID, Status: session.Status})
	s.broadcast(StoreEvent{Type: EventPhaseChanged, SessionID: sessionID, Transition: &transition})

	return snapshot(session), persistErr
}

// AdvancePhase requests a phase transition through the state machine.
// Illegal requests surface IllegalTransitionError untouched.
func (s *SessionStore) AdvancePhase(ctx context.Context, sessionID string, requested entities.Phase, trigger entities.TransitionTrigger) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(ctx, sessionID, requested, trigger)
}

func (s *SessionStore) advanceLocked(ctx context.Context, sessionID string, requested entities.Phase, trigger entities.TransitionTrigger) (*entities.Session, error) {
	session, err := s.getLockedMutable(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	transition, err := s.machine.Advance(session, requested, trigger)
	if err != nil {
		return nil, err
	}

	if transition.From == transition.To {
		return snapshot(session), nil // Same-phase no-op, nothing to record
	}

	session.RecordTransition(transition)

	var persistErr error
	if err := s.repo.UpdatePhase(ctx, sessionID, transition); err != nil {
		s.dirty[sessionID] = true
		persistErr = err
		s.logger.Warn("Phase advance persisted locally only",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}

	s.broadcast(StoreEvent{Type: EventPhaseChanged, SessionID: sessionID, Transition: &transition})
	return snapshot(session), persistErr
}

// SubmitOutcome is the result of one utterance round trip
type SubmitOutcome struct {
	UserTurn      entities.ConversationTurn  `json:"user_turn"`
	AssistantTurn *entities.ConversationTurn `json:"assistant_turn,omitempty"`
	Emotion       *entities.EmotionRecord    `json:"emotion,omitempty"`
	Phase         entities.Phase             `json:"phase"`
	PhaseAdvanced bool                       `json:"phase_advanced"`
}

// SubmitUtterance runs the full conversation pipeline for one user
// utterance: mediation, emotion analysis, phase suggestion, persistence, and
// subscriber fan-out. The per-session guard is held until the turns are
// appended, so a concurrent submission fails with ErrSubmissionInFlight
// rather than interleaving its turns. On mediation failure the user turn is
// still recorded, exactly once, and the error surfaces to the caller.
func (s *SessionStore) SubmitUtterance(ctx context.Context, sessionID, utterance string) (*SubmitOutcome, error) {
	if !s.acquireSubmit(sessionID) {
		return nil, entities.ErrSubmissionInFlight
	}
	defer s.releaseSubmit(sessionID)

	s.mu.Lock()
	session, err := s.getLockedMutable(ctx, sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// Snapshot for the orchestrator; the lock is not held across the model
	// round trip.
	snap := snapshot(session)
	s.mu.Unlock()

	result, submitErr := s.orchestrator.Submit(ctx, snap, utterance)
	if submitErr != nil && result == nil {
		return nil, submitErr
	}

	var mediationErr *entities.MediationServiceError
	if submitErr != nil && !errors.As(submitErr, &mediationErr) {
		// Invalid state or concurrent submission; nothing was produced.
		return nil, submitErr
	}

	outcome := &SubmitOutcome{UserTurn: result.UserTurn}

	// Emotion analysis is non-fatal; an unavailable scorer just leaves the
	// turn without emotional context.
	if s.analyzer != nil {
		record, err := s.analyzer.Analyze(ctx, repositories.AnalysisInput{
			SessionID: sessionID,
			Modality:  repositories.ModalityText,
			Text:      utterance,
		})
		if err != nil {
			s.logger.Warn("Emotion analysis skipped",
				zap.String("sessionID", sessionID),
				zap.Error(err))
		} else {
			outcome.Emotion = record
			outcome.UserTurn.AttachEmotionalTone(record.PrimaryEmotion.Label)
		}
	}

	s.mu.Lock()
	session, err = s.getLockedMutable(ctx, sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.appendTurnLocked(ctx, session, outcome.UserTurn)
	if mediationErr == nil {
		s.appendTurnLocked(ctx, session, result.AssistantTurn)
		outcome.AssistantTurn = &result.AssistantTurn
	}

	if outcome.Emotion != nil {
		if err := s.repo.SaveEmotionRecord(ctx, sessionID, outcome.Emotion); err != nil {
			s.logger.Warn("Emotion record not persisted",
				zap.String("sessionID", sessionID),
				zap.Error(err))
		}
		s.broadcast(StoreEvent{Type: EventEmotionRecorded, SessionID: sessionID, Emotion: outcome.Emotion})
	}

	outcome.Phase = session.CurrentPhase
	s.mu.Unlock()

	if mediationErr != nil {
		return outcome, mediationErr
	}

	// The model's phase suggestion is advisory; the machine has the final say.
	if result.SuggestedPhase != nil {
		s.mu.Lock()
		advanced, err := s.advanceLocked(ctx, sessionID, *result.SuggestedPhase, entities.TriggerOrchestratorSignal)
		s.mu.Unlock()
		if err != nil {
			s.logger.Info("Suggested phase rejected",
				zap.String("sessionID", sessionID),
				zap.String("suggested", string(*result.SuggestedPhase)),
				zap.Error(err))
		} else {
			outcome.Phase = advanced.CurrentPhase
			outcome.PhaseAdvanced = advanced.CurrentPhase == *result.SuggestedPhase
		}
	}

	return outcome, nil
}

func (s *SessionStore) acquireSubmit(sessionID string) bool {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if _, busy := s.submitting[sessionID]; busy {
		return false
	}
	s.submitting[sessionID] = struct{}{}
	return true
}

func (s *SessionStore) releaseSubmit(sessionID string) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	delete(s.submitting, sessionID)
}

// CompleteSession closes the session as completed
func (s *SessionStore) CompleteSession(ctx context.Context, sessionID string) (*entities.Session, error) {
	return s.close(ctx, sessionID, entities.SessionStatusCompleted)
}

// CancelSession closes the session as cancelled
func (s *SessionStore) CancelSession(ctx context.Context, sessionID string) (*entities.Session, error) {
	return s.close(ctx, sessionID, entities.SessionStatusCancelled)
}

func (s *SessionStore) close(ctx context.Context, sessionID string, status entities.SessionStatus) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLockedMutable(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return nil, fmt.Errorf("%w: session %s is already %s", entities.ErrInvalidState, sessionID, session.Status)
	}

	if status == entities.SessionStatusCompleted {
		session.Complete()
	} else {
		session.Cancel()
	}

	var persistErr error
	if err := s.repo.UpdateStatus(ctx, sessionID, status); err != nil {
		s.dirty[sessionID] = true
		persistErr = err
		s.logger.Warn("Close persisted locally only",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}

	s.broadcast(StoreEvent{Type: EventStatusChanged, SessionID: sessionID, Status: status})
	return snapshot(session), persistErr
}

// RemoveTurn drops a turn from the projection and the repository, undoing an
// optimistic append when a later pipeline step fails. A failed remote removal
// marks the session dirty; the next reconciliation settles on whatever copy
// the repository still holds.
func (s *SessionStore) RemoveTurn(ctx context.Context, sessionID, turnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, cached := s.sessions[sessionID]
	if !cached {
		return false
	}
	if !session.RemoveTurn(turnID) {
		return false
	}

	if err := s.repo.RemoveTurn(ctx, sessionID, turnID); err != nil {
		s.dirty[sessionID] = true
		s.logger.Warn("Turn removed locally only",
			zap.String("sessionID", sessionID),
			zap.String("turnID", turnID),
			zap.Error(err))
	}
	return true
}

// AppendSystemTurn records a system-authored turn, e.g. a phase announcement
func (s *SessionStore) AppendSystemTurn(ctx context.Context, sessionID, content string) (entities.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLockedMutable(ctx, sessionID)
	if err != nil {
		return entities.ConversationTurn{}, err
	}

	turn := entities.NewTurn(sessionID, entities.TurnRoleSystem, content)
	persistErr := s.appendTurnLocked(ctx, session, turn)
	return turn, persistErr
}

// Subscribe registers a listener for a session's updates. The returned
// cancel function must be called to release the channel.
func (s *SessionStore) Subscribe(sessionID string) (<-chan StoreEvent, func()) {
	ch := make(chan StoreEvent, 16)

	s.subMu.Lock()
	if s.subscribers[sessionID] == nil {
		s.subscribers[sessionID] = make(map[chan StoreEvent]struct{})
	}
	s.subscribers[sessionID][ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if subs, ok := s.subscribers[sessionID]; ok {
			if _, registered := subs[ch]; registered {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(s.subscribers, sessionID)
			}
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *SessionStore) broadcast(event StoreEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for ch := range s.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber, drop rather than block the store
		}
	}
}

// getLockedMutable returns the live cached session, loading it on a miss.
// Callers must hold s.mu.
func (s *SessionStore) getLockedMutable(ctx context.Context, id string) (*entities.Session, error) {
	if session, cached := s.sessions[id]; cached {
		if s.dirty[id] {
			s.reconcileLocked(ctx, session)
		}
		return s.sessions[id], nil
	}

	stored, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}
	s.sessions[id] = stored
	return stored, nil
}

// appendTurnLocked applies the optimistic-update policy for one turn: the
// local append always happens, a failed remote write flips the dirty flag.
func (s *SessionStore) appendTurnLocked(ctx context.Context, session *entities.Session, turn entities.ConversationTurn) error {
	session.AppendTurn(turn)

	var persistErr error
	if err := s.repo.AppendTurn(ctx, session.ID, turn); err != nil {
		s.dirty[session.ID] = true
		persistErr = err
		s.logger.Warn("Turn persisted locally only",
			zap.String("sessionID", session.ID),
			zap.String("turnID", turn.ID),
			zap.Error(err))
	}

	s.broadcast(StoreEvent{Type: EventTurnAppended, SessionID: session.ID, Turn: &turn})
	return persistErr
}

func snapshot(s *entities.Session) *entities.Session {
	copied := *s
	copied.ParticipantIDs = append([]string(nil), s.ParticipantIDs...)
	copied.Transitions = append([]entities.PhaseTransition(nil), s.Transitions...)
	copied.Turns = append([]entities.ConversationTurn(nil), s.Turns...)
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		copied.CompletedAt = &at
	}
	return &copied
}
