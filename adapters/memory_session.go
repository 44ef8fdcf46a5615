package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// MemorySessionRepository is a production-ready in-memory implementation of
// SessionRepository, used as the storage backend when no MongoDB is
// configured and throughout the tests
type MemorySessionRepository struct {
	mu         sync.RWMutex
	sessions   map[string]*entities.Session
	emotions   map[string][]*entities.EmotionRecord // session id -> records
	staleAfter time.Duration
}

var _ repositories.SessionRepository = (*MemorySessionRepository)(nil)

// NewMemorySessionRepository creates a new in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions:   make(map[string]*entities.Session),
		emotions:   make(map[string][]*entities.EmotionRecord),
		staleAfter: 24 * time.Hour,
	}
}

// Create implements repositories.SessionRepository
func (m *MemorySessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return &entities.PersistenceError{Op: "create", Err: errors.New("session cannot be nil")}
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActiveAt.IsZero() {
		session.LastActiveAt = now
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return &entities.PersistenceError{
			Op:  "create",
			Err: fmt.Errorf("session %s already exists", session.ID),
		}
	}

	copied := cloneSession(session)
	m.sessions[session.ID] = copied
	return nil
}

// GetByID implements repositories.SessionRepository
func (m *MemorySessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	if id == "" {
		return nil, &entities.PersistenceError{Op: "get", Err: errors.New("session ID cannot be empty")}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, nil
	}
	return cloneSession(session), nil
}

// ListByParticipant implements repositories.SessionRepository
func (m *MemorySessionRepository) ListByParticipant(ctx context.Context, participantID string) ([]*entities.Session, error) {
	if participantID == "" {
		return nil, &entities.PersistenceError{Op: "list", Err: errors.New("participant ID cannot be empty")}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*entities.Session
	for _, session := range m.sessions {
		if session.HasParticipant(participantID) {
			result = append(result, cloneSession(session))
		}
	}
	return result, nil
}

// AddParticipant implements repositories.SessionRepository
func (m *MemorySessionRepository) AddParticipant(ctx context.Context, sessionID string, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return &entities.PersistenceError{
			Op:  "add_participant",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	session.AddParticipant(participantID)
	session.LastActiveAt = time.Now()
	return nil
}

// AppendTurn implements repositories.SessionRepository
func (m *MemorySessionRepository) AppendTurn(ctx context.Context, sessionID string, turn entities.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return &entities.PersistenceError{
			Op:  "append_turn",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	session.Turns = append(session.Turns, turn)
	session.LastActiveAt = turn.CreatedAt
	return nil
}

// RemoveTurn implements repositories.SessionRepository
func (m *MemorySessionRepository) RemoveTurn(ctx context.Context, sessionID string, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return &entities.PersistenceError{
			Op:  "remove_turn",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	session.RemoveTurn(turnID)
	return nil
}

// UpdatePhase implements repositories.SessionRepository. Guarded on the
// stored phase so a retried advance stays idempotent.
func (m *MemorySessionRepository) UpdatePhase(ctx context.Context, sessionID string, transition entities.PhaseTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return &entities.PersistenceError{
			Op:  "update_phase",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	if session.CurrentPhase == transition.To {
		return nil // Retry of an applied transition
	}
	if session.CurrentPhase != transition.From {
		return &entities.PersistenceError{
			Op:  "update_phase",
			Err: fmt.Errorf("stored phase %s does not match transition from %s", session.CurrentPhase, transition.From),
		}
	}

	session.CurrentPhase = transition.To
	session.Transitions = append(session.Transitions, transition)
	session.LastActiveAt = transition.Timestamp
	return nil
}

// UpdateStatus implements repositories.SessionRepository
func (m *MemorySessionRepository) UpdateStatus(ctx context.Context, sessionID string, status entities.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return &entities.PersistenceError{
			Op:  "update_status",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	now := time.Now()
	session.Status = status
	session.LastActiveAt = now
	if session.IsClosed() {
		session.CurrentPhase = entities.PhaseNone
		session.CompletedAt = &now
	}
	return nil
}

// SaveEmotionRecord implements repositories.SessionRepository
func (m *MemorySessionRepository) SaveEmotionRecord(ctx context.Context, sessionID string, record *entities.EmotionRecord) error {
	if record == nil {
		return &entities.PersistenceError{Op: "save_emotion", Err: errors.New("record cannot be nil")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *record
	m.emotions[sessionID] = append(m.emotions[sessionID], &copied)
	return nil
}

// EmotionRecords returns the stored analysis records for a session
func (m *MemorySessionRepository) EmotionRecords(sessionID string) []*entities.EmotionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.emotions[sessionID]
	result := make([]*entities.EmotionRecord, len(records))
	for i, record := range records {
		copied := *record
		result[i] = &copied
	}
	return result
}

// ExpireStale implements repositories.SessionRepository
func (m *MemorySessionRepository) ExpireStale(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.staleAfter)
	for _, session := range m.sessions {
		if session.IsClosed() || !session.LastActiveAt.Before(cutoff) {
			continue
		}
		now := time.Now()
		session.Status = entities.SessionStatusCancelled
		session.CurrentPhase = entities.PhaseNone
		session.CompletedAt = &now
	}
	return nil
}

// SetStaleAfter overrides the inactivity window, mainly for tests
func (m *MemorySessionRepository) SetStaleAfter(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleAfter = d
}

func cloneSession(s *entities.Session) *entities.Session {
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
