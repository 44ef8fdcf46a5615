package repositories

import (
	"context"

	"github.com/kintsugi-app/server/domain/entities"
)

// SessionRepository defines remote persistence for mediation sessions.
// Sessions are archived server-side, never deleted through this interface.
type SessionRepository interface {
	Create(ctx context.Context, session *entities.Session) error
	GetByID(ctx context.Context, id string) (*entities.Session, error)
	ListByParticipant(ctx context.Context, participantID string) ([]*entities.Session, error)
	// AddParticipant records that a participant joined the session. The
	// stored set stays unique.
	AddParticipant(ctx context.Context, sessionID string, participantID string) error
	// AppendTurn appends one turn to the session's persisted history.
	AppendTurn(ctx context.Context, sessionID string, turn entities.ConversationTurn) error
	// RemoveTurn deletes one turn from the persisted history, undoing an
	// optimistic append. Removing a turn that is not stored is not an error.
	RemoveTurn(ctx context.Context, sessionID string, turnID string) error
	// UpdatePhase records a validated phase transition. The write is guarded
	// against the stored phase so a retried advance stays idempotent.
	UpdatePhase(ctx context.Context, sessionID string, transition entities.PhaseTransition) error
	UpdateStatus(ctx context.Context, sessionID string, status entities.SessionStatus) error
	// SaveEmotionRecord stores an analysis result linked to the session.
	SaveEmotionRecord(ctx context.Context, sessionID string, record *entities.EmotionRecord) error
	// ExpireStale cancels sessions that saw no activity within the retention
	// window. Used by the background sweep.
	ExpireStale(ctx context.Context) error
}
