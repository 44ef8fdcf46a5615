package entities

import (
	"time"

	"github.com/google/uuid"
)

// TurnRole represents the role of a conversation turn's sender
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
	TurnRoleSystem    TurnRole = "system"
)

// ConversationTurn is one exchange unit within a session. Turns are
// append-only; the only mutation allowed after creation is attaching
// late-arriving emotion metadata.
type ConversationTurn struct {
	ID            string    `json:"id" bson:"id"`
	SessionID     string    `json:"session_id" bson:"session_id"`
	Role          TurnRole  `json:"role" bson:"role"`
	Content       string    `json:"content" bson:"content"`
	EmotionalTone *string   `json:"emotional_tone,omitempty" bson:"emotional_tone,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty" bson:"duration_ms,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// NewTurn creates a conversation turn with a fresh ID
func NewTurn(sessionID string, role TurnRole, content string) ConversationTurn {
	return ConversationTurn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// AttachEmotionalTone attaches emotion metadata that arrived after the turn
// was recorded
func (t *ConversationTurn) AttachEmotionalTone(tone string) {
	t.EmotionalTone = &tone
}
