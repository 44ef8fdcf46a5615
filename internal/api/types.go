package api

import (
	"time"

	"github.com/kintsugi-app/server/domain/entities"
)

// RegisterRequest represents the payload for participant registration
type RegisterRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Secret      string `json:"secret"`
}

// AuthRequest represents the payload for participant authentication
type AuthRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

// AuthResponse represents the payload returned after authentication
type AuthResponse struct {
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
	ParticipantID string    `json:"participant_id"`
}

// CreateSessionRequest represents the payload for creating a session
type CreateSessionRequest struct {
	Title string               `json:"title"`
	Mode  entities.SessionMode `json:"mode"`
}

// AdvancePhaseRequest represents the payload for a phase transition
type AdvancePhaseRequest struct {
	Phase   entities.Phase             `json:"phase"`
	Trigger entities.TransitionTrigger `json:"trigger,omitempty"`
}

// UpdateStatusRequest represents the payload for closing a session
type UpdateStatusRequest struct {
	Status entities.SessionStatus `json:"status"`
}

// SubmitMessageRequest represents the payload for a typed utterance
type SubmitMessageRequest struct {
	Text string `json:"text"`
}

// UdineResponseRequest represents the payload for the mediator round trip
type UdineResponseRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// AnalyzeConflictRequest represents the payload for session-level conflict
// analysis
type AnalyzeConflictRequest struct {
	SessionID string `json:"session_id"`
}

// AnalyzeEmotionRequest represents the payload for a single emotion analysis
type AnalyzeEmotionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	AudioData string `json:"audio_data,omitempty"` // base64 encoded
	Modality  string `json:"modality,omitempty"`
}

// MessagesResponse represents a session's conversation history
type MessagesResponse struct {
	SessionID string                      `json:"session_id"`
	Turns     []entities.ConversationTurn `json:"turns"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
