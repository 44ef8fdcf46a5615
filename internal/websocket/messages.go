package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	// Client to server
	MessageTypeJoinSession    MessageType = "join_session"
	MessageTypeLeaveSession   MessageType = "leave_session"
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeUtterance      MessageType = "utterance"
	MessageTypePing           MessageType = "ping"

	// Server to client
	MessageTypeJoined        MessageType = "joined"
	MessageTypeTranscript    MessageType = "transcript"
	MessageTypeSpeakingStart MessageType = "speaking_start"
	MessageTypeSpeakingEnd   MessageType = "speaking_end"
	MessageTypeSessionEvent  MessageType = "session_event"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// JoinSessionMessage attaches the connection to a mediation session
type JoinSessionMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
}

// ListeningStartMessage opens a voice capture window
type ListeningStartMessage struct {
	BaseMessage
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Language   string `json:"language,omitempty"`
}

// UtteranceMessage submits a typed utterance instead of voice
type UtteranceMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

var validEncodings = map[string]bool{
	"pcm": true, "wav": true, "mp3": true, "opus": true, "LINEAR16": true,
}

// ValidateMessage validates an incoming message and returns the typed form
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeJoinSession:
		var msg JoinSessionMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid join message: %w", err)
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("session_id is required")
		}
		return &msg, nil

	case MessageTypeLeaveSession:
		return &base, nil

	case MessageTypeListeningStart:
		var msg ListeningStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening_start message: %w", err)
		}
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeListeningEnd:
		return &base, nil

	case MessageTypeUtterance:
		var msg UtteranceMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid utterance message: %w", err)
		}
		if msg.Text == "" {
			return nil, fmt.Errorf("text is required")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateListeningStart(msg *ListeningStartMessage) error {
	if msg.SampleRate != 0 && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}
	if msg.Encoding != "" && !validEncodings[msg.Encoding] {
		return fmt.Errorf("encoding must be one of: pcm, wav, mp3, opus, LINEAR16")
	}
	return nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Code:    code,
		Message: message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) map[string]interface{} {
	return map[string]interface{}{
		"type":      MessageTypePong,
		"timestamp": time.Now().Format(time.RFC3339),
		"data":      data,
	}
}
