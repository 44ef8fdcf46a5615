package repositories

import "context"

// Participant is a registered member of the mediation product
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// ParticipantRepository defines access to registered participants
type ParticipantRepository interface {
	Create(ctx context.Context, participant *Participant, secret string) error
	GetByID(ctx context.Context, id string) (*Participant, error)
	GetByEmail(ctx context.Context, email string) (*Participant, error)
	// ValidateCredentials checks a participant's secret for token issuance.
	ValidateCredentials(email, secret string) (*Participant, error)
}
