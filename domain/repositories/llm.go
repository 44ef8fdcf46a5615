package repositories

import (
	"context"

	"github.com/kintsugi-app/server/domain/entities"
)

// MediationModel abstracts the LLM provider behind the Udine mediator persona
type MediationModel interface {
	// StartChat creates a mediation chat seeded with prior conversation turns
	// and the session's current phase as context.
	StartChat(ctx context.Context, history []entities.ConversationTurn, currentPhase entities.Phase) (MediationChat, error)
}

// MediationChat is an ongoing exchange with the mediator persona
type MediationChat interface {
	// Send submits one user utterance and returns the mediator's reply.
	Send(ctx context.Context, utterance string) (MediationReply, error)
	// History returns the turns accumulated in this chat.
	History() []entities.ConversationTurn
}

// MediationReply is one assistant response, optionally carrying a
// phase-advance suggestion inferred by the model. The suggestion is advisory:
// the caller decides whether to ask the phase machine for the transition.
type MediationReply struct {
	Content        string
	SuggestedPhase *entities.Phase
}
