package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// MockMediator is a deterministic stand-in for the Gemini mediator, used when
// no API key is configured and in tests
type MockMediator struct{}

// NewMockMediator creates a new mock mediator
func NewMockMediator() repositories.MediationModel {
	return &MockMediator{}
}

// StartChat implements repositories.MediationModel
func (m *MockMediator) StartChat(ctx context.Context, history []entities.ConversationTurn, currentPhase entities.Phase) (repositories.MediationChat, error) {
	return &mockMediationChat{
		currentPhase: currentPhase,
		turns:        append([]entities.ConversationTurn(nil), history...),
	}, nil
}

type mockMediationChat struct {
	currentPhase entities.Phase
	turns        []entities.ConversationTurn
}

// Send implements repositories.MediationChat. The reply echoes enough of the
// utterance to make assertions easy, and suggests advancing once the phrase
// "ready to move on" appears.
func (c *mockMediationChat) Send(ctx context.Context, utterance string) (repositories.MediationReply, error) {
	var content string
	switch {
	case utterance == "":
		content = "I'm here with both of you. What would you like to talk about?"
	default:
		content = fmt.Sprintf("I hear that '%s' matters to you. Can you say more about how that feels?", utterance)
	}

	reply := repositories.MediationReply{Content: content}
	if strings.Contains(strings.ToLower(utterance), "ready to move on") {
		idx := entities.PhaseIndex(c.currentPhase)
		if idx >= 0 && idx+1 < len(entities.PhaseOrder) {
			next := entities.PhaseOrder[idx+1]
			reply.SuggestedPhase = &next
		}
	}

	c.turns = append(c.turns,
		entities.ConversationTurn{Role: entities.TurnRoleUser, Content: utterance, CreatedAt: time.Now()},
		entities.ConversationTurn{Role: entities.TurnRoleAssistant, Content: reply.Content, CreatedAt: time.Now()},
	)
	if reply.SuggestedPhase != nil {
		c.currentPhase = *reply.SuggestedPhase
	}

	return reply, nil
}

// History implements repositories.MediationChat
func (c *mockMediationChat) History() []entities.ConversationTurn {
	return append([]entities.ConversationTurn(nil), c.turns...)
}
