package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// geminiMediationChat implements the MediationChat interface
type geminiMediationChat struct {
	client       *genai.Client
	config       GeminiConfig
	logger       *zap.Logger
	currentPhase entities.Phase
	history      []*genai.Content
	turns        []entities.ConversationTurn
}

func newGeminiMediationChat(
	client *genai.Client,
	config GeminiConfig,
	logger *zap.Logger,
	history []entities.ConversationTurn,
	currentPhase entities.Phase,
) *geminiMediationChat {
	return &geminiMediationChat{
		client:       client,
		config:       config,
		logger:       logger,
		currentPhase: currentPhase,
		history:      turnsToGeminiContents(history),
		turns:        append([]entities.ConversationTurn(nil), history...),
	}
}

// Send submits one user utterance and returns the mediator's reply. Errors
// propagate to the caller: the orchestrator owns the retry policy so that a
// failed mediation call is never papered over here.
func (c *geminiMediationChat) Send(ctx context.Context, utterance string) (repositories.MediationReply, error) {
	var contents []*genai.Content

	systemPrompt := fmt.Sprintf("%s\n\nCurrent session phase: %s", udineSystemPrompt, c.currentPhase)
	contents = append(contents, genai.NewContentFromText(systemPrompt, genai.RoleUser))
	contents = append(contents, c.history...)

	userContent := genai.NewContentFromText(utterance, genai.RoleUser)
	contents = append(contents, userContent)

	config := &genai.GenerateContentConfig{
		SafetySettings:  udineSafetySettings,
		Temperature:     genai.Ptr(c.config.Temperature),
		TopP:            genai.Ptr(c.config.TopP),
		TopK:            genai.Ptr(c.config.TopK),
		MaxOutputTokens: int32(c.config.MaxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.TimeoutSeconds)*time.Second)
	defer cancel()

	response, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, config)
	if err != nil {
		return repositories.MediationReply{}, fmt.Errorf("generate content: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return repositories.MediationReply{}, fmt.Errorf("no content generated")
	}

	var responseText string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			responseText += part.Text
		}
	}
	if responseText == "" {
		return repositories.MediationReply{}, fmt.Errorf("empty response")
	}

	reply := ParseReply(responseText)

	responseContent := genai.NewContentFromText(reply.Content, genai.RoleModel)
	c.history = append(c.history, userContent, responseContent)
	c.turns = append(c.turns,
		entities.ConversationTurn{Role: entities.TurnRoleUser, Content: utterance, CreatedAt: time.Now()},
		entities.ConversationTurn{Role: entities.TurnRoleAssistant, Content: reply.Content, CreatedAt: time.Now()},
	)
	if reply.SuggestedPhase != nil {
		c.currentPhase = *reply.SuggestedPhase
	}

	c.logger.Debug("Mediation reply generated",
		zap.String("phase", string(c.currentPhase)),
		zap.Int("history_length", len(c.history)),
		zap.Bool("phase_suggested", reply.SuggestedPhase != nil))

	return reply, nil
}

// History returns the turns accumulated in this chat
func (c *geminiMediationChat) History() []entities.ConversationTurn {
	return append([]entities.ConversationTurn(nil), c.turns...)
}

// ParseReply splits a raw model response into spoken content and an optional
// phase suggestion. The model emits the suggestion as a trailing
// "[[phase: <name>]]" line; anything else is treated as plain content.
func ParseReply(raw string) repositories.MediationReply {
	reply := repositories.MediationReply{Content: strings.TrimSpace(raw)}

	lines := strings.Split(reply.Content, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(last, "[[phase:") || !strings.HasSuffix(last, "]]") {
		return reply
	}

	name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(last, "[[phase:"), "]]"))
	candidate := entities.Phase(strings.ToLower(name))
	if entities.PhaseIndex(candidate) < 0 {
		return reply
	}

	reply.Content = strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
	reply.SuggestedPhase = &candidate
	return reply
}

// turnsToGeminiContents converts conversation turns to Gemini contents.
// System turns are folded in as user content since Gemini has no separate
// system role in chat history.
func turnsToGeminiContents(turns []entities.ConversationTurn) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == entities.TurnRoleAssistant {
			role = genai.RoleModel
		}
		if turn.Content == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return contents
}
