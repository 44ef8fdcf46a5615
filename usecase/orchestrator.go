package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

const (
	// historyWindow bounds the turns sent to the model per request. The
	// persisted history is never truncated.
	historyWindow = 20

	submitRetries        = 1
	defaultSubmitBackoff = 500 * time.Millisecond
)

// Orchestrator drives the exchange with the Udine mediator. It owns the
// retry policy and the at-most-one-in-flight rule per session.
type Orchestrator struct {
	model   repositories.MediationModel
	backoff time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewOrchestrator creates a new conversation orchestrator
func NewOrchestrator(model repositories.MediationModel, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		model:    model,
		backoff:  defaultSubmitBackoff,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// SubmitResult carries the outcome of one utterance submission. UserTurn is
// always populated, including on failure, so the caller can record the
// utterance as sent-but-unanswered.
type SubmitResult struct {
	UserTurn       entities.ConversationTurn
	AssistantTurn  entities.ConversationTurn
	SuggestedPhase *entities.Phase
}

// Submit sends one user utterance to the mediator and returns the assistant
// turn plus any phase-advance suggestion. A second submission for the same
// session while one is outstanding fails with ErrSubmissionInFlight. Backend
// failure retries once with backoff, then surfaces MediationServiceError.
func (o *Orchestrator) Submit(ctx context.Context, session *entities.Session, utterance string) (*SubmitResult, error) {
	if session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if session.Status != entities.SessionStatusActive {
		return nil, fmt.Errorf("%w: session %s is %s", entities.ErrInvalidState, session.ID, session.Status)
	}

	if !o.acquire(session.ID) {
		return nil, entities.ErrSubmissionInFlight
	}
	defer o.release(session.ID)

	userTurn := entities.NewTurn(session.ID, entities.TurnRoleUser, utterance)
	history := boundHistory(session.Turns, historyWindow)

	var (
		reply    repositories.MediationReply
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt <= submitRetries; attempt++ {
		if attempt > 0 {
			o.logger.Warn("Retrying mediation request",
				zap.String("sessionID", session.ID),
				zap.Error(lastErr))
			select {
			case <-time.After(o.backoff):
			case <-ctx.Done():
				return &SubmitResult{UserTurn: userTurn}, &entities.MediationServiceError{
					Attempts: attempts,
					Err:      ctx.Err(),
				}
			}
		}
		attempts++

		chat, err := o.model.StartChat(ctx, history, session.CurrentPhase)
		if err != nil {
			lastErr = err
			continue
		}
		reply, err = chat.Send(ctx, utterance)
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		return &SubmitResult{UserTurn: userTurn}, &entities.MediationServiceError{
			Attempts: attempts,
			Err:      lastErr,
		}
	}

	assistantTurn := entities.NewTurn(session.ID, entities.TurnRoleAssistant, reply.Content)

	o.logger.Info("Mediation reply generated",
		zap.String("sessionID", session.ID),
		zap.Int("attempts", attempts),
		zap.Bool("phaseSuggested", reply.SuggestedPhase != nil))

	return &SubmitResult{
		UserTurn:       userTurn,
		AssistantTurn:  assistantTurn,
		SuggestedPhase: reply.SuggestedPhase,
	}, nil
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[sessionID]; busy {
		return false
	}
	o.inFlight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sessionID)
}

func boundHistory(turns []entities.ConversationTurn, limit int) []entities.ConversationTurn {
	if len(turns) <= limit {
		return append([]entities.ConversationTurn(nil), turns...)
	}
	return append([]entities.ConversationTurn(nil), turns[len(turns)-limit:]...)
}
