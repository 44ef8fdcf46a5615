package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kintsugi-app/server/adapters"
	"github.com/kintsugi-app/server/adapters/emotion"
	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/phase"
	"github.com/kintsugi-app/server/domain/repositories"
)

// faultyRepo wraps a working repository and fails AppendTurn while tripped
type faultyRepo struct {
	repositories.SessionRepository
	failAppend bool
}

func (f *faultyRepo) AppendTurn(ctx context.Context, sessionID string, turn entities.ConversationTurn) error {
	if f.failAppend {
		return &entities.PersistenceError{Op: "append_turn", Err: errors.New("remote down")}
	}
	return f.SessionRepository.AppendTurn(ctx, sessionID, turn)
}

func newStore(t *testing.T, model repositories.MediationModel) (*SessionStore, *adapters.MemorySessionRepository) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := adapters.NewMemorySessionRepository()
	orch := NewOrchestrator(model, logger)
	orch.backoff = 0
	store := NewSessionStore(repo, phase.NewMachine(), orch, emotion.NewLexiconAnalyzer(logger), logger)
	return store, repo
}

func startedSession(t *testing.T, store *SessionStore) *entities.Session {
	t.Helper()
	session, err := store.CreateSession(context.Background(), "budget talk", entities.SessionModeSolo, "host-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	session, err = store.StartSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return session
}

func TestStartSessionRequiresParticipants(t *testing.T) {
	store, _ := newStore(t, &flakyModel{})

	session, err := store.CreateSession(context.Background(), "two party", entities.SessionModeMulti, "host-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := store.StartSession(context.Background(), session.ID); !errors.Is(err, entities.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before second participant joins, got %v", err)
	}

	if _, err := store.JoinSession(context.Background(), session.ID, "guest-2"); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}

	started, err := store.StartSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("StartSession failed after join: %v", err)
	}
	if started.Status != entities.SessionStatusActive || started.CurrentPhase != entities.PhasePreparation {
		t.Errorf("unexpected session after start: status=%s phase=%s", started.Status, started.CurrentPhase)
	}
}

func TestFivePhaseManualWalk(t *testing.T) {
	store, _ := newStore(t, &flakyModel{})
	session := startedSession(t, store)
	ctx := context.Background()

	for _, next := range entities.PhaseOrder[1:] {
		advanced, err := store.AdvancePhase(ctx, session.ID, next, entities.TriggerManual)
		if err != nil {
			t.Fatalf("advance to %s failed: %v", next, err)
		}
		if advanced.CurrentPhase != next {
			t.Fatalf("expected phase %s, got %s", next, advanced.CurrentPhase)
		}
	}

	// Manual revisit of an earlier phase stays legal while the session is open
	revisited, err := store.AdvancePhase(ctx, session.ID, entities.PhaseExploration, entities.TriggerManual)
	if err != nil {
		t.Fatalf("manual revisit failed: %v", err)
	}
	if revisited.CurrentPhase != entities.PhaseExploration {
		t.Errorf("expected exploration after revisit, got %s", revisited.CurrentPhase)
	}

	// Forward jumps past the successor stay illegal
	var illegal *entities.IllegalTransitionError
	if _, err := store.AdvancePhase(ctx, session.ID, entities.PhaseHealing, entities.TriggerManual); !errors.As(err, &illegal) {
		t.Errorf("expected IllegalTransitionError for skip, got %v", err)
	}

	if _, err := store.CompleteSession(ctx, session.ID); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	if _, err := store.AdvancePhase(ctx, session.ID, entities.PhasePreparation, entities.TriggerManual); !errors.As(err, &illegal) {
		t.Errorf("expected IllegalTransitionError on completed session, got %v", err)
	}
}

func TestSubmitUtterancePipeline(t *testing.T) {
	next := entities.PhaseExploration
	model := &flakyModel{reply: repositories.MediationReply{
		Content:        "Thank you for sharing that.",
		SuggestedPhase: &next,
	}}
	store, repo := newStore(t, model)
	session := startedSession(t, store)

	outcome, err := store.SubmitUtterance(context.Background(), session.ID, "I'm so angry about the budget")
	if err != nil {
		t.Fatalf("SubmitUtterance failed: %v", err)
	}

	if outcome.AssistantTurn == nil || outcome.AssistantTurn.Content != "Thank you for sharing that." {
		t.Errorf("unexpected assistant turn: %+v", outcome.AssistantTurn)
	}
	if outcome.Emotion == nil || outcome.Emotion.PrimaryEmotion.Label != "anger" {
		t.Errorf("expected anger from lexicon analyzer, got %+v", outcome.Emotion)
	}
	if outcome.UserTurn.EmotionalTone == nil || *outcome.UserTurn.EmotionalTone != "anger" {
		t.Error("expected emotional tone attached to the user turn")
	}
	if !outcome.PhaseAdvanced || outcome.Phase != entities.PhaseExploration {
		t.Errorf("expected suggested phase to apply, got %+v", outcome)
	}

	// Both turns and the transition landed in the repository
	stored, err := repo.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(stored.Turns) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(stored.Turns))
	}
	if stored.Turns[0].Role != entities.TurnRoleUser || stored.Turns[1].Role != entities.TurnRoleAssistant {
		t.Error("persisted turns out of order")
	}
	if stored.CurrentPhase != entities.PhaseExploration {
		t.Errorf("expected persisted phase exploration, got %s", stored.CurrentPhase)
	}
	if len(repo.EmotionRecords(session.ID)) != 1 {
		t.Error("expected one persisted emotion record")
	}
}

func TestSubmitUtteranceMediationFailureKeepsUserTurnOnce(t *testing.T) {
	model := &flakyModel{failures: 10}
	store, repo := newStore(t, model)
	session := startedSession(t, store)

	outcome, err := store.SubmitUtterance(context.Background(), session.ID, "hello?")

	var mediationErr *entities.MediationServiceError
	if !errors.As(err, &mediationErr) {
		t.Fatalf("expected MediationServiceError, got %v", err)
	}
	if outcome == nil || outcome.AssistantTurn != nil {
		t.Error("expected no assistant turn on mediation failure")
	}

	stored, err := repo.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(stored.Turns) != 1 {
		t.Fatalf("expected exactly one persisted turn, got %d", len(stored.Turns))
	}
	if stored.Turns[0].Role != entities.TurnRoleUser || stored.Turns[0].Content != "hello?" {
		t.Errorf("unexpected persisted turn: %+v", stored.Turns[0])
	}
}

func TestSubmitUtteranceSuggestedPhaseRejectedIsNonFatal(t *testing.T) {
	// Healing from preparation is an illegal jump; the reply still lands
	healing := entities.PhaseHealing
	model := &flakyModel{reply: repositories.MediationReply{
		Content:        "ok",
		SuggestedPhase: &healing,
	}}
	store, _ := newStore(t, model)
	session := startedSession(t, store)

	outcome, err := store.SubmitUtterance(context.Background(), session.ID, "fine")
	if err != nil {
		t.Fatalf("SubmitUtterance failed: %v", err)
	}
	if outcome.PhaseAdvanced {
		t.Error("expected rejected suggestion to leave the phase alone")
	}
	if outcome.Phase != entities.PhasePreparation {
		t.Errorf("expected preparation, got %s", outcome.Phase)
	}
}

// gateAnalyzer signals when analysis starts and waits for release, holding
// the submission between the mediator round trip and the turn appends.
type gateAnalyzer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateAnalyzer) Analyze(ctx context.Context, input repositories.AnalysisInput) (*entities.EmotionRecord, error) {
	g.entered <- struct{}{}
	<-g.release
	return nil, errors.New("scorer offline")
}

func TestSubmitUtteranceGuardHeldThroughAppend(t *testing.T) {
	logger := zaptest.NewLogger(t)
	repo := adapters.NewMemorySessionRepository()
	orch := NewOrchestrator(&flakyModel{reply: repositories.MediationReply{Content: "ok"}}, logger)
	orch.backoff = 0
	gate := &gateAnalyzer{entered: make(chan struct{}), release: make(chan struct{})}
	store := NewSessionStore(repo, phase.NewMachine(), orch, gate, logger)

	session, err := store.CreateSession(context.Background(), "t", entities.SessionModeSolo, "host-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := store.StartSession(context.Background(), session.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := store.SubmitUtterance(context.Background(), session.ID, "first")
		done <- err
	}()

	// The first submission has finished its mediator round trip but has not
	// appended its turns yet. A second one must be rejected, not interleaved.
	<-gate.entered
	if _, err := store.SubmitUtterance(context.Background(), session.ID, "second"); !errors.Is(err, entities.ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight during the append window, got %v", err)
	}
	close(gate.release)

	if err := <-done; err != nil {
		t.Fatalf("first SubmitUtterance failed: %v", err)
	}

	stored, err := repo.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(stored.Turns) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(stored.Turns))
	}
	if stored.Turns[0].Content != "first" || stored.Turns[0].Role != entities.TurnRoleUser {
		t.Errorf("unexpected first turn: %+v", stored.Turns[0])
	}
}

func TestDirtySessionReconcilesOnFetch(t *testing.T) {
	logger := zaptest.NewLogger(t)
	memory := adapters.NewMemorySessionRepository()
	repo := &faultyRepo{SessionRepository: memory}
	orch := NewOrchestrator(&flakyModel{reply: repositories.MediationReply{Content: "ok"}}, logger)
	orch.backoff = 0
	store := NewSessionStore(repo, phase.NewMachine(), orch, nil, logger)

	session, err := store.CreateSession(context.Background(), "t", entities.SessionModeSolo, "host-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := store.StartSession(context.Background(), session.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// Remote write fails; the local projection keeps the turn and the store
	// flips the dirty flag.
	repo.failAppend = true
	outcome, err := store.SubmitUtterance(context.Background(), session.ID, "first")
	if err != nil {
		t.Fatalf("SubmitUtterance failed: %v", err)
	}
	if outcome.AssistantTurn == nil {
		t.Fatal("expected an assistant reply")
	}

	local, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(local.Turns) != 2 {
		t.Fatalf("expected 2 local turns despite remote failure, got %d", len(local.Turns))
	}
	stored, _ := memory.GetByID(context.Background(), session.ID)
	if len(stored.Turns) != 0 {
		t.Fatalf("expected no persisted turns yet, got %d", len(stored.Turns))
	}

	// Remote recovers; the next fetch re-pushes the unsynced turns.
	repo.failAppend = false
	reconciled, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession after recovery failed: %v", err)
	}
	if len(reconciled.Turns) != 2 {
		t.Fatalf("expected 2 turns after reconcile, got %d", len(reconciled.Turns))
	}
	stored, _ = memory.GetByID(context.Background(), session.ID)
	if len(stored.Turns) != 2 {
		t.Errorf("expected 2 persisted turns after reconcile, got %d", len(stored.Turns))
	}
}

func TestSubscribeReceivesTurnEvents(t *testing.T) {
	model := &flakyModel{reply: repositories.MediationReply{Content: "ok"}}
	store, _ := newStore(t, model)
	session := startedSession(t, store)

	events, cancel := store.Subscribe(session.ID)
	defer cancel()

	if _, err := store.SubmitUtterance(context.Background(), session.ID, "hello"); err != nil {
		t.Fatalf("SubmitUtterance failed: %v", err)
	}

	var turnEvents int
	for i := 0; i < 2; i++ {
		event := <-events
		if event.Type == EventTurnAppended {
			turnEvents++
			if event.Turn == nil || event.SessionID != session.ID {
				t.Errorf("malformed event: %+v", event)
			}
		}
	}
	if turnEvents != 2 {
		t.Errorf("expected 2 turn events, got %d", turnEvents)
	}
}

func TestCloseSessionTwiceFails(t *testing.T) {
	store, _ := newStore(t, &flakyModel{})
	session := startedSession(t, store)

	closed, err := store.CompleteSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	if closed.Status != entities.SessionStatusCompleted || closed.CompletedAt == nil {
		t.Errorf("unexpected closed session: %+v", closed)
	}
	if closed.CurrentPhase != entities.PhaseNone {
		t.Error("completed session must not carry a phase")
	}

	if _, err := store.CancelSession(context.Background(), session.ID); !errors.Is(err, entities.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on double close, got %v", err)
	}
}
