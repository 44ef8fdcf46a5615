package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// staleAfter is the inactivity window before an open session gets cancelled
// by the background sweep
const staleAfter = 24 * time.Hour

type SessionRepository struct {
	sessions *mongo.Collection
	emotions *mongo.Collection
}

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database) repositories.SessionRepository {
	return &SessionRepository{
		sessions: db.Collection("sessions"),
		emotions: db.Collection("emotion_analyses"),
	}
}

// Create implements repositories.SessionRepository
func (r *SessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return &entities.PersistenceError{Op: "create", Err: errors.New("session cannot be nil")}
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActiveAt.IsZero() {
		session.LastActiveAt = now
	}
	if session.ID == "" {
		session.ID = primitive.NewObjectID().Hex()
	}

	if _, err := r.sessions.InsertOne(ctx, session); err != nil {
		return &entities.PersistenceError{Op: "create", Err: err}
	}

	return nil
}

// GetByID implements repositories.SessionRepository
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	if id == "" {
		return nil, &entities.PersistenceError{Op: "get", Err: errors.New("session ID cannot be empty")}
	}

	var session entities.Session
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // Not found, no error
		}
		return nil, &entities.PersistenceError{Op: "get", Err: err}
	}

	return &session, nil
}

// ListByParticipant implements repositories.SessionRepository
func (r *SessionRepository) ListByParticipant(ctx context.Context, participantID string) ([]*entities.Session, error) {
	if participantID == "" {
		return nil, &entities.PersistenceError{Op: "list", Err: errors.New("participant ID cannot be empty")}
	}

	cursor, err := r.sessions.Find(ctx, bson.M{"participant_ids": participantID})
	if err != nil {
		return nil, &entities.PersistenceError{Op: "list", Err: err}
	}
	defer cursor.Close(ctx)

	var sessions []*entities.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, &entities.PersistenceError{Op: "list", Err: err}
	}

	return sessions, nil
}

// AddParticipant implements repositories.SessionRepository
func (r *SessionRepository) AddParticipant(ctx context.Context, sessionID string, participantID string) error {
	update := bson.M{
		"$addToSet": bson.M{"participant_ids": participantID},
		"$set":      bson.M{"last_active_at": time.Now()},
	}

	result, err := r.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, update)
	if err != nil {
		return &entities.PersistenceError{Op: "add_participant", Err: err}
	}
	if result.MatchedCount == 0 {
		return &entities.PersistenceError{
			Op:  "add_participant",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	return nil
}

// AppendTurn implements repositories.SessionRepository
func (r *SessionRepository) AppendTurn(ctx context.Context, sessionID string, turn entities.ConversationTurn) error {
	update := bson.M{
		"$push": bson.M{"turns": turn},
		"$set":  bson.M{"last_active_at": turn.CreatedAt},
	}

	result, err := r.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, update)
	if err != nil {
		return &entities.PersistenceError{Op: "append_turn", Err: err}
	}
	if result.MatchedCount == 0 {
		return &entities.PersistenceError{
			Op:  "append_turn",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	return nil
}

// RemoveTurn implements repositories.SessionRepository
func (r *SessionRepository) RemoveTurn(ctx context.Context, sessionID string, turnID string) error {
	update := bson.M{
		"$pull": bson.M{"turns": bson.M{"id": turnID}},
	}

	result, err := r.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, update)
	if err != nil {
		return &entities.PersistenceError{Op: "remove_turn", Err: err}
	}
	if result.MatchedCount == 0 {
		return &entities.PersistenceError{
			Op:  "remove_turn",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	return nil
}

// UpdatePhase implements repositories.SessionRepository. The filter matches
// on the stored phase so a retried advance that already landed is a no-op
// instead of a double transition.
func (r *SessionRepository) UpdatePhase(ctx context.Context, sessionID string, transition entities.PhaseTransition) error {
	filter := bson.M{
		"_id":           sessionID,
		"current_phase": transition.From,
	}
	update := bson.M{
		"$set":  bson.M{"current_phase": transition.To, "last_active_at": transition.Timestamp},
		"$push": bson.M{"transitions": transition},
	}

	result, err := r.sessions.UpdateOne(ctx, filter, update)
	if err != nil {
		return &entities.PersistenceError{Op: "update_phase", Err: err}
	}
	if result.MatchedCount == 0 {
		// Either the session is gone or the transition already applied.
		// Distinguish by re-reading the stored phase.
		var stored entities.Session
		err := r.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&stored)
		if err != nil {
			return &entities.PersistenceError{
				Op:  "update_phase",
				Err: fmt.Errorf("session %s not found", sessionID),
			}
		}
		if stored.CurrentPhase == transition.To {
			return nil // Retry of an applied transition
		}
		return &entities.PersistenceError{
			Op:  "update_phase",
			Err: fmt.Errorf("stored phase %s does not match transition from %s", stored.CurrentPhase, transition.From),
		}
	}

	return nil
}

// UpdateStatus implements repositories.SessionRepository
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status entities.SessionStatus) error {
	now := time.Now()
	set := bson.M{
		"status":         status,
		"last_active_at": now,
	}
	switch status {
	case entities.SessionStatusCompleted, entities.SessionStatusCancelled:
		set["current_phase"] = entities.PhaseNone
		set["completed_at"] = now
	}

	result, err := r.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{"$set": set})
	if err != nil {
		return &entities.PersistenceError{Op: "update_status", Err: err}
	}
	if result.MatchedCount == 0 {
		return &entities.PersistenceError{
			Op:  "update_status",
			Err: fmt.Errorf("session %s not found", sessionID),
		}
	}

	return nil
}

// SaveEmotionRecord implements repositories.SessionRepository
func (r *SessionRepository) SaveEmotionRecord(ctx context.Context, sessionID string, record *entities.EmotionRecord) error {
	if record == nil {
		return &entities.PersistenceError{Op: "save_emotion", Err: errors.New("record cannot be nil")}
	}

	doc := bson.M{
		"session_id":     sessionID,
		"processed_data": record,
		"conflict_level": record.ConflictLevel(),
		"created_at":     record.CreatedAt,
	}

	if _, err := r.emotions.InsertOne(ctx, doc); err != nil {
		return &entities.PersistenceError{Op: "save_emotion", Err: err}
	}

	return nil
}

// ExpireStale implements repositories.SessionRepository
func (r *SessionRepository) ExpireStale(ctx context.Context) error {
	cutoff := time.Now().Add(-staleAfter)
	filter := bson.M{
		"status":         bson.M{"$in": []entities.SessionStatus{entities.SessionStatusCreated, entities.SessionStatusActive}},
		"last_active_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set": bson.M{
			"status":        entities.SessionStatusCancelled,
			"current_phase": entities.PhaseNone,
			"completed_at":  time.Now(),
		},
	}

	if _, err := r.sessions.UpdateMany(ctx, filter, update); err != nil {
		return &entities.PersistenceError{Op: "expire_stale", Err: err}
	}

	return nil
}
