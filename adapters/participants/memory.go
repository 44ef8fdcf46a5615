package participants

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kintsugi-app/server/domain/repositories"
)

// MemoryRepository is a production-ready in-memory implementation of
// ParticipantRepository, suitable as a simple storage backend
type MemoryRepository struct {
	mu           sync.RWMutex
	participants map[string]*repositories.Participant // id -> participant
	emails       map[string]*repositories.Participant // email -> participant
	secrets      map[string]string                    // email -> secret
}

// NewMemoryRepository creates a new in-memory participant repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		participants: make(map[string]*repositories.Participant),
		emails:       make(map[string]*repositories.Participant),
		secrets:      make(map[string]string),
	}
}

// Create implements repositories.ParticipantRepository
func (m *MemoryRepository) Create(ctx context.Context, participant *repositories.Participant, secret string) error {
	if participant == nil {
		return errors.New("participant cannot be nil")
	}
	email := strings.ToLower(strings.TrimSpace(participant.Email))
	if email == "" {
		return errors.New("email cannot be empty")
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.emails[email]; exists {
		return errors.New("participant with this email already exists")
	}

	if participant.ID == "" {
		participant.ID = uuid.New().String()
	}
	participant.Email = email

	// Store a copy to prevent external modifications
	copied := *participant
	m.participants[participant.ID] = &copied
	m.emails[email] = &copied
	m.secrets[email] = secret

	return nil
}

// GetByID implements repositories.ParticipantRepository
func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*repositories.Participant, error) {
	if id == "" {
		return nil, errors.New("participant ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	participant, exists := m.participants[id]
	if !exists {
		return nil, errors.New("participant not found")
	}

	copied := *participant
	return &copied, nil
}

// GetByEmail implements repositories.ParticipantRepository
func (m *MemoryRepository) GetByEmail(ctx context.Context, email string) (*repositories.Participant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	participant, exists := m.emails[email]
	if !exists {
		return nil, errors.New("participant not found")
	}

	copied := *participant
	return &copied, nil
}

// ValidateCredentials implements repositories.ParticipantRepository
func (m *MemoryRepository) ValidateCredentials(email, secret string) (*repositories.Participant, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, exists := m.secrets[email]
	if !exists {
		return nil, errors.New("participant not found")
	}
	if stored != secret {
		return nil, errors.New("invalid credentials")
	}

	participant, exists := m.emails[email]
	if !exists {
		return nil, errors.New("participant not found")
	}

	copied := *participant
	return &copied, nil
}
