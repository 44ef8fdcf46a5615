package participants

import (
	"context"
	"testing"

	"github.com/kintsugi-app/server/domain/repositories"
)

func TestCreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()

	participant := &repositories.Participant{
		DisplayName: "Alex",
		Email:       "Alex@Example.com",
	}
	if err := repo.Create(context.Background(), participant, "secret123"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if participant.ID == "" {
		t.Fatal("expected ID to be generated")
	}

	byID, err := repo.GetByID(context.Background(), participant.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if byID.DisplayName != "Alex" {
		t.Errorf("unexpected display name: %s", byID.DisplayName)
	}

	// Email lookup is case-insensitive
	byEmail, err := repo.GetByEmail(context.Background(), "alex@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if byEmail.ID != participant.ID {
		t.Error("GetByEmail returned a different participant")
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	repo := NewMemoryRepository()

	first := &repositories.Participant{DisplayName: "Alex", Email: "alex@example.com"}
	if err := repo.Create(context.Background(), first, "secret123"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	second := &repositories.Participant{DisplayName: "Other", Email: "alex@example.com"}
	if err := repo.Create(context.Background(), second, "secret456"); err == nil {
		t.Error("expected error for duplicate email")
	}
}

func TestValidateCredentials(t *testing.T) {
	repo := NewMemoryRepository()

	participant := &repositories.Participant{DisplayName: "Alex", Email: "alex@example.com"}
	if err := repo.Create(context.Background(), participant, "secret123"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	validated, err := repo.ValidateCredentials("alex@example.com", "secret123")
	if err != nil {
		t.Fatalf("ValidateCredentials failed: %v", err)
	}
	if validated.ID != participant.ID {
		t.Error("validated participant does not match")
	}

	if _, err := repo.ValidateCredentials("alex@example.com", "wrong"); err == nil {
		t.Error("expected error for wrong secret")
	}
	if _, err := repo.ValidateCredentials("unknown@example.com", "secret123"); err == nil {
		t.Error("expected error for unknown email")
	}
}
