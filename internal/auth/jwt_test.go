package auth

import "testing"

func TestGenerateAndValidateToken(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}

	token, err := issuer.GenerateParticipantToken("participant-1")
	if err != nil {
		t.Fatalf("GenerateParticipantToken failed: %v", err)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.ParticipantID != "participant-1" {
		t.Errorf("ParticipantID = %s, want participant-1", claims.ParticipantID)
	}
	if claims.Role != "participant" {
		t.Errorf("Role = %s, want participant", claims.Role)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret-a")
	other, _ := NewTokenIssuer("secret-b")

	token, err := issuer.GenerateParticipantToken("participant-1")
	if err != nil {
		t.Fatalf("GenerateParticipantToken failed: %v", err)
	}

	if _, err := other.ValidateToken(token); err == nil {
		t.Error("expected validation to fail with a different secret")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	issuer, _ := NewTokenIssuer("test-secret")
	if _, err := issuer.ValidateToken("not.a.token"); err == nil {
		t.Error("expected validation to fail")
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
