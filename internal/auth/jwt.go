package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"` // "participant" or "service"
	jwt.RegisteredClaims
}

const participantTokenTTL = 7 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer signs and validates participant tokens with an HS256 secret.
type TokenIssuer struct {
	secret []byte
}

func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &TokenIssuer{secret: []byte(secret)}, nil
}

// GenerateParticipantToken generates a JWT token for participant authentication
func (i *TokenIssuer) GenerateParticipantToken(participantID string) (string, error) {
	claims := &JWTClaims{
		ParticipantID: participantID,
		Role:          "participant",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(participantTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (i *TokenIssuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
