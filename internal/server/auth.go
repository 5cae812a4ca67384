package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// TokenIssuer issues and verifies the HS256 session credentials. Anonymous
// sessions get a short TTL; registered ones a long one.
type TokenIssuer struct {
	secret []byte
	clock  clockwork.Clock
}

func NewTokenIssuer(secret string, clock clockwork.Clock) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), clock: clock}
}

// Issue signs a credential for the participant.
func (t *TokenIssuer) Issue(participantID, username string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":      participantID,
		"username": username,
		"exp":      t.clock.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses a credential and returns the participant id it was issued to.
func (t *TokenIssuer) Verify(tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}
