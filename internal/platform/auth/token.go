package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssueToken mints an HS256 token for the given actor. Used by tests and by
// operators bootstrapping accounts; there is no login flow in this service,
// identity is managed externally.
func IssueToken(signingKey []byte, actorID uuid.UUID, role string, ttl time.Duration) (string, error) {
	if !validRoles[role] {
		return "", fmt.Errorf("invalid role: %s", role)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}
