// internal/auth/token.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret is returned when no verification secret is configured.
	ErrMissingSecret = errors.New("no token secret configured")
	// ErrInvalidToken is returned for tokens that parse but carry no usable identity.
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier checks HS256 bearer tokens against a shared secret.
// Tokens are minted by the account service; Sign exists for tests and local tooling.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret. An empty secret yields a verifier
// that rejects every token, which degrades all connections to guests.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Configured reports whether a secret is set.
func (v *Verifier) Configured() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses tokenString and returns the player id it carries. The "playerId"
// claim wins; "sub" is accepted as a fallback.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if !v.Configured() {
		return "", ErrMissingSecret
	}

	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims: %w", ErrInvalidToken)
	}

	if playerID, ok := claims["playerId"].(string); ok && playerID != "" {
		return playerID, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("missing playerId in jwt: %w", ErrInvalidToken)
}

// Sign creates an HS256 token for playerID. A zero ttl omits the exp claim.
func (v *Verifier) Sign(playerID string, ttl time.Duration) (string, error) {
	if !v.Configured() {
		return "", ErrMissingSecret
	}
	claims := jwt.MapClaims{
		"playerId": playerID,
		"sub":      playerID,
		"iat":      time.Now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
