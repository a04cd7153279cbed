package jwtkeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid covers every verification failure: bad signature,
	// unknown or revoked kid, expired claims. Callers must not leak which.
	ErrTokenInvalid = errors.New("invalid token")
)

// SessionClaims are the claims issued for authenticated sessions.
type SessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// TokenManager signs with the registry's active key and verifies against
// any key whose status is active or rotating. The kid header selects the
// verification key, so tokens signed before a rotation stay valid through
// the grace period.
type TokenManager struct {
	registry *Registry
	issuer   string
	ttl      time.Duration
}

// NewTokenManager creates a TokenManager over the registry.
func NewTokenManager(registry *Registry, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{registry: registry, issuer: issuer, ttl: ttl}
}

// Sign issues a token for the user under the current active signing key.
func (t *TokenManager) Sign(ctx context.Context, userID string) (string, error) {
	id, err := t.registry.GetCurrentSigningKeyID(ctx)
	if err != nil {
		return "", err
	}
	key, err := t.registry.GetKeyByID(ctx, id)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	return token.SignedString([]byte(key.Secret))
}

// Verify parses and validates a token. Any failure, whether malformed,
// expired, or signed under a revoked or unknown key, collapses to
// ErrTokenInvalid.
func (t *TokenManager) Verify(ctx context.Context, tokenStr string) (*SessionClaims, error) {
	verifyKeys, err := t.registry.VerificationKeys(ctx)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
	)
	token, err := parser.ParseWithClaims(tokenStr, &SessionClaims{}, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("missing kid")
		}
		key, ok := verifyKeys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid")
		}
		return key, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
