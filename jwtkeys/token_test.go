package jwtkeys

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTokenTest(t *testing.T) (*TokenManager, *Registry, func()) {
	t.Helper()
	registry, _, _, done := newRegistryTest(t)
	if _, err := registry.Rotate(context.Background(), true); err != nil {
		done()
		t.Fatalf("bootstrap key: %v", err)
	}
	return NewTokenManager(registry, "authguard-test", 15*time.Minute), registry, done
}

func TestSignVerifyRoundTrip(t *testing.T) {
	tokens, _, done := newTokenTest(t)
	defer done()
	ctx := context.Background()

	signed, err := tokens.Sign(ctx, "user-42")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := tokens.Verify(ctx, signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-42" || claims.Subject != "user-42" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "authguard-test" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestVerifyAcceptsGracePeriodKey(t *testing.T) {
	tokens, registry, done := newTokenTest(t)
	defer done()
	ctx := context.Background()

	signed, err := tokens.Sign(ctx, "user-42")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := registry.Rotate(ctx, true); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// The old key is rotating, so tokens it signed still verify.
	if _, err := tokens.Verify(ctx, signed); err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
}

func TestVerifyRejectsRevokedKey(t *testing.T) {
	tokens, registry, done := newTokenTest(t)
	defer done()
	ctx := context.Background()

	before, err := registry.GetCurrentSigningKeyID(ctx)
	if err != nil {
		t.Fatalf("active id: %v", err)
	}
	signed, err := tokens.Sign(ctx, "user-42")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := registry.Rotate(ctx, true); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := registry.Revoke(ctx, before); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := tokens.Verify(ctx, signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tokens, _, done := newTokenTest(t)
	defer done()
	ctx := context.Background()

	for _, input := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := tokens.Verify(ctx, input); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("input %q: expected ErrTokenInvalid, got %v", input, err)
		}
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	tokens, registry, done := newTokenTest(t)
	defer done()
	ctx := context.Background()

	other := NewTokenManager(registry, "some-other-service", 15*time.Minute)
	signed, err := other.Sign(ctx, "user-42")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := tokens.Verify(ctx, signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected issuer mismatch rejection, got %v", err)
	}
}
