package jwtkeys

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRegistryConfig() Config {
	return Config{
		RotationInterval: 30 * 24 * time.Hour,
		GracePeriod:      7 * 24 * time.Hour,
		MaxActiveKeys:    3,
		CheckInterval:    time.Hour,
		Passphrase:       "registry-test-passphrase",
		PBKDF2Iterations: 1000,
		SaltLength:       32,
		IVLength:         16,
		TagLength:        16,
		RetentionTTL:     45 * 24 * time.Hour,
		LockTTL:          30 * time.Second,
		SecretLength:     32,
	}
}

func newRegistryTest(t *testing.T) (*Registry, *miniredis.Miniredis, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	registry := New(rdb, testRegistryConfig(), nil, nil)
	return registry, mr, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestBootstrapRotation(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	result, err := registry.CheckAndRotate(ctx)
	if err != nil {
		t.Fatalf("bootstrap rotation: %v", err)
	}
	if !result.Rotated || result.NewKeyID == "" {
		t.Fatalf("expected bootstrap rotation, got %+v", result)
	}
	if result.PreviousKeyID != "" {
		t.Fatalf("expected no previous key on bootstrap, got %q", result.PreviousKeyID)
	}

	activeID, err := registry.GetCurrentSigningKeyID(ctx)
	if err != nil {
		t.Fatalf("active id: %v", err)
	}
	if activeID != result.NewKeyID {
		t.Fatalf("active id %q does not match rotation result %q", activeID, result.NewKeyID)
	}

	key, err := registry.GetKeyByID(ctx, activeID)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key.Status != StatusActive || key.Algorithm != "HS256" {
		t.Fatalf("unexpected key %+v", key)
	}
	if len(key.Secret) != 64 { // 32 random bytes hex-encoded
		t.Fatalf("expected 64-char secret, got %d", len(key.Secret))
	}
	wantExpiry := key.CreatedAt.Add(registry.cfg.RotationInterval + registry.cfg.GracePeriod)
	if !key.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, key.ExpiresAt)
	}
}

func TestCheckAndRotateWithinInterval(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if _, err := registry.CheckAndRotate(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	result, err := registry.CheckAndRotate(ctx)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if result.Rotated {
		t.Fatal("expected no rotation inside the interval")
	}
}

func TestCheckAndRotateAfterInterval(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	first, err := registry.CheckAndRotate(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	registry.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	second, err := registry.CheckAndRotate(ctx)
	if err != nil {
		t.Fatalf("aged check: %v", err)
	}
	if !second.Rotated || second.PreviousKeyID != first.NewKeyID {
		t.Fatalf("expected rotation of %s, got %+v", first.NewKeyID, second)
	}
}

func TestForceRotateDemotesPrevious(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	first, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	second, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	if second.PreviousKeyID != first.NewKeyID {
		t.Fatalf("expected previous %s, got %s", first.NewKeyID, second.PreviousKeyID)
	}

	demoted, err := registry.GetKeyByID(ctx, first.NewKeyID)
	if err != nil {
		t.Fatalf("get demoted: %v", err)
	}
	if demoted.Status != StatusRotating {
		t.Fatalf("expected demoted key rotating, got %s", demoted.Status)
	}
	graceEnd := time.Now().Add(registry.cfg.GracePeriod)
	if demoted.ExpiresAt.Before(graceEnd.Add(-time.Minute)) || demoted.ExpiresAt.After(graceEnd.Add(time.Minute)) {
		t.Fatalf("expected demoted expiry near grace end, got %v", demoted.ExpiresAt)
	}
}

func TestRotationCapsNonRevokedKeys(t *testing.T) {
	registry, _, rdb, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		result, err := registry.Rotate(ctx, true)
		if err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
		ids = append(ids, result.NewKeyID)
	}

	keys, err := registry.GetAllKeys(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	live := 0
	for _, key := range keys {
		if key.Status != StatusRevoked {
			live++
		}
	}
	if live > 3 {
		t.Fatalf("expected at most 3 non-revoked keys, got %d", live)
	}

	// The oldest keys land in the revoked index.
	revoked, err := rdb.HGetAll(ctx, "jwt:keys:revoked").Result()
	if err != nil {
		t.Fatalf("revoked index: %v", err)
	}
	if _, ok := revoked[ids[0]]; !ok {
		t.Fatalf("expected oldest key %s in revoked index", ids[0])
	}
}

func TestRevoke(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	first, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if err := registry.Revoke(ctx, first.NewKeyID); !errors.Is(err, ErrActiveKeyRevocation) {
		t.Fatalf("expected ErrActiveKeyRevocation, got %v", err)
	}

	if _, err := registry.Rotate(ctx, true); err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	if err := registry.Revoke(ctx, first.NewKeyID); err != nil {
		t.Fatalf("revoke demoted key: %v", err)
	}

	key, err := registry.GetKeyByID(ctx, first.NewKeyID)
	if err != nil {
		t.Fatalf("get revoked: %v", err)
	}
	if key.Status != StatusRevoked {
		t.Fatalf("expected revoked, got %s", key.Status)
	}

	if err := registry.Revoke(ctx, "no-such-key"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	registry, _, rdb, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	first, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if _, err := registry.Rotate(ctx, true); err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	if err := registry.Revoke(ctx, first.NewKeyID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Inside the retention window nothing is purged.
	purged, err := registry.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected 0 purged inside retention, got %d", purged)
	}

	registry.now = func() time.Time { return time.Now().Add(46 * 24 * time.Hour) }
	purged, err = registry.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("aged purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	if _, err := registry.GetKeyByID(ctx, first.NewKeyID); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected purged key gone, got %v", err)
	}
	if exists, _ := rdb.HExists(ctx, "jwt:keys:revoked", first.NewKeyID).Result(); exists {
		t.Fatal("expected purged key dropped from revoked index")
	}
}

func TestRotationLockContention(t *testing.T) {
	registry, mr, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if err := mr.Set("jwt:keys:rotation:lock", "another-instance"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	result, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("contended rotate: %v", err)
	}
	if result.Rotated {
		t.Fatal("expected no-op while another instance holds the lock")
	}

	// The foreign lock must survive: this instance never owned it.
	if !mr.Exists("jwt:keys:rotation:lock") {
		t.Fatal("expected foreign lock untouched")
	}
	mr.Del("jwt:keys:rotation:lock")

	result, err = registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("uncontended rotate: %v", err)
	}
	if !result.Rotated {
		t.Fatal("expected rotation once the lock is free")
	}
	if mr.Exists("jwt:keys:rotation:lock") {
		t.Fatal("expected lock released after rotation")
	}
}

func TestVerificationKeys(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	first, _ := registry.Rotate(ctx, true)
	second, _ := registry.Rotate(ctx, true)
	third, _ := registry.Rotate(ctx, true)
	if err := registry.Revoke(ctx, first.NewKeyID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	keys, err := registry.VerificationKeys(ctx)
	if err != nil {
		t.Fatalf("verification keys: %v", err)
	}
	if _, ok := keys[first.NewKeyID]; ok {
		t.Fatal("expected revoked key excluded")
	}
	if _, ok := keys[second.NewKeyID]; !ok {
		t.Fatal("expected rotating key included")
	}
	if _, ok := keys[third.NewKeyID]; !ok {
		t.Fatal("expected active key included")
	}
}

func TestRotationPublishesAnnouncement(t *testing.T) {
	registry, _, rdb, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	pubsub := rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	result, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		if msg.Payload != result.NewKeyID {
			t.Fatalf("announced %q, rotated to %q", msg.Payload, result.NewKeyID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no rotation announcement received")
	}
}

func TestGetCurrentSigningKeyIDEmpty(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()

	if _, err := registry.GetCurrentSigningKeyID(context.Background()); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}
