package authguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/lockout"
)

// memoryUserStore is a map-backed UserStore for pipeline tests.
type memoryUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemoryUserStore(emails ...string) *memoryUserStore {
	store := &memoryUserStore{users: make(map[string]*User)}
	for i, email := range emails {
		store.users[email] = &User{ID: string(rune('a' + i)), Email: email}
	}
	return store
}

func (s *memoryUserStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return nil, lockout.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memoryUserStore) GetUserByUnlockToken(_ context.Context, token string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.UnlockToken != "" && user.UnlockToken == token {
			copied := *user
			return &copied, nil
		}
	}
	return nil, lockout.ErrUserNotFound
}

func (s *memoryUserStore) UpdateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.Email] = &copied
	return nil
}

func newGuardTest(t *testing.T) (*Guard, *memoryUserStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := DefaultConfig()
	cfg.Keys.Passphrase = "guard-test-passphrase"
	cfg.Keys.PBKDF2Iterations = 1000

	users := newMemoryUserStore("victim@example.com")
	guard, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithAuditSink(NoOpSink{}).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("build guard: %v", err)
	}
	return guard, users, mr, func() {
		guard.Close()
		rdb.Close()
		mr.Close()
	}
}

func TestCheckLoginAllowsFreshIdentifiers(t *testing.T) {
	guard, _, _, done := newGuardTest(t)
	defer done()

	check, err := guard.CheckLogin(context.Background(), "203.0.113.7", "victim@example.com")
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if !check.Allowed || check.Degraded || check.CaptchaRequired {
		t.Fatalf("unexpected verdict %+v", check)
	}
	if check.RemainingAttempts != 4 {
		t.Fatalf("expected 4 remaining, got %d", check.RemainingAttempts)
	}
	if check.Delay != 0 {
		t.Fatalf("expected no delay, got %v", check.Delay)
	}
}

func TestCheckLoginIPRateLimit(t *testing.T) {
	guard, _, _, done := newGuardTest(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		check, err := guard.CheckLogin(ctx, "203.0.113.7", "")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !check.Allowed {
			t.Fatalf("check %d unexpectedly denied", i)
		}
	}

	check, err := guard.CheckLogin(ctx, "203.0.113.7", "")
	if err != nil {
		t.Fatalf("6th check: %v", err)
	}
	if check.Allowed {
		t.Fatal("expected 6th attempt denied")
	}
	if !errors.Is(check.Reason, ErrIPRateLimited) || !errors.Is(check.Reason, ErrLimitExceeded) {
		t.Fatalf("unexpected reason %v", check.Reason)
	}
	if check.RetryAfter != 15*time.Minute {
		t.Fatalf("expected 15m retry hint, got %v", check.RetryAfter)
	}

	// A different IP is unaffected.
	other, err := guard.CheckLogin(ctx, "203.0.113.8", "")
	if err != nil {
		t.Fatalf("other ip: %v", err)
	}
	if !other.Allowed {
		t.Fatal("expected other ip allowed")
	}
}

func TestRecordFailureRampsDefenses(t *testing.T) {
	guard, _, _, done := newGuardTest(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		locked, err := guard.RecordFailure(ctx, "203.0.113.7", "victim@example.com", "bad_password")
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if locked {
			t.Fatalf("unexpected lock at failure %d", i+1)
		}
	}

	check, err := guard.CheckLogin(ctx, "203.0.113.7", "victim@example.com")
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if !check.Allowed {
		t.Fatalf("expected allowed, got %+v", check)
	}
	if !check.CaptchaRequired {
		t.Fatal("expected captcha gate closed after 3 failures")
	}
	if check.Delay != 15*time.Second {
		t.Fatalf("expected 15s progressive delay, got %v", check.Delay)
	}
}

func TestLockoutAfterThresholdFailures(t *testing.T) {
	guard, users, _, done := newGuardTest(t)
	defer done()
	ctx := context.Background()

	var locked bool
	for i := 0; i < 10; i++ {
		var err error
		locked, err = guard.RecordFailure(ctx, "203.0.113.7", "victim@example.com", "bad_password")
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if locked && i < 9 {
			t.Fatalf("locked early at failure %d", i+1)
		}
	}
	if !locked {
		t.Fatal("expected lock at the 10th failure")
	}

	check, err := guard.CheckLogin(ctx, "198.51.100.1", "victim@example.com")
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if check.Allowed || !errors.Is(check.Reason, ErrAccountLocked) {
		t.Fatalf("expected account-locked verdict, got %+v", check)
	}

	// Self-service unlock with the emailed token reopens the account.
	user, err := users.GetUserByEmail(ctx, "victim@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !guard.UnlockWithToken(ctx, user.UnlockToken) {
		t.Fatal("expected unlock token accepted")
	}
	if guard.UnlockWithToken(ctx, user.UnlockToken) {
		t.Fatal("expected spent token rejected")
	}

	check, err = guard.CheckLogin(ctx, "198.51.100.2", "victim@example.com")
	if err != nil {
		t.Fatalf("post-unlock check: %v", err)
	}
	if !check.Allowed {
		t.Fatalf("expected allowed after unlock, got %+v", check)
	}
}

func TestRecordSuccessResetsCounters(t *testing.T) {
	guard, _, _, done := newGuardTest(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := guard.RecordFailure(ctx, "203.0.113.7", "victim@example.com", "bad_password"); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := guard.RecordSuccess(ctx, "203.0.113.7", "victim@example.com"); err != nil {
		t.Fatalf("record success: %v", err)
	}

	check, err := guard.CheckLogin(ctx, "203.0.113.7", "victim@example.com")
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if !check.Allowed || check.CaptchaRequired || check.Delay != 0 {
		t.Fatalf("expected clean slate, got %+v", check)
	}

	delay, err := guard.ProgressiveDelay(ctx, "victim@example.com")
	if err != nil {
		t.Fatalf("progressive delay: %v", err)
	}
	if delay != 0 {
		t.Fatalf("expected zero delay after success, got %v", delay)
	}
}

func TestCheckLoginDegradedFallback(t *testing.T) {
	guard, _, mr, done := newGuardTest(t)
	defer done()
	ctx := context.Background()

	mr.Close()

	for i := 0; i < 5; i++ {
		check, err := guard.CheckLogin(ctx, "203.0.113.7", "victim@example.com")
		if err != nil {
			t.Fatalf("degraded check %d: %v", i, err)
		}
		if !check.Allowed {
			t.Fatalf("degraded check %d unexpectedly denied", i)
		}
		if !check.Degraded {
			t.Fatalf("expected degraded flag on check %d", i)
		}
	}

	// The in-memory fallback still enforces the per-IP limit.
	check, err := guard.CheckLogin(ctx, "203.0.113.7", "victim@example.com")
	if err != nil {
		t.Fatalf("6th degraded check: %v", err)
	}
	if check.Allowed || !errors.Is(check.Reason, ErrIPRateLimited) {
		t.Fatalf("expected fallback denial, got %+v", check)
	}
}

func TestKeyOperationsThroughGuard(t *testing.T) {
	guard, _, _, done := newGuardTest(t)
	defer done()
	ctx := context.Background()

	first, err := guard.RotateKeys(ctx, true)
	if err != nil {
		t.Fatalf("bootstrap rotate: %v", err)
	}

	// A non-forced rotation against a fresh active key is a no-op.
	unforced, err := guard.RotateKeys(ctx, false)
	if err != nil {
		t.Fatalf("unforced rotate: %v", err)
	}
	if unforced.Rotated {
		t.Fatalf("expected no-op for fresh active key, got %+v", unforced)
	}
	if id, err := guard.Keys().GetCurrentSigningKeyID(ctx); err != nil || id != first.NewKeyID {
		t.Fatalf("expected active key %s untouched, got %s (%v)", first.NewKeyID, id, err)
	}

	second, err := guard.RotateKeys(ctx, true)
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	if second.PreviousKeyID != first.NewKeyID {
		t.Fatalf("expected demotion of %s, got %+v", first.NewKeyID, second)
	}

	if err := guard.RevokeKey(ctx, second.NewKeyID); err == nil {
		t.Fatal("expected active key revocation rejected")
	}
	if err := guard.RevokeKey(ctx, first.NewKeyID); err != nil {
		t.Fatalf("revoke demoted key: %v", err)
	}

	snap := guard.MetricsSnapshot()
	if snap.Counters[MetricKeyRotated] != 2 {
		t.Fatalf("expected 2 rotations counted, got %d", snap.Counters[MetricKeyRotated])
	}
	if snap.Counters[MetricKeyRevoked] != 1 {
		t.Fatalf("expected 1 revocation counted, got %d", snap.Counters[MetricKeyRevoked])
	}
}

func TestKeyOperationsWithoutRegistry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// No key passphrase: the registry stays disabled.
	guard, err := New().
		WithRedis(rdb).
		WithUserStore(newMemoryUserStore()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer guard.Close()

	if guard.Keys() != nil {
		t.Fatal("expected nil registry without passphrase")
	}
	if _, err := guard.RotateKeys(context.Background(), true); !errors.Is(err, ErrGuardNotReady) {
		t.Fatalf("expected ErrGuardNotReady, got %v", err)
	}
	if err := guard.RevokeKey(context.Background(), "any"); !errors.Is(err, ErrGuardNotReady) {
		t.Fatalf("expected ErrGuardNotReady, got %v", err)
	}
}

func TestMetricsSnapshotCoversLoginPath(t *testing.T) {
	guard, _, _, done := newGuardTest(t)
	defer done()
	ctx := context.Background()

	if _, err := guard.CheckLogin(ctx, "203.0.113.7", "victim@example.com"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := guard.RecordFailure(ctx, "203.0.113.7", "victim@example.com", "bad_password"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if err := guard.RecordSuccess(ctx, "203.0.113.7", "victim@example.com"); err != nil {
		t.Fatalf("success: %v", err)
	}

	snap := guard.MetricsSnapshot()
	for _, id := range []MetricID{MetricLoginCheckAllowed, MetricFailureRecorded, MetricSuccessRecorded} {
		if snap.Counters[id] != 1 {
			t.Fatalf("expected %s == 1, got %d", MetricName(id), snap.Counters[id])
		}
	}
}

func TestBuilderValidation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if _, err := New().WithUserStore(newMemoryUserStore()).Build(); err == nil {
		t.Fatal("expected error without redis client")
	}
	if _, err := New().WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without user store")
	}

	builder := New().WithRedis(rdb).WithUserStore(newMemoryUserStore())
	guard, err := builder.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer guard.Close()
	if _, err := builder.Build(); err == nil {
		t.Fatal("expected single-use builder to refuse a second build")
	}
}
