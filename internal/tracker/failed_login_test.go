package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTrackerTest(t *testing.T) (*Tracker, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tracker := New(rdb, Config{IPWindow: 15 * time.Minute, EmailWindow: time.Hour})
	return tracker, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRecordWritesBothIdentifiers(t *testing.T) {
	tracker, mr, done := newTrackerTest(t)
	defer done()
	ctx := context.Background()

	err := tracker.Record(ctx, Attempt{IP: "10.0.0.1", Email: "a@example.com", Reason: "invalid_credentials"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	for key, window := range map[string]time.Duration{
		"failed_login:ip:10.0.0.1":         15 * time.Minute,
		"failed_login:email:a@example.com": time.Hour,
		"failed_login_count:10.0.0.1":      15 * time.Minute,
		"failed_login_count:a@example.com": time.Hour,
	} {
		if !mr.Exists(key) {
			t.Fatalf("expected key %s", key)
		}
		if ttl := mr.TTL(key); ttl != window {
			t.Errorf("key %s: expected TTL %v, got %v", key, window, ttl)
		}
	}

	count, err := tracker.FailureCount(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("failure count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestRecordWithoutEmailSkipsEmailKeys(t *testing.T) {
	tracker, mr, done := newTrackerTest(t)
	defer done()

	err := tracker.Record(context.Background(), Attempt{IP: "10.0.0.2", Reason: "invalid_credentials"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if !mr.Exists("failed_login:ip:10.0.0.2") {
		t.Fatal("expected ip list")
	}
	keys := mr.Keys()
	for _, key := range keys {
		if key == "failed_login:email:" || key == "failed_login_count:" {
			t.Fatalf("unexpected empty-identifier key %s", key)
		}
	}
}

func TestAttemptsWindowFilterAndOrder(t *testing.T) {
	tracker, _, done := newTrackerTest(t)
	defer done()
	ctx := context.Background()

	now := time.Now().UTC()
	old := Attempt{IP: "10.0.0.3", Reason: "invalid_credentials", Timestamp: now.Add(-2 * time.Hour)}
	mid := Attempt{IP: "10.0.0.3", Reason: "invalid_credentials", Timestamp: now.Add(-10 * time.Minute)}
	recent := Attempt{IP: "10.0.0.3", Reason: "account_disabled", Timestamp: now.Add(-time.Minute)}
	for _, attempt := range []Attempt{old, mid, recent} {
		if err := tracker.Record(ctx, attempt); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	attempts, err := tracker.Attempts(ctx, "10.0.0.3", time.Hour)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts inside the window, got %d", len(attempts))
	}
	if !attempts[0].Timestamp.After(attempts[1].Timestamp) {
		t.Fatal("expected newest-first ordering")
	}
	if attempts[0].Reason != "account_disabled" {
		t.Fatalf("expected newest attempt first, got %s", attempts[0].Reason)
	}
}

func TestAttemptsMergesIPAndEmailListsWithoutDuplicates(t *testing.T) {
	tracker, _, done := newTrackerTest(t)
	defer done()
	ctx := context.Background()

	// One attempt written to both lists under the same email identifier
	// must not appear twice when reading by email.
	attempt := Attempt{
		IP:        "b@example.com", // identifier abuse: same id on both lists
		Email:     "b@example.com",
		Reason:    "invalid_credentials",
		Timestamp: time.Now().UTC(),
	}
	if err := tracker.Record(ctx, attempt); err != nil {
		t.Fatalf("record: %v", err)
	}

	attempts, err := tracker.Attempts(ctx, "b@example.com", time.Hour)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected deduplicated read, got %d entries", len(attempts))
	}
}

func TestResetClearsListsCounterAndCaptchaGate(t *testing.T) {
	tracker, mr, done := newTrackerTest(t)
	defer done()
	ctx := context.Background()

	if err := tracker.Record(ctx, Attempt{IP: "10.0.0.4", Reason: "invalid_credentials"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	mr.Set("rl_captcha:10.0.0.4", "3")

	if err := tracker.Reset(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for _, key := range []string{
		"failed_login:ip:10.0.0.4",
		"failed_login_count:10.0.0.4",
		"rl_captcha:10.0.0.4",
	} {
		if mr.Exists(key) {
			t.Errorf("expected key %s cleared", key)
		}
	}

	// Reset of an unseen identifier is a no-op.
	if err := tracker.Reset(ctx, "never-seen"); err != nil {
		t.Fatalf("idempotent reset: %v", err)
	}
}

func TestBlockedUsesIdentifierShape(t *testing.T) {
	tracker, _, done := newTrackerTest(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := tracker.Record(ctx, Attempt{IP: "10.0.0.5", Reason: "invalid_credentials"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	blocked, err := tracker.Blocked(ctx, "10.0.0.5", 5, 10)
	if err != nil {
		t.Fatalf("blocked: %v", err)
	}
	if !blocked {
		t.Fatal("expected IP blocked at the per-IP limit")
	}

	for i := 0; i < 5; i++ {
		if err := tracker.Record(ctx, Attempt{IP: "10.0.0.6", Email: "c@example.com", Reason: "invalid_credentials"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	blocked, err = tracker.Blocked(ctx, "c@example.com", 5, 10)
	if err != nil {
		t.Fatalf("blocked: %v", err)
	}
	if blocked {
		t.Fatal("expected email below the per-email limit")
	}
}
