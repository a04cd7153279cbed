package jwtkeys

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherTracksRotations(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	first, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	watcher := NewWatcher(registry, nil)
	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("watcher start: %v", err)
	}
	defer watcher.Stop()

	if got := watcher.CurrentSigningKeyID(); got != first.NewKeyID {
		t.Fatalf("expected initial id %s, got %q", first.NewKeyID, got)
	}

	second, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return watcher.CurrentSigningKeyID() == second.NewKeyID
	})
}

func TestWatcherStartsBeforeFirstKey(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	watcher := NewWatcher(registry, nil)
	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("watcher start: %v", err)
	}
	defer watcher.Stop()

	if got := watcher.CurrentSigningKeyID(); got != "" {
		t.Fatalf("expected empty id before any rotation, got %q", got)
	}

	result, err := registry.Rotate(ctx, true)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return watcher.CurrentSigningKeyID() == result.NewKeyID
	})
}

func TestSchedulerBootstrapsAndStops(t *testing.T) {
	registry, _, _, done := newRegistryTest(t)
	defer done()
	registry.cfg.CheckInterval = 10 * time.Millisecond

	scheduler := NewScheduler(registry, nil)
	scheduler.Start(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		_, err := registry.GetCurrentSigningKeyID(context.Background())
		return err == nil
	})
	scheduler.Stop()
	scheduler.Stop() // idempotent
}
