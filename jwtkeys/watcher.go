package jwtkeys

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Watcher keeps a process-local copy of the active signing key id fresh
// by listening on the rotation announcement channel, so instances pick up
// rotations performed elsewhere without restart.
type Watcher struct {
	redis    redis.UniversalClient
	registry *Registry
	logger   *slog.Logger

	mu        sync.RWMutex
	currentID string

	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher over the registry's Redis client.
func NewWatcher(registry *Registry, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{redis: registry.redis, registry: registry, logger: logger}
}

// Start loads the current id and subscribes to rotation announcements.
func (w *Watcher) Start(ctx context.Context) error {
	id, err := w.registry.GetCurrentSigningKeyID(ctx)
	if err == nil {
		w.setCurrent(id)
	} else {
		w.logger.Warn("initial signing key id load failed", "error", err)
	}

	w.pubsub = w.redis.Subscribe(ctx, Channel)
	// Force the subscription to be established before returning so a
	// rotation right after Start is not missed.
	if _, err := w.pubsub.Receive(ctx); err != nil {
		_ = w.pubsub.Close()
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for msg := range w.pubsub.Channel() {
			w.setCurrent(msg.Payload)
			w.logger.Info("signing key id refreshed", "key_id", msg.Payload)
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the listener goroutine to exit.
func (w *Watcher) Stop() {
	if w.pubsub != nil {
		_ = w.pubsub.Close()
	}
	w.wg.Wait()
}

// CurrentSigningKeyID returns the cached active signing key id; empty
// when no key has been observed yet.
func (w *Watcher) CurrentSigningKeyID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentID
}

func (w *Watcher) setCurrent(id string) {
	w.mu.Lock()
	w.currentID = id
	w.mu.Unlock()
}
