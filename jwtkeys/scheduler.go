package jwtkeys

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler periodically runs the rotation check and the revoked-key
// purge sweep. Every instance runs one; the rotation lock guarantees at
// most one of them performs the actual rotation per interval.
type Scheduler struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a rotation scheduler ticking at the registry's
// check interval.
func NewScheduler(registry *Registry, logger *slog.Logger) *Scheduler {
	interval := registry.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches the background loop. An immediate first check runs so a
// fresh deployment bootstraps its initial key without waiting a tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) sweep(ctx context.Context) {
	result, err := s.registry.CheckAndRotate(ctx)
	if err != nil {
		s.logger.Warn("scheduled rotation check failed", "error", err)
	} else if result.Rotated {
		s.logger.Info("signing key rotated", "key_id", result.NewKeyID, "previous", result.PreviousKeyID)
	}

	purged, err := s.registry.PurgeExpired(ctx)
	if err != nil {
		s.logger.Warn("revoked key purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("revoked keys purged", "count", purged)
	}
}
