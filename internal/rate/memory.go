package rate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count        int
	windowExpiry time.Time
	blockedUntil time.Time
}

// MemoryCounter is a process-local counter with the same window and
// block semantics as Counter. It backs the per-IP limiter's degraded
// mode when Redis is unreachable.
type MemoryCounter struct {
	cfg WindowConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryCounter creates an in-memory counter with the given window config.
func NewMemoryCounter(cfg WindowConfig) *MemoryCounter {
	return &MemoryCounter{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
}

// Consume mirrors Counter.Consume against the process-local map. The ctx
// parameter exists for interface symmetry; no I/O happens here.
func (m *MemoryCounter) Consume(_ context.Context, id string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	entry, ok := m.entries[id]
	if !ok || now.After(entry.windowExpiry) {
		entry = &memoryEntry{}
		m.entries[id] = entry
	}

	if now.Before(entry.blockedUntil) {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: entry.blockedUntil.Sub(now),
			Consumed:   entry.count,
		}, nil
	}

	entry.count++
	entry.windowExpiry = now.Add(m.cfg.Window)

	if m.cfg.Limit > 0 && entry.count > m.cfg.Limit {
		retryAfter := m.cfg.Window
		if m.cfg.BlockDuration > 0 {
			retryAfter = m.cfg.BlockDuration
			entry.blockedUntil = now.Add(m.cfg.BlockDuration)
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter, Consumed: entry.count}, nil
	}

	remaining := 0
	if m.cfg.Limit > 0 {
		remaining = m.cfg.Limit - entry.count
	}
	return Result{Allowed: true, Remaining: remaining, Consumed: entry.count}, nil
}

// Reset drops the identifier's in-memory state.
func (m *MemoryCounter) Reset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	return nil
}

// pruneLocked evicts expired entries so the map does not grow without
// bound during a long Redis outage. Caller holds m.mu.
func (m *MemoryCounter) pruneLocked(now time.Time) {
	for id, entry := range m.entries {
		if now.After(entry.windowExpiry) && now.After(entry.blockedUntil) {
			delete(m.entries, id)
		}
	}
}
