package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/internal"
	"github.com/velodyn/authguard/internal/audit"
)

const lockedFlagPrefix = "account_locked:"

const lockReasonTooManyFailures = "too_many_failed_attempts"

var (
	// ErrUserNotFound indicates the email has no account. Callers facing
	// the network must map this to a generic success response.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotLocked indicates an unlock flow was started for an account
	// that is not locked.
	ErrNotLocked = errors.New("account not locked")
	// ErrStoreUnavailable indicates the user store or coordination store
	// could not be reached.
	ErrStoreUnavailable = errors.New("lockout store unavailable")
)

// User is the account projection the lockout manager operates on.
type User struct {
	ID                     string
	Email                  string
	AccountLocked          bool
	AccountLockedAt        *time.Time
	AccountLockReason      string
	UnlockToken            string
	UnlockTokenGeneratedAt *time.Time
}

// UserStore is the adapter over the caller's user persistence.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUnlockToken(ctx context.Context, token string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
}

// FailureTracker exposes the failure counters the manager reads and resets.
type FailureTracker interface {
	FailureCount(ctx context.Context, identifier string) (int, error)
	Reset(ctx context.Context, identifier string) error
}

// Notifier delivers lockout-related emails. Calls are fire-and-forget:
// errors are logged, never propagated into the caller's control flow.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// Config holds lockout tuning parameters.
type Config struct {
	Threshold      int           // failures required to lock, default 10
	UnlockTokenTTL time.Duration // unlock token validity, default 24h
	UnlockBaseURL  string        // base URL for unlock links in emails
}

// LockInfo is the metadata returned for a locked account.
type LockInfo struct {
	Email        string     `json:"email"`
	LockedAt     *time.Time `json:"lockedAt"`
	Reason       string     `json:"reason"`
	FailureCount int        `json:"failureCount"`
}

// Manager drives the lockout state machine.
type Manager struct {
	redis    redis.UniversalClient
	users    UserStore
	tracker  FailureTracker
	notifier Notifier
	sink     audit.Sink
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// New creates a lockout Manager. sink and logger may be nil.
func New(redisClient redis.UniversalClient, users UserStore, tracker FailureTracker, notifier Notifier, sink audit.Sink, logger *slog.Logger, cfg Config) *Manager {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		redis:    redisClient,
		users:    users,
		tracker:  tracker,
		notifier: notifier,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CheckAndLock locks the account when its failure count has reached the
// threshold and reports whether it did. Errors are swallowed and reported
// as "not locked": a transient store error must not produce a false lock.
func (m *Manager) CheckAndLock(ctx context.Context, email string) bool {
	count, err := m.tracker.FailureCount(ctx, email)
	if err != nil {
		m.logger.Warn("lockout check skipped", "email", email, "error", err)
		return false
	}
	if count < m.cfg.Threshold {
		return false
	}

	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		m.logger.Warn("lockout lookup failed", "email", email, "error", err)
		return false
	}
	if user.AccountLocked {
		return true
	}

	token, err := internal.NewHexToken(32)
	if err != nil {
		m.logger.Warn("unlock token generation failed", "error", err)
		return false
	}

	now := m.now().UTC()
	user.AccountLocked = true
	user.AccountLockedAt = &now
	user.AccountLockReason = lockReasonTooManyFailures
	user.UnlockToken = token
	user.UnlockTokenGeneratedAt = &now

	if err := m.users.UpdateUser(ctx, user); err != nil {
		m.logger.Warn("lockout persist failed", "email", email, "error", err)
		return false
	}
	if err := m.redis.Set(ctx, lockedFlagPrefix+email, "1", 0).Err(); err != nil {
		m.logger.Warn("lockout flag write failed", "email", email, "error", err)
	}

	m.sendEmail(ctx, email, lockoutSubject, lockoutBody(m.unlockURL(token)))
	m.sink.Emit(ctx, audit.Event{
		Timestamp: now,
		EventType: audit.EventAccountLocked,
		Email:     email,
		Success:   true,
		Metadata:  map[string]string{"reason": lockReasonTooManyFailures, "failures": fmt.Sprintf("%d", count)},
	})
	return true
}

// IsLocked is a pure read of the account's locked state. Errors report
// unlocked.
func (m *Manager) IsLocked(ctx context.Context, email string) bool {
	flagged, err := m.redis.Exists(ctx, lockedFlagPrefix+email).Result()
	if err == nil && flagged > 0 {
		return true
	}

	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		return false
	}
	return user.AccountLocked
}

// LockInfo returns lock metadata plus the current failure count, or nil
// when the account is not locked.
func (m *Manager) LockInfo(ctx context.Context, email string) (*LockInfo, error) {
	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !user.AccountLocked {
		return nil, nil
	}

	count, err := m.tracker.FailureCount(ctx, email)
	if err != nil {
		count = 0
	}
	return &LockInfo{
		Email:        email,
		LockedAt:     user.AccountLockedAt,
		Reason:       user.AccountLockReason,
		FailureCount: count,
	}, nil
}

// InitiateUnlock issues a fresh unlock token for an already-locked account,
// invalidating the previous one, and emails the unlock link. The returned
// errors are internally distinguishable; the HTTP caller must still answer
// with a generic envelope regardless.
func (m *Manager) InitiateUnlock(ctx context.Context, email string) error {
	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !user.AccountLocked {
		return ErrNotLocked
	}

	token, err := internal.NewHexToken(32)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	user.UnlockToken = token
	user.UnlockTokenGeneratedAt = &now
	if err := m.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.sendEmail(ctx, email, unlockSubject, unlockBody(m.unlockURL(token)))
	m.sink.Emit(ctx, audit.Event{
		Timestamp: now,
		EventType: audit.EventUnlockInitiated,
		Email:     email,
		Success:   true,
	})
	return nil
}

// VerifyAndUnlock unlocks the account matching the token. Expired tokens,
// unknown tokens, and lookup errors all report false; the caller's
// response must not vary with the failure cause.
func (m *Manager) VerifyAndUnlock(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	user, err := m.users.GetUserByUnlockToken(ctx, token)
	if err != nil {
		return false
	}
	if user.UnlockTokenGeneratedAt == nil ||
		m.now().Sub(*user.UnlockTokenGeneratedAt) > m.cfg.UnlockTokenTTL {
		return false
	}

	if err := m.unlock(ctx, user); err != nil {
		m.logger.Warn("unlock persist failed", "email", user.Email, "error", err)
		return false
	}

	m.sendEmail(ctx, user.Email, unlockedSubject, unlockedBody())
	m.sink.Emit(ctx, audit.Event{
		Timestamp: m.now().UTC(),
		EventType: audit.EventAccountUnlocked,
		Email:     user.Email,
		Success:   true,
	})
	return true
}

// AdminUnlock unconditionally unlocks the account, resets its failure
// counters, and records the acting admin in the audit trail.
func (m *Manager) AdminUnlock(ctx context.Context, email, adminID string) error {
	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := m.unlock(ctx, user); err != nil {
		return err
	}

	m.sendEmail(ctx, email, unlockedSubject, unlockedBody())
	m.sink.Emit(ctx, audit.Event{
		Timestamp: m.now().UTC(),
		EventType: audit.EventAdminUnlock,
		Email:     email,
		AdminID:   adminID,
		Success:   true,
	})
	return nil
}

// unlock clears the lock fields, the mirror flag, and the failure
// counters. Shared by token and admin unlocks.
func (m *Manager) unlock(ctx context.Context, user *User) error {
	user.AccountLocked = false
	user.AccountLockedAt = nil
	user.AccountLockReason = ""
	user.UnlockToken = ""
	user.UnlockTokenGeneratedAt = nil

	if err := m.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := m.redis.Del(ctx, lockedFlagPrefix+user.Email).Err(); err != nil {
		m.logger.Warn("lockout flag delete failed", "email", user.Email, "error", err)
	}
	if err := m.tracker.Reset(ctx, user.Email); err != nil {
		m.logger.Warn("failure counter reset failed", "email", user.Email, "error", err)
	}
	return nil
}

func (m *Manager) unlockURL(token string) string {
	return m.cfg.UnlockBaseURL + "/unlock-account?token=" + token
}

// sendEmail delivers fire-and-forget: failures are logged, never returned.
func (m *Manager) sendEmail(ctx context.Context, to, subject, html string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.SendEmail(ctx, to, subject, html); err != nil {
		m.logger.Warn("notification send failed", "to", to, "subject", subject, "error", err)
	}
}
