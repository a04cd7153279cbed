package authguard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/velodyn/authguard/captcha"
	"github.com/velodyn/authguard/internal/audit"
	"github.com/velodyn/authguard/internal/limiters"
	"github.com/velodyn/authguard/internal/rate"
	"github.com/velodyn/authguard/internal/tracker"
	"github.com/velodyn/authguard/jwtkeys"
	"github.com/velodyn/authguard/lockout"
)

// Guard is the composed defense pipeline. Construct it with a Builder.
// All methods are safe for concurrent use.
type Guard struct {
	cfg    Config
	logger *slog.Logger

	limiter    *limiters.AuthLimiter
	tracker    *tracker.Tracker
	lockouts   *lockout.Manager
	captchas   *captcha.Service
	keys       *jwtkeys.Registry
	dispatcher *audit.Dispatcher
	sink       audit.Sink
	metrics    *metrics
}

// CheckLogin runs the pre-credential defense checks for one inbound
// authentication attempt: per-IP and per-email limits, lockout state, the
// captcha gate, and the progressive delay. The returned Delay is applied
// by the route handler, not here, so the check itself never blocks.
func (g *Guard) CheckLogin(ctx context.Context, ip, email string) (*LoginCheck, error) {
	if g == nil {
		return nil, ErrGuardNotReady
	}

	check := &LoginCheck{Allowed: true}

	ipRes, degraded, err := g.limiter.ConsumeIP(ctx, ip)
	if err != nil {
		return nil, err
	}
	check.Degraded = degraded
	check.RemainingAttempts = ipRes.Remaining
	if degraded {
		g.metrics.inc(MetricStoreFallback)
	}
	if !ipRes.Allowed {
		g.metrics.inc(MetricIPRateLimited)
		g.emitRateLimited(ctx, ip, email, "ip")
		check.Allowed = false
		check.Reason = ErrIPRateLimited
		check.RetryAfter = ipRes.RetryAfter
		return check, nil
	}

	if email != "" {
		emailRes, err := g.limiter.ConsumeEmail(ctx, email)
		if err != nil {
			// Email limiting fails open during a store outage: denying
			// every login because Redis is down hurts more than the
			// window of reduced limiting accuracy.
			if !errors.Is(err, rate.ErrStoreUnavailable) {
				return nil, err
			}
			g.logger.Warn("email limiter degraded to allow", "error", err)
			check.Degraded = true
		} else if !emailRes.Allowed {
			g.metrics.inc(MetricEmailRateLimited)
			g.emitRateLimited(ctx, ip, email, "email")
			check.Allowed = false
			check.Reason = ErrEmailRateLimited
			check.RetryAfter = emailRes.RetryAfter
			return check, nil
		}

		// Lockout checks fail open inside IsLocked for the same reason.
		if g.lockouts.IsLocked(ctx, email) {
			check.Allowed = false
			check.Reason = ErrAccountLocked
			return check, nil
		}
	}

	check.CaptchaRequired = g.captchaRequired(ctx, ip, email)
	if check.CaptchaRequired {
		g.metrics.inc(MetricCaptchaRequired)
	}

	check.Delay = g.progressiveDelay(ctx, ip, email)

	g.metrics.inc(MetricLoginCheckAllowed)
	return check, nil
}

// RecordFailure books one failed authentication attempt: the attempt
// record, the progressive-delay and captcha-gate counters, and the
// lockout threshold check. Reports whether the failure locked the
// account.
func (g *Guard) RecordFailure(ctx context.Context, ip, email, reason string) (bool, error) {
	if g == nil {
		return false, ErrGuardNotReady
	}

	err := g.tracker.Record(ctx, tracker.Attempt{IP: ip, Email: email, Reason: reason})
	if err != nil {
		return false, err
	}
	g.metrics.inc(MetricFailureRecorded)

	for _, id := range identifiers(ip, email) {
		if err := g.limiter.IncrementProgressiveDelay(ctx, id); err != nil {
			g.logger.Warn("progressive delay increment failed", "id", id, "error", err)
		}
		if err := g.limiter.IncrementCaptchaAttempts(ctx, id); err != nil {
			g.logger.Warn("captcha gate increment failed", "id", id, "error", err)
		}
	}

	g.sink.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: audit.EventLoginFailure,
		Email:     email,
		IP:        ip,
		Metadata:  map[string]string{"reason": reason},
	})

	locked := false
	if email != "" {
		locked = g.lockouts.CheckAndLock(ctx, email)
		if locked {
			g.metrics.inc(MetricAccountLocked)
		}
	}
	return locked, nil
}

// RecordSuccess resets every counter for the identifiers after a
// successful authentication. Idempotent.
func (g *Guard) RecordSuccess(ctx context.Context, ip, email string) error {
	if g == nil {
		return ErrGuardNotReady
	}

	if err := g.limiter.ResetAll(ctx, ip, email); err != nil {
		return err
	}
	for _, id := range identifiers(ip, email) {
		if err := g.tracker.Reset(ctx, id); err != nil {
			return err
		}
	}

	g.metrics.inc(MetricSuccessRecorded)
	g.sink.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: audit.EventLoginSuccess,
		Email:     email,
		IP:        ip,
		Success:   true,
	})
	return nil
}

// FailedAttempts returns the identifier's recorded failures inside the
// window, merged across the IP and email lists, newest first.
func (g *Guard) FailedAttempts(ctx context.Context, id string, window time.Duration) ([]FailedAttempt, error) {
	return g.tracker.Attempts(ctx, id, window)
}

// IsBlocked reports whether the identifier's failure count has reached
// the limit for its shape (per-email for email-looking identifiers,
// per-IP otherwise).
func (g *Guard) IsBlocked(ctx context.Context, id string) (bool, error) {
	return g.tracker.Blocked(ctx, id, g.cfg.RateLimit.IPMaxAttempts, g.cfg.RateLimit.EmailMax)
}

// ProgressiveDelay returns the current artificial delay for an identifier.
func (g *Guard) ProgressiveDelay(ctx context.Context, id string) (time.Duration, error) {
	return g.limiter.ProgressiveDelay(ctx, id)
}

// RotateKeys rotates the signing key set. With force the active key is
// replaced regardless of age; without it the scheduled staleness check
// runs and a fresh active key makes the call a no-op. Returns
// ErrGuardNotReady when no key registry is configured.
func (g *Guard) RotateKeys(ctx context.Context, force bool) (*jwtkeys.RotationResult, error) {
	if g.keys == nil {
		return nil, ErrGuardNotReady
	}
	var result *jwtkeys.RotationResult
	var err error
	if force {
		result, err = g.keys.Rotate(ctx, true)
	} else {
		result, err = g.keys.CheckAndRotate(ctx)
	}
	if err != nil {
		return nil, err
	}
	if result.Rotated {
		g.metrics.inc(MetricKeyRotated)
	}
	return result, nil
}

// RevokeKey revokes a non-active signing key immediately.
func (g *Guard) RevokeKey(ctx context.Context, keyID string) error {
	if g.keys == nil {
		return ErrGuardNotReady
	}
	if err := g.keys.Revoke(ctx, keyID); err != nil {
		return err
	}
	g.metrics.inc(MetricKeyRevoked)
	return nil
}

// UnlockWithToken consumes a self-service unlock token. The result is a
// bare bool so callers cannot distinguish failure causes.
func (g *Guard) UnlockWithToken(ctx context.Context, token string) bool {
	if !g.lockouts.VerifyAndUnlock(ctx, token) {
		return false
	}
	g.metrics.inc(MetricAccountUnlocked)
	return true
}

// InitiateUnlock issues a fresh unlock token for a locked account and
// emails the unlock link. Callers on public surfaces must collapse every
// outcome, including ErrUserNotFound and ErrNotLocked, into one generic
// response so the endpoint cannot be used to probe for accounts.
func (g *Guard) InitiateUnlock(ctx context.Context, email string) error {
	return g.lockouts.InitiateUnlock(ctx, email)
}

// AdminUnlockAccount unlocks an account on an operator's behalf.
func (g *Guard) AdminUnlockAccount(ctx context.Context, email, adminID string) error {
	if err := g.lockouts.AdminUnlock(ctx, email, adminID); err != nil {
		return err
	}
	g.metrics.inc(MetricAccountUnlocked)
	return nil
}

// Lockouts exposes the account lockout manager.
func (g *Guard) Lockouts() *lockout.Manager { return g.lockouts }

// Captcha exposes the captcha challenge service.
func (g *Guard) Captcha() *captcha.Service { return g.captchas }

// Keys exposes the signing key registry; nil when no key passphrase was
// configured.
func (g *Guard) Keys() *jwtkeys.Registry { return g.keys }

// MetricsSnapshot returns a point-in-time copy of the pipeline counters.
func (g *Guard) MetricsSnapshot() MetricsSnapshot { return g.metrics.snapshot() }

// AuditDropped returns how many audit events were dropped by the
// dispatcher's full buffer.
func (g *Guard) AuditDropped() uint64 { return g.dispatcher.Dropped() }

// Close drains and stops the audit dispatcher. The Redis client belongs
// to the caller and is not closed here.
func (g *Guard) Close() {
	if g == nil {
		return
	}
	g.dispatcher.Close()
}

func (g *Guard) captchaRequired(ctx context.Context, ip, email string) bool {
	for _, id := range identifiers(ip, email) {
		required, err := g.limiter.CaptchaRequired(ctx, id)
		if err != nil {
			g.logger.Warn("captcha gate check failed", "id", id, "error", err)
			continue
		}
		if required {
			return true
		}
	}
	return false
}

func (g *Guard) progressiveDelay(ctx context.Context, ip, email string) time.Duration {
	var max time.Duration
	for _, id := range identifiers(ip, email) {
		delay, err := g.limiter.ProgressiveDelay(ctx, id)
		if err != nil {
			g.logger.Warn("progressive delay read failed", "id", id, "error", err)
			continue
		}
		if delay > max {
			max = delay
		}
	}
	return max
}

func (g *Guard) emitRateLimited(ctx context.Context, ip, email, tier string) {
	g.sink.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: audit.EventRateLimited,
		Email:     email,
		IP:        ip,
		Metadata:  map[string]string{"tier": tier},
	})
}

func identifiers(ip, email string) []string {
	ids := make([]string, 0, 2)
	if ip != "" {
		ids = append(ids, ip)
	}
	if email != "" {
		ids = append(ids, email)
	}
	return ids
}
