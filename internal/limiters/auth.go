package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/internal/rate"
)

// Redis key prefixes shared with operational tooling. Do not change.
const (
	IPPrefix          = "rl_ip:"
	EmailPrefix       = "rl_email:"
	ProgressivePrefix = "rl_progressive:"
	CaptchaPrefix     = "rl_captcha:"
)

// Config holds the tuning parameters for all four tiers.
type Config struct {
	IPWindow      time.Duration
	IPLimit       int
	EmailWindow   time.Duration
	EmailLimit    int
	BlockDuration time.Duration

	ProgressiveWindow time.Duration
	ProgressiveDelays []time.Duration

	CaptchaWindow         time.Duration
	AttemptsBeforeCaptcha int
}

// AuthLimiter coordinates the per-IP, per-email, progressive-delay and
// captcha-gate counters for the login path.
type AuthLimiter struct {
	cfg Config

	ip          *rate.Counter
	ipFallback  *rate.MemoryCounter
	email       *rate.Counter
	progressive *rate.Counter
	captchaGate *rate.Counter
}

// New creates an AuthLimiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *AuthLimiter {
	ipWindow := rate.WindowConfig{
		Prefix:        IPPrefix,
		Window:        cfg.IPWindow,
		Limit:         cfg.IPLimit,
		BlockDuration: cfg.BlockDuration,
	}

	return &AuthLimiter{
		cfg:        cfg,
		ip:         rate.NewCounter(redisClient, ipWindow),
		ipFallback: rate.NewMemoryCounter(ipWindow),
		email: rate.NewCounter(redisClient, rate.WindowConfig{
			Prefix:        EmailPrefix,
			Window:        cfg.EmailWindow,
			Limit:         cfg.EmailLimit,
			BlockDuration: cfg.BlockDuration,
		}),
		progressive: rate.NewCounter(redisClient, rate.WindowConfig{
			Prefix: ProgressivePrefix,
			Window: cfg.ProgressiveWindow,
		}),
		captchaGate: rate.NewCounter(redisClient, rate.WindowConfig{
			Prefix: CaptchaPrefix,
			Window: cfg.CaptchaWindow,
		}),
	}
}

// ConsumeIP consumes one point from the per-IP tier. When Redis is
// unreachable it falls back to the process-local counter with identical
// parameters; the returned bool reports whether the fallback served the
// request (degraded, per-process accuracy).
func (l *AuthLimiter) ConsumeIP(ctx context.Context, ip string) (rate.Result, bool, error) {
	res, err := l.ip.Consume(ctx, ip)
	if err == nil {
		return res, false, nil
	}
	if !errors.Is(err, rate.ErrStoreUnavailable) {
		return rate.Result{}, false, err
	}

	res, err = l.ipFallback.Consume(ctx, ip)
	return res, true, err
}

// ConsumeEmail consumes one point from the per-email tier. Store errors
// propagate: email-scoped limiting fails closed.
func (l *AuthLimiter) ConsumeEmail(ctx context.Context, email string) (rate.Result, error) {
	return l.email.Consume(ctx, email)
}

// ProgressiveDelay returns the artificial delay for the identifier's
// current consecutive-failure count: table[min(n, len-1)], zero for an
// unseen identifier.
func (l *AuthLimiter) ProgressiveDelay(ctx context.Context, id string) (time.Duration, error) {
	count, err := l.progressive.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return l.DelayFor(count), nil
}

// DelayFor maps a consecutive-failure count onto the delay table, clamped
// to the last entry.
func (l *AuthLimiter) DelayFor(count int) time.Duration {
	if len(l.cfg.ProgressiveDelays) == 0 || count <= 0 {
		return 0
	}
	if count >= len(l.cfg.ProgressiveDelays) {
		return l.cfg.ProgressiveDelays[len(l.cfg.ProgressiveDelays)-1]
	}
	return l.cfg.ProgressiveDelays[count]
}

// IncrementProgressiveDelay records one more consecutive failure.
func (l *AuthLimiter) IncrementProgressiveDelay(ctx context.Context, id string) error {
	_, err := l.progressive.Increment(ctx, id)
	return err
}

// ResetProgressiveDelay clears the consecutive-failure count.
func (l *AuthLimiter) ResetProgressiveDelay(ctx context.Context, id string) error {
	return l.progressive.Reset(ctx, id)
}

// CaptchaRequired reports whether the identifier has crossed the captcha
// threshold inside the gate window.
func (l *AuthLimiter) CaptchaRequired(ctx context.Context, id string) (bool, error) {
	count, err := l.captchaGate.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return count >= l.cfg.AttemptsBeforeCaptcha, nil
}

// IncrementCaptchaAttempts bumps the captcha-gate counter.
func (l *AuthLimiter) IncrementCaptchaAttempts(ctx context.Context, id string) error {
	_, err := l.captchaGate.Increment(ctx, id)
	return err
}

// ResetCaptchaAttempts clears the captcha-gate counter.
func (l *AuthLimiter) ResetCaptchaAttempts(ctx context.Context, id string) error {
	return l.captchaGate.Reset(ctx, id)
}

// ResetAll clears every tier for the IP and, when present, the email.
// Called after successful authentication. Idempotent.
func (l *AuthLimiter) ResetAll(ctx context.Context, ip, email string) error {
	if ip != "" {
		for _, counter := range []*rate.Counter{l.ip, l.progressive, l.captchaGate} {
			if err := counter.Reset(ctx, ip); err != nil {
				return err
			}
		}
		_ = l.ipFallback.Reset(ctx, ip)
	}

	if email != "" {
		for _, counter := range []*rate.Counter{l.email, l.progressive, l.captchaGate} {
			if err := counter.Reset(ctx, email); err != nil {
				return err
			}
		}
	}

	return nil
}
