package authguard

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/captcha"
	"github.com/velodyn/authguard/internal/audit"
	"github.com/velodyn/authguard/internal/limiters"
	"github.com/velodyn/authguard/internal/tracker"
	"github.com/velodyn/authguard/jwtkeys"
	"github.com/velodyn/authguard/lockout"
)

// Builder assembles a Guard. The Redis client and user store are
// required; everything else has working defaults.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	userStore UserStore
	notifier  Notifier
	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New creates a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. Zero values are filled with
// defaults during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the coordination store client. The caller owns the
// client's lifecycle: connect before Build, close after Guard.Close.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the adapter over the caller's user persistence.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithNotifier sets the email delivery collaborator. Optional; without it
// lockout emails are silently skipped.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit event consumer. Optional.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Optional; defaults to
// slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build assembles the Guard. A Builder is single-use.
func (b *Builder) Build() (*Guard, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userStore == nil {
		return nil, errors.New("user store required")
	}
	b.built = true

	cfg := normalizeConfig(b.config)
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	var sink audit.Sink = audit.NoOpSink{}
	if dispatcher != nil {
		sink = dispatcher
	}

	limiter := limiters.New(b.redis, limiters.Config{
		IPWindow:              cfg.RateLimit.IPWindow,
		IPLimit:               cfg.RateLimit.IPMaxAttempts,
		EmailWindow:           cfg.RateLimit.EmailWindow,
		EmailLimit:            cfg.RateLimit.EmailMax,
		BlockDuration:         cfg.RateLimit.BlockDuration,
		ProgressiveWindow:     cfg.RateLimit.ProgressiveWindow,
		ProgressiveDelays:     cfg.RateLimit.ProgressiveDelays,
		CaptchaWindow:         cfg.RateLimit.CaptchaWindow,
		AttemptsBeforeCaptcha: cfg.RateLimit.AttemptsBeforeCaptcha,
	})

	attempts := tracker.New(b.redis, tracker.Config{
		IPWindow:    cfg.RateLimit.IPWindow,
		EmailWindow: cfg.RateLimit.EmailWindow,
	})

	lockouts := lockout.New(b.redis, b.userStore, attempts, b.notifier, sink, logger, lockout.Config{
		Threshold:      cfg.Lockout.Threshold,
		UnlockTokenTTL: cfg.Lockout.UnlockTokenTTL,
		UnlockBaseURL:  cfg.Lockout.UnlockBaseURL,
	})

	captchas := captcha.New(b.redis, captcha.Config{
		ChallengeTTL:       cfg.Captcha.ChallengeTTL,
		TokenTTL:           cfg.Captcha.TokenTTL,
		UsedTokenRetention: cfg.Captcha.UsedTokenRetention,
		HourlyStatsTTL:     cfg.Captcha.HourlyStatsTTL,
		DailyStatsTTL:      cfg.Captcha.DailyStatsTTL,
	})

	// The key registry needs the at-rest passphrase; without one the
	// Guard still serves the per-request path and Keys() returns nil.
	var keys *jwtkeys.Registry
	if cfg.Keys.Passphrase != "" {
		keys = jwtkeys.New(b.redis, jwtkeys.Config{
			RotationInterval: cfg.Keys.RotationInterval,
			GracePeriod:      cfg.Keys.GracePeriod,
			MaxActiveKeys:    cfg.Keys.MaxActiveKeys,
			CheckInterval:    cfg.Keys.CheckInterval,
			Passphrase:       cfg.Keys.Passphrase,
			PBKDF2Iterations: cfg.Keys.PBKDF2Iterations,
			SaltLength:       cfg.Keys.SaltLength,
			IVLength:         cfg.Keys.IVLength,
			TagLength:        cfg.Keys.TagLength,
			KeyPrefix:        cfg.Keys.KeyPrefix,
			RetentionTTL:     cfg.Keys.RetentionTTL,
			LockTTL:          cfg.Keys.LockTTL,
		}, sink, logger)
	}

	return &Guard{
		cfg:        cfg,
		logger:     logger,
		limiter:    limiter,
		tracker:    attempts,
		lockouts:   lockouts,
		captchas:   captchas,
		keys:       keys,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    newMetrics(cfg.Metrics.Enabled),
	}, nil
}
