package authguard

import "time"

// Config is the root configuration passed to the Builder. Zero values are
// replaced with the documented defaults during Build.
type Config struct {
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Captcha   CaptchaConfig
	Keys      KeyConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig tunes the four coordinated limiter tiers.
type RateLimitConfig struct {
	IPWindow      time.Duration // rolling window for per-IP attempts
	IPMaxAttempts int           // attempts allowed per IP inside the window
	EmailWindow   time.Duration // rolling window for per-email attempts
	EmailMax      int           // attempts allowed per email inside the window
	BlockDuration time.Duration // hard block once a tier is exhausted

	ProgressiveWindow time.Duration   // window for the consecutive-failure count
	ProgressiveDelays []time.Duration // count → delay table, clamped at the end

	CaptchaWindow         time.Duration // window for the captcha-gate counter
	AttemptsBeforeCaptcha int           // failures before captcha becomes mandatory
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig tunes the account lockout state machine.
type LockoutConfig struct {
	Threshold      int           // failures before the account locks
	UnlockTokenTTL time.Duration // unlock token validity window
	UnlockBaseURL  string        // base URL for unlock links in emails
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

// CaptchaConfig tunes challenge and bypass-token lifetimes.
type CaptchaConfig struct {
	ChallengeTTL       time.Duration
	TokenTTL           time.Duration
	UsedTokenRetention time.Duration
	HourlyStatsTTL     time.Duration
	DailyStatsTTL      time.Duration
}

/*
====================================
KEY CONFIG
====================================
*/

// KeyConfig tunes the signing key registry: rotation cadence, at-rest
// encryption, and storage retention.
type KeyConfig struct {
	RotationInterval time.Duration
	GracePeriod      time.Duration
	MaxActiveKeys    int
	CheckInterval    time.Duration

	Passphrase       string // key-encryption passphrase; required to enable the registry
	PBKDF2Iterations int
	SaltLength       int
	IVLength         int
	TagLength        int

	KeyPrefix    string
	RetentionTTL time.Duration
	LockTTL      time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults from the security review:
// 5 attempts / 15 min per IP, 10 / hour per email, a 15 minute block,
// captcha after 3 failures, lockout at 10, 30-day key rotation with a
// 7-day grace period.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			IPWindow:      15 * time.Minute,
			IPMaxAttempts: 5,
			EmailWindow:   time.Hour,
			EmailMax:      10,
			BlockDuration: 15 * time.Minute,

			ProgressiveWindow: 15 * time.Minute,
			ProgressiveDelays: []time.Duration{
				0,
				1 * time.Second,
				5 * time.Second,
				15 * time.Second,
				30 * time.Second,
				60 * time.Second,
			},

			CaptchaWindow:         15 * time.Minute,
			AttemptsBeforeCaptcha: 3,
		},
		Lockout: LockoutConfig{
			Threshold:      10,
			UnlockTokenTTL: 24 * time.Hour,
		},
		Captcha: CaptchaConfig{
			ChallengeTTL:       5 * time.Minute,
			TokenTTL:           5 * time.Minute,
			UsedTokenRetention: time.Minute,
			HourlyStatsTTL:     7 * 24 * time.Hour,
			DailyStatsTTL:      30 * 24 * time.Hour,
		},
		Keys: KeyConfig{
			RotationInterval: 30 * 24 * time.Hour,
			GracePeriod:      7 * 24 * time.Hour,
			MaxActiveKeys:    3,
			CheckInterval:    time.Hour,
			PBKDF2Iterations: 100_000,
			SaltLength:       32,
			IVLength:         16,
			TagLength:        16,
			KeyPrefix:        "jwt:keys",
			RetentionTTL:     45 * 24 * time.Hour,
			LockTTL:          30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// normalizeConfig fills zero values with defaults so a partially specified
// Config still behaves sanely.
func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()

	if cfg.RateLimit.IPWindow <= 0 {
		cfg.RateLimit.IPWindow = def.RateLimit.IPWindow
	}
	if cfg.RateLimit.IPMaxAttempts <= 0 {
		cfg.RateLimit.IPMaxAttempts = def.RateLimit.IPMaxAttempts
	}
	if cfg.RateLimit.EmailWindow <= 0 {
		cfg.RateLimit.EmailWindow = def.RateLimit.EmailWindow
	}
	if cfg.RateLimit.EmailMax <= 0 {
		cfg.RateLimit.EmailMax = def.RateLimit.EmailMax
	}
	if cfg.RateLimit.BlockDuration <= 0 {
		cfg.RateLimit.BlockDuration = def.RateLimit.BlockDuration
	}
	if cfg.RateLimit.ProgressiveWindow <= 0 {
		cfg.RateLimit.ProgressiveWindow = def.RateLimit.ProgressiveWindow
	}
	if len(cfg.RateLimit.ProgressiveDelays) == 0 {
		cfg.RateLimit.ProgressiveDelays = def.RateLimit.ProgressiveDelays
	}
	if cfg.RateLimit.CaptchaWindow <= 0 {
		cfg.RateLimit.CaptchaWindow = def.RateLimit.CaptchaWindow
	}
	if cfg.RateLimit.AttemptsBeforeCaptcha <= 0 {
		cfg.RateLimit.AttemptsBeforeCaptcha = def.RateLimit.AttemptsBeforeCaptcha
	}

	if cfg.Lockout.Threshold <= 0 {
		cfg.Lockout.Threshold = def.Lockout.Threshold
	}
	if cfg.Lockout.UnlockTokenTTL <= 0 {
		cfg.Lockout.UnlockTokenTTL = def.Lockout.UnlockTokenTTL
	}

	if cfg.Captcha.ChallengeTTL <= 0 {
		cfg.Captcha.ChallengeTTL = def.Captcha.ChallengeTTL
	}
	if cfg.Captcha.TokenTTL <= 0 {
		cfg.Captcha.TokenTTL = def.Captcha.TokenTTL
	}
	if cfg.Captcha.UsedTokenRetention <= 0 {
		cfg.Captcha.UsedTokenRetention = def.Captcha.UsedTokenRetention
	}
	if cfg.Captcha.HourlyStatsTTL <= 0 {
		cfg.Captcha.HourlyStatsTTL = def.Captcha.HourlyStatsTTL
	}
	if cfg.Captcha.DailyStatsTTL <= 0 {
		cfg.Captcha.DailyStatsTTL = def.Captcha.DailyStatsTTL
	}

	if cfg.Keys.RotationInterval <= 0 {
		cfg.Keys.RotationInterval = def.Keys.RotationInterval
	}
	if cfg.Keys.GracePeriod <= 0 {
		cfg.Keys.GracePeriod = def.Keys.GracePeriod
	}
	if cfg.Keys.MaxActiveKeys <= 0 {
		cfg.Keys.MaxActiveKeys = def.Keys.MaxActiveKeys
	}
	if cfg.Keys.CheckInterval <= 0 {
		cfg.Keys.CheckInterval = def.Keys.CheckInterval
	}
	if cfg.Keys.PBKDF2Iterations <= 0 {
		cfg.Keys.PBKDF2Iterations = def.Keys.PBKDF2Iterations
	}
	if cfg.Keys.SaltLength <= 0 {
		cfg.Keys.SaltLength = def.Keys.SaltLength
	}
	if cfg.Keys.IVLength <= 0 {
		cfg.Keys.IVLength = def.Keys.IVLength
	}
	if cfg.Keys.TagLength <= 0 {
		cfg.Keys.TagLength = def.Keys.TagLength
	}
	if cfg.Keys.KeyPrefix == "" {
		cfg.Keys.KeyPrefix = def.Keys.KeyPrefix
	}
	if cfg.Keys.RetentionTTL <= 0 {
		cfg.Keys.RetentionTTL = def.Keys.RetentionTTL
	}
	if cfg.Keys.LockTTL <= 0 {
		cfg.Keys.LockTTL = def.Keys.LockTTL
	}

	if cfg.Audit.BufferSize <= 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}

	return cfg
}
