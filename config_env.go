package authguard

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadConfigFromEnv builds a Config from environment variables, reading a
// .env file when present. Unset variables fall back to DefaultConfig.
func LoadConfigFromEnv() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.RateLimit.IPWindow = getEnvAsDuration("AUTH_IP_WINDOW", cfg.RateLimit.IPWindow)
	cfg.RateLimit.IPMaxAttempts = getEnvAsInt("AUTH_IP_MAX_ATTEMPTS", cfg.RateLimit.IPMaxAttempts)
	cfg.RateLimit.EmailWindow = getEnvAsDuration("AUTH_EMAIL_WINDOW", cfg.RateLimit.EmailWindow)
	cfg.RateLimit.EmailMax = getEnvAsInt("AUTH_EMAIL_MAX_ATTEMPTS", cfg.RateLimit.EmailMax)
	cfg.RateLimit.BlockDuration = getEnvAsDuration("AUTH_BLOCK_DURATION", cfg.RateLimit.BlockDuration)
	cfg.RateLimit.AttemptsBeforeCaptcha = getEnvAsInt("AUTH_ATTEMPTS_BEFORE_CAPTCHA", cfg.RateLimit.AttemptsBeforeCaptcha)

	cfg.Lockout.Threshold = getEnvAsInt("AUTH_LOCKOUT_THRESHOLD", cfg.Lockout.Threshold)
	cfg.Lockout.UnlockTokenTTL = getEnvAsDuration("AUTH_UNLOCK_TOKEN_TTL", cfg.Lockout.UnlockTokenTTL)
	cfg.Lockout.UnlockBaseURL = getEnv("AUTH_UNLOCK_BASE_URL", cfg.Lockout.UnlockBaseURL)

	cfg.Captcha.ChallengeTTL = getEnvAsDuration("CAPTCHA_TTL", cfg.Captcha.ChallengeTTL)

	cfg.Keys.Passphrase = getEnv("JWT_KEY_PASSPHRASE", cfg.Keys.Passphrase)
	cfg.Keys.RotationInterval = getEnvAsDuration("JWT_KEY_ROTATION_INTERVAL", cfg.Keys.RotationInterval)
	cfg.Keys.GracePeriod = getEnvAsDuration("JWT_KEY_GRACE_PERIOD", cfg.Keys.GracePeriod)
	cfg.Keys.MaxActiveKeys = getEnvAsInt("JWT_KEY_MAX_ACTIVE", cfg.Keys.MaxActiveKeys)
	cfg.Keys.CheckInterval = getEnvAsDuration("JWT_KEY_CHECK_INTERVAL", cfg.Keys.CheckInterval)

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
