// Package httpgate adapts the defense pipeline to net/http. The Protect
// middleware runs the per-IP checks before the login handler sees the
// request; the Delay helper applies the progressive delay without
// holding a goroutine past request cancellation.
package httpgate

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	authguard "github.com/velodyn/authguard"
)

// Config holds the gate settings.
type Config struct {
	TrustedProxies []string // CIDR ranges allowed to set forwarding headers
}

// Gate wraps a Guard for use as HTTP middleware.
type Gate struct {
	guard  *authguard.Guard
	cfg    Config
	logger *slog.Logger
}

// New creates a Gate. A nil logger falls back to slog.Default.
func New(guard *authguard.Guard, cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{guard: guard, cfg: cfg, logger: logger}
}

type ctxKey int

const checkKey ctxKey = iota

// CheckFromContext returns the login check Protect stored on the request
// context, or nil when the request did not pass through the gate.
func CheckFromContext(ctx context.Context) *authguard.LoginCheck {
	check, _ := ctx.Value(checkKey).(*authguard.LoginCheck)
	return check
}

// ClientIP returns the request's client IP, honoring forwarding headers
// only when the peer is a trusted proxy.
func (g *Gate) ClientIP(r *http.Request) string {
	return extractClientIP(r, g.cfg.TrustedProxies)
}

// Protect runs the per-IP tier for every request and rejects exhausted
// clients with 429 before the handler runs. The full check result is
// stored on the request context for the handler's email-tier decisions.
func (g *Gate) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.ClientIP(r)

		check, err := g.guard.CheckLogin(r.Context(), ip, "")
		if err != nil {
			g.logger.Error("login check failed", "ip", ip, "error", err)
			writeJSONError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}

		if !check.Allowed {
			w.Header().Set("X-RateLimit-Remaining", "0")
			if check.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(check.RetryAfter)))
			}
			writeJSONError(w, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(check.RemainingAttempts))
		ctx := context.WithValue(r.Context(), checkKey, check)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Delay sleeps for the check's progressive delay, returning early if the
// request is canceled.
func Delay(ctx context.Context, check *authguard.LoginCheck) error {
	if check == nil || check.Delay <= 0 {
		return nil
	}

	timer := time.NewTimer(check.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfterSeconds rounds a duration up to whole seconds, minimum one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
