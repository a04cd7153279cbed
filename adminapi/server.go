// Package adminapi exposes the operational HTTP surface: signing key
// inspection and rotation, account unlock, captcha statistics, and the
// pipeline metric counters. Every route requires the admin token and is
// rate limited per client IP.
package adminapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	authguard "github.com/velodyn/authguard"
)

// Config holds the admin surface settings.
type Config struct {
	AdminToken        string // shared secret checked on every request
	RequestsPerMinute int    // per-IP request ceiling, default 60
}

// Server wires the admin handlers onto a chi router.
type Server struct {
	guard  *authguard.Guard
	cfg    Config
	logger *slog.Logger
}

// NewServer creates the admin API server. A nil logger falls back to
// slog.Default.
func NewServer(guard *authguard.Guard, cfg Config, logger *slog.Logger) *Server {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{guard: guard, cfg: cfg, logger: logger}
}

// Router builds the admin route tree. Callers mount it under /admin.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(httprate.Limit(
		s.cfg.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests")
		}),
	))
	r.Use(s.requireAdminToken)

	r.Get("/jwt/keys", s.listKeys)
	r.Post("/jwt/keys/rotate", s.rotateKeys)
	r.Post("/jwt/keys/revoke", s.revokeKey)
	r.Post("/accounts/unlock", s.unlockAccount)
	r.Get("/accounts/lock-info", s.lockInfo)
	r.Get("/captcha/stats", s.captchaStats)
	r.Get("/metrics", s.metricsSnapshot)

	return r
}

// requireAdminToken gates every route behind the X-Admin-Token header.
// The compare is constant time so response timing does not leak prefix
// matches.
func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if s.cfg.AdminToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeUnauthorized(w, "Invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
