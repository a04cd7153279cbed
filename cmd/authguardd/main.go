// authguardd is the reference deployment of the defense pipeline: a
// small HTTP service exposing guarded login, captcha, unlock, and the
// admin surface, with Redis as the coordination store.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	authguard "github.com/velodyn/authguard"
	"github.com/velodyn/authguard/adminapi"
	"github.com/velodyn/authguard/httpgate"
	"github.com/velodyn/authguard/jwtkeys"
	"github.com/velodyn/authguard/metrics/export/prometheus"
	"github.com/velodyn/authguard/notify"
	"github.com/velodyn/authguard/password"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := authguard.LoadConfigFromEnv()

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	cancel()
	defer rdb.Close()

	users := newRedisUserStore(rdb)

	notifier := buildNotifier(logger)

	guard, err := authguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithNotifier(notifier).
		WithAuditSink(authguard.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Error("failed to build guard", slog.Any("error", err))
		os.Exit(1)
	}
	defer guard.Close()

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		logger.Error("failed to configure password hashing", slog.Any("error", err))
		os.Exit(1)
	}

	// Key rotation runs only when a passphrase enables the registry. The
	// watcher keeps this instance's signing key id current when another
	// instance rotates.
	var scheduler *jwtkeys.Scheduler
	var tokens *jwtkeys.TokenManager
	var watcher *jwtkeys.Watcher
	if registry := guard.Keys(); registry != nil {
		scheduler = jwtkeys.NewScheduler(registry, logger)
		tokens = jwtkeys.NewTokenManager(registry, envOr("JWT_ISSUER", "authguardd"), 15*time.Minute)
		watcher = jwtkeys.NewWatcher(registry, logger)
	}

	gate := httpgate.New(guard, httpgate.Config{
		TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),
	}, logger)

	handlers := &loginHandlers{
		guard:  guard,
		gate:   gate,
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}

	admin := adminapi.NewServer(guard, adminapi.Config{
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	}, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(90 * time.Second))

	router.With(gate.Protect).Post("/auth/login", handlers.login)
	router.Post("/auth/register", handlers.register)
	router.Get("/auth/unlock", handlers.unlock)
	router.Post("/auth/unlock/initiate", handlers.initiateUnlock)
	router.Get("/captcha/challenge", handlers.captchaChallenge)
	router.Post("/captcha/answer", handlers.captchaAnswer)
	router.Mount("/admin", admin.Router())
	router.Method(http.MethodGet, "/metrics", prometheus.NewPrometheusExporter(guard).Handler())

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "redis": "down"})
			return
		}
		health := map[string]string{"status": "healthy", "redis": "up"}
		if watcher != nil {
			health["signingKeyId"] = watcher.CurrentSigningKeyID()
		}
		writeJSON(w, http.StatusOK, health)
	})

	server := &http.Server{
		Addr:         ":" + envOr("PORT", "8080"),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rotateCtx, rotateCancel := context.WithCancel(context.Background())
	defer rotateCancel()
	if scheduler != nil {
		scheduler.Start(rotateCtx)
	}
	if watcher != nil {
		if err := watcher.Start(rotateCtx); err != nil {
			logger.Error("failed to start key watcher", slog.Any("error", err))
			os.Exit(1)
		}
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	rotateCancel()
	if watcher != nil {
		watcher.Stop()
	}
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// buildNotifier returns the SES sender when AWS settings are present,
// otherwise the log sender.
func buildNotifier(logger *slog.Logger) authguard.Notifier {
	region := os.Getenv("AWS_REGION")
	from := os.Getenv("EMAIL_FROM_ADDRESS")
	if region == "" || from == "" {
		logger.Info("AWS_REGION or EMAIL_FROM_ADDRESS unset, using log notifier")
		return notify.NewLogSender(logger)
	}

	sender, err := notify.NewSESSender(region, from, logger)
	if err != nil {
		logger.Error("failed to initialize SES, using log notifier", slog.Any("error", err))
		return notify.NewLogSender(logger)
	}
	return sender
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
