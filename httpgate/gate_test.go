package httpgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authguard "github.com/velodyn/authguard"
	"github.com/velodyn/authguard/lockout"
)

type stubUserStore struct{}

func (stubUserStore) GetUserByEmail(context.Context, string) (*authguard.User, error) {
	return nil, lockout.ErrUserNotFound
}

func (stubUserStore) GetUserByUnlockToken(context.Context, string) (*authguard.User, error) {
	return nil, lockout.ErrUserNotFound
}

func (stubUserStore) UpdateUser(context.Context, *authguard.User) error { return nil }

func newGateTest(t *testing.T, cfg Config) (*Gate, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	guard, err := authguard.New().
		WithRedis(rdb).
		WithUserStore(stubUserStore{}).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("build guard: %v", err)
	}
	return New(guard, cfg, nil), func() {
		guard.Close()
		rdb.Close()
		mr.Close()
	}
}

func TestProtectAllowsAndStoresCheck(t *testing.T) {
	gate, done := newGateTest(t, Config{})
	defer done()

	var seen *authguard.LoginCheck
	handler := gate.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CheckFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || !seen.Allowed {
		t.Fatalf("expected check on context, got %+v", seen)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("expected remaining header 4, got %q", got)
	}
}

func TestProtectRejectsExhaustedIP(t *testing.T) {
	gate, done := newGateTest(t, Config{})
	defer done()

	handler := gate.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var rec *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:54321"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Fatalf("expected Retry-After 900, got %q", got)
	}
}

func TestDelayHonorsCancellation(t *testing.T) {
	check := &authguard.LoginCheck{Delay: 5 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := Delay(ctx, check); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("delay did not return promptly, took %v", elapsed)
	}
}

func TestDelayNoopWithoutDelay(t *testing.T) {
	if err := Delay(context.Background(), nil); err != nil {
		t.Fatalf("nil check: %v", err)
	}
	if err := Delay(context.Background(), &authguard.LoginCheck{}); err != nil {
		t.Fatalf("zero delay: %v", err)
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trusted    []string
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:1234",
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded header from untrusted peer ignored",
			remoteAddr: "203.0.113.7:1234",
			xff:        "198.51.100.9",
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded header from trusted proxy honored",
			remoteAddr: "10.0.0.5:1234",
			xff:        "198.51.100.9, 10.0.0.5",
			trusted:    []string{"10.0.0.0/8"},
			want:       "198.51.100.9",
		},
		{
			name:       "real ip header from trusted proxy",
			remoteAddr: "10.0.0.5:1234",
			xri:        "198.51.100.9",
			trusted:    []string{"10.0.0.0/8"},
			want:       "198.51.100.9",
		},
		{
			name:       "garbage forwarded value falls through",
			remoteAddr: "10.0.0.5:1234",
			xff:        "not-an-ip",
			trusted:    []string{"10.0.0.0/8"},
			want:       "10.0.0.5",
		},
		{
			name:       "missing remote addr",
			remoteAddr: "",
			want:       "unknown",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			if got := extractClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
