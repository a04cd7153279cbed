package adminapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	authguard "github.com/velodyn/authguard"
	"github.com/velodyn/authguard/jwtkeys"
	"github.com/velodyn/authguard/lockout"
)

// keyView is the admin-facing key record. The secret is reduced to a
// preview so key material never leaves the server whole.
type keyView struct {
	ID            string    `json:"id"`
	Algorithm     string    `json:"algorithm"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt,omitzero"`
	SecretPreview string    `json:"secretPreview"`
	Active        bool      `json:"active"`
}

type rotateKeysRequest struct {
	Force bool `json:"force"`
}

type revokeKeyRequest struct {
	KeyID string `json:"keyId" validate:"required"`
}

type unlockAccountRequest struct {
	Email   string `json:"email" validate:"required,email"`
	AdminID string `json:"adminId" validate:"required"`
}

// listKeys handles GET /admin/jwt/keys.
func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	registry := s.guard.Keys()
	if registry == nil {
		writeNotFound(w, "Key registry is not enabled")
		return
	}

	keys, err := registry.GetAllKeys(r.Context())
	if err != nil {
		s.logger.Error("list keys failed", "error", err)
		writeInternalError(w, "Failed to list signing keys")
		return
	}
	activeID, err := registry.GetCurrentSigningKeyID(r.Context())
	if err != nil && !errors.Is(err, jwtkeys.ErrNoActiveKey) {
		s.logger.Error("active key lookup failed", "error", err)
		writeInternalError(w, "Failed to list signing keys")
		return
	}

	views := make([]keyView, 0, len(keys))
	live := 0
	for _, k := range keys {
		if k.Status != jwtkeys.StatusRevoked {
			live++
		}
		views = append(views, keyView{
			ID:            k.ID,
			Algorithm:     k.Algorithm,
			Status:        string(k.Status),
			CreatedAt:     k.CreatedAt,
			ExpiresAt:     k.ExpiresAt,
			SecretPreview: secretPreview(k.Secret),
			Active:        k.ID == activeID,
		})
	}

	writeData(w, http.StatusOK, map[string]any{
		"keys":                views,
		"currentSigningKeyId": activeID,
		"totalKeys":           len(views),
		"activeKeys":          live,
	})
}

// rotateKeys handles POST /admin/jwt/keys/rotate {force?}. Without force
// the scheduled staleness check runs, so a fresh active key makes the
// call a no-op; with force a rotation always happens.
func (s *Server) rotateKeys(w http.ResponseWriter, r *http.Request) {
	registry := s.guard.Keys()
	if registry == nil {
		writeNotFound(w, "Key registry is not enabled")
		return
	}

	var req rotateKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "Invalid request body")
		return
	}

	result, err := s.guard.RotateKeys(r.Context(), req.Force)
	if err != nil {
		s.logger.Error("rotation failed", "force", req.Force, "error", err)
		writeInternalError(w, "Key rotation failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// revokeKey handles POST /admin/jwt/keys/revoke.
func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	registry := s.guard.Keys()
	if registry == nil {
		writeNotFound(w, "Key registry is not enabled")
		return
	}

	var req revokeKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if err := validateRequest(req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	err := s.guard.RevokeKey(r.Context(), req.KeyID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"keyId": req.KeyID, "status": "revoked"})
	case errors.Is(err, jwtkeys.ErrKeyNotFound):
		writeNotFound(w, "Key not found")
	case errors.Is(err, jwtkeys.ErrActiveKeyRevocation):
		writeBadRequest(w, "Cannot revoke the active signing key; rotate first")
	default:
		s.logger.Error("key revocation failed", "key_id", req.KeyID, "error", err)
		writeInternalError(w, "Key revocation failed")
	}
}

// unlockAccount handles POST /admin/accounts/unlock.
func (s *Server) unlockAccount(w http.ResponseWriter, r *http.Request) {
	var req unlockAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if err := validateRequest(req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	err := s.guard.AdminUnlockAccount(r.Context(), req.Email, req.AdminID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"email": req.Email, "status": "unlocked"})
	case errors.Is(err, lockout.ErrUserNotFound):
		writeNotFound(w, "User not found")
	case errors.Is(err, lockout.ErrNotLocked):
		writeBadRequest(w, "Account is not locked")
	default:
		s.logger.Error("admin unlock failed", "email", req.Email, "error", err)
		writeInternalError(w, "Unlock failed")
	}
}

// lockInfo handles GET /admin/accounts/lock-info?email=...
func (s *Server) lockInfo(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeBadRequest(w, "email query parameter is required")
		return
	}

	info, err := s.guard.Lockouts().LockInfo(r.Context(), email)
	if err != nil {
		s.logger.Error("lock info lookup failed", "email", email, "error", err)
		writeInternalError(w, "Lock info lookup failed")
		return
	}
	if info == nil {
		// Unknown accounts and unlocked accounts answer identically.
		writeJSON(w, http.StatusOK, map[string]any{"email": email, "locked": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":        info.Email,
		"locked":       true,
		"lockedAt":     info.LockedAt,
		"reason":       info.Reason,
		"failureCount": info.FailureCount,
	})
}

// captchaStats handles GET /admin/captcha/stats?date=YYYY-MM-DD; the
// date defaults to today.
func (s *Server) captchaStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeBadRequest(w, "date must be formatted YYYY-MM-DD")
		return
	}

	stats, err := s.guard.Captcha().Stats(r.Context(), date)
	if err != nil {
		s.logger.Error("captcha stats lookup failed", "date", date, "error", err)
		writeInternalError(w, "Failed to retrieve captcha statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// metricsSnapshot handles GET /admin/metrics.
func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.guard.MetricsSnapshot()

	counters := make(map[string]uint64, authguard.MetricCount())
	for i := 0; i < authguard.MetricCount(); i++ {
		counters[authguard.MetricName(authguard.MetricID(i))] = snap.Counters[i]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"counters":     counters,
		"auditDropped": s.guard.AuditDropped(),
	})
}

// secretPreview keeps the first eight and last four characters of a
// secret, enough to correlate with external tooling without exposing it.
func secretPreview(secret string) string {
	if len(secret) <= 12 {
		return "..."
	}
	return secret[:8] + "..." + secret[len(secret)-4:]
}
