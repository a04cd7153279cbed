package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	authguard "github.com/velodyn/authguard"
	"github.com/velodyn/authguard/httpgate"
	"github.com/velodyn/authguard/jwtkeys"
	"github.com/velodyn/authguard/lockout"
	"github.com/velodyn/authguard/password"
)

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type captchaAnswerRequest struct {
	ChallengeID string `json:"challengeId"`
	Response    string `json:"response"`
}

// loginHandlers owns the public authentication routes.
type loginHandlers struct {
	guard  *authguard.Guard
	gate   *httpgate.Gate
	users  *redisUserStore
	hasher *password.Argon2
	tokens *jwtkeys.TokenManager
	logger *slog.Logger
}

const genericLoginFailure = "Invalid email or password"

// login handles POST /auth/login. The per-IP tier already ran in the
// gate middleware; the email-scoped checks run here once the email is
// known.
func (h *loginHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	ip := h.gate.ClientIP(r)

	check, err := h.guard.CheckLogin(r.Context(), ip, req.Email)
	if err != nil {
		h.logger.Error("login check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service temporarily unavailable"})
		return
	}
	if !check.Allowed {
		status := http.StatusTooManyRequests
		message := "Too many login attempts. Please try again later."
		if errors.Is(check.Reason, authguard.ErrAccountLocked) {
			status = http.StatusForbidden
			message = "Account temporarily locked. Check your email for unlock instructions."
		}
		writeJSON(w, status, map[string]string{"error": message})
		return
	}

	if check.CaptchaRequired {
		ok := false
		if req.CaptchaToken != "" {
			ok, err = h.guard.Captcha().VerifyToken(r.Context(), req.CaptchaToken, ip)
			if err != nil {
				h.logger.Warn("captcha token verification failed", "error", err)
			}
		}
		if !ok {
			writeJSON(w, http.StatusPreconditionRequired, map[string]string{
				"error":           "Captcha required",
				"captchaRequired": "true",
			})
			return
		}
	}

	if err := httpgate.Delay(r.Context(), check); err != nil {
		// Client went away while the delay ran.
		return
	}

	hash, err := h.users.PasswordHash(r.Context(), req.Email)
	authenticated := false
	switch {
	case errors.Is(err, lockout.ErrUserNotFound):
		// Burn the same verification cost for unknown accounts.
		_, _ = h.hasher.Verify(req.Password, decoyHash)
	case err != nil:
		h.logger.Error("password lookup failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service temporarily unavailable"})
		return
	default:
		authenticated, _ = h.hasher.Verify(req.Password, hash)
	}

	if !authenticated {
		locked, err := h.guard.RecordFailure(r.Context(), ip, req.Email, "invalid_credentials")
		if err != nil {
			h.logger.Warn("failure recording failed", "error", err)
		}
		if locked {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Account temporarily locked. Check your email for unlock instructions.",
			})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": genericLoginFailure})
		return
	}

	if err := h.guard.RecordSuccess(r.Context(), ip, req.Email); err != nil {
		h.logger.Warn("success recording failed", "error", err)
	}

	resp := map[string]string{"status": "ok"}
	if h.tokens != nil {
		token, err := h.tokens.Sign(r.Context(), req.Email)
		if err != nil {
			h.logger.Error("token signing failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service temporarily unavailable"})
			return
		}
		resp["accessToken"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

// register handles POST /auth/register.
func (h *loginHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.users.CreateUser(r.Context(), uuid.NewString(), req.Email, hash); err != nil {
		// Uniform answer so registration cannot probe for accounts.
		h.logger.Info("registration rejected", "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// captchaChallenge handles GET /captcha/challenge.
func (h *loginHandlers) captchaChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.guard.Captcha().GenerateChallenge(r.Context())
	if err != nil {
		h.logger.Error("captcha generation failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service temporarily unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

// captchaAnswer handles POST /captcha/answer. A correct answer returns a
// bypass token bound to the caller's IP.
func (h *loginHandlers) captchaAnswer(w http.ResponseWriter, r *http.Request) {
	var req captchaAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChallengeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "challengeId and response are required"})
		return
	}

	result, err := h.guard.Captcha().ValidateResponse(r.Context(), req.ChallengeID, req.Response)
	if err != nil {
		h.logger.Error("captcha validation failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service temporarily unavailable"})
		return
	}
	if !result.Valid {
		writeJSON(w, http.StatusOK, result)
		return
	}

	token, err := h.guard.Captcha().GenerateToken(r.Context(), h.gate.ClientIP(r))
	if err != nil {
		h.logger.Error("captcha token issue failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service temporarily unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"message":     result.Message,
		"bypassToken": token,
	})
}

type initiateUnlockRequest struct {
	Email string `json:"email"`
}

const genericUnlockInitiated = "If an account exists and is locked, an unlock email has been sent."

// initiateUnlock handles POST /auth/unlock/initiate. Unknown accounts,
// unlocked accounts, and locked accounts all get the same envelope so
// the endpoint cannot confirm that an account exists.
func (h *loginHandlers) initiateUnlock(w http.ResponseWriter, r *http.Request) {
	var req initiateUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	err := h.guard.InitiateUnlock(r.Context(), req.Email)
	if err != nil && !errors.Is(err, lockout.ErrUserNotFound) && !errors.Is(err, lockout.ErrNotLocked) {
		h.logger.Warn("unlock initiation failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": genericUnlockInitiated,
	})
}

// unlock handles GET /auth/unlock?token=... The response is identical
// for every failure cause.
func (h *loginHandlers) unlock(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || !h.guard.UnlockWithToken(r.Context(), token) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid or expired unlock link"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// decoyHash is a throwaway argon2id hash used to equalize response time
// for unknown accounts.
var decoyHash = func() string {
	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		panic(err)
	}
	hash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		panic(err)
	}
	return hash
}()
