package authguard

import (
	"errors"
	"fmt"
)

// Error taxonomy. The four base sentinels classify every failure the
// pipeline can surface; the specific errors below wrap one of them, so
// errors.Is works against either level.
var (
	// ErrStoreUnavailable means the coordination store is unreachable.
	ErrStoreUnavailable = errors.New("coordination store unavailable")
	// ErrLimitExceeded means a rate, captcha, or lockout threshold was
	// hit. Expected under attack, not a bug.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrInvalidToken means a captcha or unlock token is missing,
	// expired, or mismatched. Responses must not reveal which.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvariantViolation means an operation would break a correctness
	// invariant, e.g. revoking the active signing key.
	ErrInvariantViolation = errors.New("invariant violation")
)

var (
	// ErrIPRateLimited means the per-IP tier rejected the request.
	ErrIPRateLimited = fmt.Errorf("%w: ip", ErrLimitExceeded)
	// ErrEmailRateLimited means the per-email tier rejected the request.
	ErrEmailRateLimited = fmt.Errorf("%w: email", ErrLimitExceeded)
	// ErrCaptchaRequired means the captcha gate demands a solved
	// challenge or bypass token before further attempts.
	ErrCaptchaRequired = fmt.Errorf("%w: captcha required", ErrLimitExceeded)
	// ErrAccountLocked means the account is in the locked state.
	ErrAccountLocked = fmt.Errorf("%w: account locked", ErrLimitExceeded)
	// ErrGuardNotReady means the Builder has not produced a usable Guard.
	ErrGuardNotReady = errors.New("guard not initialized")
)
