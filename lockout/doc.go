// Package lockout implements the account lockout state machine:
//
//	Unlocked → (failures ≥ threshold) → Locked → (unlock token verified
//	within 24h, or admin override) → Unlocked
//
// The durable lock record lives in the caller-supplied UserStore; a mirror
// flag under account_locked:<email> keeps the hot-path check cheap.
//
// # Failure semantics
//
// Lock checks fail open: a transient store error reports "not locked"
// rather than denying a legitimate user. Unlock-token verification never
// distinguishes expired from never-existed, so the HTTP caller can keep a
// uniform response envelope (anti-enumeration).
package lockout
