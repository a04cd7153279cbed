// Package jwtkeys maintains the JWT signing key set with scheduled,
// mutually exclusive rotation and a verification grace period.
//
// # Key lifecycle
//
//	active → rotating (verify-only, grace period) → revoked → purged
//
// Exactly one key is active at any time. Rotation creates a new key,
// demotes the previous active key to rotating, and enforces the
// non-revoked cap by revoking the oldest surplus key; all of it is applied
// as a single MULTI/EXEC write under the distributed rotation lock, so a
// crash mid-rotation never leaves two active keys. Revoked keys are
// retained for the storage TTL before physical deletion.
//
// # Storage
//
// Keys live in Redis: a hash of key records (jwt:keys:all), the active
// pointer (jwt:keys:active_signing_key_id), revocation bookkeeping
// (jwt:keys:revoked), and the rotation lock (jwt:keys:rotation:lock).
// Secrets are encrypted at rest with AES-256-GCM under a PBKDF2-derived
// key. Rotations broadcast the new key id on the jwt:key:updates channel
// so other instances refresh their cached signing key without restart.
package jwtkeys
