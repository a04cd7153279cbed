// Package limiters implements the four coordinated rate limit tiers of the
// authentication defense pipeline on top of the internal/rate primitives.
//
// # Tiers
//
//   - per-IP: hard limit with block, falls back to a process-local counter
//     when Redis is down (fail open to availability).
//   - per-email: hard limit with block, no fallback (fail closed).
//   - progressive delay: track-only counter mapped through a delay table.
//   - captcha gate: track-only counter compared against a threshold.
//
// Key prefixes are part of the wire contract with operational tooling:
// rl_ip:, rl_email:, rl_progressive:, rl_captcha:.
package limiters
