// Package internal contains helper utilities that are intentionally private
// to authguard, including secure random token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: the four coordinated rate limit tiers of the login path
//   - rate: core Redis-backed rolling-window counter primitives
//   - tracker: failed login attempt lists and failure counters
//
// # What this package must NOT do
//
//   - Export types that appear in the public authguard API.
//   - Be imported by any package outside the authguard module.
package internal
