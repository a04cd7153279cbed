// Package tracker records failed login attempts per IP and per email in
// Redis lists bounded by the rate-limit window, and maintains the failure
// counters consumed by the lockout and rate-limit logic.
//
// Keys: failed_login:ip:<ip>, failed_login:email:<email>,
// failed_login_count:<identifier>.
package tracker
