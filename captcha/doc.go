// Package captcha implements the one-time CAPTCHA challenge service that
// gates the login path once an identifier crosses the failure threshold.
//
// # Model
//
// Challenges are simple math questions stored in Redis under captcha:<id>
// with a short TTL. Validation is single-use: the stored answer is deleted
// before comparison, so a challenge can validate successfully at most once.
// Two concurrent validations race on GET-then-DEL; the loser observes
// "expired", an accepted lost update for this workload.
//
// Solving a challenge earns a bypass token bound to the requesting IP,
// valid once within its TTL. Used tokens are retained briefly for audit.
//
// # Statistics
//
// Hourly and daily counters per event type (generated, solved, failed,
// expired) under captcha_stats:*, retained 7 and 30 days respectively.
package captcha
