// Package authguard is the authentication defense pipeline: coordinated
// rate limiting across IP, email, progressive-delay and captcha tiers, an
// account lockout state machine with an anti-enumeration unlock flow, a
// one-time captcha challenge service, and a JWT signing key registry with
// scheduled, mutually exclusive rotation.
//
// # Composition
//
// Construct a [Guard] through the [Builder]:
//
//	guard, err := authguard.New().
//		WithRedis(redisClient).
//		WithUserStore(users).
//		WithNotifier(mailer).
//		Build()
//
// The Guard owns the per-request path: CheckLogin before verifying
// credentials, RecordFailure / RecordSuccess after. Key rotation runs
// independently through [jwtkeys.Scheduler].
//
// # Coordination store
//
// Redis is the only shared mutable resource. All counters, lock state,
// captcha challenges and signing keys live there under fixed namespaces;
// the services are stateless accessors. Per-IP limiting degrades to a
// process-local counter when Redis is down; email limiting and lockout
// checks fail open instead of denying legitimate users during an outage.
package authguard
