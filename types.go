package authguard

import (
	"time"

	"github.com/velodyn/authguard/internal/audit"
	"github.com/velodyn/authguard/internal/tracker"
	"github.com/velodyn/authguard/lockout"
)

// Re-exported collaborator contracts. The implementations live with the
// caller (user persistence) or in the notify package (email delivery).
type (
	// User is the account projection the lockout manager operates on.
	User = lockout.User
	// UserStore adapts the caller's user persistence.
	UserStore = lockout.UserStore
	// Notifier delivers emails fire-and-forget.
	Notifier = lockout.Notifier
)

// Audit surface, aliased from internal/audit so external sinks can be
// plugged in without importing an internal package.
type (
	// AuditEvent is one security-relevant occurrence.
	AuditEvent = audit.Event
	// AuditSink receives emitted audit events.
	AuditSink = audit.Sink
	// NoOpSink drops audit events.
	NoOpSink = audit.NoOpSink
	// ChannelSink buffers audit events in a channel.
	ChannelSink = audit.ChannelSink
	// JSONWriterSink writes one JSON audit record per line.
	JSONWriterSink = audit.JSONWriterSink
)

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink creates a JSONWriterSink over w.
var NewJSONWriterSink = audit.NewJSONWriterSink

// FailedAttempt is one recorded authentication failure.
type FailedAttempt = tracker.Attempt

// LoginCheck is the pipeline's verdict for one inbound authentication
// attempt, produced before credentials are verified.
type LoginCheck struct {
	Allowed bool
	// Reason is the sentinel explaining a rejection: ErrIPRateLimited,
	// ErrEmailRateLimited, ErrCaptchaRequired, or ErrAccountLocked.
	Reason error
	// RetryAfter is how long the caller should tell the client to wait.
	// Zero when allowed.
	RetryAfter time.Duration
	// RemainingAttempts is what is left on the tightest exhausted-able
	// tier (per-IP).
	RemainingAttempts int
	// Delay is the progressive delay the route handler should hold the
	// response open for. Applied at the edge, not here.
	Delay time.Duration
	// CaptchaRequired reports whether the captcha gate is closed for
	// this identifier, independent of Allowed.
	CaptchaRequired bool
	// Degraded reports that the per-IP verdict came from the in-memory
	// fallback because Redis was unreachable.
	Degraded bool
}
