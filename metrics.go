package authguard

import "sync/atomic"

// MetricID identifies one pipeline counter.
type MetricID uint16

const (
	// MetricLoginCheckAllowed counts login checks that passed every tier.
	MetricLoginCheckAllowed MetricID = iota
	// MetricIPRateLimited counts per-IP tier rejections.
	MetricIPRateLimited
	// MetricEmailRateLimited counts per-email tier rejections.
	MetricEmailRateLimited
	// MetricStoreFallback counts per-IP verdicts served by the in-memory
	// fallback during a Redis outage.
	MetricStoreFallback
	// MetricCaptchaRequired counts checks where the captcha gate was closed.
	MetricCaptchaRequired
	// MetricFailureRecorded counts recorded authentication failures.
	MetricFailureRecorded
	// MetricSuccessRecorded counts recorded authentication successes.
	MetricSuccessRecorded
	// MetricAccountLocked counts lockout transitions.
	MetricAccountLocked
	// MetricAccountUnlocked counts unlock transitions (token or admin).
	MetricAccountUnlocked
	// MetricKeyRotated counts completed signing key rotations.
	MetricKeyRotated
	// MetricKeyRevoked counts explicit key revocations.
	MetricKeyRevoked

	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginCheckAllowed: "authguard_login_check_allowed_total",
	MetricIPRateLimited:     "authguard_ip_rate_limited_total",
	MetricEmailRateLimited:  "authguard_email_rate_limited_total",
	MetricStoreFallback:     "authguard_store_fallback_total",
	MetricCaptchaRequired:   "authguard_captcha_required_total",
	MetricFailureRecorded:   "authguard_failure_recorded_total",
	MetricSuccessRecorded:   "authguard_success_recorded_total",
	MetricAccountLocked:     "authguard_account_locked_total",
	MetricAccountUnlocked:   "authguard_account_unlocked_total",
	MetricKeyRotated:        "authguard_key_rotated_total",
	MetricKeyRevoked:        "authguard_key_revoked_total",
}

// MetricName returns the exposition name for a counter id.
func MetricName(id MetricID) string {
	if id >= metricCount {
		return ""
	}
	return metricNames[id]
}

// MetricCount is the number of defined counters.
func MetricCount() int { return int(metricCount) }

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters [metricCount]uint64
}

// metrics is a fixed array of lock-free counters. Disabled metrics keep
// the increment path to a single branch.
type metrics struct {
	enabled  bool
	counters [metricCount]atomic.Uint64
}

func newMetrics(enabled bool) *metrics {
	return &metrics{enabled: enabled}
}

func (m *metrics) inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

func (m *metrics) snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	if m == nil {
		return snap
	}
	for i := range m.counters {
		snap.Counters[i] = m.counters[i].Load()
	}
	return snap
}
