package internaldefs

import (
	authguard "github.com/velodyn/authguard"
)

// CounterDef binds a pipeline counter id to its exposition name.
type CounterDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: authguard.MetricLoginCheckAllowed, Name: "authguard_login_check_allowed_total", Help: "Login checks that passed every tier."},
	{ID: authguard.MetricIPRateLimited, Name: "authguard_ip_rate_limited_total", Help: "Per-IP tier rejections."},
	{ID: authguard.MetricEmailRateLimited, Name: "authguard_email_rate_limited_total", Help: "Per-email tier rejections."},
	{ID: authguard.MetricStoreFallback, Name: "authguard_store_fallback_total", Help: "Per-IP verdicts served by the in-memory fallback."},
	{ID: authguard.MetricCaptchaRequired, Name: "authguard_captcha_required_total", Help: "Login checks that required a captcha."},
	{ID: authguard.MetricFailureRecorded, Name: "authguard_failure_recorded_total", Help: "Recorded authentication failures."},
	{ID: authguard.MetricSuccessRecorded, Name: "authguard_success_recorded_total", Help: "Recorded authentication successes."},
	{ID: authguard.MetricAccountLocked, Name: "authguard_account_locked_total", Help: "Account lock transitions."},
	{ID: authguard.MetricAccountUnlocked, Name: "authguard_account_unlocked_total", Help: "Account unlock transitions."},
	{ID: authguard.MetricKeyRotated, Name: "authguard_key_rotated_total", Help: "Completed signing key rotations."},
	{ID: authguard.MetricKeyRevoked, Name: "authguard_key_revoked_total", Help: "Explicit signing key revocations."},
}
