package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/authguard"
)

// CounterDef names one authguard counter for exporters.
type CounterDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// HistogramDef names one authguard latency histogram for exporters.
type HistogramDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authguard.MetricPreCheckAllowed, Name: "authguard_precheck_allowed_total", Help: "Pre-checks that let the attempt through."},
	{ID: authguard.MetricPreCheckRateLimited, Name: "authguard_precheck_rate_limited_total", Help: "Pre-checks denied by the rate limiter."},
	{ID: authguard.MetricPreCheckLocked, Name: "authguard_precheck_locked_total", Help: "Pre-checks denied for locked accounts."},
	{ID: authguard.MetricPreCheckIPBlocked, Name: "authguard_precheck_ip_blocked_total", Help: "Pre-checks denied for blocked addresses."},
	{ID: authguard.MetricPreCheckHighRisk, Name: "authguard_precheck_high_risk_total", Help: "Pre-checks denied on a critical risk assessment."},
	{ID: authguard.MetricLoginSuccess, Name: "authguard_login_success_total", Help: "Successful credential verifications."},
	{ID: authguard.MetricLoginFailure, Name: "authguard_login_failure_total", Help: "Failed credential verifications."},
	{ID: authguard.MetricAccountLocked, Name: "authguard_account_locked_total", Help: "Account locks applied."},
	{ID: authguard.MetricAccountUnlocked, Name: "authguard_account_unlocked_total", Help: "Account locks lifted."},
	{ID: authguard.MetricIPBlocked, Name: "authguard_ip_blocked_total", Help: "Addresses handed to the IP blocker."},
	{ID: authguard.MetricRiskSuspicious, Name: "authguard_risk_suspicious_total", Help: "Risk assessments at medium level or above."},
	{ID: authguard.MetricRiskCritical, Name: "authguard_risk_critical_total", Help: "Critical risk assessments."},
	{ID: authguard.MetricRefreshSuccess, Name: "authguard_refresh_success_total", Help: "Completed refresh token rotations."},
	{ID: authguard.MetricRefreshFailure, Name: "authguard_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authguard.MetricRefreshReuseDetected, Name: "authguard_refresh_reuse_detected_total", Help: "Replays of rotated refresh tokens."},
	{ID: authguard.MetricLogout, Name: "authguard_logout_total", Help: "Single-token logouts."},
	{ID: authguard.MetricLogoutAll, Name: "authguard_logout_all_total", Help: "Account-wide logouts."},
	{ID: authguard.MetricSweepRuns, Name: "authguard_sweep_runs_total", Help: "Maintenance sweep passes."},
	{ID: authguard.MetricSweepRemoved, Name: "authguard_sweep_removed_total", Help: "Entries removed by maintenance sweeps."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authguard.MetricPreCheckLatency, Name: "authguard_precheck_latency_seconds", Help: "PreCheck latency."},
	{ID: authguard.MetricLoginLatency, Name: "authguard_login_latency_seconds", Help: "End-to-end login latency."},
}

// AuditDroppedName is the counter name for audit events lost to backpressure.
const AuditDroppedName = "authguard_audit_dropped_total"

// AuditDroppedHelp describes [AuditDroppedName].
const AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."

// HistogramUpperBounds holds the finite bucket upper bounds in seconds.
// The eighth bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketLabels returns the Prometheus-style "le" label of each bucket,
// "+Inf" last.
func BucketLabels() []string {
	out := make([]string, 0, len(HistogramUpperBounds)+1)
	for _, b := range HistogramUpperBounds {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling
// missing entries.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
