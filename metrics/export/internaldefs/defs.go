package internaldefs

import (
	"github.com/MrEthical07/tabauth"
)

// CounterDef names one counter for export.
type CounterDef struct {
	ID   tabauth.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for export.
type HistogramDef struct {
	ID   tabauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: tabauth.MetricLoginSuccess, Name: "tabauth_login_success_total", Help: "Successful logins."},
	{ID: tabauth.MetricLoginFailure, Name: "tabauth_login_failure_total", Help: "Failed logins."},
	{ID: tabauth.MetricLoginVerificationRequired, Name: "tabauth_login_verification_required_total", Help: "Logins refused until the email is verified."},
	{ID: tabauth.MetricLogout, Name: "tabauth_logout_total", Help: "Logouts."},
	{ID: tabauth.MetricRefreshSuccess, Name: "tabauth_refresh_success_total", Help: "Successful session refreshes."},
	{ID: tabauth.MetricRefreshFailure, Name: "tabauth_refresh_failure_total", Help: "Failed session refreshes."},
	{ID: tabauth.MetricRefreshScheduled, Name: "tabauth_refresh_scheduled_total", Help: "Refresh timers armed."},
	{ID: tabauth.MetricRestoreSuccess, Name: "tabauth_restore_success_total", Help: "Sessions restored from the refresh cookie."},
	{ID: tabauth.MetricRestoreNoSession, Name: "tabauth_restore_no_session_total", Help: "Restore attempts that found no session."},
	{ID: tabauth.MetricBusPublished, Name: "tabauth_bus_published_total", Help: "Verification events published."},
	{ID: tabauth.MetricBusChannelDelivered, Name: "tabauth_bus_channel_delivered_total", Help: "Events delivered through the direct channel."},
	{ID: tabauth.MetricBusStorageDelivered, Name: "tabauth_bus_storage_delivered_total", Help: "Events delivered through the shared event stream."},
	{ID: tabauth.MetricBusDecodeFailure, Name: "tabauth_bus_decode_failure_total", Help: "Bus payloads that could not be decoded."},
	{ID: tabauth.MetricBusChannelDegraded, Name: "tabauth_bus_channel_degraded_total", Help: "Starts that fell back to storage-only delivery."},
	{ID: tabauth.MetricPollQuery, Name: "tabauth_poll_query_total", Help: "Verification status queries."},
	{ID: tabauth.MetricPollQueryFailure, Name: "tabauth_poll_query_failure_total", Help: "Failed verification status queries."},
	{ID: tabauth.MetricPollVerified, Name: "tabauth_poll_verified_total", Help: "Verifications observed by polling."},
	{ID: tabauth.MetricAutoLoginSuccess, Name: "tabauth_autologin_success_total", Help: "Sign-ins after verification."},
	{ID: tabauth.MetricAutoLoginFailure, Name: "tabauth_autologin_failure_total", Help: "Failed sign-ins after verification."},
	{ID: tabauth.MetricAutoLoginDuplicate, Name: "tabauth_autologin_duplicate_total", Help: "Duplicate verification events ignored."},
	{ID: tabauth.MetricAutoLoginIgnored, Name: "tabauth_autologin_ignored_total", Help: "Verification events ignored while not waiting."},
	{ID: tabauth.MetricAutoLoginAborted, Name: "tabauth_autologin_aborted_total", Help: "Auto-logins aborted for a missing or mismatched credential."},
	{ID: tabauth.MetricAutoLoginClaimLost, Name: "tabauth_autologin_claim_lost_total", Help: "Verifications consumed by another tab."},
	{ID: tabauth.MetricVaultStored, Name: "tabauth_vault_stored_total", Help: "Credentials parked in the vault."},
	{ID: tabauth.MetricVaultCleared, Name: "tabauth_vault_cleared_total", Help: "Vault clears."},
	{ID: tabauth.MetricResendSuccess, Name: "tabauth_resend_success_total", Help: "Verification emails resent."},
	{ID: tabauth.MetricResendCooldown, Name: "tabauth_resend_cooldown_total", Help: "Resends refused by the cooldown."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: tabauth.MetricAutoLoginLatency, Name: "tabauth_autologin_latency_seconds", Help: "Time from verification to sign-in."},
}

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable in metric names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [tabauth.HistogramBucketCount]uint64 {
	var out [tabauth.HistogramBucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals
// Prometheus expects.
func CumulativeBuckets(raw [tabauth.HistogramBucketCount]uint64) [tabauth.HistogramBucketCount]uint64 {
	var out [tabauth.HistogramBucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
