package tabauth

import "github.com/MrEthical07/tabauth/internal/metrics"

// MetricID identifies one counter or histogram.
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy of a tab's metrics.
//
// Counters holds every counter; Histograms holds MetricAutoLoginLatency when
// latency histograms are enabled.
type MetricsSnapshot = metrics.Snapshot

const (
	MetricLoginSuccess              = metrics.LoginSuccess
	MetricLoginFailure              = metrics.LoginFailure
	MetricLoginVerificationRequired = metrics.LoginVerificationRequired
	MetricLogout                    = metrics.Logout
	MetricRefreshSuccess            = metrics.RefreshSuccess
	MetricRefreshFailure            = metrics.RefreshFailure
	MetricRefreshScheduled          = metrics.RefreshScheduled
	MetricRestoreSuccess            = metrics.RestoreSuccess
	MetricRestoreNoSession          = metrics.RestoreNoSession
	MetricBusPublished              = metrics.BusPublished
	MetricBusChannelDelivered       = metrics.BusChannelDelivered
	MetricBusStorageDelivered       = metrics.BusStorageDelivered
	MetricBusDecodeFailure          = metrics.BusDecodeFailure
	MetricBusChannelDegraded        = metrics.BusChannelDegraded
	MetricPollQuery                 = metrics.PollQuery
	MetricPollQueryFailure          = metrics.PollQueryFailure
	MetricPollVerified              = metrics.PollVerified
	MetricAutoLoginSuccess          = metrics.AutoLoginSuccess
	MetricAutoLoginFailure          = metrics.AutoLoginFailure
	MetricAutoLoginDuplicate        = metrics.AutoLoginDuplicate
	MetricAutoLoginIgnored          = metrics.AutoLoginIgnored
	MetricAutoLoginAborted          = metrics.AutoLoginAborted
	MetricAutoLoginClaimLost        = metrics.AutoLoginClaimLost
	MetricVaultStored               = metrics.VaultStored
	MetricVaultCleared              = metrics.VaultCleared
	MetricResendSuccess             = metrics.ResendSuccess
	MetricResendCooldown            = metrics.ResendCooldown
	MetricAutoLoginLatency          = metrics.AutoLoginLatency
)

// MetricCount is the number of metric slots.
const MetricCount = metrics.Count

// HistogramBucketCount is the number of latency buckets, the last one +Inf.
const HistogramBucketCount = metrics.HistogramBucketCount
