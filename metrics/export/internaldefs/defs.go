package internaldefs

import (
	"github.com/MrEthical07/goIdentity/metrics"
)

// CounterDef names an exported counter.
type CounterDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// HistogramDef names an exported latency histogram.
type HistogramDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: metrics.LoginSuccess, Name: "identity_login_success_total", Help: "Successful logins."},
	{ID: metrics.LoginFailure, Name: "identity_login_failure_total", Help: "Logins rejected with invalid credentials."},
	{ID: metrics.LoginRateLimited, Name: "identity_login_rate_limited_total", Help: "Logins rejected by the per-tenant throttle."},
	{ID: metrics.PasswordRehashed, Name: "identity_password_rehashed_total", Help: "Password hashes upgraded on login."},
	{ID: metrics.PrincipalRegistered, Name: "identity_principal_registered_total", Help: "Registered principals."},
	{ID: metrics.PrincipalDuplicate, Name: "identity_principal_duplicate_total", Help: "Registrations rejected for a duplicate email within the tenant."},
	{ID: metrics.RoleCreated, Name: "identity_role_created_total", Help: "Created tenant roles."},
	{ID: metrics.RoleAssigned, Name: "identity_role_assigned_total", Help: "Role assignments."},
	{ID: metrics.RoleRevoked, Name: "identity_role_revoked_total", Help: "Role revocations."},
	{ID: metrics.ValidateSuccess, Name: "identity_validate_success_total", Help: "Credentials validated."},
	{ID: metrics.ValidateExpired, Name: "identity_validate_expired_total", Help: "Credentials rejected as expired."},
	{ID: metrics.ValidateMalformed, Name: "identity_validate_malformed_total", Help: "Credentials rejected as malformed."},
	{ID: metrics.ValidateSignatureMismatch, Name: "identity_validate_signature_mismatch_total", Help: "Credentials rejected for a bad signature or unknown key."},
	{ID: metrics.ValidateInvalidAudience, Name: "identity_validate_invalid_audience_total", Help: "Credentials rejected for issuer or audience."},
	{ID: metrics.AuthorizeAllowed, Name: "identity_authorize_allowed_total", Help: "Capability checks allowed."},
	{ID: metrics.AuthorizeDenied, Name: "identity_authorize_denied_total", Help: "Capability checks denied."},
	{ID: metrics.SigningKeyRotated, Name: "identity_signing_key_rotated_total", Help: "Signing key rotations."},
	{ID: metrics.OutboxAppended, Name: "identity_outbox_appended_total", Help: "Outbox records appended."},
	{ID: metrics.OutboxDispatched, Name: "identity_outbox_dispatched_total", Help: "Outbox records acknowledged by the broker."},
	{ID: metrics.OutboxRetried, Name: "identity_outbox_retried_total", Help: "Failed publish attempts scheduled for retry."},
	{ID: metrics.OutboxFlagged, Name: "identity_outbox_flagged_total", Help: "Outbox records flagged after exhausting retries."},
	{ID: metrics.OutboxPurged, Name: "identity_outbox_purged_total", Help: "Dispatched outbox records removed by retention."},
	{ID: metrics.ConsumerApplied, Name: "identity_consumer_applied_total", Help: "Events applied by consumers."},
	{ID: metrics.ConsumerDuplicate, Name: "identity_consumer_duplicate_total", Help: "Redelivered events absorbed by the dedup fence."},
	{ID: metrics.ConsumerIgnored, Name: "identity_consumer_ignored_total", Help: "Events of unknown type acknowledged without effect."},
	{ID: metrics.ConsumerRetried, Name: "identity_consumer_retried_total", Help: "Events negatively acknowledged for redelivery."},
	{ID: metrics.ConsumerDeadLettered, Name: "identity_consumer_dead_lettered_total", Help: "Events moved to the dead-letter stream."},
	{ID: metrics.ConsumedPurged, Name: "identity_consumed_purged_total", Help: "Dedup fences removed by retention."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: metrics.ValidateLatency, Name: "identity_validate_latency_seconds", Help: "Credential validation latency."},
	{ID: metrics.PublishLatency, Name: "identity_outbox_publish_latency_seconds", Help: "Broker publish latency."},
}

// HistogramBounds are the upper bounds of the buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable in metric names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [metrics.BucketCount]uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
