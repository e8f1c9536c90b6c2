package security

import "time"

type PasswordReport struct {
	Scheme      string
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// Report is a point-in-time summary of the engine's security settings.
type Report struct {
	SigningAlgorithm string
	SigningKeyID     string
	VerifyKeyIDs     []string
	TokenLifetime    time.Duration
	KeyGrace         time.Duration
	Leeway           time.Duration
	Password         PasswordReport
	UpgradeOnLogin   bool

	LoginThrottleActive bool
	IPThrottleActive    bool
	MaxLoginAttempts    int
	LoginCooldown       time.Duration

	AuditEnabled   bool
	MetricsEnabled bool

	OutboxCodec       string
	OutboxMaxAttempts int
	RetentionWindow   time.Duration
}

// Fields flattens the report for structured logging.
func (r Report) Fields() map[string]any {
	return map[string]any{
		"signing_algorithm":   r.SigningAlgorithm,
		"signing_key_id":      r.SigningKeyID,
		"verify_key_ids":      r.VerifyKeyIDs,
		"token_lifetime":      r.TokenLifetime.String(),
		"key_grace":           r.KeyGrace.String(),
		"password_scheme":     r.Password.Scheme,
		"upgrade_on_login":    r.UpgradeOnLogin,
		"login_throttle":      r.LoginThrottleActive,
		"ip_throttle":         r.IPThrottleActive,
		"audit":               r.AuditEnabled,
		"metrics":             r.MetricsEnabled,
		"outbox_codec":        r.OutboxCodec,
		"outbox_max_attempts": r.OutboxMaxAttempts,
		"outbox_retention":    r.RetentionWindow.String(),
	}
}
