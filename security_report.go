package goIdentity

import "github.com/MrEthical07/goIdentity/internal/security"

// SecurityReport summarizes the engine's effective security settings.
type SecurityReport = security.Report

// SecurityReport describes the running configuration. The signing key id
// reflects rotations made since Build.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	grace := cfg.JWT.Grace
	if grace == 0 {
		grace = cfg.JWT.Lifetime
	}

	r := SecurityReport{
		SigningAlgorithm: cfg.JWT.SigningMethod,
		TokenLifetime:    cfg.JWT.Lifetime,
		KeyGrace:         grace,
		Leeway:           cfg.JWT.Leeway,
		Password: security.PasswordReport{
			Scheme:      cfg.Password.Scheme,
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
		},
		UpgradeOnLogin:      cfg.Security.UpgradeHashOnLogin,
		LoginThrottleActive: e.rateLimiter != nil,
		IPThrottleActive:    e.rateLimiter != nil && cfg.Security.EnableIPThrottle,
		AuditEnabled:        e.audit != nil,
		MetricsEnabled:      e.metrics.Enabled(),
		OutboxCodec:         cfg.Outbox.Codec,
		OutboxMaxAttempts:   cfg.Outbox.MaxAttempts,
		RetentionWindow:     cfg.Outbox.RetentionWindow,
	}
	if r.LoginThrottleActive {
		r.MaxLoginAttempts = cfg.Security.MaxLoginAttempts
		r.LoginCooldown = cfg.Security.LoginCooldownDuration
	}
	if e.issuer != nil {
		r.SigningKeyID = e.issuer.SigningKeyID()
		r.VerifyKeyIDs = e.issuer.VerifyKeyIDs()
	}
	return r
}
