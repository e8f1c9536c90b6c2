package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

// LoginResult is a freshly issued credential.
type LoginResult struct {
	Token       string
	PrincipalID string
	TenantID    string
	Roles       []permission.Role
	ExpiresAt   time.Time
}

// Login authenticates email inside tenantID only and issues a credential
// carrying the principal's roles. Unknown principals and wrong passwords both
// return ErrInvalidCredentials after the same KDF work. Failed attempts are
// throttled per tenant and identifier.
func (e *Engine) Login(ctx context.Context, tenantID tenant.ID, email, pw string) (*LoginResult, error) {
	if e == nil || e.hasher == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}

	identifier := normalizeEmail(email)
	tid := string(tenantID)
	ip := ClientIPFromContext(ctx)

	tc, err := tenant.New(tenantID)
	if err != nil {
		// Nothing to look up; still pay for one derivation.
		_, _ = e.hasher.Verify(pw, e.dummy.Hash, e.dummy.Salt)
		return nil, e.loginFailed(ctx, tid, "", identifier, "tenant_missing")
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, tid, identifier, ip); err != nil {
			return nil, e.throttleError(ctx, tid, "", identifier, err)
		}
	}

	if pw == "" {
		return nil, e.recordLoginFailure(ctx, tid, "", identifier, "empty_password")
	}

	p, err := e.db.Scoped(tc).PrincipalByEmail(ctx, identifier)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("login: %w", err)
		}
		_, _ = e.hasher.Verify(pw, e.dummy.Hash, e.dummy.Salt)
		return nil, e.recordLoginFailure(ctx, tid, "", identifier, "principal_not_found")
	}

	ok, err := e.hasher.Verify(pw, p.PasswordHash, p.PasswordSalt)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"tenant_id":    tid,
			"principal_id": p.PrincipalID,
		}).Error("stored credential unusable")
		return nil, e.recordLoginFailure(ctx, tid, p.PrincipalID, identifier, "credential_format")
	}
	if !ok {
		return nil, e.recordLoginFailure(ctx, tid, p.PrincipalID, identifier, "password_mismatch")
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, tid, identifier, ip); err != nil {
			e.log.WithError(err).WithField("tenant_id", tid).Warn("failed to reset login throttle")
		}
	}

	if e.config.Security.UpgradeHashOnLogin {
		e.upgradeHash(ctx, tc, p, pw)
	}

	names, err := e.db.Scoped(tc).RoleNamesFor(ctx, p.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("login: roles: %w", err)
	}
	roles, err := e.roles.ParseAll(names)
	if err != nil {
		return nil, fmt.Errorf("login: roles: %w", err)
	}

	issuedAt := e.now()
	token, err := e.issuer.Issue(jwt.Subject{PrincipalID: p.PrincipalID, TenantID: tid}, roles)
	if err != nil {
		return nil, fmt.Errorf("login: issue: %w", err)
	}

	e.metricInc(metrics.LoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, p.PrincipalID, tid, nil, nil)

	return &LoginResult{
		Token:       token,
		PrincipalID: p.PrincipalID,
		TenantID:    tid,
		Roles:       roles,
		ExpiresAt:   issuedAt.Add(e.issuer.Lifetime()),
	}, nil
}

// recordLoginFailure counts the attempt against the throttle before
// reporting invalid credentials.
func (e *Engine) recordLoginFailure(ctx context.Context, tenantID, principalID, identifier, reason string) error {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, tenantID, identifier, ClientIPFromContext(ctx)); err != nil {
			return e.throttleError(ctx, tenantID, principalID, identifier, err)
		}
	}
	return e.loginFailed(ctx, tenantID, principalID, identifier, reason)
}

func (e *Engine) loginFailed(ctx context.Context, tenantID, principalID, identifier, reason string) error {
	e.metricInc(metrics.LoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, principalID, tenantID, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     reason,
		}
	})
	return ErrInvalidCredentials
}

func (e *Engine) throttleError(ctx context.Context, tenantID, principalID, identifier string, err error) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		e.log.WithError(err).WithField("tenant_id", tenantID).Error("login throttle unavailable")
		return fmt.Errorf("%w: %v", ErrLoginThrottleUnavailable, err)
	}
	e.metricInc(metrics.LoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, principalID, tenantID, ErrLoginRateLimited, func() map[string]string {
		return map[string]string{"identifier": identifier}
	})
	return ErrLoginRateLimited
}

// upgradeHash re-derives a stored hash made with a legacy scheme or weaker
// parameters. Failures are logged; the login itself has already succeeded.
func (e *Engine) upgradeHash(ctx context.Context, tc tenant.Context, p *store.Principal, pw string) {
	needs, err := e.hasher.NeedsUpgrade(p.PasswordHash)
	if err != nil || !needs {
		return
	}
	derived, err := e.hasher.Hash(pw)
	if err != nil {
		e.log.WithError(err).WithField("principal_id", p.PrincipalID).Warn("password rehash failed")
		return
	}
	if err := e.db.Scoped(tc).UpdatePasswordHash(ctx, p.PrincipalID, derived.Hash, derived.Salt); err != nil {
		e.log.WithError(err).WithField("principal_id", p.PrincipalID).Warn("password rehash not stored")
		return
	}
	e.metricInc(metrics.PasswordRehashed)
	e.emitAudit(ctx, auditEventPasswordRehashed, true, p.PrincipalID, string(tc.ID()), nil, nil)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
