package goIdentity

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/store"
)

// Engine is the identity core: it registers principals, authenticates them,
// issues and validates credentials, and authorizes capabilities. Every state
// change appends an integration event to the outbox in the same transaction.
//
// Engine methods are safe for concurrent use after Build.
type Engine struct {
	config      Config
	db          *store.DB
	roles       *permission.RoleManager
	issuer      *jwt.Issuer
	hasher      *password.Hasher
	dummy       password.Derived
	rateLimiter *rate.Limiter
	audit       *audit.Dispatcher
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	notifiers   []func()
	now         func() time.Time
}

// Close flushes and stops the audit dispatcher. It does not close the store.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Shutdown is Close bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.audit.Shutdown(ctx)
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedFor reports the dropped audit events of one tenant.
func (e *Engine) AuditDroppedFor(tenantID string) uint64 {
	if e == nil {
		return 0
	}
	return e.audit.DroppedFor(tenantID)
}

// MetricsSnapshot returns a copy of the engine's counters.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	if e == nil {
		return metrics.Snapshot{
			Counters:   map[metrics.ID]uint64{},
			Histograms: map[metrics.ID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics returns the engine's collector for sharing with background workers.
func (e *Engine) Metrics() *metrics.Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Roles returns the closed role set.
func (e *Engine) Roles() *permission.RoleManager {
	if e == nil {
		return nil
	}
	return e.roles
}

func (e *Engine) metricInc(id metrics.ID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) notifyOutbox() {
	for _, fn := range e.notifiers {
		fn()
	}
}

// Validate verifies a bearer token. Every rejection returns
// ErrUnauthenticated; the specific outcome is counted and logged at Warn.
func (e *Engine) Validate(ctx context.Context, token string) (*jwt.Credential, error) {
	if e == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}
	cred, outcome, err := e.issuer.Validate(token)
	if !start.IsZero() {
		e.metrics.Observe(metrics.ValidateLatency, time.Since(start))
	}

	switch outcome {
	case jwt.OutcomeValid:
		e.metricInc(metrics.ValidateSuccess)
		return cred, nil
	case jwt.OutcomeExpired:
		e.metricInc(metrics.ValidateExpired)
	case jwt.OutcomeSignatureMismatch:
		e.metricInc(metrics.ValidateSignatureMismatch)
	case jwt.OutcomeInvalidAudience:
		e.metricInc(metrics.ValidateInvalidAudience)
	default:
		e.metricInc(metrics.ValidateMalformed)
	}

	e.log.WithError(err).WithField("outcome", outcome.String()).Warn("credential rejected")
	e.emitAudit(ctx, auditEventTokenRejected, false, "", "", ErrUnauthenticated, func() map[string]string {
		return map[string]string{"outcome": outcome.String()}
	})

	return nil, ErrUnauthenticated
}

// RotateSigningKey makes key the signing key. Credentials signed by the
// previous key keep validating for the configured grace period.
func (e *Engine) RotateSigningKey(ctx context.Context, key jwt.Key) error {
	if e == nil || e.issuer == nil {
		return ErrEngineNotReady
	}
	previous := e.issuer.SigningKeyID()
	if err := e.issuer.Rotate(key); err != nil {
		return err
	}

	e.metricInc(metrics.SigningKeyRotated)
	e.log.WithFields(logrus.Fields{
		"kid":          key.ID,
		"previous_kid": previous,
	}).Info("signing key rotated")
	e.emitAudit(ctx, auditEventSigningKeyRotated, true, "", "", nil, func() map[string]string {
		return map[string]string{"kid": key.ID, "previous_kid": previous}
	})
	return nil
}

// SigningKeyID returns the id of the key new credentials are signed with.
func (e *Engine) SigningKeyID() string {
	if e == nil || e.issuer == nil {
		return ""
	}
	return e.issuer.SigningKeyID()
}
