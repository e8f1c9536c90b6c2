package goIdentity

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/store"
)

// timingPassword is hashed once at Build. Logins for unknown principals
// verify against it so both paths pay one KDF derivation.
const timingPassword = "goidentity-timing-equalizer"

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	db     *store.DB
	redis  redis.UniversalClient
	roles  *permission.RoleManager

	auditSink AuditSink
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	notifiers []func()
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the relational store. Required.
func (b *Builder) WithStore(db *store.DB) *Builder {
	b.db = db
	return b
}

// WithRedis sets the client backing the login throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRoleManager replaces the built-in role set. rm must be frozen.
func (b *Builder) WithRoleManager(rm *permission.RoleManager) *Builder {
	b.roles = rm
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// WithMetrics shares a collector with the outbox dispatcher and consumer so
// one exporter sees every counter. Config.Metrics is ignored when set.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithOutboxNotifier registers fn to run after every commit that appended
// outbox records, typically outbox.Dispatcher.Notify.
func (b *Builder) WithOutboxNotifier(fn func()) *Builder {
	if fn != nil {
		b.notifiers = append(b.notifiers, fn)
	}
	return b
}

// WithClock overrides time.Now for issuance and validation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and constructs the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.db == nil {
		return nil, errors.New("store required")
	}
	if cfg.Security.EnableLoginThrottle && b.redis == nil {
		return nil, errors.New("login throttle requires redis client")
	}

	roles := b.roles
	if roles == nil {
		rm, err := permission.NewDefaultRoleManager()
		if err != nil {
			return nil, err
		}
		roles = rm
	}
	if !roles.Frozen() {
		return nil, errors.New("role manager must be frozen")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	log := b.log
	if log == nil {
		log = logging.Discard()
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	dummy, err := hasher.Hash(timingPassword)
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}

	issuer, err := jwt.NewIssuer(jwt.Config{
		Lifetime:      cfg.JWT.Lifetime,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		SigningKey: jwt.Key{
			ID:         cfg.JWT.KeyID,
			PrivateKey: cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:  cloneBytes(cfg.JWT.PublicKey),
		},
		RetiredKeys: cfg.JWT.RetiredKeys,
		Grace:       cfg.JWT.Grace,
		Issuer:      cfg.JWT.Issuer,
		Audience:    cfg.JWT.Audience,
		Leeway:      cfg.JWT.Leeway,
		Now:         now,
	}, roles)
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	m := b.metrics
	if m == nil {
		m = metrics.New(cfg.Metrics)
	}

	engine := &Engine{
		config:    cfg,
		db:        b.db,
		roles:     roles,
		issuer:    issuer,
		hasher:    hasher,
		dummy:     dummy,
		audit:     audit.NewDispatcher(cfg.Audit, b.auditSink, audit.WithLogger(log.WithField("component", "audit"))),
		metrics:   m,
		log:       log,
		notifiers: append([]func(){}, b.notifiers...),
		now:       now,
	}
	if cfg.Security.EnableLoginThrottle {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		})
	}

	b.built = true

	return engine, nil
}
