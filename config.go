package goIdentity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/consumer"
	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/outbox"
	"github.com/MrEthical07/goIdentity/password"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override; Build validates it.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT      JWTConfig       `yaml:"jwt"`
	Password password.Config `yaml:"password"`
	Outbox   outbox.Config   `yaml:"outbox"`
	Consumer consumer.Config `yaml:"consumer"`
	Security SecurityConfig  `yaml:"security"`
	Audit    AuditConfig     `yaml:"audit"`
	Metrics  metrics.Config  `yaml:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects the signing algorithm and keys. Key material is never
// read from YAML; it is supplied through the environment or key files.
type JWTConfig struct {
	Lifetime      time.Duration `yaml:"lifetime"`
	SigningMethod string        `yaml:"signing_method"` // "ed25519" (default) or "hs256"
	KeyID         string        `yaml:"key_id"`
	PrivateKey    []byte        `yaml:"-"`
	PublicKey     []byte        `yaml:"-"`
	// RetiredKeys keep verifying tokens from before a restart-time rotation.
	RetiredKeys []jwt.RetiredKey `yaml:"-"`
	// Grace defaults to Lifetime.
	Grace    time.Duration `yaml:"grace"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	Leeway   time.Duration `yaml:"leeway"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig tunes the login throttle. The throttle needs Redis.
type SecurityConfig struct {
	EnableLoginThrottle   bool          `yaml:"enable_login_throttle"`
	EnableIPThrottle      bool          `yaml:"enable_ip_throttle"`
	MaxLoginAttempts      int           `yaml:"max_login_attempts"`
	LoginCooldownDuration time.Duration `yaml:"login_cooldown"`
	UpgradeHashOnLogin    bool          `yaml:"upgrade_hash_on_login"`
}

// AuditConfig controls the async audit pipeline.
type AuditConfig = audit.Config

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Signing keys are left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Lifetime:      jwt.DefaultLifetime,
			SigningMethod: string(jwt.MethodEd25519),
			KeyID:         "k1",
			Issuer:        "goidentity",
			Audience:      "goidentity-api",
		},
		Password: password.DefaultConfig(),
		Outbox:   outbox.DefaultConfig(),
		Consumer: consumer.DefaultConfig(),
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			EnableIPThrottle:      false,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			UpgradeHashOnLogin:    true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: metrics.Config{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if len(cfg.JWT.RetiredKeys) > 0 {
		out.JWT.RetiredKeys = make([]jwt.RetiredKey, len(cfg.JWT.RetiredKeys))
		for i, rk := range cfg.JWT.RetiredKeys {
			out.JWT.RetiredKeys[i] = jwt.RetiredKey{
				Key: jwt.Key{
					ID:         rk.Key.ID,
					PrivateKey: cloneBytes(rk.Key.PrivateKey),
					PublicKey:  cloneBytes(rk.Key.PublicKey),
				},
				RetiredAt: rk.RetiredAt,
			}
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field constraints. Component-level checks (key
// parsing, KDF parameters) run again when Build constructs the components.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.Lifetime <= 0 {
		return errors.New("JWT Lifetime must be > 0")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if strings.TrimSpace(c.JWT.KeyID) == "" {
		return errors.New("JWT KeyID is required")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" || strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Issuer and Audience are required")
	}
	if c.JWT.Grace < 0 {
		return errors.New("JWT Grace must be >= 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if err := c.Outbox.Validate(); err != nil {
		return err
	}
	if err := c.Consumer.Validate(); err != nil {
		return err
	}
	return nil
}
