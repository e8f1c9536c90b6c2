// Package config assembles daemon settings from an optional YAML file, an
// optional .env file and IDENTITY_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IDENTITY_"

// Settings is everything identityd needs to start.
type Settings struct {
	Engine   goIdentity.Config `yaml:"engine"`
	Database DatabaseSettings  `yaml:"database"`
	Redis    RedisSettings     `yaml:"redis"`
	HTTP     HTTPSettings      `yaml:"http"`
	Log      LogSettings       `yaml:"log"`
	// KeyFile holds the signing key (PEM for ed25519, raw secret for hs256).
	KeyFile string `yaml:"key_file"`
	// RetiredKeys list previous signing keys that keep verifying until
	// retired_at plus the engine's JWT grace.
	RetiredKeys []RetiredKeySettings `yaml:"retired_keys"`
}

// RetiredKeySettings points at a previous signing key. For ed25519 the file
// may hold either the private or the public key.
type RetiredKeySettings struct {
	ID        string    `yaml:"id"`
	File      string    `yaml:"file"`
	RetiredAt time.Time `yaml:"retired_at"`
}

type DatabaseSettings struct {
	Driver       string `yaml:"driver"`
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisSettings configures the Streams broker and the login throttle. An
// empty URL runs the daemon with the in-memory broker and no throttle.
type RedisSettings struct {
	URL          string        `yaml:"url"`
	Stream       string        `yaml:"stream"`
	Group        string        `yaml:"group"`
	DialAttempts uint64        `yaml:"dial_attempts"`
	Block        time.Duration `yaml:"block"`
	ReclaimIdle  time.Duration `yaml:"reclaim_idle"`
}

type HTTPSettings struct {
	Addr              string        `yaml:"addr"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns settings for a single-node deployment on SQLite.
func Default() Settings {
	return Settings{
		Engine: goIdentity.DefaultConfig(),
		Database: DatabaseSettings{
			Driver: string(store.SQLite),
			URL:    "identity.db",
		},
		Redis: RedisSettings{
			Stream:       "identity.events",
			Group:        "identityd",
			DialAttempts: 5,
			Block:        2 * time.Second,
			ReclaimIdle:  time.Minute,
		},
		HTTP: HTTPSettings{
			Addr:              ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogSettings{Level: "info", Format: "json"},
	}
}

// Load reads path (skipped when empty), then envFiles (".env" when none are
// given; missing files are ignored), then the process environment, and
// validates the result.
func Load(path string, envFiles ...string) (*Settings, error) {
	return load(path, envFiles, os.LookupEnv)
}

func load(path string, envFiles []string, lookup func(string) (string, bool)) (*Settings, error) {
	s := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	get := func(name string) (string, bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+name]
		return v, ok
	}
	if err := applyEnv(&s, get); err != nil {
		return nil, err
	}

	if err := s.loadKeys(get); err != nil {
		return nil, err
	}
	if s.Redis.URL == "" {
		// Nothing to count attempts in.
		s.Engine.Security.EnableLoginThrottle = false
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}
	out := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
		for k, v := range vals {
			out[k] = v
		}
	}
	return out, nil
}

func applyEnv(s *Settings, get func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("DATABASE_DRIVER", &s.Database.Driver)
	str("DATABASE_URL", &s.Database.URL)
	integer("DATABASE_MAX_OPEN_CONNS", &s.Database.MaxOpenConns)
	str("REDIS_URL", &s.Redis.URL)
	str("STREAM", &s.Redis.Stream)
	str("HTTP_ADDR", &s.HTTP.Addr)
	str("LOG_LEVEL", &s.Log.Level)
	str("LOG_FORMAT", &s.Log.Format)
	str("KEY_FILE", &s.KeyFile)

	str("JWT_METHOD", &s.Engine.JWT.SigningMethod)
	str("JWT_KEY_ID", &s.Engine.JWT.KeyID)
	str("JWT_ISSUER", &s.Engine.JWT.Issuer)
	str("JWT_AUDIENCE", &s.Engine.JWT.Audience)
	duration("JWT_LIFETIME", &s.Engine.JWT.Lifetime)

	if v, ok := get("JWT_RETIRED_KEYS"); ok {
		keys, err := parseRetiredKeys(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sJWT_RETIRED_KEYS: %w", EnvPrefix, err))
		} else {
			s.RetiredKeys = keys
		}
	}

	boolean("LOGIN_THROTTLE", &s.Engine.Security.EnableLoginThrottle)
	integer("MAX_LOGIN_ATTEMPTS", &s.Engine.Security.MaxLoginAttempts)
	duration("LOGIN_COOLDOWN", &s.Engine.Security.LoginCooldownDuration)

	str("CONSUMER_NAME", &s.Engine.Consumer.Name)
	str("SOURCE_SERVICE", &s.Engine.Outbox.SourceService)
	str("CODEC", &s.Engine.Outbox.Codec)
	boolean("METRICS_ENABLED", &s.Engine.Metrics.Enabled)
	boolean("AUDIT_ENABLED", &s.Engine.Audit.Enabled)

	return errors.Join(errs...)
}

// loadKeys fills the signing key from IDENTITY_JWT_KEY (inline) or the key
// file, then reads the retired keys. Key material never comes from YAML.
func (s *Settings) loadKeys(get func(string) (string, bool)) error {
	if v, ok := get("JWT_KEY"); ok && strings.TrimSpace(v) != "" {
		s.Engine.JWT.PrivateKey = []byte(v)
	} else if s.KeyFile != "" {
		raw, err := s.readKeyFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("config: key file: %w", err)
		}
		s.Engine.JWT.PrivateKey = raw
	}

	retired := make([]jwt.RetiredKey, 0, len(s.RetiredKeys))
	for _, rk := range s.RetiredKeys {
		if strings.TrimSpace(rk.ID) == "" || rk.File == "" {
			return errors.New("config: retired key needs an id and a file")
		}
		if rk.RetiredAt.IsZero() {
			return fmt.Errorf("config: retired key %q needs retired_at", rk.ID)
		}
		raw, err := s.readKeyFile(rk.File)
		if err != nil {
			return fmt.Errorf("config: retired key %q: %w", rk.ID, err)
		}
		key := jwt.Key{ID: rk.ID, PrivateKey: raw}
		if bytes.Contains(raw, []byte("PUBLIC KEY")) {
			key = jwt.Key{ID: rk.ID, PublicKey: raw}
		}
		retired = append(retired, jwt.RetiredKey{Key: key, RetiredAt: rk.RetiredAt})
	}
	if len(retired) > 0 {
		s.Engine.JWT.RetiredKeys = retired
	}
	return nil
}

func (s *Settings) readKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if s.Engine.JWT.SigningMethod == "hs256" {
		raw = bytes.TrimSpace(raw)
	}
	return raw, nil
}

// parseRetiredKeys reads "id=file@retired_at" entries separated by commas.
// retired_at is RFC 3339.
func parseRetiredKeys(v string) ([]RetiredKeySettings, error) {
	var out []RetiredKeySettings
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, rest, ok := strings.Cut(entry, "=")
		at := strings.LastIndex(rest, "@")
		if !ok || at < 0 {
			return nil, fmt.Errorf("entry %q: want id=file@retired_at", entry)
		}
		retiredAt, err := time.Parse(time.RFC3339, rest[at+1:])
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		out = append(out, RetiredKeySettings{
			ID:        strings.TrimSpace(id),
			File:      rest[:at],
			RetiredAt: retiredAt,
		})
	}
	return out, nil
}

// Validate checks the daemon settings and the embedded engine config.
func (s *Settings) Validate() error {
	switch store.Dialect(s.Database.Driver) {
	case store.Postgres, store.SQLite:
	default:
		return fmt.Errorf("config: unsupported database driver %q", s.Database.Driver)
	}
	if strings.TrimSpace(s.Database.URL) == "" {
		return errors.New("config: database url is required")
	}
	if strings.TrimSpace(s.HTTP.Addr) == "" {
		return errors.New("config: http addr is required")
	}
	if s.HTTP.RequestsPerSecond <= 0 || s.HTTP.Burst <= 0 {
		return errors.New("config: http rate limit must be > 0")
	}
	if s.Redis.URL != "" && strings.TrimSpace(s.Redis.Stream) == "" {
		return errors.New("config: redis stream is required")
	}
	if err := s.Engine.Validate(); err != nil {
		return fmt.Errorf("config: engine: %w", err)
	}
	return nil
}
