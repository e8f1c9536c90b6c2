package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10

	// SchemeArgon2id is the default key-derivation scheme.
	SchemeArgon2id = "argon2id"
	// SchemePBKDF2 is the PBKDF2-HMAC-SHA256 scheme kept for legacy credentials.
	SchemePBKDF2 = "pbkdf2-sha256"
)

// ErrPasswordTooShort is returned by Hash for passwords under the minimum length.
var ErrPasswordTooShort = errors.New("password must be at least 10 bytes")

// Config holds the key-derivation cost parameters.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Scheme           string `yaml:"scheme"`
	Memory           uint32 `yaml:"memory_kb"`
	Time             uint32 `yaml:"time"`
	Parallelism      uint8  `yaml:"parallelism"`
	PBKDF2Iterations uint32 `yaml:"pbkdf2_iterations"`
	SaltLength       uint32 `yaml:"salt_length"`
	KeyLength        uint32 `yaml:"key_length"`
}

// DefaultConfig returns argon2id parameters suitable for interactive logins.
func DefaultConfig() Config {
	return Config{
		Scheme:           SchemeArgon2id,
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		PBKDF2Iterations: 600_000,
		SaltLength:       16,
		KeyLength:        32,
	}
}

// Derived is the persisted output of Hash. Hash is the scheme-tagged derived
// key; Salt is stored alongside it in its own column.
type Derived struct {
	Hash string
	Salt []byte
}

// Hasher derives and verifies password hashes. It performs no I/O and is safe
// for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = SchemeArgon2id
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return &Hasher{config: cfg}, nil
}

// Hash derives a key from password under a fresh random salt.
//
// Hash may return an error when the password is shorter than the minimum or
// the system random source fails.
func (h *Hasher) Hash(password string) (Derived, error) {
	// Password processing uses raw string bytes exactly as provided (no Unicode normalization).
	if len(password) < minPassBytes {
		return Derived{}, ErrPasswordTooShort
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Derived{}, err
	}

	switch h.config.Scheme {
	case SchemePBKDF2:
		key := pbkdf2Key(password, salt, h.config.PBKDF2Iterations, h.config.KeyLength)
		return Derived{Hash: encodePBKDF2(h.config.PBKDF2Iterations, key), Salt: salt}, nil
	default:
		key := argon2.IDKey(
			[]byte(password),
			salt,
			h.config.Time,
			h.config.Memory,
			h.config.Parallelism,
			h.config.KeyLength,
		)
		return Derived{
			Hash: fmt.Sprintf(
				"$%s$v=%d$m=%d,t=%d,p=%d$%s",
				SchemeArgon2id,
				argon2.Version,
				h.config.Memory,
				h.config.Time,
				h.config.Parallelism,
				base64.RawStdEncoding.EncodeToString(key),
			),
			Salt: salt,
		}, nil
	}
}

// Verify re-derives password with the stored salt and parameters and compares
// the result in constant time.
//
// A malformed hash or salt yields a *CredentialFormatError, never (false, nil).
func (h *Hasher) Verify(password string, encodedHash string, salt []byte) (bool, error) {
	if len(salt) < int(minSaltLength) {
		return false, formatError("invalid salt length")
	}

	parsed, err := parseEncoded(encodedHash)
	if err != nil {
		return false, err
	}

	var computed []byte
	switch parsed.scheme {
	case SchemePBKDF2:
		computed = pbkdf2Key(password, salt, parsed.iterations, parsed.keyLength)
	default:
		computed = argon2.IDKey(
			[]byte(password),
			salt,
			parsed.time,
			parsed.memory,
			parsed.parallelism,
			parsed.keyLength,
		)
	}

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced by a different scheme
// or weaker parameters than the current configuration.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parseEncoded(encodedHash)
	if err != nil {
		return false, err
	}

	if parsed.scheme != h.config.Scheme {
		return true, nil
	}
	if parsed.keyLength != h.config.KeyLength {
		return true, nil
	}
	if parsed.scheme == SchemePBKDF2 {
		return h.config.PBKDF2Iterations > parsed.iterations, nil
	}
	if h.config.Memory > parsed.memory {
		return true, nil
	}
	if h.config.Time > parsed.time {
		return true, nil
	}
	if h.config.Parallelism > parsed.parallelism {
		return true, nil
	}

	return false, nil
}

type parsedHash struct {
	scheme      string
	memory      uint32
	time        uint32
	parallelism uint8
	iterations  uint32
	key         []byte
	keyLength   uint32
}

func parseEncoded(encodedHash string) (*parsedHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) < 2 || parts[0] != "" {
		return nil, formatError("invalid hash format")
	}

	switch parts[1] {
	case SchemeArgon2id:
		return parseArgon2(parts)
	case SchemePBKDF2:
		return parsePBKDF2(parts)
	default:
		return nil, formatError("unsupported algorithm")
	}
}

func parseArgon2(parts []string) (*parsedHash, error) {
	if len(parts) != 5 {
		return nil, formatError("invalid argon2id format")
	}

	versionPart := parts[2]
	if !strings.HasPrefix(versionPart, "v=") {
		return nil, formatError("missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil {
		return nil, formatError("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, formatError("unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	key, err := decodeKey(parts[4])
	if err != nil {
		return nil, err
	}

	params.scheme = SchemeArgon2id
	params.key = key
	params.keyLength = uint32(len(key))
	return params, nil
}

func parseParams(part string) (*parsedHash, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, formatError("invalid parameter format")
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             parsedHash
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, formatError("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, formatError("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, formatError("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, formatError("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, formatError("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, formatError("missing parameters")
	}

	return &params, nil
}

func decodeKey(part string) ([]byte, error) {
	key, err := base64.RawStdEncoding.DecodeString(part)
	if err != nil {
		return nil, formatError("invalid hash encoding")
	}
	if len(key) < int(minKeyLength) {
		return nil, formatError("invalid hash length")
	}
	return key, nil
}

func validateConfig(cfg Config) error {
	switch cfg.Scheme {
	case SchemeArgon2id:
		if cfg.Memory < minMemoryKB {
			return errors.New("password memory must be >= 8192 KB")
		}
		if cfg.Time < minTimeCost {
			return errors.New("password time must be >= 1")
		}
		if cfg.Parallelism < minParallelism {
			return errors.New("password parallelism must be >= 1")
		}
	case SchemePBKDF2:
		if cfg.PBKDF2Iterations < minPBKDF2Iterations {
			return errors.New("password pbkdf2 iterations must be >= 100000")
		}
	default:
		return fmt.Errorf("unsupported password scheme %q", cfg.Scheme)
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
