package jwt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/permission"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// DefaultLifetime is the credential lifetime when Config.Lifetime is zero.
const DefaultLifetime = 60 * time.Minute

// Config defines issuance and validation settings.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Lifetime      time.Duration
	SigningMethod SigningMethod
	SigningKey    Key
	// RetiredKeys verify tokens issued before a rotation that happened in a
	// previous process.
	RetiredKeys []RetiredKey
	// Grace is how long a retired key keeps verifying. Zero means Lifetime.
	Grace        time.Duration
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Subject identifies the authenticated principal a credential is issued for.
type Subject struct {
	PrincipalID string
	TenantID    string
}

// Claims is the wire claim set.
type Claims struct {
	PID   string   `json:"pid"`
	TID   string   `json:"tid"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Credential is the validated, read-only view of a token.
type Credential struct {
	PrincipalID string
	TenantID    string
	Roles       []permission.Role
	TokenID     string
	KeyID       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasRole reports whether the credential carries role.
func (c *Credential) HasRole(role permission.Role) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Issuer signs credentials with the current key and validates credentials
// signed by the current key or a retired key still inside its grace period.
// It is safe for concurrent use; Rotate swaps the keyring atomically.
type Issuer struct {
	config Config
	method jwt.SigningMethod
	roles  *permission.RoleManager
	parser *jwt.Parser

	rotateMu sync.Mutex
	keys     atomic.Pointer[keyring]
}

// NewIssuer validates cfg and loads the keyring. roles is the closed role set
// enforced on both issuance and validation.
func NewIssuer(cfg Config, roles *permission.RoleManager) (*Issuer, error) {
	if roles == nil {
		return nil, errors.New("role manager is required")
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Lifetime < 0 {
		return nil, errors.New("invalid lifetime configuration")
	}
	if cfg.Grace == 0 {
		cfg.Grace = cfg.Lifetime
	}
	if cfg.Grace < 0 {
		return nil, errors.New("invalid grace configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var method jwt.SigningMethod
	switch cfg.SigningMethod {
	case MethodHS256:
		method = jwt.SigningMethodHS256
	case MethodEd25519:
		method = jwt.SigningMethodEdDSA
	default:
		return nil, errors.New("unsupported signing method")
	}

	current, err := loadKey(cfg.SigningMethod, cfg.SigningKey, true)
	if err != nil {
		return nil, err
	}
	ring := &keyring{current: current}
	for _, rk := range cfg.RetiredKeys {
		loaded, err := loadKey(cfg.SigningMethod, rk.Key, false)
		if err != nil {
			return nil, err
		}
		if loaded.id == current.id {
			return nil, fmt.Errorf("retired key %q reuses the signing key id", loaded.id)
		}
		loaded.retiredAt = rk.RetiredAt
		ring.retired = append(ring.retired, loaded)
	}
	ring.prune(cfg.Now(), cfg.Grace)

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}

	iss := &Issuer{
		config: cfg,
		method: method,
		roles:  roles,
		parser: jwt.NewParser(options...),
	}
	iss.keys.Store(ring)
	return iss, nil
}

// Issue signs a credential for sub carrying roles. Every role must belong to
// the registered set.
func (i *Issuer) Issue(sub Subject, roles []permission.Role) (string, error) {
	if strings.TrimSpace(sub.PrincipalID) == "" || strings.TrimSpace(sub.TenantID) == "" {
		return "", errors.New("principal and tenant are required")
	}
	for _, r := range roles {
		if !i.roles.Known(r) {
			return "", fmt.Errorf("%w: %q", permission.ErrUnknownRole, r)
		}
	}

	now := i.config.Now()
	claims := Claims{
		PID:   sub.PrincipalID,
		TID:   sub.TenantID,
		Roles: permission.RoleNames(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.PrincipalID,
			Issuer:    i.config.Issuer,
			Audience:  jwt.ClaimStrings{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.Lifetime)),
		},
	}

	ring := i.keys.Load()
	token := jwt.NewWithClaims(i.method, claims)
	token.Header["kid"] = ring.current.id

	return token.SignedString(ring.current.sign)
}

// Validate verifies signature, expiry, issuer and audience of tokenStr.
// The returned error carries the detailed reason and is nil only for
// OutcomeValid.
func (i *Issuer) Validate(tokenStr string) (*Credential, Outcome, error) {
	ring := i.keys.Load()
	now := i.config.Now()

	kid, key, outcome, err := i.verifySignature(ring, tokenStr, now)
	if err != nil {
		return nil, outcome, err
	}

	token, err := i.parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, classify(err), err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, OutcomeMalformed, errClaims
	}
	if claims.IssuedAt == nil {
		return nil, OutcomeMalformed, fmt.Errorf("%w: missing iat", errClaims)
	}
	if claims.IssuedAt.Time.After(now.Add(i.config.MaxFutureIAT)) {
		return nil, OutcomeMalformed, fmt.Errorf("%w: iat too far in the future", errClaims)
	}
	if claims.PID == "" || claims.TID == "" {
		return nil, OutcomeMalformed, fmt.Errorf("%w: missing principal or tenant", errClaims)
	}
	roles, err := i.roles.ParseAll(claims.Roles)
	if err != nil {
		return nil, OutcomeMalformed, fmt.Errorf("%w: %w", errClaims, err)
	}

	return &Credential{
		PrincipalID: claims.PID,
		TenantID:    claims.TID,
		Roles:       roles,
		TokenID:     claims.ID,
		KeyID:       kid,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, OutcomeValid, nil
}

// verifySignature checks the signature over the raw header and payload
// segments before any claim is decoded, so a payload altered in any byte is
// a signature mismatch rather than a decoding failure.
func (i *Issuer) verifySignature(ring *keyring, tokenStr string, now time.Time) (string, interface{}, Outcome, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return "", nil, OutcomeMalformed, fmt.Errorf("%w: token contains an invalid number of segments", jwt.ErrTokenMalformed)
	}

	rawHeader, err := i.parser.DecodeSegment(parts[0])
	if err != nil {
		return "", nil, OutcomeMalformed, fmt.Errorf("%w: header: %v", jwt.ErrTokenMalformed, err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return "", nil, OutcomeMalformed, fmt.Errorf("%w: header: %v", jwt.ErrTokenMalformed, err)
	}
	if header.Kid == "" {
		return "", nil, OutcomeMalformed, errMissingKID
	}
	if header.Alg != i.method.Alg() {
		return "", nil, OutcomeSignatureMismatch, fmt.Errorf("%w: unexpected alg %q", jwt.ErrTokenSignatureInvalid, header.Alg)
	}

	key, ok := ring.lookup(header.Kid, now, i.config.Grace)
	if !ok {
		return "", nil, OutcomeSignatureMismatch, errUnknownKID
	}
	sig, err := i.parser.DecodeSegment(parts[2])
	if err != nil {
		return "", nil, OutcomeSignatureMismatch, fmt.Errorf("%w: %v", jwt.ErrTokenSignatureInvalid, err)
	}
	if err := i.method.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return "", nil, OutcomeSignatureMismatch, fmt.Errorf("%w: %v", jwt.ErrTokenSignatureInvalid, err)
	}
	return header.Kid, key, OutcomeValid, nil
}

// Rotate makes next the signing key. The previous signing key keeps
// verifying for the grace period; retired keys past their grace are dropped.
func (i *Issuer) Rotate(next Key) error {
	loaded, err := loadKey(i.config.SigningMethod, next, true)
	if err != nil {
		return err
	}

	i.rotateMu.Lock()
	defer i.rotateMu.Unlock()

	old := i.keys.Load()
	if loaded.id == old.current.id {
		return fmt.Errorf("key id %q is already the signing key", loaded.id)
	}
	for _, r := range old.retired {
		if r.id == loaded.id {
			return fmt.Errorf("key id %q was already retired", loaded.id)
		}
	}

	now := i.config.Now()
	previous := old.current
	previous.retiredAt = now
	ring := &keyring{
		current: loaded,
		retired: append(append([]loadedKey(nil), old.retired...), previous),
	}
	ring.prune(now, i.config.Grace)
	i.keys.Store(ring)
	return nil
}

// SigningKeyID returns the id of the key used for new credentials.
func (i *Issuer) SigningKeyID() string {
	return i.keys.Load().current.id
}

// VerifyKeyIDs returns the ids that currently verify, signing key first.
func (i *Issuer) VerifyKeyIDs() []string {
	ring := i.keys.Load()
	now := i.config.Now()
	ids := []string{ring.current.id}
	for _, r := range ring.retired {
		if !now.After(r.retiredAt.Add(i.config.Grace)) {
			ids = append(ids, r.id)
		}
	}
	return ids
}

// Lifetime returns the configured credential lifetime.
func (i *Issuer) Lifetime() time.Duration {
	return i.config.Lifetime
}
