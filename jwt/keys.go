package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minHMACKeyBytes = 32

// Key is one signing key. For HS256 PrivateKey is the shared secret and
// PublicKey is ignored. For Ed25519 PrivateKey may be empty on verify-only
// nodes; keys are accepted raw or PEM-encoded.
type Key struct {
	ID         string
	PrivateKey []byte
	PublicKey  []byte
}

// RetiredKey is a previously active key that still verifies tokens until
// RetiredAt plus the grace period.
type RetiredKey struct {
	Key       Key
	RetiredAt time.Time
}

type loadedKey struct {
	id        string
	sign      interface{}
	verify    interface{}
	retiredAt time.Time
}

// keyring is immutable once published; rotation builds a new one.
type keyring struct {
	current loadedKey
	retired []loadedKey
}

func (k *keyring) lookup(kid string, now time.Time, grace time.Duration) (interface{}, bool) {
	if kid == k.current.id {
		return k.current.verify, true
	}
	for _, r := range k.retired {
		if r.id == kid && !now.After(r.retiredAt.Add(grace)) {
			return r.verify, true
		}
	}
	return nil, false
}

func (k *keyring) prune(now time.Time, grace time.Duration) {
	kept := k.retired[:0]
	for _, r := range k.retired {
		if !now.After(r.retiredAt.Add(grace)) {
			kept = append(kept, r)
		}
	}
	k.retired = kept
}

func loadKey(method SigningMethod, key Key, requireSign bool) (loadedKey, error) {
	id := strings.TrimSpace(key.ID)
	if id == "" {
		return loadedKey{}, errors.New("key id is required")
	}

	switch method {
	case MethodHS256:
		if len(key.PrivateKey) < minHMACKeyBytes {
			return loadedKey{}, fmt.Errorf("hs256 key %q must be at least %d bytes", id, minHMACKeyBytes)
		}
		secret := append([]byte(nil), key.PrivateKey...)
		return loadedKey{id: id, sign: secret, verify: secret}, nil
	case MethodEd25519:
		out := loadedKey{id: id}
		if len(key.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(key.PrivateKey)
			if err != nil {
				return loadedKey{}, fmt.Errorf("key %q: %w", id, err)
			}
			out.sign = priv
			out.verify = priv.Public().(ed25519.PublicKey)
		} else if requireSign {
			return loadedKey{}, fmt.Errorf("ed25519 signing key %q requires a private key", id)
		}
		if len(key.PublicKey) > 0 {
			pub, err := parseEdPublicKey(key.PublicKey)
			if err != nil {
				return loadedKey{}, fmt.Errorf("key %q: %w", id, err)
			}
			out.verify = pub
		}
		if out.verify == nil {
			return loadedKey{}, fmt.Errorf("ed25519 key %q requires a public or private key", id)
		}
		return out, nil
	default:
		return loadedKey{}, errors.New("unsupported signing method")
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
