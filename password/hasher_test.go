package password

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func secureConfig() Config {
	return Config{
		Scheme:      SchemeArgon2id,
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func fastConfig() Config {
	return Config{
		Scheme:      SchemeArgon2id,
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	derived, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(derived.Hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected encoded prefix: %s", derived.Hash)
	}
	if len(derived.Salt) != 16 {
		t.Fatalf("expected 16-byte salt, got %d", len(derived.Salt))
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", derived.Hash, derived.Salt)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	derived, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	for _, candidate := range []string{"wrong-password", "correct-passwordx", "Correct-password", ""} {
		ok, err := hasher.Verify(candidate, derived.Hash, derived.Salt)
		if err != nil {
			t.Fatalf("Verify(%q) error: %v", candidate, err)
		}
		if ok {
			t.Fatalf("expected %q to fail verification", candidate)
		}
	}
}

func TestVerifyRejectsForeignSalt(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	a, err := hasher.Hash("shared-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := hasher.Hash("shared-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("shared-password", a.Hash, b.Salt)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected hash paired with another credential's salt to fail")
	}
}

func TestHashIsSalted(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	first, err := hasher.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	second, err := hasher.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if first.Hash == second.Hash {
		t.Fatal("expected distinct derived hashes for the same password")
	}
	if bytes.Equal(first.Salt, second.Salt) {
		t.Fatal("expected distinct salts for the same password")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	if _, err := hasher.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestPBKDF2HashAndVerify(t *testing.T) {
	cfg := fastConfig()
	cfg.Scheme = SchemePBKDF2
	cfg.PBKDF2Iterations = 100_000

	hasher, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	derived, err := hasher.Hash("legacy-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(derived.Hash, "$pbkdf2-sha256$i=100000$") {
		t.Fatalf("unexpected encoded prefix: %s", derived.Hash)
	}

	argon, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	ok, err := argon.Verify("legacy-password", derived.Hash, derived.Salt)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected argon2id hasher to verify legacy pbkdf2 hash")
	}

	upgrade, err := argon.NeedsUpgrade(derived.Hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !upgrade {
		t.Fatal("expected pbkdf2 hash to need upgrade under argon2id config")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher, err := NewHasher(Config{
		Scheme:      SchemeArgon2id,
		Memory:      32768,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher(old) error: %v", err)
	}

	derived, err := oldHasher.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	newHasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher(new) error: %v", err)
	}

	upgrade, err := newHasher.NeedsUpgrade(derived.Hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !upgrade {
		t.Fatal("expected upgrade to be required")
	}

	same, err := oldHasher.NeedsUpgrade(derived.Hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if same {
		t.Fatal("expected no upgrade for identical parameters")
	}
}

func TestVerifyMalformedCredential(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	derived, err := hasher.Hash("valid-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	cases := []struct {
		name string
		hash string
		salt []byte
	}{
		{name: "short salt", hash: derived.Hash, salt: []byte("short")},
		{name: "empty hash", hash: "", salt: derived.Salt},
		{name: "unknown scheme", hash: "$bcrypt$v=1$m=1,t=1,p=1$AAAA", salt: derived.Salt},
		{name: "unsupported version", hash: strings.Replace(derived.Hash, "v=19", "v=16", 1), salt: derived.Salt},
		{name: "bad params", hash: strings.Replace(derived.Hash, "m=8192", "m=abc", 1), salt: derived.Salt},
		{name: "missing segment", hash: "$argon2id$v=19$m=8192,t=1,p=1", salt: derived.Salt},
		{name: "weak pbkdf2", hash: "$pbkdf2-sha256$i=1000$AAAAAAAAAAAAAAAAAAAAAA", salt: derived.Salt},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := hasher.Verify("valid-password", tc.hash, tc.salt)
			if ok {
				t.Fatal("malformed credential must never verify")
			}
			var formatErr *CredentialFormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("expected CredentialFormatError, got %v", err)
			}
			if !errors.Is(err, ErrCredentialFormat) {
				t.Fatalf("expected errors.Is ErrCredentialFormat, got %v", err)
			}
		})
	}
}

func TestNewHasherRejectsWeakConfig(t *testing.T) {
	cases := []Config{
		{Scheme: SchemeArgon2id, Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Scheme: SchemeArgon2id, Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Scheme: SchemePBKDF2, PBKDF2Iterations: 10_000, SaltLength: 16, KeyLength: 32},
		{Scheme: "md5", SaltLength: 16, KeyLength: 32},
	}
	for i, cfg := range cases {
		if _, err := NewHasher(cfg); err == nil {
			t.Fatalf("case %d: expected config to be rejected", i)
		}
	}
}
