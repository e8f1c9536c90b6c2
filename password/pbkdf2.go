package password

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const minPBKDF2Iterations uint32 = 100_000

func pbkdf2Key(password string, salt []byte, iterations, keyLength uint32) []byte {
	return pbkdf2.Key([]byte(password), salt, int(iterations), int(keyLength), sha256.New)
}

func encodePBKDF2(iterations uint32, key []byte) string {
	return fmt.Sprintf("$%s$i=%d$%s", SchemePBKDF2, iterations, base64.RawStdEncoding.EncodeToString(key))
}

// $pbkdf2-sha256$i=<iterations>$<key>
func parsePBKDF2(parts []string) (*parsedHash, error) {
	if len(parts) != 4 {
		return nil, formatError("invalid pbkdf2 format")
	}
	if !strings.HasPrefix(parts[2], "i=") {
		return nil, formatError("missing pbkdf2 iterations")
	}
	iterations, err := strconv.ParseUint(strings.TrimPrefix(parts[2], "i="), 10, 32)
	if err != nil || iterations < uint64(minPBKDF2Iterations) {
		return nil, formatError("invalid pbkdf2 iterations")
	}

	key, err := decodeKey(parts[3])
	if err != nil {
		return nil, err
	}

	return &parsedHash{
		scheme:     SchemePBKDF2,
		iterations: uint32(iterations),
		key:        key,
		keyLength:  uint32(len(key)),
	}, nil
}
