package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ZeroHash is the predecessor hash of a genesis record: 64 hex zeros.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashBytes returns the lower-case hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashValue canonicalizes v and returns the hex SHA-256 of the canonical
// bytes. Returns an error if v cannot be canonicalized.
func HashValue(v Value) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// StableID computes a content-derived identifier: the hex SHA-256 over the
// canonicalized tuple of its inputs. The same parts always produce the same
// id across restarts, hosts, and replays. Random identifiers are forbidden
// in the engine; every identity flows through here.
func StableID(parts ...Value) (string, error) {
	b, err := Marshal(Array(parts))
	if err != nil {
		return "", fmt.Errorf("stable id: %w", err)
	}
	return HashBytes(b), nil
}

// MustStableID is like StableID but panics on error. Use only in tests or
// when the parts are known to be canonicalizable.
func MustStableID(parts ...Value) string {
	id, err := StableID(parts...)
	if err != nil {
		panic(err)
	}
	return id
}

// IsHexHash reports whether s looks like a hex SHA-256 digest: exactly 64
// lower-case hex characters. Used by record validation.
func IsHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
