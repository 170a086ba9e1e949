package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns a stable key for memcached and s3 paths.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
