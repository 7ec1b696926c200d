package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// MaxKeyLen bounds the user part of a storage key; longer keys are hashed.
const MaxKeyLen = 200

// StorageKey builds "<kind>:<ns>:<view>:<key>". A key longer than MaxKeyLen is
// replaced by "#" and the first 16 bytes of its SHA-256, hex encoded.
func StorageKey(kind, ns, view, key string) string {
	if len(key) > MaxKeyLen {
		sum := sha256.Sum256([]byte(key))
		key = "#" + hex.EncodeToString(sum[:16])
	}
	return kind + ":" + ns + ":" + view + ":" + key
}
