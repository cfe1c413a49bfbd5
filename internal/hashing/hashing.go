// Package hashing provides content fingerprints for change detection and
// deterministic document IDs for files in a vault.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"
)

const pathPrefix = "note:"

// Content returns a 128-bit XXH3 digest of b as 32 lowercase hex characters.
// It is a staleness fingerprint, not a security primitive.
func Content(b []byte) string {
	sum := xxh3.Hash128(b).Bytes()
	return hex.EncodeToString(sum[:])
}

// ContentString is Content for string input.
func ContentString(s string) string {
	return Content([]byte(s))
}

// PathID returns a stable document ID for a vault-relative path.
// Same path always yields the same ID, independent of OS separators.
func PathID(relPath string) string {
	normalized := filepath.ToSlash(filepath.Clean(relPath))
	hash := sha256.Sum256([]byte(normalized))
	return pathPrefix + hex.EncodeToString(hash[:16])
}

// IsPathID reports whether s has the shape of an ID returned by PathID.
func IsPathID(s string) bool {
	if !strings.HasPrefix(s, pathPrefix) {
		return false
	}
	_, err := hex.DecodeString(s[len(pathPrefix):])
	return err == nil && len(s) == len(pathPrefix)+32
}
