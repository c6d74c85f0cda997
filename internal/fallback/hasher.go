package fallback

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// CacheKey computes the canonical cache key for a generative migration.
// Uses length-prefixed encoding to avoid delimiter ambiguity.
// Format: ${len}:${value}${len}:${value}...
// Algorithm: SHA-256, lowercase hex output.
func CacheKey(content, library, fromVersion, toVersion string) string {
	parts := []string{content, library, fromVersion, toVersion}

	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(strconv.Itoa(len(part)))
		sb.WriteString(":")
		sb.WriteString(part)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
