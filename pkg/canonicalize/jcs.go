// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and hashing so that proposal IDs, audit chain links, and
// archive digests are stable across processes and backends.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// Map keys are sorted by UTF-8 bytes and HTML escaping is disabled.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON
// representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns a hex string.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Preview returns a deterministic truncated preview of text, suitable for
// logging content that must not be recorded in full. Truncation lands on a
// rune boundary so the preview stays valid UTF-8.
func Preview(text string) string {
	const maxPreviewLen = 50
	runes := []rune(text)
	if len(runes) <= maxPreviewLen {
		return text
	}
	return string(runes[:maxPreviewLen]) + "..."
}
