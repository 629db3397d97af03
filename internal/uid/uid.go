// Package uid provides upload session identifier generation and validation
// for Sealbox.
package uid

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"
)

// idLen is the length of generated session identifiers.
const idLen = 32

// maxIDLen is the maximum accepted identifier length on lookup.
const maxIDLen = 64

// idPattern matches URL-safe identifiers. Anything outside this charset is
// rejected before any filesystem path is built from the id, which is the sole
// defense against path traversal.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// New generates a 32-character URL-safe session identifier using crypto/rand.
// Identifiers are never derived from client input, so a collision with a live
// session cannot be forced.
func New() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		// Fallback: timestamp-based ID. Should never happen with crypto/rand.
		return fmt.Sprintf("%032x", time.Now().UnixNano())[:idLen]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Valid reports whether candidate is safe to use as a session identifier:
// non-empty, at most 64 characters, and composed solely of [A-Za-z0-9_-].
func Valid(candidate string) bool {
	if candidate == "" || len(candidate) > maxIDLen {
		return false
	}
	return idPattern.MatchString(candidate)
}
