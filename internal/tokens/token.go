// token.go -- Opaque session token generation, hashing, and masking.
//
// Raw tokens go to the client; only their SHA-256 hash is ever written to the store.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// hintLen is how many trailing characters of a raw token are kept for masked listing.
const hintLen = 4

// generateToken returns a 256-bit random token, base64url-encoded.
func generateToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating token with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// hashToken returns the store-side identifier of a raw token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// hashesEqual compares two token hashes in constant time.
func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// hint keeps the last hintLen characters of token.
func hint(token string) string {
	if len(token) <= hintLen {
		return ""
	}
	return token[len(token)-hintLen:]
}

// Mask renders a token hint for display.
func Mask(hint string) string {
	return strings.Repeat("*", 8) + hint
}
