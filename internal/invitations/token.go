package invitations

import (
	"crypto/rand"
	"encoding/base64"
)

// generateToken returns a fresh URL-safe bearer token from 32 bytes of
// cryptographically strong randomness. The token is the sole credential for
// cross-context access to a session; it must never be guessable.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
