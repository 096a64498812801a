package auth

import (
	"github.com/google/uuid"
)

// GenerateNonce mints a fresh client nonce (cnonce) for a qop=auth
// Digest response.
func GenerateNonce() (string, error) {
	return uuid.New().String(), nil
}
