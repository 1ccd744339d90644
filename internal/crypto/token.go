package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

// GenerateToken returns a URL-safe bearer token backed by n random
// bytes. Device tokens use n=32.
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
