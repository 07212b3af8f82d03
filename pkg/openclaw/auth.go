package openclaw

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewChallenge generates a random 32-byte challenge, hex encoded
func NewChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// Sign answers a gateway challenge with HMAC-SHA256 keyed by the gateway token
func Sign(token, challenge string) string {
	h := hmac.New(sha256.New, []byte(token))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a challenge signature in constant time
func Verify(token, challenge, signature string) bool {
	expected := Sign(token, challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
