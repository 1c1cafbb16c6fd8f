package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of session ids and invitation tokens.
const tokenBytes = 32

// GenerateToken returns 32 random bytes as 64 lowercase hex characters.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateSessionID returns a new session id, which is also the cookie value.
func GenerateSessionID() (string, error) {
	return GenerateToken()
}

// GenerateInvitationToken returns a new invitation token.
func GenerateInvitationToken() (string, error) {
	return GenerateToken()
}
