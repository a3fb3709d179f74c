package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// GenerateCSRF derives a deterministic CSRF token for a session id.
func GenerateCSRF(key, sessionID string) (string, error) {
	if key == "" {
		return "", errors.New("csrf key missing")
	}
	m := hmac.New(sha256.New, []byte(key))
	if _, err := m.Write([]byte(sessionID)); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil)), nil
}

func VerifyCSRF(key, sessionID, token string) bool {
	want, err := GenerateCSRF(key, sessionID)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
