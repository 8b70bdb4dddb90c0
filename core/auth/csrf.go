package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// GenerateCSRF derives a per-session token from the app CSRF key, so a
// restarted server still recognizes tokens of live sessions.
func GenerateCSRF(key, sessionID string) (string, error) {
	if key == "" || sessionID == "" {
		return "", errors.New("csrf key and session id required")
	}
	m := hmac.New(sha256.New, []byte(key))
	if _, err := m.Write([]byte(sessionID)); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil)), nil
}
