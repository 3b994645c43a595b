// Package auth verifies bearer identity tokens issued by the external
// identity provider. Tokens are HMAC-signed over a base64url JSON claims
// payload; this package never issues credentials for end users itself,
// IssueToken exists for the provider's signing half and for tests.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

var encoding = base64.RawURLEncoding

// IssueToken signs claims into the payload.signature wire form.
func IssueToken(secret []byte, claims Claims) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := encoding.EncodeToString(body)
	return payload + "." + signPayload(secret, payload), nil
}

// ParseToken checks the signature before touching the payload and
// rejects tokens without a subject or past their expiry.
func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, found := strings.Cut(token, ".")
	if !found || payload == "" {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(signPayload(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	body, err := encoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	switch {
	case claims.Sub == "" || claims.Exp == 0:
		return Claims{}, ErrInvalidToken
	case time.Now().Unix() >= claims.Exp:
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func signPayload(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return encoding.EncodeToString(mac.Sum(nil))
}

// HashToken derives the opaque cache key for a token; raw tokens are
// never stored.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
