// Package consent bridges link sessions to a hosted consent page. The page
// completes the provider flow and reports back through signed callbacks.
package consent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of the derived signing key in bytes.
	KeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000

	signingSalt = "consent-state:v1"
)

var (
	// ErrInvalidSecret indicates the state secret is too short.
	ErrInvalidSecret = errors.New("invalid state secret: must be at least 32 characters")

	// ErrInvalidState indicates a callback state that fails verification.
	ErrInvalidState = errors.New("consent state mismatch")
)

// Signer produces and verifies callback state values bound to a session ID.
type Signer struct {
	key []byte
}

// NewSigner derives a signing key from secret.
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidSecret
	}
	key := pbkdf2.Key([]byte(secret), []byte(signingSalt), PBKDF2Iterations, KeySize, sha256.New)
	return &Signer{key: key}, nil
}

// Sign returns "<sessionID>.<mac>" in URL-safe base64.
func (s *Signer) Sign(sessionID string) string {
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(s.mac(sessionID))
}

// Verify returns the session ID carried by a state produced by Sign.
func (s *Signer) Verify(state string) (string, error) {
	i := strings.LastIndexByte(state, '.')
	if i <= 0 || i == len(state)-1 {
		return "", ErrInvalidState
	}
	sessionID, encoded := state[:i], state[i+1:]

	got, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidState
	}
	if !hmac.Equal(got, s.mac(sessionID)) {
		return "", ErrInvalidState
	}
	return sessionID, nil
}

func (s *Signer) mac(sessionID string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(sessionID))
	return h.Sum(nil)
}
