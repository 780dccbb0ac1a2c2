// Package auth issues and validates the bearer tokens that identify users.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"portfolio_link/internal/models"
)

// DefaultTokenDuration is the default token lifetime.
const DefaultTokenDuration = 7 * 24 * time.Hour // 7 days

var (
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingSubject is returned when a token names no user.
	ErrMissingSubject = errors.New("token has no subject")
)

// TokenManager handles bearer token operations.
type TokenManager struct {
	secret   []byte
	issuer   string
	duration time.Duration
}

// NewTokenManager creates a TokenManager signing with secret. An empty
// issuer disables the issuer check.
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{
		secret:   []byte(secret),
		issuer:   issuer,
		duration: DefaultTokenDuration,
	}
}

// WithDuration sets a custom token lifetime.
func (tm *TokenManager) WithDuration(d time.Duration) *TokenManager {
	tm.duration = d
	return tm
}

// Issue creates a signed HMAC-SHA256 token for a user.
func (tm *TokenManager) Issue(userID string) (string, error) {
	if userID == "" {
		return "", ErrMissingSubject
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tm.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tm.duration)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate checks a token and returns the user ID it was issued to.
func (tm *TokenManager) Validate(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrTokenExpired
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// Credentials validates a token and returns the credential the backend
// functions expect: the user ID plus the raw bearer token.
func (tm *TokenManager) Credentials(tokenString string) (models.Credentials, error) {
	userID, err := tm.Validate(tokenString)
	if err != nil {
		return models.Credentials{}, err
	}
	return models.Credentials{UserID: userID, Token: tokenString}, nil
}
