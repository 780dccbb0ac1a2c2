// Package middleware provides HTTP middleware for the link service.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"portfolio_link/internal/auth"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// CredentialsContextKey is the context key for the caller's credentials.
const CredentialsContextKey ContextKey = "credentials"

// AuthMiddleware resolves bearer tokens into credentials.
type AuthMiddleware struct {
	tokens *auth.TokenManager
	demo   *models.Credentials
	logger *logging.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(tokens *auth.TokenManager, logger *logging.Logger) *AuthMiddleware {
	if logger == nil {
		logger = logging.NewSilent()
	}
	return &AuthMiddleware{tokens: tokens, logger: logger.Component("auth")}
}

// WithDemoUser treats requests without a bearer token as the demo user.
func (m *AuthMiddleware) WithDemoUser(creds models.Credentials) *AuthMiddleware {
	m.demo = &creds
	return m
}

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved credentials in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if m.demo != nil {
				next.ServeHTTP(w, r.WithContext(WithCredentials(r.Context(), *m.demo)))
				return
			}
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		creds, err := m.tokens.Credentials(token)
		if err != nil {
			m.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected bearer token")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCredentials(r.Context(), creds)))
	})
}

// WithCredentials returns ctx carrying creds.
func WithCredentials(ctx context.Context, creds models.Credentials) context.Context {
	return context.WithValue(ctx, CredentialsContextKey, creds)
}

// GetCredentials retrieves the caller's credentials from the request context.
func GetCredentials(r *http.Request) (models.Credentials, bool) {
	creds, ok := r.Context().Value(CredentialsContextKey).(models.Credentials)
	return creds, ok
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	log := logger.Component("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			event := log.Info()
			if ww.Status() >= http.StatusInternalServerError {
				event = log.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
