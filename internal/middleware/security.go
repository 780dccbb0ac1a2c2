package middleware

import (
	"net/http"
)

// SecurityHeaders adds security-related HTTP headers to API responses.
// Responses are JSON or images, so the policy allows no active content.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		w.Header().Set("Cache-Control", "no-store")

		csp := "default-src 'none'; " +
			"img-src 'self' data:; " +
			"frame-ancestors 'none'; " +
			"form-action 'self'; " +
			"base-uri 'none'"
		w.Header().Set("Content-Security-Policy", csp)

		next.ServeHTTP(w, r)
	})
}
