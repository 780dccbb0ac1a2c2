package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-caller rate limiting. Authenticated callers are
// keyed by user ID, everyone else by client IP.
type RateLimiter struct {
	callers map[string]*caller
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	idle    time.Duration
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter.
// r is requests per second, b is burst size.
func NewRateLimiter(r float64, b int) *RateLimiter {
	rl := &RateLimiter{
		callers: make(map[string]*caller),
		rate:    rate.Limit(r),
		burst:   b,
		idle:    3 * time.Minute,
	}

	go rl.cleanupLoop()

	return rl
}

// limiterFor returns the limiter for a caller key, creating one if needed.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.callers[key]
	if !ok {
		c = &caller{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// cleanupLoop forgets callers that have been idle for a while.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for key, c := range rl.callers {
			if time.Since(c.lastSeen) > rl.idle {
				delete(rl.callers, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Limit is middleware that rate limits requests per caller.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiterFor(callerKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimitActions is middleware for refresh, connect and regenerate actions,
// which each fan out to the backend functions.
// Uses 1 request per 2 seconds with burst of 3.
func LimitActions(next http.Handler) http.Handler {
	return NewRateLimiter(0.5, 3).Limit(next)
}

// LimitConsent is middleware for the unauthenticated consent callbacks.
// Uses 1 request per second with burst of 5.
func LimitConsent(next http.Handler) http.Handler {
	return NewRateLimiter(1, 5).Limit(next)
}

// LimitAPI is middleware for API endpoints.
// Uses 10 requests per second with burst of 20.
func LimitAPI(next http.Handler) http.Handler {
	return NewRateLimiter(10, 20).Limit(next)
}

func callerKey(r *http.Request) string {
	if creds, ok := GetCredentials(r); ok && creds.UserID != "" {
		return "user:" + creds.UserID
	}
	return "ip:" + getIP(r)
}

// getIP extracts the client IP from the request.
func getIP(r *http.Request) string {
	// Only the first X-Forwarded-For entry is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}
