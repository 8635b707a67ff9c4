package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-client request budget. Clients are keyed
// by remote IP; each key gets its own token bucket.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter

	requestsPerSecond rate.Limit
	burstSize         int
}

// NewRateLimiter creates a rate limiter with the given per-client
// rate and burst.
func NewRateLimiter(requestsPerSecond float64, burstSize int) *RateLimiter {
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: rate.Limit(requestsPerSecond),
		burstSize:         burstSize,
	}
}

// Allow checks if a request from the given client should be allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = rl.limiters[key]
		if !exists {
			// Memory protection: cap the tracked-client table
			if len(rl.limiters) >= 10000 {
				rl.limiters = make(map[string]*rate.Limiter)
			}
			limiter = rate.NewLimiter(rl.requestsPerSecond, rl.burstSize)
			rl.limiters[key] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter.Allow()
}

// Middleware rejects over-budget clients with 429 before the request
// reaches a handler.
func (rl *RateLimiter) Middleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !rl.Allow(key) {
				metrics.RateLimitHits.Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
