package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/modelforge/internal/auth"
	apperrors "github.com/modelforge/internal/errors"
	"golang.org/x/time/rate"
)

// RateLimiter manages rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex

	// Rate limits per caller class (requests per second)
	anonymousLimit     rate.Limit
	authenticatedLimit rate.Limit

	// Burst size (number of requests that can be made in a burst)
	burstSize int

	idleTTL time.Duration
	now     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter. A non-positive rps disables
// limiting for that class.
func NewRateLimiter(anonymousRPS, authenticatedRPS, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		limiters:           make(map[string]*limiterEntry),
		anonymousLimit:     toLimit(anonymousRPS),
		authenticatedLimit: toLimit(authenticatedRPS),
		burstSize:          burst,
		idleTTL:            10 * time.Minute,
		now:                time.Now,
	}
}

func toLimit(rps int) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// getLimiter returns the limiter for key, creating it on first use.
// Limiters idle for longer than idleTTL are evicted on the way.
func (rl *RateLimiter) getLimiter(key string, limit rate.Limit) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if e, ok := rl.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	for k, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idleTTL {
			delete(rl.limiters, k)
		}
	}

	l := rate.NewLimiter(limit, rl.burstSize)
	rl.limiters[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

// RateLimitMiddleware creates a middleware that enforces rate limiting.
// Authenticated callers are keyed by user id, everyone else by remote IP.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, limit := "ip:"+clientIP(r), rl.anonymousLimit
			if userID, ok := auth.UserIDFromContext(r.Context()); ok {
				key, limit = "user:"+strconv.FormatInt(userID, 10), rl.authenticatedLimit
			}

			limiter := rl.getLimiter(key, limit)
			if !limiter.Allow() {
				respondError(w, r, apperrors.NewRateLimitError(float64(limiter.Limit())))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
