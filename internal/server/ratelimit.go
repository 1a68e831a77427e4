package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter caps requests per client IP over a sliding window. Webhook
// and public API routes get separate instances so a noisy integration
// cannot starve status lookups.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string][]time.Time
	lastSweep time.Time
}

// NewRateLimiter returns a limiter allowing limit requests per window
// for each client IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

// Allow records an attempt for ip and reports whether it is within the
// limit. Stale attempts are pruned as a side effect, and once per window
// every idle IP's bucket is evicted so the map stays bounded by recent
// traffic rather than every IP ever seen.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	if now.Sub(rl.lastSweep) >= rl.window {
		rl.evictIdle(cutoff)
		rl.lastSweep = now
	}

	recent := rl.buckets[ip][:0]
	for _, t := range rl.buckets[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.buckets[ip] = recent
		return false
	}
	rl.buckets[ip] = append(recent, now)
	return true
}

// evictIdle drops buckets whose every attempt predates cutoff. Caller
// holds rl.mu.
func (rl *RateLimiter) evictIdle(cutoff time.Time) {
	for ip, attempts := range rl.buckets {
		live := false
		for _, t := range attempts {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(rl.buckets, ip)
		}
	}
}

// Middleware rejects over-limit requests with 429 before they reach next.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the address limits apply to. Behind a reverse proxy
// the original caller is in X-Forwarded-For (first entry) or X-Real-IP;
// otherwise the socket peer address is used.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
