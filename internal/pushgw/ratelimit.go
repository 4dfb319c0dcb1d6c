package pushgw

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig sets the per-license token bucket and eviction policy.
type RateLimiterConfig struct {
	Rate            rate.Limit    // requests per second per license key
	Burst           int           // bucket size per license key
	CleanupInterval time.Duration // how often idle buckets are swept
	MaxAge          time.Duration // idle time before a bucket is dropped
}

// DefaultRateLimiterConfig allows 60 pushes per minute per license with a
// burst of 10.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(1),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// licenseBucket pairs a token bucket with its last activity time.
type licenseBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per license key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*licenseBucket
	cfg     RateLimiterConfig
	done    chan struct{}
}

// NewRateLimiter starts the limiter and its eviction goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*licenseBucket),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether a push for key fits in its bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &licenseBucket{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// Stop ends the eviction goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictStale()
		case <-rl.done:
			return
		}
	}
}

// evictStale drops buckets idle longer than MaxAge.
func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	dropped := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("license rate limiter eviction", "dropped", dropped, "remaining", len(rl.buckets))
	}
}

// Middleware rejects over-limit pushes before the body is read. The license
// key comes from the X-License-Key header; the handler re-reads it from the
// JSON body for validation. Requests without the header fall back to a
// per-address bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-License-Key")
		if key == "" {
			key = "ip:" + r.RemoteAddr
		}

		if !rl.Allow(key) {
			slog.Warn("rate limit exceeded", "key_prefix", truncateKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
