package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles the device pull path with one token bucket per device.
type RateLimiter struct {
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	limiters sync.Map // "type/id" -> *cachedLimiter
	now      func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithRate sets the sustained requests per second and the burst per device.
func WithRate(perSecond float64, burst int) Option {
	return func(l *RateLimiter) {
		l.rate = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle device keeps its bucket.
func WithTTL(ttl time.Duration) Option {
	return func(l *RateLimiter) {
		l.ttl = ttl
	}
}

// NewRateLimiter defaults to one request per second with a burst of five.
func NewRateLimiter(opts ...Option) *RateLimiter {
	l := &RateLimiter{
		rate:  1,
		burst: 5,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Middleware limits requests per device named by the {type} and {id} path
// values. A non-positive rate disables limiting.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceType, deviceID := r.PathValue("type"), r.PathValue("id")
			if deviceType == "" || deviceID == "" {
				writeError(w, "Device not specified", http.StatusBadRequest)
				return
			}

			if l.rate > 0 && !l.limiter(deviceType+"/"+deviceID).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// limiter returns the device's bucket, creating it on first use. Each hit
// extends the bucket's lifetime.
func (l *RateLimiter) limiter(key string) *rate.Limiter {
	now := l.now()
	if v, ok := l.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			l.limiters.Store(key, &cachedLimiter{limiter: cached.limiter, expiresAt: now.Add(l.ttl)})
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(l.ttl),
	})
	return limiter
}

// Sweep drops buckets of devices idle past the TTL.
func (l *RateLimiter) Sweep() {
	now := l.now()
	l.limiters.Range(func(key, v any) bool {
		if !now.Before(v.(*cachedLimiter).expiresAt) {
			l.limiters.Delete(key)
		}
		return true
	})
}
