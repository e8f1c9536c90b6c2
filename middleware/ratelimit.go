package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request volume per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long an unused client bucket is kept. Zero means 10m.
	IdleTTL time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientBuckets struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	buckets   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
}

func (c *clientBuckets) get(ip string) *rate.Limiter {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) > c.cfg.IdleTTL {
		for k, b := range c.buckets {
			if now.Sub(b.lastSeen) > c.cfg.IdleTTL {
				delete(c.buckets, k)
			}
		}
		c.lastSweep = now
	}

	b, ok := c.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.Burst)}
		c.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimit rejects requests over a per-address token bucket with 429.
// Only RemoteAddr is used; forwarded headers are spoofable.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	clients := &clientBuckets{
		cfg:     cfg,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			res := clients.get(host).Reserve()
			if !res.OK() {
				tooManyRequests(w, 0)
				return
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				tooManyRequests(w, int(delay.Seconds())+1)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
}
