package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cricketstatspack/portal/internal/metrics"
)

const (
	maxRetryAfterSeconds = 60

	// past maxTracked clients, new arrivals evict buckets idle for idleTTL
	maxTracked = 10000
	idleTTL    = 30 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
	now      func() time.Time
}

// NewRateLimiter allows perSecond requests per IP with bursts of burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

func (l *RateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.limiters[ip]; ok {
		e.lastSeen = l.now()
		return e.limiter
	}
	if len(l.limiters) >= maxTracked {
		l.sweepLocked(idleTTL)
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters[ip] = &limiterEntry{limiter: lim, lastSeen: l.now()}
	return lim
}

// Sweep drops limiters not used within idle and returns how many were removed.
func (l *RateLimiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(idle)
}

func (l *RateLimiter) sweepLocked(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Limit returns middleware that rejects a client over its allowance with 429
// and a Retry-After header. route labels the rejection metric.
func (l *RateLimiter) Limit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := l.getLimiter(ClientIP(r))
			reservation := limiter.ReserveN(l.now(), 1)
			if !reservation.OK() {
				l.reject(w, route, maxRetryAfterSeconds)
				return
			}
			if delay := reservation.DelayFrom(l.now()); delay > 0 {
				reservation.CancelAt(l.now())
				retryAfter := int(math.Ceil(delay.Seconds()))
				if retryAfter > maxRetryAfterSeconds {
					retryAfter = maxRetryAfterSeconds
				}
				l.reject(w, route, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *RateLimiter) reject(w http.ResponseWriter, route string, retryAfter int) {
	metrics.RateLimitedTotal.WithLabelValues(route).Inc()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
	w.Header().Set("X-RateLimit-Remaining", "0")
	http.Error(w, "Too many requests. Please retry later.", http.StatusTooManyRequests)
}
