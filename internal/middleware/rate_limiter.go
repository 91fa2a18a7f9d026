package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/cerr"
	"github.com/victorgomez09/jobguard/internal/metrics"
)

// RateLimiterMiddleware throttles requests per client address with a token
// bucket. Buckets unused for idleTTL are evicted.
type RateLimiterMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rps      float64
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
	now      func() time.Time
	metrics  *metrics.Metrics
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiterMiddleware sets up per address limiting.
// If the burst size or rps are not provided (i.e., zero), default values are used.
func NewRateLimiterMiddleware(rps float64, burst int, idleTTL time.Duration, m *metrics.Metrics) *RateLimiterMiddleware {
	if burst == 0 {
		burst = 50
	}
	if rps == 0 {
		rps = 20
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RateLimiterMiddleware{
		limiters: make(map[string]*visitor),
		rps:      rps,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		metrics:  m,
	}
}

// Allow reports whether one more request from key fits in its bucket.
func (m *RateLimiterMiddleware) Allow(key string) (bool, time.Duration) {
	now := m.now()

	m.mu.Lock()
	v, ok := m.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(m.rps), m.burst)}
		m.limiters[key] = v
	}
	v.lastSeen = now
	if now.Sub(m.lastGC) > m.idleTTL {
		m.evictLocked(now)
	}
	m.mu.Unlock()

	r := v.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (m *RateLimiterMiddleware) evictLocked(now time.Time) {
	for key, v := range m.limiters {
		if now.Sub(v.lastSeen) > m.idleTTL {
			delete(m.limiters, key)
		}
	}
	m.lastGC = now
}

// Len returns the number of tracked addresses.
func (m *RateLimiterMiddleware) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := m.Allow(ClientIP(r))
		if !ok {
			m.metrics.Limited("request")
			cerr.WriteError(w, &apierr.Error{
				Code:       apierr.CodeRateLimited,
				Message:    "too many requests",
				RetryAfter: wait,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
