package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (v *visitor) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

func (v *visitor) idleSince(now time.Time) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return now.Sub(v.lastSeen)
}

// RateLimiter is an in-memory token bucket per client IP. Secret ids are
// random, so this mostly slows down anyone walking the id space.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	visitors sync.Map // 🛡️ Thread-safe Map for high-concurrency scaling
	onReject func()
}

func NewRateLimiter(rps float64, burst int, onReject func()) *RateLimiter {
	if onReject == nil {
		onReject = func() {}
	}
	return &RateLimiter{rps: rate.Limit(rps), burst: burst, onReject: onReject}
}

func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// middleware.RealIP has already rewritten RemoteAddr behind a proxy
		ip := clientIP(r)
		now := time.Now()

		v, _ := l.visitors.LoadOrStore(ip, &visitor{
			limiter:  rate.NewLimiter(l.rps, l.burst),
			lastSeen: now,
		})
		vis := v.(*visitor)
		vis.touch(now)

		if !vis.limiter.Allow() {
			l.onReject()
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"message": "Rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartCleanup evicts idle visitors until ctx is cancelled.
func (l *RateLimiter) StartCleanup(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evictIdle(now, idle)
		}
	}
}

func (l *RateLimiter) evictIdle(now time.Time, idle time.Duration) {
	l.visitors.Range(func(key, value interface{}) bool {
		if value.(*visitor).idleSince(now) > idle {
			l.visitors.Delete(key)
		}
		return true
	})
}

// Visitors reports how many clients are currently tracked.
func (l *RateLimiter) Visitors() int {
	n := 0
	l.visitors.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
