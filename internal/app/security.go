package app

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quizlms/internal/app/apiresp"
)

type rateBucket struct {
	Count      int
	WindowEnds time.Time
}

// IPRateLimiter is a fixed-window counter per key. State lives in this
// process only, so each replica enforces its own limit.
type IPRateLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	store     map[string]rateBucket
	now       func() time.Time
	lastSweep time.Time
}

func NewIPRateLimiter(max int, window time.Duration) *IPRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &IPRateLimiter{
		max:    max,
		window: window,
		store:  make(map[string]rateBucket),
		now:    time.Now,
	}
}

// Allow counts one hit for key and reports whether it fits the window. When
// it does not, the second value is how long until the window resets.
func (l *IPRateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	b := l.store[key]
	if !now.Before(b.WindowEnds) {
		b = rateBucket{Count: 0, WindowEnds: now.Add(l.window)}
	}
	if b.Count >= l.max {
		l.store[key] = b
		return false, b.WindowEnds.Sub(now)
	}
	b.Count++
	l.store[key] = b
	return true, 0
}

// sweep drops expired buckets at most once per window.
func (l *IPRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for k, b := range l.store {
		if !now.Before(b.WindowEnds) {
			delete(l.store, k)
		}
	}
	l.lastSweep = now
}

// RateLimitMiddleware limits requests per client IP within scope. Run it after
// middleware.RealIP so RemoteAddr holds the client address.
func RateLimitMiddleware(l *IPRateLimiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r) + "|" + scope
			ok, retry := l.Allow(key)
			if !ok {
				secs := int(retry.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				apiresp.WriteError(w, r, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
