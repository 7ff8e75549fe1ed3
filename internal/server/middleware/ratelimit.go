package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleClientTTL is how long an idle client's bucket is kept.
const idleClientTTL = 10 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client IP.
type clientLimiters struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	clients   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func (l *clientLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > idleClientTTL {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > idleClientTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimit returns middleware that limits each client IP to rps requests
// per second with the given burst. rps <= 0 disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := newClientLimiters(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(extractClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP determines the client IP from standard proxy headers,
// falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
