package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pynthchain/observability"
)

const visitorTTL = 5 * time.Minute

// RateLimiter applies a token bucket per client. Authenticated callers are
// keyed by address, anonymous ones by IP.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	now       func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(requestsPerMinute float64, burst int) *RateLimiter {
	perSecond := requestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		now:       time.Now,
		visitors:  make(map[string]*visitor),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientID(r)) {
			observability.API().RecordThrottle(routePattern(r), "rate_limit")
			writeError(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(id string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, key)
		}
	}
	v, ok := l.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func clientID(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return caller.String()
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
