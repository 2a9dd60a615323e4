package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// clientLimiter applies a token bucket per client IP. A nil limiter lets everything through.
type clientLimiter struct {
	limit      rate.Limit
	burst      int
	perMin     int
	trustProxy bool

	mu      sync.Mutex
	clients map[string]*limiterEntry
	now     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perMinute, burst int, trustProxy bool) *clientLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &clientLimiter{
		limit:      rate.Limit(float64(perMinute) / 60.0),
		burst:      burst,
		perMin:     perMinute,
		trustProxy: trustProxy,
		clients:    make(map[string]*limiterEntry),
		now:        time.Now,
	}
}

func (l *clientLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.clients[ip]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(l.clients) >= 1024 {
		for key, e := range l.clients {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.clients, key)
			}
		}
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.clients[ip] = &limiterEntry{limiter: lim, lastSeen: now}
	return lim
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		lim := l.get(clientIP(r, l.trustProxy))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMin))
		if !lim.AllowN(l.now(), 1) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(l.limit)))
			respondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		remaining := int(lim.TokensAt(l.now()))
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	secs := int(1/float64(limit)) + 1
	if secs > 60 {
		secs = 60
	}
	return secs
}

// clientIP returns the peer address. Forwarding headers are honoured only when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
