// Package ratelimit enforces a per-source-address request budget on the
// Store's write path, one golang.org/x/time/rate limiter per client IP.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/voltgrid/haystack/internal/log"
)

// Limiter hands out one token-bucket limiter per client address, and expires
// ones that have gone idle so the map doesn't grow without bound under churn
// (many distinct clients, most seen only once).
type Limiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*entry
}

type entry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// New builds a Limiter allowing rps requests per second per source address,
// with the given burst.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*entry),
	}
}

// Allow reports whether a request from addr may proceed.
func (l *Limiter) Allow(addr string) bool {
	l.mu.Lock()
	e, ok := l.limiters[addr]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[addr] = e
	}
	e.lastUse = time.Now()
	limiter := e.limiter
	l.mu.Unlock()
	return limiter.Allow()
}

// CleanupIdle drops entries unused for longer than maxIdle. Callers should
// invoke this periodically (e.g. from a ticker) so the map stays bounded.
func (l *Limiter) CleanupIdle(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, e := range l.limiters {
		if e.lastUse.Before(cutoff) {
			delete(l.limiters, addr)
		}
	}
}

// RunCleanup starts a background goroutine that calls CleanupIdle on the
// given interval until stopCh is closed.
func (l *Limiter) RunCleanup(interval, maxIdle time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.CleanupIdle(maxIdle)
			case <-stopCh:
				return
			}
		}
	}()
}

// Middleware wraps an http.Handler, rejecting requests from source addresses
// that have exceeded their budget with 429 Too Many Requests.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r)
		if !l.Allow(addr) {
			log.WithComponent("ratelimit").Warn().Str("addr", addr).Str("path", r.URL.Path).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
