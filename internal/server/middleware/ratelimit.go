package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 10 * time.Minute
	limiterIdleTTL       = 30 * time.Minute
)

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// buckets hands out one token bucket per key and forgets keys idle for
// limiterIdleTTL.
type buckets struct {
	rps   rate.Limit
	burst int

	mu   sync.Mutex
	byID map[string]*bucket
}

func newBuckets(ctx context.Context, requestsPerSecond float64, burst int) *buckets {
	b := &buckets{
		rps:   rate.Limit(requestsPerSecond),
		burst: burst,
		byID:  make(map[string]*bucket),
	}
	go b.sweep(ctx)
	return b
}

func (b *buckets) allow(key string) bool {
	b.mu.Lock()
	bk, ok := b.byID[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(b.rps, b.burst)}
		b.byID[key] = bk
	}
	bk.lastAccess = time.Now()
	b.mu.Unlock()

	return bk.limiter.Allow()
}

func (b *buckets) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			cutoff := time.Now().Add(-limiterIdleTTL)
			for key, bk := range b.byID {
				if bk.lastAccess.Before(cutoff) {
					delete(b.byID, key)
				}
			}
			b.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func tooManyRequests(w http.ResponseWriter) {
	http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
}

// clientHost is the remote address without its port, so every connection
// from one host shares a bucket.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitByIP applies per-host rate limiting for unauthenticated endpoints
// (the /auth routes).
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	set := newBuckets(ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.allow(clientHost(r)) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies per-user rate limiting keyed by the session owner.
// Reads and writes draw from separate buckets, so polling a board does not
// use up the budget for moving its tasks.
func RateLimit(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	set := newBuckets(ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, ok := OwnerFromContext(r.Context())
			if !ok {
				// No session in context; skip rate limiting.
				next.ServeHTTP(w, r)
				return
			}

			if !set.allow(owner + "|" + requestClass(r.Method)) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestClass(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	default:
		return "write"
	}
}
