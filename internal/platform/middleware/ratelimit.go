package middleware

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/patholab/lis/internal/platform/auth"
)

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// BucketStore is a per-identifier token bucket store for echo's rate limiter.
type BucketStore struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64
	burst   float64
	now     func() time.Time
}

// NewBucketStore refills rate tokens per second up to burst. A burst below one
// is raised to one.
func NewBucketStore(rate float64, burst int) *BucketStore {
	if burst < 1 {
		burst = 1
	}
	return &BucketStore{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow implements echomw.RateLimiterStore.
func (s *BucketStore) Allow(identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[identifier]
	if !ok {
		b = &tokenBucket{tokens: s.burst, lastRefill: now}
		s.buckets[identifier] = b
	}
	b.tokens += now.Sub(b.lastRefill).Seconds() * s.rate
	if b.tokens > s.burst {
		b.tokens = s.burst
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// callerKey limits authenticated callers per user and everyone else per IP.
func callerKey(c echo.Context) (string, error) {
	if id := auth.IdentityFromContext(c.Request().Context()); id != nil {
		return "user:" + id.UserID, nil
	}
	return "ip:" + c.RealIP(), nil
}

// RateLimit returns echo's rate limiter backed by a BucketStore. A non-positive
// rps disables limiting.
func RateLimit(rps float64, burst int) echo.MiddlewareFunc {
	return rateLimit(rps > 0, NewBucketStore(rps, burst))
}

func rateLimit(enabled bool, store echomw.RateLimiterStore) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper:             func(echo.Context) bool { return !enabled },
		IdentifierExtractor: callerKey,
		Store:               store,
	})
}
