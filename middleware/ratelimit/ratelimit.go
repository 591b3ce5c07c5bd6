// Package ratelimit throttles requests per client IP with token buckets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-rbac"
	"golang.org/x/time/rate"
)

const (
	DefaultRate  = 10
	DefaultBurst = 20
	// DefaultIdleTTL is how long an unused bucket is kept
	DefaultIdleTTL = 30 * time.Minute
)

type Config struct {
	Rate    rate.Limit
	Burst   int
	IdleTTL time.Duration
	// KeyFunc defaults to the client IP
	KeyFunc func(c *fiber.Ctx) string
	Now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one bucket per key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
}

func New(config ...Config) *Limiter {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{cfg: cfg, buckets: map[string]*bucket{}}
}

// Allow consumes one token from the bucket of key
func (l *Limiter) Allow(key string) bool {
	now := l.cfg.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Handler rejects requests over the limit with auth.ErrRateLimited
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow(l.cfg.KeyFunc(c)) {
			c.Set(fiber.HeaderRetryAfter, "1")
			return auth.ErrRateLimited
		}
		return c.Next()
	}
}

// Cleanup drops buckets idle for longer than IdleTTL and returns how many
// were removed.
func (l *Limiter) Cleanup() int {
	cutoff := l.cfg.Now().Add(-l.cfg.IdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run calls Cleanup every interval until ctx is done
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
