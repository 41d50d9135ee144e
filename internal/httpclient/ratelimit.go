package httpclient

import (
	"context"
	"sync"
	"time"
)

// bucket is a token-bucket rate limiter. capacity is requests/minute;
// refillRate is capacity/60000 per millisecond, per spec §3 RateLimitBucket.
type bucket struct {
	mu           sync.Mutex
	capacity     float64
	refillRate   float64 // tokens per millisecond
	tokens       float64
	lastRefillTs time.Time
}

func newBucket(spec RateLimitSpec) *bucket {
	return &bucket{
		capacity:     spec.CapacityPerMinute,
		refillRate:   spec.CapacityPerMinute / 60000.0,
		tokens:       spec.CapacityPerMinute,
		lastRefillTs: time.Now(),
	}
}

// acquire blocks, cooperatively and cancellably, until one token is
// available, then consumes it. It never holds b.mu while sleeping.
func (b *bucket) acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		elapsedMs := float64(now.Sub(b.lastRefillTs).Milliseconds())
		b.tokens = min(b.capacity, b.tokens+elapsedMs*b.refillRate)
		b.lastRefillTs = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}

		waitMs := (1 - b.tokens) / b.refillRate
		b.tokens = 0
		b.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitMs * float64(time.Millisecond)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// rateLimiter selects a global bucket or a per-operation override.
type rateLimiter struct {
	mu     sync.Mutex
	global *bucket
	perOp  map[string]*bucket
	cfg    RateLimitConfig
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{cfg: cfg, perOp: make(map[string]*bucket, len(cfg.PerOperation))}
	if cfg.Global.CapacityPerMinute > 0 {
		rl.global = newBucket(cfg.Global)
	}
	for opID, spec := range cfg.PerOperation {
		rl.perOp[opID] = newBucket(spec)
	}
	return rl
}

// acquire selects the override bucket for operationID if one exists, else
// the global bucket, and blocks until a token is available. A nil selected
// bucket (no rate limiting configured) is a no-op.
func (rl *rateLimiter) acquire(ctx context.Context, operationID string) error {
	rl.mu.Lock()
	b, ok := rl.perOp[operationID]
	if !ok {
		b = rl.global
	}
	rl.mu.Unlock()

	if b == nil {
		return nil
	}
	return b.acquire(ctx)
}
