package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxBuckets caps how many per-key limiters are tracked before idle ones are
// pruned.
const maxBuckets = 4096

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket is an in-memory per-key token bucket rate limiter.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	refill   float64 // tokens per second
}

// NewTokenBucket constructs a limiter with the provided capacity and refill
// rate, applied per key.
func NewTokenBucket(capacity int, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		refill:   refillPerSecond,
	}
}

// Allow consumes a single token for the given key if available. Returns the
// allowed flag and the current token count.
func (b *TokenBucket) Allow(key string) (bool, float64) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.buckets[key]
	if !ok {
		if len(b.buckets) >= maxBuckets {
			b.pruneLocked(now)
		}
		bk = &bucket{limiter: rate.NewLimiter(rate.Limit(b.refill), b.capacity)}
		b.buckets[key] = bk
	}
	bk.lastSeen = now
	allowed := bk.limiter.AllowN(now, 1)
	return allowed, bk.limiter.TokensAt(now)
}

// pruneLocked drops buckets idle long enough to have fully refilled; their
// state is indistinguishable from a fresh bucket.
func (b *TokenBucket) pruneLocked(now time.Time) {
	idle := time.Duration(float64(b.capacity)/b.refill*float64(time.Second)) + time.Second
	for key, bk := range b.buckets {
		if now.Sub(bk.lastSeen) > idle {
			delete(b.buckets, key)
		}
	}
}
