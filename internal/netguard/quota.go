package netguard

import (
	"sync"
	"time"

	"github.com/uicp/runtime/pkg/uicp"
)

// bucket is one host's token bucket, refilled continuously at RefillRate
// tokens/sec up to Capacity, following the same mutex-guarded-map shape
// used throughout this codebase for per-key counters (e.g. the model
// router's per-provider latency map).
type bucket struct {
	capacity   float64
	refillRate float64
	tokens     float64
	updatedAt  time.Time
}

// QuotaLimiter enforces per-host token-bucket quotas.
type QuotaLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewQuotaLimiter() *QuotaLimiter {
	return &QuotaLimiter{buckets: make(map[string]*bucket)}
}

// Allow consumes one token for host, creating its bucket from q if this is
// the first request seen for that host. Returns false when the bucket is
// empty (the request must be blocked as quota-exceeded).
func (l *QuotaLimiter) Allow(host string, q uicp.Quota, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{capacity: float64(q.Capacity), refillRate: q.RefillRate, tokens: float64(q.Capacity), updatedAt: now}
		l.buckets[host] = b
	}

	elapsed := now.Sub(b.updatedAt).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.updatedAt = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Reset clears all tracked buckets; used when the policy changes quotas.
func (l *QuotaLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}
