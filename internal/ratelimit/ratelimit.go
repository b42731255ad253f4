// Package ratelimit provides a keyed token-bucket limiter.
// roadwatch uses it to throttle repeated diagnostics for the same path, so a
// permanently unreadable file does not log a warning on every poll cycle.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultMaxKeys bounds the number of tracked keys before idle ones are pruned.
const defaultMaxKeys = 4096

// KeyedLimiter manages per-key rate limiting.
// Each unique key gets its own independent limiter.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	maxKeys  int
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a keyed limiter.
// every: minimum spacing between allowed events for a key once burst is spent.
// burst: events allowed immediately for a fresh key.
func New(every time.Duration, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(every),
		burst:    burst,
		maxKeys:  defaultMaxKeys,
		now:      time.Now,
	}
}

// Allow reports whether an event for key may happen now.
func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	e, ok := kl.limiters[key]
	if !ok {
		if len(kl.limiters) >= kl.maxKeys {
			kl.prune(now)
		}
		e = &entry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Forget drops the state kept for key.
func (kl *KeyedLimiter) Forget(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	delete(kl.limiters, key)
}

// Len returns the number of tracked keys.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// prune removes keys whose bucket has refilled completely, falling back to
// the least recently seen half when nothing is idle. Caller holds mu.
func (kl *KeyedLimiter) prune(now time.Time) {
	for key, e := range kl.limiters {
		if e.limiter.TokensAt(now) >= float64(kl.burst) {
			delete(kl.limiters, key)
		}
	}
	if len(kl.limiters) < kl.maxKeys {
		return
	}

	var oldest time.Time
	for _, e := range kl.limiters {
		if oldest.IsZero() || e.lastSeen.Before(oldest) {
			oldest = e.lastSeen
		}
	}
	cutoff := oldest.Add(now.Sub(oldest) / 2)
	for key, e := range kl.limiters {
		if !e.lastSeen.After(cutoff) {
			delete(kl.limiters, key)
		}
	}
}
