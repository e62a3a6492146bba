// Package ratelimiter provides a keyed token bucket used to cap the byte
// throughput of individual proxy tunnels.
package ratelimiter

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MapLimiter applies a byte-rate token bucket per string key and
// periodically evicts idle entries.
type MapLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*entry
	hits    uint64
	idleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a key-based limiter; returns nil if args are invalid. A nil
// limiter never throttles.
func New(bytesPerSec float64, burst int, idleTTL time.Duration) *MapLimiter {
	if bytesPerSec <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limit:   rate.Limit(bytesPerSec),
		burst:   burst,
		byKey:   make(map[string]*entry),
		idleTTL: idleTTL,
	}
}

// Wait blocks until n bytes may pass for the key, splitting requests
// larger than the bucket's burst.
func (l *MapLimiter) Wait(ctx context.Context, key string, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	lim := l.limiterFor(key, time.Now())
	for n > 0 {
		chunk := n
		if chunk > l.burst {
			chunk = l.burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Forget drops the key's bucket immediately.
func (l *MapLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
}

func (l *MapLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &entry{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.byKey[key] = e
	}
	e.lastSeen = now

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return e.limiter
}
