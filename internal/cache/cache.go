// Package cache provides the TTL/rate-limit response cache of §4.5: per-endpoint-class
// (value, expiresAt) storage with stale-on-rate-limit fallback and a single blocked_until
// instant per class, gated by a token-bucket limiter per class (§1B domain stack).
//
// Grounded on the teacher's internal/execution/adapters/binance.go rate limiter/cache pair,
// generalized from one hard-coded limiter into a class-keyed cache wrapping
// golang.org/x/time/rate.Limiter per class.
package cache

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class identifies a rate-limit/cache bucket, e.g. "account_info", "positions", "prices".
type Class string

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a per-adapter TTL cache with per-class rate limiting and blackout tracking.
type Cache struct {
	mu           sync.Mutex
	entries      map[Class]entry
	limiters     map[Class]*rate.Limiter
	blockedUntil map[Class]time.Time
	now          func() time.Time
}

// New creates an empty cache. nowFn is injectable for tests; nil uses time.Now.
func New(nowFn func() time.Time) *Cache {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Cache{
		entries:      make(map[Class]entry),
		limiters:     make(map[Class]*rate.Limiter),
		blockedUntil: make(map[Class]time.Time),
		now:          nowFn,
	}
}

// SetLimit configures the token-bucket rate for a class: r events/sec with the given burst.
func (c *Cache) SetLimit(class Class, r float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[class] = rate.NewLimiter(rate.Limit(r), burst)
}

// Allow reports whether a call against class may proceed right now without blocking, i.e. the
// class isn't blacked out and the token bucket has a token available.
func (c *Cache) Allow(class Class) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.blockedUntil[class]; ok && c.now().Before(until) {
		return false
	}
	lim, ok := c.limiters[class]
	if !ok {
		return true
	}
	return lim.AllowN(c.now(), 1)
}

// Get returns the cached value for key within class if present and unexpired, plus whether it
// is merely "stale" (present but expired — served only on RateLimited fallback).
func (c *Cache) Get(class Class) (value any, fresh bool, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[class]
	if !ok {
		return nil, false, false
	}
	if c.now().Before(e.expiresAt) {
		return e.value, true, false
	}
	return e.value, false, true
}

// Set stores value for class with the given TTL.
func (c *Cache) Set(class Class, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[class] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Blackout marks class as blocked (e.g. HTTP 429 with Retry-After) until the given instant.
func (c *Cache) Blackout(class Class, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockedUntil[class] = until
}

// Blocked reports whether class is currently blacked out.
func (c *Cache) Blocked(class Class) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.blockedUntil[class]
	return ok && c.now().Before(until)
}
