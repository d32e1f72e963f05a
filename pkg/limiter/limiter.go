// Package limiter provides a per-identity token bucket with continuous
// refill and an abuse lockout for repeat offenders.
package limiter

import (
	"fmt"
	"sync"
	"time"

	"concierge/pkg/config"
	"concierge/pkg/logx"
)

// BucketState is the persistable snapshot of one identity's bucket.
type BucketState struct {
	Tokens       float64
	LastRefill   time.Time
	Warnings     int
	BlockedUntil time.Time
}

// Store persists bucket state so lockouts survive restarts. Optional: any
// Store error degrades to fail-open behavior, never blocking the caller.
type Store interface {
	SaveBucket(identity string, state BucketState) error
	LoadBuckets() (map[string]BucketState, error)
}

// ThrottleRecorder receives throttle events for observability.
type ThrottleRecorder interface {
	IncThrottle(reason string)
}

// bucket is the live per-identity state. Guarded by its own mutex so one
// abusive identity never contends with the rest.
type bucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	warnings     int
	blockedUntil time.Time
}

// Limiter owns all rate buckets. Buckets are created lazily on first check
// and garbage-collected after an hour of inactivity with no active block.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	cfg       config.Limiter
	store     Store
	recorder  ThrottleRecorder
	logger    *logx.Logger
	lastSweep time.Time
	now       func() time.Time
}

const sweepInterval = 5 * time.Minute

// New creates a limiter from config. store and recorder may be nil.
func New(cfg config.Limiter, store Store, recorder ThrottleRecorder) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		cfg:      cfg,
		store:    store,
		recorder: recorder,
		logger:   logx.NewLogger("limiter"),
		now:      time.Now,
	}
	l.lastSweep = l.now()
	l.restore()
	return l
}

// restore reloads persisted bucket state. Fail-open on any store error.
func (l *Limiter) restore() {
	if l.store == nil {
		return
	}
	states, err := l.store.LoadBuckets()
	if err != nil {
		l.logger.Warn("failed to restore rate buckets, starting fresh: %v", err)
		return
	}
	for identity, state := range states {
		l.buckets[identity] = &bucket{
			tokens:       state.Tokens,
			lastRefill:   state.LastRefill,
			warnings:     state.Warnings,
			blockedUntil: state.BlockedUntil,
		}
	}
	if len(states) > 0 {
		l.logger.Info("restored %d rate buckets", len(states))
	}
}

// CheckAndConsume applies the token bucket to one identity. Returns whether
// the request is allowed and, when denied, a human-readable message with
// the remaining wait. A denied check never deducts a token.
func (l *Limiter) CheckAndConsume(identity string) (bool, string) {
	now := l.now()
	b := l.getBucket(identity, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Active lockout overrides the token math entirely.
	if b.blockedUntil.After(now) {
		remaining := int(b.blockedUntil.Sub(now).Seconds()) + 1
		l.throttled("lockout")
		return false, fmt.Sprintf("Слишком много запросов. Доступ будет восстановлен через %d сек.", remaining)
	}

	// Continuous refill since the last check, capped at the maximum.
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * (l.cfg.RatePerMinute / 60.0)
		if b.tokens > l.cfg.MaxTokens {
			b.tokens = l.cfg.MaxTokens
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		b.warnings = 0
		l.persist(identity, b)
		return true, ""
	}

	b.warnings++
	if b.warnings >= l.cfg.WarningThreshold {
		b.blockedUntil = now.Add(l.cfg.Lockout())
		b.warnings = 0
		l.logger.Warn("identity %s locked out for %s after repeated denials", identity, l.cfg.Lockout())
		l.throttled("lockout_started")
		l.persist(identity, b)
		return false, fmt.Sprintf("Слишком много запросов. Доступ будет восстановлен через %d сек.", l.cfg.LockoutSec)
	}

	l.throttled("rate")
	l.persist(identity, b)
	return false, "Слишком много запросов. Подождите немного и попробуйте снова."
}

// getBucket finds or lazily creates the identity's bucket, sweeping idle
// buckets opportunistically so no background goroutine is needed.
func (l *Limiter) getBucket(identity string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweepLocked(now)
		l.lastSweep = now
	}

	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{
			tokens:     l.cfg.MaxTokens,
			lastRefill: now,
		}
		l.buckets[identity] = b
	}
	return b
}

// sweepLocked drops buckets idle past the TTL with no active block.
func (l *Limiter) sweepLocked(now time.Time) {
	for identity, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill) >= l.cfg.IdleTTL()
		blocked := b.blockedUntil.After(now)
		b.mu.Unlock()
		if idle && !blocked {
			delete(l.buckets, identity)
		}
	}
}

// persist snapshots a bucket. Errors are logged and otherwise ignored:
// persistence is optional infrastructure, not a dependency.
func (l *Limiter) persist(identity string, b *bucket) {
	if l.store == nil {
		return
	}
	err := l.store.SaveBucket(identity, BucketState{
		Tokens:       b.tokens,
		LastRefill:   b.lastRefill,
		Warnings:     b.warnings,
		BlockedUntil: b.blockedUntil,
	})
	if err != nil {
		l.logger.Debug("failed to persist bucket for %s: %v", identity, err)
	}
}

func (l *Limiter) throttled(reason string) {
	if l.recorder != nil {
		l.recorder.IncThrottle(reason)
	}
}

// ActiveBuckets returns the number of live buckets. Observability only.
func (l *Limiter) ActiveBuckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
