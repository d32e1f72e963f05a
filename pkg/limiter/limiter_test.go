package limiter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/pkg/config"
)

func testConfig() config.Limiter {
	return config.Limiter{
		RatePerMinute:    12,
		MaxTokens:        15,
		WarningThreshold: 3,
		LockoutSec:       300,
		IdleTTLSec:       3600,
	}
}

// fakeClock lets tests drive the limiter's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg config.Limiter, store Store) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(cfg, store, nil)
	l.now = clock.now
	l.lastSweep = clock.t
	return l, clock
}

func TestBurstAllowsBucketSizeThenDenies(t *testing.T) {
	l, _ := newTestLimiter(testConfig(), nil)

	for i := 0; i < 15; i++ {
		allowed, msg := l.CheckAndConsume("user-1")
		require.True(t, allowed, "request %d should pass", i+1)
		assert.Empty(t, msg)
	}

	allowed, msg := l.CheckAndConsume("user-1")
	assert.False(t, allowed)
	assert.Contains(t, msg, "Слишком много запросов")
}

func TestRefillRestoresTokensOverTime(t *testing.T) {
	l, clock := newTestLimiter(testConfig(), nil)

	for i := 0; i < 15; i++ {
		allowed, _ := l.CheckAndConsume("user-1")
		require.True(t, allowed)
	}
	allowed, _ := l.CheckAndConsume("user-1")
	require.False(t, allowed)

	// 12 per minute = one token every 5 seconds.
	clock.advance(5 * time.Second)
	allowed, _ = l.CheckAndConsume("user-1")
	assert.True(t, allowed)

	allowed, _ = l.CheckAndConsume("user-1")
	assert.False(t, allowed, "refill grants exactly one token in 5s")
}

func TestRepeatedDenialsEscalateToLockout(t *testing.T) {
	l, clock := newTestLimiter(testConfig(), nil)

	for i := 0; i < 15; i++ {
		l.CheckAndConsume("user-1")
	}

	// Two denials warn, the third locks out.
	for i := 0; i < 2; i++ {
		allowed, msg := l.CheckAndConsume("user-1")
		require.False(t, allowed)
		assert.NotContains(t, msg, "восстановлен")
	}
	allowed, msg := l.CheckAndConsume("user-1")
	require.False(t, allowed)
	assert.Contains(t, msg, "300 сек")

	// Lockout overrides refill: a minute later tokens exist but access
	// stays denied.
	clock.advance(time.Minute)
	allowed, msg = l.CheckAndConsume("user-1")
	assert.False(t, allowed)
	assert.Contains(t, msg, "восстановлен через")

	clock.advance(5 * time.Minute)
	allowed, _ = l.CheckAndConsume("user-1")
	assert.True(t, allowed, "lockout expires after 300s")
}

func TestSuccessResetsWarnings(t *testing.T) {
	l, clock := newTestLimiter(testConfig(), nil)

	for i := 0; i < 15; i++ {
		l.CheckAndConsume("user-1")
	}
	for i := 0; i < 2; i++ {
		allowed, _ := l.CheckAndConsume("user-1")
		require.False(t, allowed)
	}

	clock.advance(5 * time.Second)
	allowed, _ := l.CheckAndConsume("user-1")
	require.True(t, allowed)

	// The warning streak restarted, so two more denials stay below the
	// lockout threshold.
	for i := 0; i < 2; i++ {
		_, msg := l.CheckAndConsume("user-1")
		assert.NotContains(t, msg, "восстановлен")
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(testConfig(), nil)

	for i := 0; i < 15; i++ {
		l.CheckAndConsume("user-1")
	}
	allowed, _ := l.CheckAndConsume("user-1")
	require.False(t, allowed)

	allowed, _ = l.CheckAndConsume("user-2")
	assert.True(t, allowed, "a drained bucket must not affect other identities")
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(testConfig(), nil)

	l.CheckAndConsume("idle-user")
	require.Equal(t, 1, l.ActiveBuckets())

	clock.advance(2 * time.Hour)
	l.CheckAndConsume("fresh-user")
	assert.Equal(t, 1, l.ActiveBuckets(), "idle bucket swept, fresh bucket kept")
}

type failingStore struct{}

func (failingStore) SaveBucket(string, BucketState) error { return errors.New("disk full") }
func (failingStore) LoadBuckets() (map[string]BucketState, error) {
	return nil, errors.New("corrupt file")
}

func TestStoreFailuresFailOpen(t *testing.T) {
	l, _ := newTestLimiter(testConfig(), failingStore{})

	allowed, msg := l.CheckAndConsume("user-1")
	assert.True(t, allowed)
	assert.Empty(t, msg)
}

type memStore struct {
	buckets map[string]BucketState
}

func (m *memStore) SaveBucket(identity string, state BucketState) error {
	if m.buckets == nil {
		m.buckets = make(map[string]BucketState)
	}
	m.buckets[identity] = state
	return nil
}

func (m *memStore) LoadBuckets() (map[string]BucketState, error) {
	return m.buckets, nil
}

func TestLockoutSurvivesRestart(t *testing.T) {
	store := &memStore{}
	l, clock := newTestLimiter(testConfig(), store)

	for i := 0; i < 18; i++ {
		l.CheckAndConsume("user-1")
	}
	allowed, _ := l.CheckAndConsume("user-1")
	require.False(t, allowed)

	// A new limiter restoring from the same store keeps the block.
	restarted := New(testConfig(), store, nil)
	restarted.now = clock.now
	allowed, msg := restarted.CheckAndConsume("user-1")
	assert.False(t, allowed)
	assert.Contains(t, msg, "восстановлен")
}

func TestDenialMessageMentionsWait(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 1
	cfg.WarningThreshold = 1
	l, _ := newTestLimiter(cfg, nil)

	allowed, _ := l.CheckAndConsume("user-1")
	require.True(t, allowed)

	allowed, msg := l.CheckAndConsume("user-1")
	require.False(t, allowed)
	assert.True(t, strings.Contains(msg, "сек"), "lockout message names the wait: %q", msg)
}
