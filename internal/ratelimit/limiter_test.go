package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source shared by the store and the limiter.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMemoryLimiter(clock *fakeClock) (*Limiter, *MemoryStore) {
	store := NewMemoryStore(clock.Now)
	return NewLimiter(store, RuleVerdict, WithClock(clock.Now)), store
}

// ---------------------------------------------------------------------------
// Test: first call opens a 24h window
// ---------------------------------------------------------------------------

func TestCheck_FirstCallOpensWindow(t *testing.T) {
	clock := &fakeClock{now: t0}
	l, _ := newMemoryLimiter(clock)

	d, err := l.Check(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 29, d.Remaining)
	assert.Equal(t, t0.Add(24*time.Hour), d.ResetAt)
	assert.Zero(t, d.RetryAfterSeconds)
}

// ---------------------------------------------------------------------------
// Test: the 31st call in a window is rejected and not counted
// ---------------------------------------------------------------------------

func TestCheck_ThirtyFirstCallRejected(t *testing.T) {
	clock := &fakeClock{now: t0}
	l, store := newMemoryLimiter(clock)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		d, err := l.Check(ctx, "client")
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d should be allowed", i)
		require.Equal(t, 30-i, d.Remaining)
	}

	clock.Advance(time.Hour)
	d, err := l.Check(ctx, "client")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, int((23 * time.Hour).Seconds()), d.RetryAfterSeconds)

	win, ok := store.Peek(RuleVerdict.Key + "client")
	require.True(t, ok)
	assert.Equal(t, 30, win.Count, "rejected calls must not increment")
}

// ---------------------------------------------------------------------------
// Test: window resets once resetAt elapses
// ---------------------------------------------------------------------------

func TestCheck_WindowResets(t *testing.T) {
	clock := &fakeClock{now: t0}
	l, _ := newMemoryLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 31; i++ {
		_, _ = l.Check(ctx, "client")
	}

	clock.Advance(24 * time.Hour)
	d, err := l.Check(ctx, "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 29, d.Remaining)
	assert.Equal(t, t0.Add(48*time.Hour), d.ResetAt)
}

// ---------------------------------------------------------------------------
// Test: identifiers are counted independently
// ---------------------------------------------------------------------------

func TestCheck_IndependentIdentifiers(t *testing.T) {
	clock := &fakeClock{now: t0}
	l, _ := newMemoryLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, _ = l.Check(ctx, "a")
	}
	clock.Advance(time.Minute)

	d, err := l.Check(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 29, d.Remaining)
	assert.Equal(t, t0.Add(time.Minute+24*time.Hour), d.ResetAt)
}

// ---------------------------------------------------------------------------
// Test: concurrent calls never lose an update
// ---------------------------------------------------------------------------

func TestCheck_ConcurrentNoLostUpdates(t *testing.T) {
	clock := &fakeClock{now: t0}
	store := NewMemoryStore(clock.Now)
	rule := Rule{Key: "rl:test:", Limit: 1000, Window: time.Hour}
	l := NewLimiter(store, rule, WithClock(clock.Now))

	const workers, perWorker = 16, 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				d, err := l.Check(context.Background(), "shared")
				if err == nil && d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, allowed)
	win, ok := store.Peek("rl:test:shared")
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, win.Count)
}

// ---------------------------------------------------------------------------
// Test: Sweep drops only expired windows
// ---------------------------------------------------------------------------

func TestMemoryStore_Sweep(t *testing.T) {
	clock := &fakeClock{now: t0}
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, _, err := store.Take(ctx, "old", 5, time.Minute)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, _, err = store.Take(ctx, "new", 5, time.Minute)
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, ok := store.Peek("new")
	assert.True(t, ok)
}

// ---------------------------------------------------------------------------
// Test: store errors fail open but are reported
// ---------------------------------------------------------------------------

type brokenStore struct{}

func (brokenStore) Take(context.Context, string, int, time.Duration) (Window, bool, error) {
	return Window{}, false, fmt.Errorf("connection refused")
}

func TestCheck_StoreErrorFailsOpen(t *testing.T) {
	l := NewLimiter(brokenStore{}, RuleVerdict)

	d, err := l.Check(context.Background(), "client")
	require.Error(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RuleVerdict.Limit, d.Remaining)
}

// ---------------------------------------------------------------------------
// Test: RedisStore against a local Redis
// ---------------------------------------------------------------------------

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return client
}

func TestRedisStore_LimitAndTTL(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client, nil)
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	l := NewLimiter(store, rule)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Check(ctx, "redis_client")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 3-i, d.Remaining)
	}

	d, err := l.Check(ctx, "redis_client")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfterSeconds, 0)
	assert.LessOrEqual(t, d.RetryAfterSeconds, 60)

	count, err := client.Get(ctx, "rl:test:redis_client").Int()
	require.NoError(t, err)
	assert.Equal(t, 3, count, "rejected call must not increment")
}
