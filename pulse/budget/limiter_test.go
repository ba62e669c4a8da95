package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock allows controlling time in tests
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func newTestLimiter(limit int) (*Limiter, *mockClock) {
	clock := newMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewLimiterWithClock("openrouter", limit, time.Minute, clock.Now), clock
}

func TestLimiter_AtLimit(t *testing.T) {
	limiter, _ := newTestLimiter(10)

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Allow(), "call %d", i+1)
	}

	err := limiter.Allow()
	require.Error(t, err)
	assert.True(t, IsQuotaExhausted(err))
	assert.Contains(t, err.Error(), "openrouter")

	s := limiter.Stats()
	assert.Equal(t, 10, s.CallsInWindow)
	assert.Equal(t, 0, s.Remaining)
}

func TestLimiter_WindowSlides(t *testing.T) {
	limiter, clock := newTestLimiter(2)

	require.NoError(t, limiter.Allow())
	clock.Advance(30 * time.Second)
	require.NoError(t, limiter.Allow())
	assert.Error(t, limiter.Allow())

	// First call leaves the window at exactly 60s
	clock.Advance(30 * time.Second)
	require.NoError(t, limiter.Allow())
	assert.Error(t, limiter.Allow())
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter, _ := newTestLimiter(0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Allow())
	}
	assert.Equal(t, -1, limiter.Stats().Remaining)
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow())
	}
	require.Error(t, limiter.Allow())

	limiter.Reset()
	assert.NoError(t, limiter.Allow())
}

func TestQuotas(t *testing.T) {
	quotas := NewQuotas()
	quotas.Add(NewLimiter("openrouter", 5))
	quotas.Add(NewLimiter("anthropic", 1))

	assert.Nil(t, quotas.For("shell"))
	require.NotNil(t, quotas.For("anthropic"))
	require.NoError(t, quotas.For("anthropic").Allow())

	snap := quotas.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "anthropic", snap[0].Name)
	assert.Equal(t, 0, snap[0].Remaining)
	assert.Equal(t, "openrouter", snap[1].Name)
	assert.Equal(t, 5, snap[1].Remaining)
}
