// Package budget enforces per-engine call quotas. An engine whose quota is
// spent reports quota-exhausted, which parks the job in paused_quota.
package budget

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teranos/missionctl/errors"
)

// ErrQuotaExhausted is wrapped by every Allow denial
var ErrQuotaExhausted = errors.New("quota exhausted")

// IsQuotaExhausted reports whether err is a limiter denial
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

// Limiter enforces max calls per time window using a sliding window.
// A limit of zero or less disables it.
type Limiter struct {
	name      string
	maxCalls  int
	window    time.Duration
	mu        sync.Mutex
	callTimes []time.Time
	timeNow   func() time.Time // Injectable for testing
}

// NewLimiter creates a per-minute limiter with real time
func NewLimiter(name string, maxCallsPerMinute int) *Limiter {
	return NewLimiterWithClock(name, maxCallsPerMinute, time.Minute, time.Now)
}

// NewLimiterWithClock creates a limiter with an injectable clock and window
func NewLimiterWithClock(name string, maxCalls int, window time.Duration, timeNow func() time.Time) *Limiter {
	capacity := maxCalls
	if capacity < 0 {
		capacity = 0
	}
	return &Limiter{
		name:      name,
		maxCalls:  maxCalls,
		window:    window,
		callTimes: make([]time.Time, 0, capacity),
		timeNow:   timeNow,
	}
}

// Name returns what the limiter guards, usually an engine name
func (r *Limiter) Name() string {
	return r.name
}

// Allow records a call, or returns an ErrQuotaExhausted error when the window is full
func (r *Limiter) Allow() error {
	if r.maxCalls <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCalls {
		err := errors.Wrapf(ErrQuotaExhausted, "%s: %d calls per %s", r.name, r.maxCalls, r.window)
		err = errors.WithDetail(err, fmt.Sprintf("Current calls in window: %d", len(r.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Window resets at: %s", r.callTimes[0].Add(r.window).Format(time.RFC3339)))
		return err
	}

	r.callTimes = append(r.callTimes, now)
	return nil
}

// Wait blocks until a call is allowed or ctx ends
func (r *Limiter) Wait(ctx context.Context) error {
	for {
		if err := r.Allow(); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// removeExpiredCalls drops timestamps outside the window. Must be called with lock held.
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	// Timestamps are ordered, so count from the front
	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}

// Reset clears the limiter state
func (r *Limiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callTimes = r.callTimes[:0]
}

// Stats is a point-in-time view of one limiter
type Stats struct {
	Name          string `json:"name"`
	Limit         int    `json:"limit"`
	CallsInWindow int    `json:"calls_in_window"`
	Remaining     int    `json:"remaining"`
}

// Stats returns current limiter statistics. Remaining is -1 when unlimited.
func (r *Limiter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeExpiredCalls(r.timeNow())

	s := Stats{Name: r.name, Limit: r.maxCalls, CallsInWindow: len(r.callTimes), Remaining: -1}
	if r.maxCalls > 0 {
		s.Remaining = max(r.maxCalls-len(r.callTimes), 0)
	}
	return s
}

// Quotas holds one limiter per engine
type Quotas struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewQuotas creates an empty quota set
func NewQuotas() *Quotas {
	return &Quotas{limiters: make(map[string]*Limiter)}
}

// Add registers a limiter under its name, replacing any previous one
func (q *Quotas) Add(l *Limiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limiters[l.Name()] = l
}

// For returns the limiter for name, or nil when that engine is unlimited
func (q *Quotas) For(name string) *Limiter {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.limiters[name]
}

// Snapshot returns stats for every limiter, sorted by name
func (q *Quotas) Snapshot() []Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Stats, 0, len(q.limiters))
	for _, l := range q.limiters {
		out = append(out, l.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
