package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mctltest "github.com/teranos/missionctl/internal/testing"
	"github.com/teranos/missionctl/internal/util"
)

// ============================================================================
// TAS Bot & Kirby Queue Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who enqueues jobs with precision
//   - Kirby: The runner who inhales jobs from the queue ('Poyo!')
//   - Cronos: Greek god of time, owns the fake clock
//
// Theme: TAS Bot queues missions, several Kirbys race to claim them, and
// Cronos advances time one tick per timestamp so ordering is deterministic.
// ============================================================================

// cronosClock is a fake clock advancing one second per reading
type cronosClock struct {
	mu  sync.Mutex
	now time.Time
}

func newCronosClock() *cronosClock {
	return &cronosClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *cronosClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *cronosClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *cronosClock) {
	t.Helper()
	db := mctltest.CreateTestDB(t)
	clock := newCronosClock()
	q := NewQueue(db)
	q.Now = clock.Now
	return q, clock
}

func enqueueShell(t *testing.T, q *Queue, title string, priority int) *Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), JobSpec{
		Title:    title,
		Prompt:   "echo " + title,
		Engine:   EngineShell,
		Priority: util.Ptr(priority),
	})
	require.NoError(t, err)
	return job
}

// claimAndFinish runs one job through claim and outcome write
func claimAndFinish(t *testing.T, q *Queue, outcome Outcome) *Job {
	t.Helper()
	ctx := context.Background()
	claimed, err := q.ClaimNext(ctx, Settings{})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	finished, err := q.Finish(ctx, claimed.ID, outcome)
	require.NoError(t, err)
	return finished
}

// stubEngine returns a canned outcome, or runs fn when set
type stubEngine struct {
	name    EngineName
	outcome Outcome
	fn      func(ctx context.Context, job *Job) Outcome

	mu   sync.Mutex
	runs []string
}

func (s *stubEngine) Name() EngineName { return s.name }

func (s *stubEngine) Run(ctx context.Context, job *Job) Outcome {
	s.mu.Lock()
	s.runs = append(s.runs, job.ID)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, job)
	}
	return s.outcome
}

func (s *stubEngine) Runs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.runs...)
}
