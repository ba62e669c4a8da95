package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teranos/missionctl/agent"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/internal/util"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/notify"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/research"
)

// Rule names, also written to notification metadata
const (
	RuleStall    = "stall"
	RuleRetry    = "retry"
	RuleResearch = "research"
	RulePause    = "pause"
)

// SourceResearch marks jobs the research rule created
const SourceResearch = "auto-dispatch:research"

const researchTitlePrefix = "Assess research item "

// SweepReport counts what one sweep did. Errors holds per-rule failures;
// a rule that failed may still have acted on some items.
type SweepReport struct {
	StartedAt  time.Time         `json:"started_at"`
	DurationMS int64             `json:"duration_ms"`
	Stalled    int               `json:"stalled"`
	Retried    int               `json:"retried"`
	Dispatched int               `json:"dispatched"`
	Paused     int               `json:"paused"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Acted reports whether any rule changed something
func (r *SweepReport) Acted() bool {
	return r.Stalled+r.Retried+r.Dispatched+r.Paused > 0
}

// Sweeper runs the auto-dispatch rules
type Sweeper struct {
	queue    *async.Queue
	notes    *notify.Store
	research *research.Store
	agents   *agent.Store
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	policy Policy

	group singleflight.Group

	// Now is the sweep clock; tests replace it
	Now func() time.Time
}

// NewSweeper creates a sweeper over the queue's database
func NewSweeper(db *sql.DB, queue *async.Queue, policy Policy, log *zap.SugaredLogger) *Sweeper {
	if log == nil {
		log = logger.Logger
	}
	return &Sweeper{
		queue:    queue,
		notes:    notify.NewStore(db),
		research: research.NewStore(db),
		agents:   agent.NewStore(db),
		logger:   logger.AddDispatchSymbol(log.Named("dispatch")),
		policy:   policy,
		Now:      time.Now,
	}
}

// Policy returns the thresholds in effect
func (s *Sweeper) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy swaps thresholds; the next sweep uses them
func (s *Sweeper) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.logger.Infow("Dispatch policy updated",
		"stall_timeout", p.StallTimeout,
		"max_retries", p.MaxRetries,
		"pause_threshold", p.PauseThreshold)
}

// Trigger runs a sweep, sharing the result with any sweep already in flight
func (s *Sweeper) Trigger(ctx context.Context) *SweepReport {
	v, _, _ := s.group.Do("sweep", func() (interface{}, error) {
		return s.Sweep(ctx), nil
	})
	return v.(*SweepReport)
}

// Sweep runs every rule once. It never fails: a rule's error is logged,
// recorded in the report and the next rule runs.
func (s *Sweeper) Sweep(ctx context.Context) *SweepReport {
	now := s.Now().UTC()
	policy := s.Policy()
	report := &SweepReport{StartedAt: now}

	rules := []struct {
		name  string
		count *int
		run   func(context.Context, time.Time, Policy) (int, error)
	}{
		{RuleStall, &report.Stalled, s.detectStalls},
		{RuleRetry, &report.Retried, s.retryFailed},
		{RuleResearch, &report.Dispatched, s.dispatchStaleResearch},
		{RulePause, &report.Paused, s.pauseFailingAgents},
	}
	for _, rule := range rules {
		n, err := s.safeRule(ctx, rule.name, now, policy, rule.run)
		*rule.count = n
		if err != nil {
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[rule.name] = err.Error()
			s.logger.Warnw("Dispatch rule failed", logger.FieldRule, rule.name, logger.FieldError, err)
		}
	}

	report.DurationMS = time.Since(now).Milliseconds()
	if report.Acted() {
		s.logger.Infow("Dispatch sweep",
			"stalled", report.Stalled,
			"retried", report.Retried,
			"dispatched", report.Dispatched,
			"paused", report.Paused)
	}
	return report
}

func (s *Sweeper) safeRule(ctx context.Context, name string, now time.Time, p Policy,
	run func(context.Context, time.Time, Policy) (int, error)) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Dispatch rule panicked", logger.FieldRule, name, "panic", r, "stack", string(debug.Stack()))
			err = errors.Newf("rule %s panicked: %v", name, r)
		}
	}()
	return run(ctx, now, p)
}

// detectStalls alerts once per job running longer than the stall timeout.
// Exactly at the timeout is not yet stalled.
func (s *Sweeper) detectStalls(ctx context.Context, now time.Time, p Policy) (int, error) {
	jobs, err := s.queue.Store().ListRunningSince(ctx)
	if err != nil {
		return 0, err
	}

	var alerted int
	var errs error
	for _, job := range jobs {
		elapsed := now.Sub(*job.StartedAt)
		if elapsed <= p.StallTimeout {
			continue
		}
		exists, err := s.notes.ExistsOpen(ctx, notify.CategoryAlert, notify.MetaJobID, job.ID)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if exists {
			continue
		}

		minutes := int(elapsed / time.Minute)
		err = s.notes.Create(ctx, &notify.Notification{
			Title:    fmt.Sprintf("Job stalled: %s", util.Truncate(job.Title, 80)),
			Body:     fmt.Sprintf("Job %s has been running for %d minutes (stall timeout %s).", job.ID, minutes, p.StallTimeout),
			Category: notify.CategoryAlert,
			Priority: notify.PriorityHigh,
			Metadata: map[string]interface{}{
				notify.MetaJobID:   job.ID,
				notify.MetaRule:    RuleStall,
				"elapsed_minutes":  minutes,
				logger.FieldEngine: string(job.Engine),
			},
		})
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		alerted++
		s.logger.Warnw("Job stalled", logger.FieldJobID, job.ID, "elapsed_minutes", minutes)
	}
	return alerted, errs
}

// retryFailed requeues a batch of failed jobs still under the retry cap,
// most recently completed first
func (s *Sweeper) retryFailed(ctx context.Context, now time.Time, p Policy) (int, error) {
	jobs, err := s.queue.Store().ListRetryable(ctx, p.MaxRetries, p.RetryBatch)
	if err != nil {
		return 0, err
	}

	var retried int
	var errs error
	for _, job := range jobs {
		won, err := s.queue.Requeue(ctx, job.ID, async.RequeueOptions{IncrementRetry: true, MaxRetries: p.MaxRetries})
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if !won {
			// claimed, requeued or edited since the list was read
			continue
		}
		retried++

		attempt := job.RetryCount + 1
		s.logger.Infow("Job requeued for retry", logger.FieldJobID, job.ID, "attempt", attempt, "max", p.MaxRetries)
		err = s.notes.Create(ctx, &notify.Notification{
			Title:    fmt.Sprintf("Retrying job: %s", util.Truncate(job.Title, 80)),
			Body:     fmt.Sprintf("Attempt %d/%d. Last error: %s", attempt, p.MaxRetries, util.Truncate(job.LastError, 300)),
			Category: notify.CategoryInfo,
			Priority: notify.PriorityNormal,
			Metadata: map[string]interface{}{
				notify.MetaJobID: job.ID,
				notify.MetaRule:  RuleRetry,
				"attempt":        attempt,
			},
		})
		if err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return retried, errs
}

// dispatchStaleResearch creates an assessment job for research items left
// captured past the staleness window, unless one is already queued or running
func (s *Sweeper) dispatchStaleResearch(ctx context.Context, now time.Time, p Policy) (int, error) {
	items, err := s.research.ListStale(ctx, now.Add(-p.ResearchStale), p.ResearchBatch)
	if err != nil {
		return 0, err
	}

	var dispatched int
	var errs error
	for _, item := range items {
		active, err := s.queue.Store().HasActiveJobMentioning(ctx, item.ID)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if active {
			continue
		}

		job, err := s.queue.Enqueue(ctx, async.JobSpec{
			Title:    researchTitlePrefix + item.ID + ": " + util.Truncate(item.Title, 80),
			Prompt:   researchPrompt(item),
			Engine:   async.EngineGeneralLLM,
			Priority: util.Ptr(ResearchJobPriority),
			Source:   SourceResearch,
		})
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		dispatched++
		s.logger.Infow("Research item dispatched for assessment", "research_id", item.ID, logger.FieldJobID, job.ID)
	}
	return dispatched, errs
}

func researchPrompt(item *research.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assess the captured research item %q.\n", item.Title)
	if item.URL != "" {
		fmt.Fprintf(&b, "Source: %s\n", item.URL)
	}
	if item.Summary != "" {
		fmt.Fprintf(&b, "Notes: %s\n", item.Summary)
	}
	b.WriteString("Summarize what it is, whether it is relevant to current projects, and recommend next steps.")
	return b.String()
}

// ResearchIDFromTitle extracts the item id from a job the research rule created
func ResearchIDFromTitle(title string) (string, bool) {
	rest, ok := strings.CutPrefix(title, researchTitlePrefix)
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, ":")
	return id, ok && id != ""
}

// pauseFailingAgents pauses active agents whose failure streak reached the
// threshold. Each pause is announced once.
func (s *Sweeper) pauseFailingAgents(ctx context.Context, now time.Time, p Policy) (int, error) {
	agents, err := s.agents.ListPauseCandidates(ctx, p.PauseThreshold)
	if err != nil {
		return 0, err
	}

	var paused int
	var errs error
	for _, a := range agents {
		won, err := s.agents.Pause(ctx, a.ID)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if !won {
			continue
		}
		paused++

		s.logger.Warnw("Agent auto-paused", logger.FieldAgentID, a.ID, "name", a.Name, "failures", a.ConsecutiveFailures)
		err = s.notes.Create(ctx, &notify.Notification{
			Title:    fmt.Sprintf("Agent paused: %s", a.Name),
			Body:     fmt.Sprintf("%s failed %d reviews in a row and was paused. Resume it once the cause is fixed.", a.Name, a.ConsecutiveFailures),
			Category: notify.CategoryAlert,
			Priority: notify.PriorityHigh,
			Metadata: map[string]interface{}{
				notify.MetaAgentID: a.ID,
				notify.MetaRule:    RulePause,
				"failures":         a.ConsecutiveFailures,
			},
		})
		if err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return paused, errs
}

// OnJobFinished is the runner's finish hook: it closes out research items
// whose assessment succeeded, then sweeps.
func (s *Sweeper) OnJobFinished(ctx context.Context, job *async.Job) {
	if job.Source == SourceResearch && job.Status == async.JobStatusDone {
		if id, ok := ResearchIDFromTitle(job.Title); ok {
			if _, err := s.research.SetStatus(ctx, id, research.StatusCaptured, research.StatusAssessed); err != nil {
				s.logger.Warnw("Failed to mark research item assessed", "research_id", id, logger.FieldError, err)
			}
		}
	}
	s.Trigger(ctx)
}
