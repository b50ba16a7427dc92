// Package scheduler drives the autonomous engagement loop: one full
// rotation over all active sources per cycle, a randomized wait, then the
// next cycle, indefinitely until stopped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"replyloop.app/engine/common/id"
	"replyloop.app/engine/common/logger"
	"replyloop.app/engine/internal/cycle"
	"replyloop.app/engine/internal/guard"
	"replyloop.app/engine/internal/model"
)

// State is the scheduler's externally visible activity.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateGenerating  State = "generating"
	StateSending     State = "sending"
	StateWaiting     State = "waiting"
	StateRateLimited State = "rate-limited"
)

// Processor runs one source through the engagement pipeline.
type Processor interface {
	ProcessSource(ctx context.Context, source model.Source, index, total int, settings model.Settings) (cycle.Outcome, error)
}

// SettingsLoader re-reads the live settings at the top of each cycle.
type SettingsLoader interface {
	Load(ctx context.Context, defaults model.Settings) (model.Settings, error)
}

// Pruner is the retention hook shared by the replied ledger and history.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// Status is the continuously readable snapshot exposed to observers.
// Failures surface here, never as errors escaping the scheduler.
type Status struct {
	Running       bool                      `json:"running"`
	State         State                     `json:"state"`
	CycleCount    int64                     `json:"cycle_count"`
	SentThisCycle int                       `json:"sent_this_cycle"`
	TotalSent     int64                     `json:"total_sent"`
	WorkingSet    int                       `json:"working_set"`
	DraftCounts   map[model.DraftStatus]int `json:"draft_counts,omitempty"`
	LastRunAt     *time.Time                `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time                `json:"next_run_at,omitempty"`
	LastError     string                    `json:"last_error,omitempty"`
	Guard         guard.Snapshot            `json:"guard"`
}

type Scheduler struct {
	processor Processor
	settings  SettingsLoader
	defaults  model.Settings
	sources   []model.Source
	guard     *guard.Guard
	pruners   []Pruner

	jitter cycle.Jitter
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	trigger chan struct{}

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	stoppedCh chan struct{}
	status    Status
	drafts    []model.ReplyDraft
}

func New(processor Processor, settings SettingsLoader, defaults model.Settings, sources []model.Source, g *guard.Guard, pruners []Pruner, jitter cycle.Jitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		processor: processor,
		settings:  settings,
		defaults:  defaults,
		sources:   sources,
		guard:     g,
		pruners:   pruners,
		jitter:    jitter,
		now:       time.Now,
		sleep:     defaultSleep,
		trigger:   make(chan struct{}, 1),
		status:    Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep overrides the cancellable delay primitive.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// Start launches the run loop: one cycle immediately, then repeat after a
// randomized interval. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.stoppedCh = make(chan struct{})
	s.status.Running = true
	stopped := s.stoppedCh
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		s.runLoop(runCtx)
	}()
}

// Stop cancels the loop and waits for it to wind down. Idempotent.
// The current external side effect, if any, runs to its own timeout;
// cancellation only prevents new work from starting.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	stopped := s.stoppedCh
	s.mu.Unlock()

	cancel()
	<-stopped

	s.mu.Lock()
	s.status.Running = false
	s.status.State = StateIdle
	s.status.NextRunAt = nil
	s.mu.Unlock()
}

// RunOnce executes a single cycle synchronously and returns. It is the
// one-shot entry point; do not mix with Start on the same scheduler.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.scheduler",
	})
	s.runCycle(ctx)
}

// Trigger requests an immediate cycle, short-circuiting the inter-cycle
// wait. Coalesces when a trigger is already pending.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// ResetGuard clears the send guard (manual operator override).
func (s *Scheduler) ResetGuard() {
	s.guard.Reset()
}

// Status returns the current observable snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	st.Guard = s.guard.Snapshot()
	st.WorkingSet = len(s.drafts)
	if len(s.drafts) > 0 {
		st.DraftCounts = make(map[model.DraftStatus]int, 4)
		for _, d := range s.drafts {
			st.DraftCounts[d.Status]++
		}
	}
	return st
}

func (s *Scheduler) runLoop(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.scheduler",
	})

	slog.InfoContext(ctx, "scheduler started", "sources", len(s.sources))

	for {
		s.runCycle(ctx)

		if ctx.Err() != nil {
			slog.InfoContext(ctx, "scheduler stopping")
			return
		}

		settings := s.loadSettings(ctx)
		minWait, maxWait := settings.IntervalBounds()
		wait := s.jitter(minWait, maxWait)
		next := s.now().Add(wait)

		s.mu.Lock()
		s.status.State = StateWaiting
		s.status.NextRunAt = &next
		s.mu.Unlock()

		slog.InfoContext(ctx, "cycle complete, waiting", "wait", wait.Round(time.Second))

		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "scheduler stopping")
			return
		case <-s.trigger:
			slog.InfoContext(ctx, "manual trigger received")
		case <-time.After(wait):
		}
	}
}

// runCycle processes every active source once. Source errors and panics
// are recorded and never escape the cycle.
func (s *Scheduler) runCycle(ctx context.Context) {
	cycleID := id.NewCycleID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{CycleID: logger.Ptr(cycleID)})

	sc := logger.StartSpan(ctx, "engine.cycle.run")
	defer sc.End()
	ctx = sc.Context()

	settings := s.loadSettings(ctx)

	s.pruneRetention(ctx, settings.Retention())

	s.mu.Lock()
	s.status.SentThisCycle = 0
	s.status.LastError = ""
	s.status.NextRunAt = nil
	s.drafts = nil
	s.mu.Unlock()

	sentTotal := 0
	rateLimited := false

	for i, source := range s.sources {
		if ctx.Err() != nil {
			break
		}
		if !source.Active {
			continue
		}

		outcome, err := s.processSourceSafe(ctx, source, i, len(s.sources), settings)

		s.mu.Lock()
		s.drafts = append(s.drafts, outcome.Drafts...)
		s.mu.Unlock()

		if err != nil {
			sc.RecordError(err)
			slog.ErrorContext(ctx, "source processing failed",
				"source_id", source.ID,
				"error", err)
			s.mu.Lock()
			s.status.LastError = err.Error()
			s.mu.Unlock()
		}

		sentTotal += outcome.Sent
		s.mu.Lock()
		s.status.SentThisCycle = sentTotal
		s.mu.Unlock()

		if outcome.RateLimited {
			rateLimited = true
			s.mu.Lock()
			s.status.State = StateRateLimited
			s.mu.Unlock()
			slog.WarnContext(ctx, "rate limited, skipping remaining sources this cycle")
			break
		}

		// Inter-source delay, skipped after the last source.
		if i < len(s.sources)-1 {
			minDelay, maxDelay := settings.SourceDelayBounds()
			if err := s.sleep(ctx, s.jitter(minDelay, maxDelay)); err != nil {
				break
			}
		}
	}

	finished := s.now()
	s.mu.Lock()
	s.status.LastRunAt = &finished
	s.status.CycleCount++
	s.status.TotalSent += int64(sentTotal)
	if !rateLimited {
		s.status.State = StateIdle
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "cycle finished", "sent", sentTotal, "rate_limited", rateLimited)
}

// processSourceSafe isolates panics from a single source's processing.
func (s *Scheduler) processSourceSafe(ctx context.Context, source model.Source, index, total int, settings model.Settings) (outcome cycle.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in source processing",
				"panic", r,
				"source_id", source.ID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return s.processor.ProcessSource(ctx, source, index, total, settings)
}

// SetPhase lets the processor's phase callback update the visible state.
func (s *Scheduler) SetPhase(phase cycle.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch phase {
	case cycle.PhaseFetching:
		s.status.State = StateFetching
	case cycle.PhaseGenerating:
		s.status.State = StateGenerating
	case cycle.PhaseSending:
		s.status.State = StateSending
	}
}

func (s *Scheduler) loadSettings(ctx context.Context) model.Settings {
	settings, err := s.settings.Load(ctx, s.defaults)
	if err != nil {
		slog.WarnContext(ctx, "failed to load settings, using defaults", "error", err)
		return s.defaults
	}
	return settings
}

func (s *Scheduler) pruneRetention(ctx context.Context, retention time.Duration) {
	for _, p := range s.pruners {
		removed, err := p.Prune(ctx, retention)
		if err != nil {
			slog.WarnContext(ctx, "retention prune failed", "error", err)
			continue
		}
		if removed > 0 {
			slog.InfoContext(ctx, "pruned expired entries", "removed", removed)
		}
	}
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
