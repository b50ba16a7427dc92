package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"replyloop.app/engine/common/id"
	"replyloop.app/engine/internal/cycle"
	"replyloop.app/engine/internal/guard"
	"replyloop.app/engine/internal/model"
	"replyloop.app/engine/internal/scheduler"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		processor *mockProcessor
		loader    *mockSettingsLoader
		pruner    *mockPruner
		g         *guard.Guard
		defaults  model.Settings
		sources   []model.Source
		slept     []time.Duration
		sleptMu   sync.Mutex
	)

	noJitter := func(min, _ time.Duration) time.Duration { return min }

	recordSleep := func(_ context.Context, d time.Duration) error {
		sleptMu.Lock()
		slept = append(slept, d)
		sleptMu.Unlock()
		return nil
	}

	newScheduler := func() *scheduler.Scheduler {
		return scheduler.New(processor, loader, defaults, sources, g,
			[]scheduler.Pruner{pruner}, noJitter,
			scheduler.WithSleep(recordSleep))
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		processor = &mockProcessor{}
		loader = &mockSettingsLoader{}
		pruner = &mockPruner{}
		g = guard.New(nil)
		defaults = model.DefaultSettings()
		// Keep the loop wait long so tests control cycle timing
		// explicitly via RunOnce and Trigger.
		defaults.IntervalMinSec = 3600
		defaults.IntervalMaxSec = 3600
		sources = []model.Source{
			{ID: "src-1", Kind: model.SourceKindFeedA, Active: true},
			{ID: "src-2", Kind: model.SourceKindFeedB, Active: true},
		}
		slept = nil
	})

	Describe("RunOnce", func() {
		It("should process active sources in order and update the status", func() {
			processor.processFn = func(context.Context, model.Source, int, int, model.Settings) (cycle.Outcome, error) {
				return cycle.Outcome{Fetched: 5, Sent: 2}, nil
			}

			s := newScheduler()
			s.RunOnce(ctx)

			got := processor.sources()
			Expect(got).To(HaveLen(2))
			Expect(got[0].ID).To(Equal("src-1"))
			Expect(got[1].ID).To(Equal("src-2"))

			status := s.Status()
			Expect(status.CycleCount).To(Equal(int64(1)))
			Expect(status.SentThisCycle).To(Equal(4))
			Expect(status.TotalSent).To(Equal(int64(4)))
			Expect(status.LastRunAt).NotTo(BeNil())
		})

		It("should skip inactive sources without breaking the rotation", func() {
			sources[0].Active = false

			s := newScheduler()
			s.RunOnce(ctx)

			got := processor.sources()
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("src-2"))
		})

		It("should delay between sources but not after the last", func() {
			defaults.SourceDelayMinSec = 30
			defaults.SourceDelayMaxSec = 30

			newScheduler().RunOnce(ctx)

			sleptMu.Lock()
			defer sleptMu.Unlock()
			Expect(slept).To(Equal([]time.Duration{30 * time.Second}))
		})

		It("should stop the rotation when a source reports a rate limit", func() {
			processor.processFn = func(_ context.Context, source model.Source, _, _ int, _ model.Settings) (cycle.Outcome, error) {
				if source.ID == "src-1" {
					return cycle.Outcome{RateLimited: true}, nil
				}
				return cycle.Outcome{}, nil
			}

			s := newScheduler()
			s.RunOnce(ctx)

			Expect(processor.calls()).To(Equal(1))
			Expect(s.Status().State).To(Equal(scheduler.StateRateLimited))
		})

		It("should record a source error and continue with the next source", func() {
			processor.processFn = func(_ context.Context, source model.Source, _, _ int, _ model.Settings) (cycle.Outcome, error) {
				if source.ID == "src-1" {
					return cycle.Outcome{}, errors.New("feed unreachable")
				}
				return cycle.Outcome{Sent: 1}, nil
			}

			s := newScheduler()
			s.RunOnce(ctx)

			Expect(processor.calls()).To(Equal(2))
			status := s.Status()
			Expect(status.LastError).To(ContainSubstring("feed unreachable"))
			Expect(status.TotalSent).To(Equal(int64(1)))
		})

		It("should recover from a panicking source", func() {
			processor.processFn = func(_ context.Context, source model.Source, _, _ int, _ model.Settings) (cycle.Outcome, error) {
				if source.ID == "src-1" {
					panic("selector table corrupted")
				}
				return cycle.Outcome{}, nil
			}

			s := newScheduler()
			Expect(func() { s.RunOnce(ctx) }).NotTo(Panic())

			Expect(processor.calls()).To(Equal(2))
			Expect(s.Status().LastError).To(ContainSubstring("selector table corrupted"))
		})

		It("should prune retention stores with the configured window", func() {
			defaults.RetentionDays = 7

			newScheduler().RunOnce(ctx)

			pruner.mu.Lock()
			defer pruner.mu.Unlock()
			Expect(pruner.retentions).To(Equal([]time.Duration{7 * 24 * time.Hour}))
		})

		It("should fall back to defaults when the settings loader fails", func() {
			loader.loadFn = func(context.Context, model.Settings) (model.Settings, error) {
				return model.Settings{}, errors.New("store offline")
			}

			newScheduler().RunOnce(ctx)

			processor.mu.Lock()
			defer processor.mu.Unlock()
			Expect(processor.settings[0]).To(Equal(defaults))
		})

		It("should expose live settings overrides to the processor", func() {
			loader.loadFn = func(_ context.Context, d model.Settings) (model.Settings, error) {
				d.MaxSendsPerSource = 1
				return d, nil
			}

			newScheduler().RunOnce(ctx)

			processor.mu.Lock()
			defer processor.mu.Unlock()
			Expect(processor.settings[0].MaxSendsPerSource).To(Equal(1))
		})

		It("should accumulate the cycle's drafts into the status working set", func() {
			processor.processFn = func(_ context.Context, source model.Source, _, _ int, _ model.Settings) (cycle.Outcome, error) {
				return cycle.Outcome{Drafts: []model.ReplyDraft{
					{ItemID: source.ID + "-a", Status: model.DraftStatusSent},
					{ItemID: source.ID + "-b", Status: model.DraftStatusError},
				}}, nil
			}

			s := newScheduler()
			s.RunOnce(ctx)

			status := s.Status()
			Expect(status.WorkingSet).To(Equal(4))
			Expect(status.DraftCounts[model.DraftStatusSent]).To(Equal(2))
			Expect(status.DraftCounts[model.DraftStatusError]).To(Equal(2))
		})
	})

	Describe("Start and Stop", func() {
		It("should run the first cycle immediately and wait after it", func() {
			s := newScheduler()
			s.Start(ctx)
			defer s.Stop()

			Eventually(processor.calls, time.Second, 10*time.Millisecond).Should(Equal(2))
			Eventually(func() scheduler.State {
				return s.Status().State
			}, time.Second, 10*time.Millisecond).Should(Equal(scheduler.StateWaiting))
			Expect(s.Status().NextRunAt).NotTo(BeNil())
		})

		It("should short-circuit the wait on a manual trigger", func() {
			s := newScheduler()
			s.Start(ctx)
			defer s.Stop()

			Eventually(func() scheduler.State {
				return s.Status().State
			}, time.Second, 10*time.Millisecond).Should(Equal(scheduler.StateWaiting))
			before := processor.calls()

			s.Trigger()

			Eventually(processor.calls, time.Second, 10*time.Millisecond).Should(Equal(before + 2))
			Eventually(func() int64 {
				return s.Status().CycleCount
			}, time.Second, 10*time.Millisecond).Should(Equal(int64(2)))
		})

		It("should be idempotent for both Start and Stop", func() {
			s := newScheduler()
			s.Start(ctx)
			s.Start(ctx)

			Eventually(func() bool { return s.Status().Running }).Should(BeTrue())
			Eventually(processor.calls, time.Second, 10*time.Millisecond).Should(Equal(2))

			s.Stop()
			s.Stop()

			status := s.Status()
			Expect(status.Running).To(BeFalse())
			Expect(status.State).To(Equal(scheduler.StateIdle))
			Expect(status.NextRunAt).To(BeNil())
		})
	})

	Describe("SetPhase", func() {
		It("should map processor phases onto scheduler states", func() {
			s := newScheduler()

			s.SetPhase(cycle.PhaseFetching)
			Expect(s.Status().State).To(Equal(scheduler.StateFetching))
			s.SetPhase(cycle.PhaseGenerating)
			Expect(s.Status().State).To(Equal(scheduler.StateGenerating))
			s.SetPhase(cycle.PhaseSending)
			Expect(s.Status().State).To(Equal(scheduler.StateSending))
		})
	})

	Describe("ResetGuard", func() {
		It("should clear a tripped guard", func() {
			for i := 0; i < guard.FailureThreshold; i++ {
				g.RecordFailure(time.Hour)
			}
			s := newScheduler()
			Expect(s.Status().Guard.PausedUntil).NotTo(BeNil())

			s.ResetGuard()

			snap := s.Status().Guard
			Expect(snap.ConsecutiveFailures).To(BeZero())
			Expect(snap.PausedUntil).To(BeNil())
		})
	})
})
