package cycle_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"replyloop.app/engine/internal/cycle"
	"replyloop.app/engine/internal/generate"
	"replyloop.app/engine/internal/model"
	"replyloop.app/engine/internal/submit"
)

var _ = Describe("Processor", func() {
	var (
		ctx       context.Context
		fetcher   *mockFetcher
		generator *mockGenerator
		submitter *mockSubmitter
		g         *mockGuard
		l         *mockLedger
		h         *mockHistory
		clock     time.Time
		settings  model.Settings
		source    model.Source
		phases    []cycle.Phase
	)

	noJitter := func(min, _ time.Duration) time.Duration { return min }
	noSleep := func(_ context.Context, _ time.Duration) error { return nil }

	newProcessor := func() *cycle.Processor {
		return cycle.NewProcessor(fetcher, generator, submitter, g, l, h, noJitter,
			cycle.WithClock(func() time.Time { return clock }),
			cycle.WithSleep(noSleep),
			cycle.WithPhaseFunc(func(p cycle.Phase) { phases = append(phases, p) }),
		)
	}

	item := func(id, handle string, age time.Duration) model.ContentItem {
		return model.ContentItem{
			ItemID:       id,
			SourceID:     source.ID,
			Text:         "post " + id,
			AuthorHandle: handle,
			PublishedAt:  clock.Add(-age),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		fetcher = &mockFetcher{}
		generator = &mockGenerator{}
		submitter = &mockSubmitter{}
		g = &mockGuard{}
		l = &mockLedger{replied: map[string]bool{}}
		h = &mockHistory{}
		clock = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		settings = model.DefaultSettings()
		settings.MaxSendsPerSource = 5
		source = model.Source{ID: "src-1", Kind: model.SourceKindFeedB, Target: 2, Active: true}
		phases = nil
	})

	It("should propagate fetch errors", func() {
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return nil, errors.New("boom")
		}

		_, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})

	It("should do nothing when no item is actionable", func() {
		l.replied["a"] = true
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{
				item("a", "alice", time.Minute),
				item("b", "bob", 10 * 24 * time.Hour),
			}, nil
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Fetched).To(Equal(2))
		Expect(out.Actionable).To(BeZero())
		Expect(generator.requests).To(BeEmpty())
		Expect(submitter.sent).To(BeEmpty())
	})

	It("should generate, send, and record for actionable items", func() {
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{item("a", "alice", time.Minute)}, nil
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Sent).To(Equal(1))
		Expect(submitter.sent).To(Equal([]string{"generated reply"}))
		Expect(submitter.targets).To(Equal([]int{2}))
		Expect(g.successes).To(Equal(1))
		Expect(l.marked).To(Equal([]string{"a"}))
		Expect(h.appended).To(HaveLen(1))
		Expect(h.appended[0].OurReply).To(Equal("generated reply"))
		Expect(h.appended[0].Mode).To(Equal(model.ReplyModeAuto))
		Expect(phases).To(Equal([]cycle.Phase{cycle.PhaseFetching, cycle.PhaseGenerating, cycle.PhaseSending}))
	})

	It("should cap sends per source, in item order", func() {
		settings.MaxSendsPerSource = 1
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{
				item("a", "alice", time.Minute),
				item("b", "bob", time.Minute),
			}, nil
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Actionable).To(Equal(2))
		Expect(out.Sent).To(Equal(1))
		Expect(submitter.sent).To(HaveLen(1))
		Expect(l.marked).To(Equal([]string{"a"}))

		// Both drafts were generated; only the first was delivered.
		Expect(out.Drafts).To(HaveLen(2))
		Expect(out.Drafts[0].Status).To(Equal(model.DraftStatusSent))
		Expect(out.Drafts[1].Status).To(Equal(model.DraftStatusReady))
	})

	It("should let a failed send consume its capped slot", func() {
		settings.MaxSendsPerSource = 1
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{
				item("a", "alice", time.Minute),
				item("b", "bob", time.Minute),
			}, nil
		}
		submitter.submitFn = func(context.Context, string, int) submit.Result {
			return submit.Result{Message: "send failed"}
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Sent).To(BeZero())
		Expect(submitter.sent).To(HaveLen(1))
		Expect(out.Drafts[0].Status).To(Equal(model.DraftStatusError))
		Expect(out.Drafts[1].Status).To(Equal(model.DraftStatusReady))
	})

	It("should isolate a failed generation to its own draft", func() {
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{
				item("a", "alice", time.Minute),
				item("b", "bob", time.Minute),
			}, nil
		}
		generator.generateFn = func(_ context.Context, req generate.Request) (string, error) {
			if req.ItemText == "post a" {
				return "", errors.New("model unavailable")
			}
			return "reply for b", nil
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Sent).To(Equal(1))
		Expect(submitter.sent).To(Equal([]string{"reply for b"}))
		Expect(out.Drafts[0].Status).To(Equal(model.DraftStatusError))
		Expect(out.Drafts[0].Error).To(ContainSubstring("model unavailable"))
		Expect(out.Drafts[1].Status).To(Equal(model.DraftStatusSent))
	})

	It("should feed prior interactions with the author to the generator", func() {
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{item("a", "alice", time.Minute)}, nil
		}
		h.byAuthorFn = func(handle string, limit int) []model.HistoryEntry {
			Expect(handle).To(Equal("alice"))
			Expect(limit).To(Equal(3))
			return []model.HistoryEntry{
				{ItemID: "old", TheirText: "earlier post", OurReply: "earlier reply"},
			}
		}

		_, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(generator.requests).To(HaveLen(1))
		Expect(generator.requests[0].PriorInteractions).To(HaveLen(1))
		Expect(generator.requests[0].PriorInteractions[0].OurReply).To(Equal("earlier reply"))
	})

	It("should skip all sends while the guard is paused", func() {
		g.paused = true
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{item("a", "alice", time.Minute)}, nil
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Sent).To(BeZero())
		Expect(out.RateLimited).To(BeFalse())
		Expect(submitter.sent).To(BeEmpty())
		// Drafts were still generated for observability.
		Expect(out.Drafts).To(HaveLen(1))
		Expect(out.Drafts[0].Status).To(Equal(model.DraftStatusReady))
	})

	It("should abort the source on a rate limit and report it", func() {
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{
				item("a", "alice", time.Minute),
				item("b", "bob", time.Minute),
			}, nil
		}
		submitter.submitFn = func(context.Context, string, int) submit.Result {
			return submit.Result{Message: "rate limited", IsRateLimit: true}
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.RateLimited).To(BeTrue())
		Expect(out.Sent).To(BeZero())
		Expect(submitter.sent).To(HaveLen(1))
		Expect(g.failures).To(Equal(1))
		Expect(l.marked).To(BeEmpty())
	})

	It("should stop sending once the guard trips mid-source", func() {
		tripped := false
		g.pauseFn = func() bool { return tripped }
		fetcher.fetchFn = func(context.Context, model.Source, int) ([]model.ContentItem, error) {
			return []model.ContentItem{
				item("a", "alice", time.Minute),
				item("b", "bob", time.Minute),
				item("c", "carol", time.Minute),
			}, nil
		}
		submitter.submitFn = func(context.Context, string, int) submit.Result {
			if len(submitter.sent) == 2 {
				tripped = true
			}
			return submit.Result{Message: "send failed"}
		}

		out, err := newProcessor().ProcessSource(ctx, source, 0, 1, settings)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Sent).To(BeZero())
		Expect(submitter.sent).To(HaveLen(2))
		Expect(out.Drafts[0].Status).To(Equal(model.DraftStatusError))
		Expect(out.Drafts[2].Status).To(Equal(model.DraftStatusReady))
	})
})
