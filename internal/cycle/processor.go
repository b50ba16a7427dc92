// Package cycle processes one source per invocation: fetch its items,
// decide which are actionable, generate drafts in parallel, then send them
// sequentially under the send guard's supervision.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"replyloop.app/engine/common/logger"
	"replyloop.app/engine/internal/generate"
	"replyloop.app/engine/internal/model"
	"replyloop.app/engine/internal/submit"
)

// historyContextLimit bounds how many past interactions with an author are
// fed to the generator.
const historyContextLimit = 3

// Fetcher retrieves up to targetCount normalized items for a source.
type Fetcher interface {
	Fetch(ctx context.Context, source model.Source, targetCount int) ([]model.ContentItem, error)
}

// Submitter executes one logical send against the interactive surface.
type Submitter interface {
	Submit(ctx context.Context, text string, target int) submit.Result
}

// Guard is the send circuit breaker consulted before and after each send.
type Guard interface {
	IsPaused() bool
	RecordSuccess()
	RecordFailure(pause time.Duration)
}

// Ledger is the already-replied dedup set.
type Ledger interface {
	HasReplied(itemID string) bool
	MarkReplied(ctx context.Context, itemID string) error
}

// History is the interaction ledger used for generation context.
type History interface {
	ByAuthor(handle string, limit int) []model.HistoryEntry
	Append(ctx context.Context, entry model.HistoryEntry) error
}

// Phase is the processor's observable activity within one source.
type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseGenerating Phase = "generating"
	PhaseSending    Phase = "sending"
)

// Outcome summarizes one ProcessSource invocation.
type Outcome struct {
	Fetched     int
	Actionable  int
	Sent        int
	RateLimited bool
	Drafts      []model.ReplyDraft
}

type Processor struct {
	fetcher   Fetcher
	generator generate.Generator
	submitter Submitter
	guard     Guard
	ledger    Ledger
	history   History

	jitter Jitter
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	// onPhase publishes phase transitions to the scheduler's status; nil
	// is fine.
	onPhase func(Phase)
}

func NewProcessor(fetcher Fetcher, generator generate.Generator, submitter Submitter, guard Guard, ledger Ledger, history History, jitter Jitter, opts ...Option) *Processor {
	p := &Processor{
		fetcher:   fetcher,
		generator: generator,
		submitter: submitter,
		guard:     guard,
		ledger:    ledger,
		history:   history,
		jitter:    jitter,
		now:       time.Now,
		sleep:     defaultSleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type Option func(*Processor)

// WithClock overrides the processor's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithSleep overrides the cancellable delay primitive.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Processor) { p.sleep = sleep }
}

// WithPhaseFunc registers a phase-transition observer.
func WithPhaseFunc(fn func(Phase)) Option {
	return func(p *Processor) { p.onPhase = fn }
}

// ProcessSource runs the full pipeline for one source and returns what
// happened. index and total are positional, for log context only.
func (p *Processor) ProcessSource(ctx context.Context, source model.Source, index, total int, settings model.Settings) (Outcome, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.cycle.processor",
		SourceID:  logger.Ptr(source.ID),
	})

	slog.InfoContext(ctx, "processing source", "position", fmt.Sprintf("%d/%d", index+1, total))

	p.setPhase(PhaseFetching)
	items, err := p.fetcher.Fetch(ctx, source, settings.FetchPageSize)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching source %s: %w", source.ID, err)
	}

	actionable := FilterActionable(items, p.now(), settings.MaxItemAge(), p.ledger.HasReplied)
	out := Outcome{Fetched: len(items), Actionable: len(actionable)}
	if len(actionable) == 0 {
		slog.DebugContext(ctx, "no actionable items", "fetched", len(items))
		return out, nil
	}

	p.setPhase(PhaseGenerating)
	drafts := p.generateDrafts(ctx, actionable, settings)
	out.Drafts = drafts

	p.setPhase(PhaseSending)
	sent, rateLimited := p.sendDrafts(ctx, source, actionable, drafts, settings)
	out.Sent = sent
	out.RateLimited = rateLimited

	slog.InfoContext(ctx, "source processed",
		"fetched", out.Fetched,
		"actionable", out.Actionable,
		"sent", out.Sent,
		"rate_limited", out.RateLimited)

	return out, nil
}

// generateDrafts fans out one generation per actionable item and joins
// before any send starts. A failed generation marks only its own draft.
func (p *Processor) generateDrafts(ctx context.Context, items []model.ContentItem, settings model.Settings) []model.ReplyDraft {
	drafts := make([]model.ReplyDraft, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		drafts[i] = model.ReplyDraft{ItemID: item.ItemID, Status: model.DraftStatusGenerating}

		wg.Add(1)
		go func(i int, item model.ContentItem) {
			defer wg.Done()

			genCtx := logger.WithLogFields(ctx, logger.LogFields{ItemID: logger.Ptr(item.ItemID)})

			var prior []model.Interaction
			for _, h := range p.history.ByAuthor(item.AuthorHandle, historyContextLimit) {
				prior = append(prior, model.Interaction{TheirText: h.TheirText, OurReply: h.OurReply})
			}

			text, err := p.generator.Generate(genCtx, generate.Request{
				ItemText:          item.Text,
				AuthorName:        item.AuthorName,
				MinWords:          settings.ReplyMinWords,
				MaxWords:          settings.ReplyMaxWords,
				CustomPrompt:      settings.CustomPrompt,
				PriorInteractions: prior,
			})
			if err != nil {
				slog.WarnContext(genCtx, "draft generation failed", "error", err)
				drafts[i].Status = model.DraftStatusError
				drafts[i].Error = err.Error()
				return
			}
			drafts[i].Text = text
			drafts[i].Status = model.DraftStatusReady
		}(i, item)
	}
	wg.Wait()

	return drafts
}

// sendDrafts delivers ready drafts in item order, capped per source,
// consulting the guard before the first send and after every failure.
// The cap bounds attempts: the first min(len(items), MaxSendsPerSource)
// ready non-empty drafts form the attempt set, and a failed send consumes
// its slot rather than promoting a later item.
func (p *Processor) sendDrafts(ctx context.Context, source model.Source, items []model.ContentItem, drafts []model.ReplyDraft, settings model.Settings) (int, bool) {
	if p.guard.IsPaused() {
		slog.InfoContext(ctx, "send guard paused, skipping sends for source")
		return 0, false
	}

	limit := settings.MaxSendsPerSource
	if len(items) < limit {
		limit = len(items)
	}

	var attempts []int
	for i := range items {
		if len(attempts) == limit {
			break
		}
		if drafts[i].Status == model.DraftStatusReady && drafts[i].Text != "" {
			attempts = append(attempts, i)
		}
	}

	sent := 0
	for n, i := range attempts {
		if ctx.Err() != nil {
			break
		}

		if n > 0 {
			minDelay, maxDelay := settings.SendDelayBounds()
			if err := p.sleep(ctx, p.jitter(minDelay, maxDelay)); err != nil {
				break
			}
		}

		item := items[i]
		sendCtx := logger.WithLogFields(ctx, logger.LogFields{ItemID: logger.Ptr(item.ItemID)})

		drafts[i].Status = model.DraftStatusSending
		res := p.submitter.Submit(sendCtx, drafts[i].Text, source.Target)

		if res.Success {
			drafts[i].Status = model.DraftStatusSent
			sent++
			p.guard.RecordSuccess()
			p.recordReply(sendCtx, item, drafts[i].Text)
			continue
		}

		drafts[i].Status = model.DraftStatusError
		drafts[i].Error = res.Message
		p.guard.RecordFailure(settings.FailurePause())

		if res.IsRateLimit {
			slog.WarnContext(sendCtx, "rate limited, aborting sends for source")
			return sent, true
		}
		if p.guard.IsPaused() {
			slog.WarnContext(sendCtx, "send guard tripped, aborting sends for source")
			break
		}
	}

	return sent, false
}

// recordReply reflects a successful send into the ledger and history.
// Persistence failures here are logged, not propagated: the reply is
// already out.
func (p *Processor) recordReply(ctx context.Context, item model.ContentItem, reply string) {
	if err := p.ledger.MarkReplied(ctx, item.ItemID); err != nil {
		slog.ErrorContext(ctx, "failed to record replied item", "error", err)
	}
	entry := model.HistoryEntry{
		ItemID:       item.ItemID,
		RepliedAt:    p.now(),
		AuthorHandle: item.AuthorHandle,
		AuthorName:   item.AuthorName,
		TheirText:    item.Text,
		OurReply:     reply,
		Mode:         model.ReplyModeAuto,
	}
	if err := p.history.Append(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to append history entry", "error", err)
	}
}

func (p *Processor) setPhase(phase Phase) {
	if p.onPhase != nil {
		p.onPhase(phase)
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
