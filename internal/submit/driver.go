// Package submit executes single reply submissions against the external
// interactive surface: locate controls, insert text, trigger, and
// disambiguate the outcome from whatever signals the surface renders.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"replyloop.app/engine/common/logger"
	"replyloop.app/engine/internal/surface"
)

// Result is the outcome of one logical submission (up to MaxAttempts
// physical attempts).
type Result struct {
	Success     bool
	Message     string
	IsRateLimit bool
}

// outcome classifies the surface's reaction to one triggered attempt.
type outcome string

const (
	outcomeRateLimited outcome = "rate-limited"
	outcomeAcked       outcome = "acked"
	outcomeClosed      outcome = "closed"
	outcomeNone        outcome = "none"
)

type Config struct {
	Selectors surface.Selectors

	// MaxAttempts bounds physical attempts per Submit call.
	MaxAttempts int
	// StepTimeout bounds each locate/enable wait.
	StepTimeout time.Duration
	// OutcomeTimeout bounds the post-trigger disambiguation poll.
	OutcomeTimeout time.Duration
	// CloseGrace is how long after triggering a bare composer-close is
	// still considered too early to mean anything.
	CloseGrace time.Duration
	// PollInterval is the wait-step polling granularity.
	PollInterval time.Duration
	// RetryDelay is the suspension between attempts.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = 10 * time.Second
	}
	if c.OutcomeTimeout == 0 {
		c.OutcomeTimeout = 15 * time.Second
	}
	if c.CloseGrace == 0 {
		c.CloseGrace = time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// Driver runs the submission state machine. One driver serves the whole
// engine; sends are sequential by design, so no internal locking.
type Driver struct {
	surf surface.Surface
	cfg  Config
}

func NewDriver(surf surface.Surface, cfg Config) *Driver {
	return &Driver{surf: surf, cfg: cfg.withDefaults()}
}

// Submit attempts to deliver text through the surface's target-th entry
// point. It never returns an error: every failure mode collapses into the
// Result so callers can feed the send guard uniformly.
func (d *Driver) Submit(ctx context.Context, text string, target int) Result {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.submit.driver",
	})

	var lastMessage string
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		res, retryable := d.attempt(ctx, text, target, attempt)
		if res.Success || res.IsRateLimit {
			return res
		}
		lastMessage = res.Message
		if !retryable {
			return res
		}

		if attempt < d.cfg.MaxAttempts {
			d.dismissComposer(ctx)
			if err := sleep(ctx, d.cfg.RetryDelay); err != nil {
				return Result{Message: "canceled between attempts"}
			}
		}
	}

	return Result{Message: lastMessage}
}

// attempt runs one linear pass through the submission steps. The second
// return value reports whether another attempt is worthwhile.
func (d *Driver) attempt(ctx context.Context, text string, target int, attempt int) (Result, bool) {
	sel := d.cfg.Selectors

	slog.DebugContext(ctx, "submission attempt starting",
		"attempt", attempt,
		"target", target)

	// Step 1: entry point. The Nth control must exist before we can
	// activate it.
	w, err := surface.Await(ctx, d.cfg.StepTimeout, d.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		n, err := d.surf.Count(ctx, sel.EntryPoint)
		return n > target, err
	})
	if w != surface.WaitMet {
		return failResult(w, "entry point not found", err), w != surface.WaitCanceled
	}
	if err := d.surf.Activate(ctx, sel.EntryPoint, target); err != nil {
		return Result{Message: fmt.Sprintf("activating entry point: %v", err)}, true
	}

	// Step 2: input surface.
	w, err = surface.Await(ctx, d.cfg.StepTimeout, d.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return d.surf.IsVisible(ctx, sel.Input)
	})
	if w != surface.WaitMet {
		return failResult(w, "input surface not found", err), w != surface.WaitCanceled
	}
	if err := d.surf.Focus(ctx, sel.Input); err != nil {
		return Result{Message: fmt.Sprintf("focusing input: %v", err)}, true
	}

	// Step 3: insert and read back; one corrective re-insertion if the
	// surface swallowed the text.
	if ok, err := d.insertText(ctx, text); !ok {
		return Result{Message: fmt.Sprintf("text insertion failed: %v", err)}, true
	}

	// Step 4: submit control must be enabled; surfaces briefly disable it
	// while validating input.
	w, err = surface.Await(ctx, d.cfg.StepTimeout, d.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return d.surf.IsEnabled(ctx, sel.Submit)
	})
	if w != surface.WaitMet {
		return failResult(w, "submit control never enabled", err), w != surface.WaitCanceled
	}

	itemsBefore, countErr := d.surf.Count(ctx, sel.Item)

	if err := d.surf.Trigger(ctx, sel.Submit); err != nil {
		return Result{Message: fmt.Sprintf("triggering submit: %v", err)}, true
	}

	// Step 5: outcome disambiguation. The submission is already triggered,
	// so engine cancellation must not abandon it mid-flight: the poll runs
	// to its own timeout regardless.
	out := d.disambiguate(context.WithoutCancel(ctx))
	switch out {
	case outcomeRateLimited:
		slog.WarnContext(ctx, "platform rate limit detected", "attempt", attempt)
		return Result{Message: "rate limited", IsRateLimit: true}, false
	case outcomeAcked:
		d.verify(ctx, text, itemsBefore, countErr)
		return Result{Success: true}, false
	case outcomeClosed:
		// No acknowledgement, but the composer is gone past the grace
		// period. Treated as success; logged distinctly so false
		// positives can be audited.
		slog.WarnContext(ctx, "composer closed without acknowledgement, assuming sent",
			"attempt", attempt)
		d.verify(ctx, text, itemsBefore, countErr)
		return Result{Success: true}, false
	default:
		slog.DebugContext(ctx, "no submission signal within timeout", "attempt", attempt)
		return Result{Message: "no submission outcome within timeout"}, true
	}
}

// insertText sets the input text and verifies the surface kept it.
func (d *Driver) insertText(ctx context.Context, text string) (bool, error) {
	sel := d.cfg.Selectors

	for try := 0; try < 2; try++ {
		if err := d.surf.SetText(ctx, sel.Input, text); err != nil {
			return false, err
		}
		got, err := d.surf.ReadText(ctx, sel.Input)
		if err != nil {
			return false, err
		}
		if got != "" {
			return true, nil
		}
		slog.DebugContext(ctx, "input read back empty, re-inserting")
	}
	return false, fmt.Errorf("input still empty after re-insertion")
}

// disambiguate polls for the first of the four mutually exclusive
// post-trigger signals, in priority order.
func (d *Driver) disambiguate(ctx context.Context) outcome {
	sel := d.cfg.Selectors
	triggered := time.Now()

	result := outcomeNone
	w, _ := surface.Await(ctx, d.cfg.OutcomeTimeout, d.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		if limited, err := d.surf.IsVisible(ctx, sel.RateLimitNotice); err == nil && limited {
			result = outcomeRateLimited
			return true, nil
		}
		if acked, err := d.surf.IsVisible(ctx, sel.SuccessAck); err == nil && acked {
			result = outcomeAcked
			return true, nil
		}
		if time.Since(triggered) >= d.cfg.CloseGrace {
			if open, err := d.surf.IsVisible(ctx, sel.Composer); err == nil && !open {
				result = outcomeClosed
				return true, nil
			}
		}
		return false, nil
	})
	if w != surface.WaitMet {
		return outcomeNone
	}
	return result
}

// verify performs the best-effort post-success check: a content-count delta
// plus a comparison of the newest visible item against the submitted text.
// Mismatches are logged only; the surface may legitimately alter submitted
// text.
func (d *Driver) verify(ctx context.Context, text string, itemsBefore int, countErr error) {
	if countErr != nil {
		return
	}
	sel := d.cfg.Selectors

	itemsAfter, err := d.surf.Count(ctx, sel.Item)
	if err != nil {
		return
	}
	if itemsAfter <= itemsBefore {
		slog.WarnContext(ctx, "no new item visible after submission",
			"before", itemsBefore,
			"after", itemsAfter)
		return
	}

	visible, err := d.surf.ReadText(ctx, sel.Item)
	if err != nil || visible == "" {
		return
	}
	if visible != text {
		slog.WarnContext(ctx, "submitted text differs from rendered item",
			"submitted", logger.Truncate(text, 80),
			"rendered", logger.Truncate(visible, 80))
	}
}

// dismissComposer closes a still-open composer between attempts: primary
// close control, else the cancel fallback, then any discard prompt.
func (d *Driver) dismissComposer(ctx context.Context) {
	sel := d.cfg.Selectors

	open, err := d.surf.IsVisible(ctx, sel.Composer)
	if err != nil || !open {
		return
	}

	dismissed := false
	if visible, err := d.surf.IsVisible(ctx, sel.Close); err == nil && visible {
		dismissed = d.surf.Trigger(ctx, sel.Close) == nil
	}
	if !dismissed {
		if err := d.surf.Trigger(ctx, sel.Cancel); err != nil {
			slog.DebugContext(ctx, "composer dismissal failed", "error", err)
		}
	}

	// A discard prompt may appear after either dismissal path.
	w, _ := surface.Await(ctx, d.cfg.CloseGrace, d.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return d.surf.IsVisible(ctx, sel.DiscardConfirm)
	})
	if w == surface.WaitMet {
		if err := d.surf.Trigger(ctx, sel.DiscardConfirm); err != nil {
			slog.DebugContext(ctx, "discard confirmation failed", "error", err)
		}
	}
}

func failResult(w surface.WaitOutcome, step string, err error) Result {
	if err != nil {
		return Result{Message: fmt.Sprintf("%s: %v", step, err)}
	}
	return Result{Message: fmt.Sprintf("%s (%s)", step, w)}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
