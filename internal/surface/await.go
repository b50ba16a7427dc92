package surface

import (
	"context"
	"time"
)

// WaitOutcome classifies how an Await call ended.
type WaitOutcome string

const (
	WaitMet      WaitOutcome = "met"
	WaitTimedOut WaitOutcome = "timed-out"
	WaitCanceled WaitOutcome = "canceled"
	WaitFailed   WaitOutcome = "failed"
)

// Predicate is one pollable condition against the surface.
type Predicate func(ctx context.Context) (bool, error)

// Await polls pred every interval until it holds, the timeout elapses, or
// the context is canceled. The predicate is evaluated once immediately so
// already-true conditions never wait a full interval. A predicate error
// ends the wait with WaitFailed.
func Await(ctx context.Context, timeout, interval time.Duration, pred Predicate) (WaitOutcome, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return WaitCanceled, err
		}

		ok, err := pred(ctx)
		if err != nil {
			return WaitFailed, err
		}
		if ok {
			return WaitMet, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return WaitTimedOut, nil
		}
		if remaining < interval {
			interval = remaining
		}

		select {
		case <-ctx.Done():
			return WaitCanceled, ctx.Err()
		case <-time.After(interval):
		}
	}
}
