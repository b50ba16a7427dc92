package cycle

import (
	"math/rand"
	"time"

	"replyloop.app/engine/internal/model"
)

// IsActionable reports whether an item is worth replying to: fresh enough
// (or undated) and not already replied to. Pure decision function; the
// replied check is injected so it needs no store.
func IsActionable(item model.ContentItem, now time.Time, maxAge time.Duration, alreadyReplied func(string) bool) bool {
	if !item.PublishedAt.IsZero() && now.Sub(item.PublishedAt) > maxAge {
		return false
	}
	return !alreadyReplied(item.ItemID)
}

// FilterActionable keeps actionable items in their original order.
func FilterActionable(items []model.ContentItem, now time.Time, maxAge time.Duration, alreadyReplied func(string) bool) []model.ContentItem {
	var actionable []model.ContentItem
	for _, item := range items {
		if IsActionable(item, now, maxAge, alreadyReplied) {
			actionable = append(actionable, item)
		}
	}
	return actionable
}

// Jitter picks a delay within [min, max]. Injected so tests can pin delays.
type Jitter func(min, max time.Duration) time.Duration

// UniformJitter draws uniformly from [min, max] using the given source.
func UniformJitter(r *rand.Rand) Jitter {
	return func(min, max time.Duration) time.Duration {
		if max <= min {
			return min
		}
		return min + time.Duration(r.Int63n(int64(max-min)+1))
	}
}
