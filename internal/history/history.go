// Package history keeps the ledger of past interactions: what each author
// said and what we replied, for conversational context on later replies.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"replyloop.app/engine/internal/model"
	"replyloop.app/engine/internal/store"
)

// History is the append-only, per-item-deduplicated interaction ledger.
type History struct {
	kv  store.KV
	now func() time.Time

	mu      sync.Mutex
	entries map[string]model.HistoryEntry
	loaded  bool
}

func New(kv store.KV, now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{
		kv:      kv,
		now:     now,
		entries: make(map[string]model.HistoryEntry),
	}
}

func (h *History) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		return nil
	}

	raw, err := h.kv.Get(ctx, store.KeyHistory)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.loaded = true
			return nil
		}
		return fmt.Errorf("loading history: %w", err)
	}

	var entries []model.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parsing history: %w", err)
	}
	for _, e := range entries {
		h.entries[e.ItemID] = e
	}
	h.loaded = true
	return nil
}

// Append records one interaction. A second append for the same item ID is
// ignored, keeping the ledger consistent with the replied ledger.
func (h *History) Append(ctx context.Context, entry model.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.entries[entry.ItemID]; ok {
		return nil
	}
	if entry.RepliedAt.IsZero() {
		entry.RepliedAt = h.now()
	}
	h.entries[entry.ItemID] = entry
	return h.flushLocked(ctx)
}

// ByAuthor returns up to limit entries for one author, matched
// case-insensitively on handle, most recent first.
func (h *History) ByAuthor(handle string, limit int) []model.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	handle = strings.ToLower(handle)
	var matched []model.HistoryEntry
	for _, e := range h.entries {
		if strings.ToLower(e.AuthorHandle) == handle {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RepliedAt.After(matched[j].RepliedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Prune drops entries older than the retention window, same policy as the
// replied ledger.
func (h *History) Prune(ctx context.Context, retention time.Duration) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-retention)
	removed := 0
	for id, e := range h.entries {
		if !e.RepliedAt.After(cutoff) {
			delete(h.entries, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, h.flushLocked(ctx)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) flushLocked(ctx context.Context) error {
	entries := make([]model.HistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := h.kv.Set(ctx, store.KeyHistory, raw); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}
