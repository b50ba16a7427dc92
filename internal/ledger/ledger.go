// Package ledger tracks which content items have already been replied to,
// preventing duplicate engagement across cycles and restarts.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"replyloop.app/engine/internal/model"
	"replyloop.app/engine/internal/store"
)

// Ledger is the append-only dedup set of item IDs already acted on.
// Inserts are idempotent; entries expire after the retention window.
type Ledger struct {
	kv  store.KV
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
	loaded  bool
}

func New(kv store.KV, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		kv:      kv,
		now:     now,
		entries: make(map[string]time.Time),
	}
}

// Load reads the persisted ledger. A legacy blob holding a bare list of
// item IDs is upgraded in place to timestamped entries, stamped with the
// load time.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return nil
	}

	raw, err := l.kv.Get(ctx, store.KeyReplied)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.loaded = true
			return nil
		}
		return fmt.Errorf("loading replied ledger: %w", err)
	}

	var entries []model.RepliedEntry
	migrated := false
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Legacy format: plain array of item IDs.
		var ids []string
		if legacyErr := json.Unmarshal(raw, &ids); legacyErr != nil {
			return fmt.Errorf("parsing replied ledger: %w", err)
		}
		stamped := l.now()
		for _, id := range ids {
			entries = append(entries, model.RepliedEntry{ItemID: id, RepliedAt: stamped})
		}
		migrated = true
		slog.InfoContext(ctx, "migrated legacy replied ledger", "entries", len(entries))
	}

	for _, e := range entries {
		l.entries[e.ItemID] = e.RepliedAt
	}
	l.loaded = true

	if !migrated {
		return nil
	}

	// Persist immediately after a migration so the legacy blob is gone.
	return l.flushLocked(ctx)
}

// HasReplied reports whether itemID is already in the ledger.
func (l *Ledger) HasReplied(itemID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[itemID]
	return ok
}

// MarkReplied inserts itemID with the current timestamp. Inserting an ID
// that is already present leaves the original timestamp untouched.
func (l *Ledger) MarkReplied(ctx context.Context, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[itemID]; ok {
		return nil
	}
	l.entries[itemID] = l.now()
	return l.flushLocked(ctx)
}

// Prune drops entries older than the retention window and reports how many
// were removed. A prune with nothing expired performs no write.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-retention)
	removed := 0
	for id, at := range l.entries {
		if !at.After(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, l.flushLocked(ctx)
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) flushLocked(ctx context.Context) error {
	entries := make([]model.RepliedEntry, 0, len(l.entries))
	for id, at := range l.entries {
		entries = append(entries, model.RepliedEntry{ItemID: id, RepliedAt: at})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding replied ledger: %w", err)
	}
	if err := l.kv.Set(ctx, store.KeyReplied, raw); err != nil {
		return fmt.Errorf("saving replied ledger: %w", err)
	}
	return nil
}
