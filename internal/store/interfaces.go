package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("not found")

// KV is the durable key-value store the engine's persisted state is built
// on: the settings blob, the already-replied ledger, and the reply history.
// Each logical operation above it is read-modify-write; a single engine
// instance owns the keys, so there is no multi-writer contention.
type KV interface {
	// Get returns the stored bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
}

// Well-known keys.
const (
	KeySettings = "engine:settings"
	KeyReplied  = "engine:replied"
	KeyHistory  = "engine:history"
)
