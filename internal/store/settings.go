package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"replyloop.app/engine/internal/model"
)

// SettingsStore persists the live-tunable engagement settings as one JSON
// blob. Loading overlays the blob onto the caller's defaults, so fields
// absent from an older blob keep their default values.
type SettingsStore struct {
	kv KV
}

func NewSettingsStore(kv KV) *SettingsStore {
	return &SettingsStore{kv: kv}
}

func (s *SettingsStore) Load(ctx context.Context, defaults model.Settings) (model.Settings, error) {
	raw, err := s.kv.Get(ctx, KeySettings)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaults, nil
		}
		return defaults, fmt.Errorf("loading settings: %w", err)
	}

	settings := defaults
	if err := json.Unmarshal(raw, &settings); err != nil {
		return defaults, fmt.Errorf("parsing settings blob: %w", err)
	}
	return settings, nil
}

func (s *SettingsStore) Save(ctx context.Context, settings model.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := s.kv.Set(ctx, KeySettings, raw); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
