package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"replyloop.app/engine/internal/model"
)

type sourcesFile struct {
	Sources []model.Source `yaml:"sources"`
}

// LoadSources reads the source list from a YAML file. Sources marked
// inactive are kept in the returned slice; the scheduler skips them, so
// toggling a source does not reorder the rotation.
func LoadSources(path string) ([]model.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing sources file: %w", err)
	}

	seen := make(map[string]bool, len(f.Sources))
	for _, s := range f.Sources {
		if s.ID == "" {
			return nil, fmt.Errorf("source with empty id in %s", path)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate source id %q in %s", s.ID, path)
		}
		seen[s.ID] = true
		switch s.Kind {
		case model.SourceKindFeedA, model.SourceKindFeedB:
		default:
			return nil, fmt.Errorf("source %q has unknown kind %q", s.ID, s.Kind)
		}
	}

	return f.Sources, nil
}
