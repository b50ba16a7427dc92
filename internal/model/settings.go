package model

import "time"

// Settings holds the engagement tunables. They are immutable during a
// cycle: the scheduler re-reads them at the top of each cycle, so edits
// take effect between cycles, never mid-cycle.
//
// Durations are stored in coarse units (seconds, minutes, days) so the
// persisted JSON blob stays hand-editable and additive-field tolerant.
type Settings struct {
	IntervalMinSec    int `json:"interval_min_sec"`
	IntervalMaxSec    int `json:"interval_max_sec"`
	SourceDelayMinSec int `json:"source_delay_min_sec"`
	SourceDelayMaxSec int `json:"source_delay_max_sec"`
	SendDelayMinSec   int `json:"send_delay_min_sec"`
	SendDelayMaxSec   int `json:"send_delay_max_sec"`

	FetchPageSize     int `json:"fetch_page_size"`
	MaxSendsPerSource int `json:"max_sends_per_source"`

	ReplyMinWords int `json:"reply_min_words"`
	ReplyMaxWords int `json:"reply_max_words"`

	MaxItemAgeMin   int `json:"max_item_age_min"`
	RetentionDays   int `json:"retention_days"`
	FailurePauseMin int `json:"failure_pause_min"`

	// CustomPrompt overrides the generator's default system prompt.
	// Empty means default.
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// DefaultSettings mirror the recommended operating profile for an
// unattended deployment.
func DefaultSettings() Settings {
	return Settings{
		IntervalMinSec:    600,
		IntervalMaxSec:    1200,
		SourceDelayMinSec: 20,
		SourceDelayMaxSec: 60,
		SendDelayMinSec:   15,
		SendDelayMaxSec:   45,
		FetchPageSize:     40,
		MaxSendsPerSource: 3,
		ReplyMinWords:     10,
		ReplyMaxWords:     60,
		MaxItemAgeMin:     180,
		RetentionDays:     30,
		FailurePauseMin:   30,
	}
}

func (s Settings) IntervalBounds() (time.Duration, time.Duration) {
	return time.Duration(s.IntervalMinSec) * time.Second, time.Duration(s.IntervalMaxSec) * time.Second
}

func (s Settings) SourceDelayBounds() (time.Duration, time.Duration) {
	return time.Duration(s.SourceDelayMinSec) * time.Second, time.Duration(s.SourceDelayMaxSec) * time.Second
}

func (s Settings) SendDelayBounds() (time.Duration, time.Duration) {
	return time.Duration(s.SendDelayMinSec) * time.Second, time.Duration(s.SendDelayMaxSec) * time.Second
}

func (s Settings) MaxItemAge() time.Duration {
	return time.Duration(s.MaxItemAgeMin) * time.Minute
}

func (s Settings) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

func (s Settings) FailurePause() time.Duration {
	return time.Duration(s.FailurePauseMin) * time.Minute
}
