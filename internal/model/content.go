package model

import "time"

type SourceKind string

const (
	SourceKindFeedA SourceKind = "feed-a"
	SourceKindFeedB SourceKind = "feed-b"
)

// Source is one configured remote feed the engine engages with.
type Source struct {
	ID       string     `yaml:"id" json:"id"`
	Kind     SourceKind `yaml:"kind" json:"kind"`
	Endpoint string     `yaml:"endpoint" json:"endpoint"`
	// Target discriminates which entry-point control on the interactive
	// surface belongs to this source's items (0-based slot index).
	Target int  `yaml:"target" json:"target"`
	Active bool `yaml:"active" json:"active"`
}

// ContentItem is one remote post eligible for a reply. Items live in the
// working set for a single cycle; only the fact of having replied is
// persisted.
type ContentItem struct {
	ItemID          string
	SourceID        string
	SourceKind      SourceKind
	Text            string
	AuthorHandle    string
	AuthorName      string
	AuthorAvatarURL string
	URL             string
	// PublishedAt is zero when the source did not carry a parseable timestamp.
	PublishedAt time.Time
}

type DraftStatus string

const (
	DraftStatusPending    DraftStatus = "pending"
	DraftStatusGenerating DraftStatus = "generating"
	DraftStatusReady      DraftStatus = "ready"
	DraftStatusSending    DraftStatus = "sending"
	DraftStatusSent       DraftStatus = "sent"
	DraftStatusError      DraftStatus = "error"
)

// ReplyDraft is a reply-in-progress for exactly one content item.
type ReplyDraft struct {
	ItemID string
	Text   string
	Status DraftStatus
	Error  string
}
