package model

import "time"

// RepliedEntry records that one item has already been replied to.
// At most one entry exists per item ID.
type RepliedEntry struct {
	ItemID    string    `json:"item_id"`
	RepliedAt time.Time `json:"replied_at"`
}

type ReplyMode string

const (
	ReplyModeAuto   ReplyMode = "auto"
	ReplyModeManual ReplyMode = "manual"
)

// HistoryEntry is one past interaction: their text and our reply,
// keyed by item and indexed by author for conversational context.
type HistoryEntry struct {
	ItemID       string    `json:"item_id"`
	RepliedAt    time.Time `json:"replied_at"`
	AuthorHandle string    `json:"author_handle"`
	AuthorName   string    `json:"author_name"`
	TheirText    string    `json:"their_text"`
	OurReply     string    `json:"our_reply"`
	ParentText   string    `json:"parent_text,omitempty"`
	Mode         ReplyMode `json:"mode"`
}

// Interaction is the (their text, our reply) pair handed to the generator
// as prior conversational context.
type Interaction struct {
	TheirText string `json:"their_text"`
	OurReply  string `json:"our_reply"`
}
