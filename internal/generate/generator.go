// Package generate produces draft reply text for content items, optionally
// conditioned on prior interactions with the same author.
package generate

import (
	"context"
	"fmt"
	"strings"

	"replyloop.app/engine/common/llm"
	"replyloop.app/engine/internal/model"
)

// Request describes one draft to generate.
type Request struct {
	ItemText   string
	AuthorName string
	MinWords   int
	MaxWords   int
	// CustomPrompt overrides the default system prompt when non-empty.
	CustomPrompt string
	// PriorInteractions are most-recent-first past exchanges with this
	// author, used as conversational context.
	PriorInteractions []model.Interaction
}

// Generator turns a content item into draft reply text. Failures are
// per-item: the caller isolates them without aborting sibling generations.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

const defaultSystemPrompt = `You write short, specific replies to posts on a public feed.
Reply directly to the post's substance. Be conversational and concrete; no
hashtags, no emoji, no generic praise. Never mention being automated.`

type replySchema struct {
	Reply string `json:"reply" jsonschema:"required,description=The reply text, plain text only"`
}

type llmGenerator struct {
	client llm.Client
}

// NewLLMGenerator builds the production generator on the structured-output
// chat client.
func NewLLMGenerator(client llm.Client) Generator {
	return &llmGenerator{client: client}
}

func (g *llmGenerator) Generate(ctx context.Context, req Request) (string, error) {
	system := defaultSystemPrompt
	if req.CustomPrompt != "" {
		system = req.CustomPrompt
	}
	if req.MinWords > 0 && req.MaxWords > 0 {
		system = fmt.Sprintf("%s\n\nKeep the reply between %d and %d words.",
			system, req.MinWords, req.MaxWords)
	}

	var result replySchema
	_, err := g.client.Chat(ctx, llm.Request{
		SystemPrompt: system,
		UserPrompt:   buildUserPrompt(req),
		SchemaName:   "reply",
		Schema:       llm.GenerateSchema[replySchema](),
		Temperature:  llm.Temp(0.7),
	}, &result)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}

	reply := strings.TrimSpace(result.Reply)
	if reply == "" {
		return "", fmt.Errorf("generator returned empty reply")
	}
	return reply, nil
}

func buildUserPrompt(req Request) string {
	var b strings.Builder

	if len(req.PriorInteractions) > 0 {
		b.WriteString("Previous exchanges with this author, most recent first:\n")
		for _, p := range req.PriorInteractions {
			fmt.Fprintf(&b, "They said: %s\nWe replied: %s\n\n", p.TheirText, p.OurReply)
		}
	}

	author := req.AuthorName
	if author == "" {
		author = "the author"
	}
	fmt.Fprintf(&b, "New post by %s:\n%s\n\nWrite the reply.", author, req.ItemText)

	return b.String()
}
