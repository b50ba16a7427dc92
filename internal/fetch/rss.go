package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"replyloop.app/engine/internal/model"
)

// RSSPageFetcher serves feed-a sources: classic syndication feeds. Feeds
// carry no cursor, so every call yields a single terminal page.
type RSSPageFetcher struct {
	parser *gofeed.Parser
}

func NewRSSPageFetcher() *RSSPageFetcher {
	return &RSSPageFetcher{parser: gofeed.NewParser()}
}

func (f *RSSPageFetcher) FetchPage(ctx context.Context, source model.Source, _ string, pageSize int) (Page, error) {
	feed, err := f.parser.ParseURLWithContext(source.Endpoint, ctx)
	if err != nil {
		return Page{}, fmt.Errorf("parsing feed %s: %w", source.Endpoint, err)
	}

	items := make([]model.ContentItem, 0, min(len(feed.Items), pageSize))
	for _, entry := range feed.Items {
		if len(items) >= pageSize {
			break
		}
		items = append(items, convertRSSItem(entry, source))
	}

	return Page{Items: items}, nil
}

func convertRSSItem(entry *gofeed.Item, source model.Source) model.ContentItem {
	item := model.ContentItem{
		SourceID:   source.ID,
		SourceKind: source.Kind,
		Text:       entry.Title,
		URL:        entry.Link,
	}

	// GUIDs are the stable identity when present; fall back to the link.
	if entry.GUID != "" {
		item.ItemID = entry.GUID
	} else {
		item.ItemID = entry.Link
	}

	if entry.Description != "" {
		item.Text = strings.TrimSpace(entry.Title + "\n\n" + entry.Description)
	}

	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		item.AuthorName = entry.Authors[0].Name
		item.AuthorHandle = entry.Authors[0].Email
	}
	if item.AuthorHandle == "" {
		item.AuthorHandle = item.AuthorName
	}

	if entry.PublishedParsed != nil {
		item.PublishedAt = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		item.PublishedAt = *entry.UpdatedParsed
	}

	return item
}
