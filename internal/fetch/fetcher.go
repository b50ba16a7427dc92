// Package fetch retrieves normalized content items for a source, merging
// cursor-paginated page responses into one page-independent result.
package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"replyloop.app/engine/common/logger"
	"replyloop.app/engine/internal/model"
)

// MaxPageSize caps a single page request regardless of the target count.
const MaxPageSize = 40

// Page is one raw page response from a source: zero or more entries plus an
// optional continuation cursor.
type Page struct {
	Items      []model.ContentItem
	NextCursor string
}

// PageFetcher issues one bounded page request against a remote source.
// An empty cursor requests the first page.
type PageFetcher interface {
	FetchPage(ctx context.Context, source model.Source, cursor string, pageSize int) (Page, error)
}

// Fetcher dispatches to the registered page fetcher for a source's kind and
// accumulates pages until the target count is reached or the source runs
// out.
type Fetcher struct {
	fetchers map[model.SourceKind]PageFetcher
}

func New(fetchers map[model.SourceKind]PageFetcher) *Fetcher {
	return &Fetcher{fetchers: fetchers}
}

// Fetch collects up to targetCount items from the source. Cancellation is
// checked before each page request; a canceled fetch returns whatever was
// merged so far as a partial, non-error result. A failed page request
// aborts the whole call.
func (f *Fetcher) Fetch(ctx context.Context, source model.Source, targetCount int) ([]model.ContentItem, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.fetch",
		SourceID:  logger.Ptr(source.ID),
	})

	pf, ok := f.fetchers[source.Kind]
	if !ok {
		return nil, fmt.Errorf("no page fetcher registered for kind %q", source.Kind)
	}

	pageSize := targetCount
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var pages []Page
	seen := 0
	cursor := ""

	for seen < targetCount {
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "fetch canceled, returning partial result",
				"pages", len(pages), "items", seen)
			return MergePages(pages), nil
		}

		page, err := pf.FetchPage(ctx, source, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d for %s: %w", len(pages)+1, source.ID, err)
		}

		pages = append(pages, page)
		seen += len(page.Items)

		if len(page.Items) == 0 || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	items := MergePages(pages)
	slog.DebugContext(ctx, "fetch complete", "pages", len(pages), "items", len(items))
	return items, nil
}

// MergePages concatenates page entry lists in fetch order. A single page
// passes through unmodified.
func MergePages(pages []Page) []model.ContentItem {
	switch len(pages) {
	case 0:
		return nil
	case 1:
		return pages[0].Items
	}

	total := 0
	for _, p := range pages {
		total += len(p.Items)
	}
	merged := make([]model.ContentItem, 0, total)
	for _, p := range pages {
		merged = append(merged, p.Items...)
	}
	return merged
}
