package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"replyloop.app/engine/internal/model"
)

// APIPageFetcher serves feed-b sources: a JSON HTTP API with opaque cursor
// tokens.
type APIPageFetcher struct {
	client *http.Client
}

func NewAPIPageFetcher(client *http.Client) *APIPageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIPageFetcher{client: client}
}

type apiEntry struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	Author struct {
		Handle    string `json:"handle"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"author"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

type apiPageResponse struct {
	Entries    []apiEntry `json:"entries"`
	NextCursor string     `json:"next_cursor"`
}

func (f *APIPageFetcher) FetchPage(ctx context.Context, source model.Source, cursor string, pageSize int) (Page, error) {
	endpoint, err := url.Parse(source.Endpoint)
	if err != nil {
		return Page{}, fmt.Errorf("parsing endpoint %s: %w", source.Endpoint, err)
	}

	q := endpoint.Query()
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("building page request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("requesting page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("page request returned %d", resp.StatusCode)
	}

	var body apiPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("decoding page response: %w", err)
	}

	page := Page{NextCursor: body.NextCursor}
	for _, e := range body.Entries {
		item := model.ContentItem{
			ItemID:          e.ID,
			SourceID:        source.ID,
			SourceKind:      source.Kind,
			Text:            e.Body,
			AuthorHandle:    e.Author.Handle,
			AuthorName:      e.Author.Name,
			AuthorAvatarURL: e.Author.AvatarURL,
			URL:             e.URL,
		}
		// Unparseable timestamps stay zero; the actionable filter treats
		// them as fresh.
		if e.PublishedAt != "" {
			if at, err := time.Parse(time.RFC3339, e.PublishedAt); err == nil {
				item.PublishedAt = at
			}
		}
		page.Items = append(page.Items, item)
	}

	return page, nil
}
