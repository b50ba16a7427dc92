package fetch_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"replyloop.app/engine/internal/fetch"
	"replyloop.app/engine/internal/model"
)

type mockPageFetcher struct {
	fetchPageFn func(ctx context.Context, source model.Source, cursor string, pageSize int) (fetch.Page, error)
}

func (m *mockPageFetcher) FetchPage(ctx context.Context, source model.Source, cursor string, pageSize int) (fetch.Page, error) {
	if m.fetchPageFn != nil {
		return m.fetchPageFn(ctx, source, cursor, pageSize)
	}
	return fetch.Page{}, nil
}

func items(ids ...string) []model.ContentItem {
	out := make([]model.ContentItem, len(ids))
	for i, id := range ids {
		out[i] = model.ContentItem{ItemID: id}
	}
	return out
}

var _ = Describe("Fetcher", func() {
	var (
		ctx    context.Context
		mock   *mockPageFetcher
		f      *fetch.Fetcher
		source model.Source
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = &mockPageFetcher{}
		f = fetch.New(map[model.SourceKind]fetch.PageFetcher{
			model.SourceKindFeedB: mock,
		})
		source = model.Source{ID: "src-1", Kind: model.SourceKindFeedB, Active: true}
	})

	It("should reject a source kind with no registered fetcher", func() {
		_, err := f.Fetch(ctx, model.Source{ID: "x", Kind: model.SourceKindFeedA}, 10)
		Expect(err).To(HaveOccurred())
	})

	It("should return a single page as-is", func() {
		mock.fetchPageFn = func(_ context.Context, _ model.Source, cursor string, _ int) (fetch.Page, error) {
			Expect(cursor).To(BeEmpty())
			return fetch.Page{Items: items("a", "b")}, nil
		}

		got, err := f.Fetch(ctx, source, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
	})

	It("should follow cursors and merge pages in fetch order", func() {
		pages := map[string]fetch.Page{
			"":   {Items: items("a", "b"), NextCursor: "c1"},
			"c1": {Items: items("c", "d"), NextCursor: "c2"},
			"c2": {Items: items("e")},
		}
		var cursors []string
		mock.fetchPageFn = func(_ context.Context, _ model.Source, cursor string, _ int) (fetch.Page, error) {
			cursors = append(cursors, cursor)
			return pages[cursor], nil
		}

		got, err := f.Fetch(ctx, source, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(cursors).To(Equal([]string{"", "c1", "c2"}))

		ids := make([]string, len(got))
		for i, item := range got {
			ids[i] = item.ItemID
		}
		Expect(ids).To(Equal([]string{"a", "b", "c", "d", "e"}))
	})

	It("should stop paging once the target count is reached", func() {
		calls := 0
		mock.fetchPageFn = func(_ context.Context, _ model.Source, cursor string, _ int) (fetch.Page, error) {
			calls++
			return fetch.Page{Items: items(fmt.Sprintf("p%d-a", calls), fmt.Sprintf("p%d-b", calls)), NextCursor: fmt.Sprintf("c%d", calls)}, nil
		}

		got, err := f.Fetch(ctx, source, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(2))
		Expect(got).To(HaveLen(4))
	})

	It("should stop on an empty page", func() {
		calls := 0
		mock.fetchPageFn = func(_ context.Context, _ model.Source, cursor string, _ int) (fetch.Page, error) {
			calls++
			if calls == 1 {
				return fetch.Page{Items: items("a"), NextCursor: "c1"}, nil
			}
			return fetch.Page{NextCursor: "c2"}, nil
		}

		got, err := f.Fetch(ctx, source, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(2))
		Expect(got).To(HaveLen(1))
	})

	It("should clamp the page size", func() {
		mock.fetchPageFn = func(_ context.Context, _ model.Source, _ string, pageSize int) (fetch.Page, error) {
			Expect(pageSize).To(Equal(fetch.MaxPageSize))
			return fetch.Page{Items: items("a")}, nil
		}

		_, err := f.Fetch(ctx, source, 500)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should abort on a page error", func() {
		mock.fetchPageFn = func(_ context.Context, _ model.Source, cursor string, _ int) (fetch.Page, error) {
			if cursor == "" {
				return fetch.Page{Items: items("a"), NextCursor: "c1"}, nil
			}
			return fetch.Page{}, errors.New("upstream 503")
		}

		_, err := f.Fetch(ctx, source, 10)
		Expect(err).To(MatchError(ContainSubstring("upstream 503")))
	})

	It("should return the partial result without error when canceled mid-pagination", func() {
		cancelCtx, cancel := context.WithCancel(ctx)
		mock.fetchPageFn = func(_ context.Context, _ model.Source, cursor string, _ int) (fetch.Page, error) {
			if cursor == "c1" {
				cancel()
			}
			return fetch.Page{Items: items("item-" + cursor), NextCursor: "c" + cursor + "1"}, nil
		}

		got, err := f.Fetch(cancelCtx, source, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(got)).To(BeNumerically(">", 0))
		Expect(len(got)).To(BeNumerically("<", 10))
	})
})

var _ = Describe("MergePages", func() {
	It("should return nil for no pages", func() {
		Expect(fetch.MergePages(nil)).To(BeNil())
	})

	It("should pass a single page through unmodified", func() {
		page := fetch.Page{Items: items("a", "b")}
		merged := fetch.MergePages([]fetch.Page{page})
		Expect(merged).To(HaveLen(2))
		Expect(merged[0].ItemID).To(Equal("a"))
	})

	It("should keep every entry across pages, empty pages included", func() {
		merged := fetch.MergePages([]fetch.Page{
			{Items: items("a")},
			{},
			{Items: items("b", "c")},
		})
		Expect(merged).To(HaveLen(3))
		Expect(merged[2].ItemID).To(Equal("c"))
	})
})
