package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/agentworkforce/readerstream/internal/reader"
)

// ArticleAPI is the part of the article API the stream reads from.
type ArticleAPI interface {
	ListArticles(ctx context.Context, sourcePath string, q reader.Query) ([]reader.Article, error)
	ListArticleIDs(ctx context.Context, sourcePath string, q reader.Query) ([]int64, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

// FetchRequest describes one page to load.
type FetchRequest struct {
	Source *reader.Source
	Prefs  reader.Preferences
	Limit  int
	Cursor Cursor
	// AfterID switches to forward catch-up from that id, ignoring Cursor.
	AfterID int64
	// DeepLinkID is set on the first page of a pipeline only.
	DeepLinkID int64
}

// Fetcher issues the cursor-based page queries for a source.
type Fetcher struct {
	api             ArticleAPI
	maxCatchUpPages int
	logger          Logger
}

func NewFetcher(api ArticleAPI, maxCatchUpPages int, logger Logger) *Fetcher {
	if maxCatchUpPages <= 0 {
		maxCatchUpPages = 20
	}
	return &Fetcher{api: api, maxCatchUpPages: maxCatchUpPages, logger: logger}
}

// Fetch loads one page. A nil page with an error means the fetch failed and
// says nothing about whether more pages exist; a non-nil empty page means
// the source is exhausted.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) ([]reader.Article, error) {
	if req.Source == nil {
		return nil, fmt.Errorf("fetch: no source")
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	var (
		page []reader.Article
		err  error
	)
	if req.AfterID > 0 {
		page, err = f.catchUp(ctx, req)
	} else {
		page, err = f.page(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if req.DeepLinkID > 0 {
		page = f.spliceDeepLink(ctx, req, page)
	}
	return page, nil
}

func (f *Fetcher) page(ctx context.Context, req FetchRequest) ([]reader.Article, error) {
	path := req.Source.Path()
	cursor := req.Cursor
	if req.Prefs.InterleavesUnread() && (!cursor.UnreadTime.IsZero() || cursor.IsZero()) {
		q := f.baseQuery(req)
		q.UnreadOnly = true
		anchor(&q, cursor.UnreadTime, cursor.UnreadScore, req)
		unread, err := f.api.ListArticles(ctx, path, q)
		if err != nil {
			return nil, err
		}
		if len(unread) >= req.Limit {
			return unread, nil
		}
		q = f.baseQuery(req)
		q.ReadOnly = true
		q.Limit = req.Limit - len(unread) + cursor.ReadInPlace
		anchor(&q, cursor.Time, cursor.Score, req)
		read, err := f.api.ListArticles(ctx, path, q)
		if err != nil {
			return nil, err
		}
		return append(append(make([]reader.Article, 0, len(unread)+len(read)), unread...), read...), nil
	}

	q := f.baseQuery(req)
	if req.Prefs.InterleavesUnread() {
		// Only read articles are loaded so far past the unread ones.
		q.ReadOnly = true
		q.Limit += cursor.ReadInPlace
	}
	anchor(&q, cursor.Time, cursor.Score, req)
	return f.api.ListArticles(ctx, path, q)
}

// catchUp walks forward from AfterID until the server has nothing newer,
// bounded by maxCatchUpPages. Later pages come first in the result.
func (f *Fetcher) catchUp(ctx context.Context, req FetchRequest) ([]reader.Article, error) {
	path := req.Source.Path()
	var pages [][]reader.Article
	total := 0
	afterID := req.AfterID
	for i := 0; i < f.maxCatchUpPages; i++ {
		q := f.baseQuery(req)
		q.AfterID = afterID
		page, err := f.api.ListArticles(ctx, path, q)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		pages = append(pages, page)
		total += len(page)
		next := maxArticleID(page)
		if next <= afterID {
			break
		}
		afterID = next
		if i == f.maxCatchUpPages-1 {
			f.logf("catch-up for %s stopped after %d pages", req.Source, f.maxCatchUpPages)
		}
	}
	out := make([]reader.Article, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	return out, nil
}

// spliceDeepLink makes sure the deep-linked article is part of the page. A
// failure to load it is logged and the page is returned as is.
func (f *Fetcher) spliceDeepLink(ctx context.Context, req FetchRequest, page []reader.Article) []reader.Article {
	for _, article := range page {
		if article.ID == req.DeepLinkID {
			return page
		}
	}
	found, err := f.api.ListArticles(ctx, req.Source.Path(), reader.Query{IDs: []int64{req.DeepLinkID}, Limit: 1})
	if err != nil {
		f.logf("deep link article %d for %s: %v", req.DeepLinkID, req.Source, err)
		return page
	}
	for _, article := range found {
		if article.ID != req.DeepLinkID {
			continue
		}
		out := make([]reader.Article, 0, len(page)+1)
		out = append(out, page...)
		return insertAt(out, insertionPoint(out, article, req.Prefs), article)
	}
	return page
}

// FetchByIDs loads specific articles of the source, as announced by a feed
// update.
func (f *Fetcher) FetchByIDs(ctx context.Context, source *reader.Source, prefs reader.Preferences, ids []int64) ([]reader.Article, error) {
	if source == nil {
		return nil, fmt.Errorf("fetch: no source")
	}
	if len(ids) == 0 {
		return []reader.Article{}, nil
	}
	return f.api.ListArticles(ctx, source.Path(), reader.Query{
		IDs:        ids,
		Limit:      len(ids),
		UnreadOnly: prefs.UnreadOnly,
		OlderFirst: prefs.OlderFirst,
	})
}

func (f *Fetcher) baseQuery(req FetchRequest) reader.Query {
	return reader.Query{
		Limit:      req.Limit,
		UnreadOnly: req.Prefs.UnreadOnly,
		OlderFirst: req.Prefs.OlderFirst,
	}
}

// anchor pins the query to a cursor position. Time always anchors; the
// score is only added for score-ordered sources.
func anchor(q *reader.Query, t time.Time, score float64, req FetchRequest) {
	if t.IsZero() {
		return
	}
	withScore := req.Source.ScoreOrdered() && score != 0
	if req.Prefs.OlderFirst {
		q.AfterTime = t
		if withScore {
			q.AfterScore = score
		}
		return
	}
	q.BeforeTime = t
	if withScore {
		q.BeforeScore = score
	}
}

func maxArticleID(articles []reader.Article) int64 {
	var maxID int64
	for _, article := range articles {
		if article.ID > maxID {
			maxID = article.ID
		}
	}
	return maxID
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
