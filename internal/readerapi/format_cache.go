package readerapi

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentworkforce/readerstream/internal/reader"
)

type FormatFetcher interface {
	ArticleFormat(ctx context.Context, id int64) (reader.Format, error)
}

// FormatCache memoizes rich-format payloads, which are fetched lazily and
// never change for a given article.
type FormatCache struct {
	fetcher FormatFetcher
	cache   *lru.Cache[int64, reader.Format]
}

func NewFormatCache(fetcher FormatFetcher, size int) (*FormatCache, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[int64, reader.Format](size)
	if err != nil {
		return nil, err
	}
	return &FormatCache{fetcher: fetcher, cache: cache}, nil
}

func (f *FormatCache) ArticleFormat(ctx context.Context, id int64) (reader.Format, error) {
	if format, ok := f.cache.Get(id); ok {
		return format, nil
	}
	format, err := f.fetcher.ArticleFormat(ctx, id)
	if err != nil {
		return reader.Format{}, err
	}
	f.cache.Add(id, format)
	return format, nil
}

func (f *FormatCache) Purge() {
	f.cache.Purge()
}
