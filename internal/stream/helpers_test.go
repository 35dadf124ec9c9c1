package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/readerstream/internal/reader"
)

func day(n int) time.Time {
	return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func article(id, feedID int64, date int, read bool) reader.Article {
	return reader.Article{ID: id, FeedID: feedID, Title: "article", Date: day(date), Read: read}
}

func idsOf(articles []reader.Article) []int64 {
	out := make([]int64, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

type apiCall struct {
	path  string
	query reader.Query
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	idCalls []apiCall
	list    func(path string, q reader.Query) ([]reader.Article, error)
	ids     func(path string, q reader.Query) ([]int64, error)

	setErr  error
	sets    []string
	markErr error
	marked  []string
}

func (f *fakeAPI) ListArticles(_ context.Context, path string, q reader.Query) ([]reader.Article, error) {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{path: path, query: q})
	fn := f.list
	f.mu.Unlock()
	if fn == nil {
		return []reader.Article{}, nil
	}
	return fn(path, q)
}

func (f *fakeAPI) ListArticleIDs(_ context.Context, path string, q reader.Query) ([]int64, error) {
	f.mu.Lock()
	f.idCalls = append(f.idCalls, apiCall{path: path, query: q})
	fn := f.ids
	f.mu.Unlock()
	if fn == nil {
		return []int64{}, nil
	}
	return fn(path, q)
}

func (f *fakeAPI) SetArticleProperty(_ context.Context, id int64, name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets = append(f.sets, name)
	return nil
}

func (f *fakeAPI) MarkSourceRead(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, path)
	return nil
}

func (f *fakeAPI) listCalls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func (f *fakeAPI) idListCalls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.idCalls...)
}

type fakeTags map[int64][]int64

func (t fakeTags) Tagged(feedID int64) bool {
	for _, feeds := range t {
		for _, id := range feeds {
			if id == feedID {
				return true
			}
		}
	}
	return false
}

func (t fakeTags) InTag(tagID, feedID int64) bool {
	for _, id := range t[tagID] {
		if id == feedID {
			return true
		}
	}
	return false
}

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func startStream(t *testing.T, api ArticleAPI, opts Options) *Stream {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = &testLogger{}
	}
	s := New(api, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func waitSnapshot(t *testing.T, s *Stream, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var last Snapshot
	require.Eventually(t, func() bool {
		last = s.Snapshot()
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond, "snapshot condition not reached")
	return last
}
