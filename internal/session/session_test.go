package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/readerstream/internal/config"
	"github.com/agentworkforce/readerstream/internal/live"
	"github.com/agentworkforce/readerstream/internal/reader"
	"github.com/agentworkforce/readerstream/internal/readertest"
	"github.com/agentworkforce/readerstream/internal/stream"
)

func at(day int) time.Time {
	return time.Date(2024, 3, 1+day, 8, 0, 0, 0, time.UTC)
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.BaseURL = baseURL
	cfg.Token = "secret"
	cfg.SettleDelay = 0
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = time.Millisecond
	cfg.MaxRetries = 1
	cfg.RequestsPerSecond = 0
	return cfg
}

func seededServer(t *testing.T) (*readertest.Server, string) {
	t.Helper()
	srv := readertest.NewServer("secret")
	srv.SetFeeds(
		[]reader.Feed{{ID: 1, Title: "Go"}, {ID: 2, Title: "Rust"}},
		[]reader.TagFeeds{{Tag: reader.Tag{ID: 9, Value: "lang"}, IDs: []int64{1, 2}}},
	)
	srv.AddArticles(
		reader.Article{ID: 1, FeedID: 1, Title: "one", Date: at(1)},
		reader.Article{ID: 2, FeedID: 2, Title: "two", Date: at(2)},
		reader.Article{ID: 3, FeedID: 1, Title: "three", Date: at(3)},
	)
	ts := srv.Start()
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func runSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Errorf("session did not stop")
		}
	})
}

func waitFor(t *testing.T, s *Session, cond func(stream.Snapshot) bool) stream.Snapshot {
	t.Helper()
	var snap stream.Snapshot
	require.Eventually(t, func() bool {
		snap = s.Stream.Snapshot()
		return cond(snap)
	}, 3*time.Second, 10*time.Millisecond, "last snapshot: %s", snap)
	return snap
}

func idsOf(articles []reader.Article) []int64 {
	out := make([]int64, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func readOf(snap stream.Snapshot, id int64) bool {
	for _, a := range snap.Articles {
		if a.ID == id {
			return a.Read
		}
	}
	return false
}

func feedNav(id string) reader.NavContext {
	return reader.NavContext{Primary: "feed", Params: map[string]string{reader.ParamID: id}}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.PageSize = 0
	_, err = New(cfg, Options{})
	require.Error(t, err)

	_, err = New(nil, Options{})
	require.Error(t, err)
}

func TestSessionEndToEnd(t *testing.T) {
	srv, baseURL := seededServer(t)
	s, err := New(testConfig(t, baseURL), Options{})
	require.NoError(t, err)
	runSession(t, s)

	s.Stream.Navigate(feedNav("1"))
	waitFor(t, s, func(snap stream.Snapshot) bool { return len(snap.Articles) == 2 })
	require.Eventually(t, func() bool {
		return s.Bridge.State() == live.Connected && s.Index.Identity() == "reader"
	}, 3*time.Second, 10*time.Millisecond)
	waitFor(t, s, func(snap stream.Snapshot) bool { return snap.Connected })
	assert.True(t, s.Index.InTag(9, 1))

	ctx := context.Background()

	// A new article announced on the push channel is fetched and inserted.
	srv.AddArticles(reader.Article{ID: 5, FeedID: 1, Title: "five", Date: at(5)})
	require.NoError(t, srv.Push(ctx, reader.FeedUpdate{FeedID: 1, ArticleIDs: []int64{5}}))
	snap := waitFor(t, s, func(snap stream.Snapshot) bool { return len(snap.Articles) == 3 })
	assert.Equal(t, []int64{5, 3, 1}, idsOf(snap.Articles))

	// Updates for other feeds are ignored.
	srv.AddArticles(reader.Article{ID: 6, FeedID: 2, Title: "six", Date: at(6)})
	require.NoError(t, srv.Push(ctx, reader.FeedUpdate{FeedID: 2, ArticleIDs: []int64{6}}))

	// A confirmed mutation reaches the list.
	ok, err := s.Gateway.SetProperty(ctx, 1, reader.PropertyRead, true)
	require.NoError(t, err)
	assert.True(t, ok)
	waitFor(t, s, func(snap stream.Snapshot) bool { return readOf(snap, 1) })

	// A change made elsewhere arrives as a state change.
	for _, id := range []int64{3, 5} {
		a, _ := srv.Article(id)
		a.Read = true
		srv.AddArticles(a)
	}
	require.NoError(t, srv.Push(ctx, reader.StateChange{
		State:   reader.PropertyRead,
		Value:   true,
		Options: reader.PropertyFilter{FeedIDs: []int64{1}},
	}))
	waitFor(t, s, func(snap stream.Snapshot) bool { return readOf(snap, 3) && readOf(snap, 5) })
	assert.Equal(t, []int64{5, 3, 1}, idsOf(s.Stream.Snapshot().Articles))

	// Changes missed while disconnected are corrected on reconnect.
	a3, _ := srv.Article(3)
	a3.Read = false
	srv.AddArticles(a3)
	srv.DropPushConnections()
	waitFor(t, s, func(snap stream.Snapshot) bool { return snap.Connected && !readOf(snap, 3) })
	snap = s.Stream.Snapshot()
	assert.True(t, readOf(snap, 1))
	assert.True(t, readOf(snap, 5))
}

func TestSessionMarkSourceRead(t *testing.T) {
	srv, baseURL := seededServer(t)
	s, err := New(testConfig(t, baseURL), Options{})
	require.NoError(t, err)
	runSession(t, s)

	s.Stream.Navigate(reader.NavContext{Primary: "tag", Params: map[string]string{reader.ParamID: "9"}})
	waitFor(t, s, func(snap stream.Snapshot) bool { return len(snap.Articles) == 3 })

	require.NoError(t, s.Gateway.MarkSourceRead(context.Background(), reader.TagSource(9)))
	waitFor(t, s, func(snap stream.Snapshot) bool {
		return len(snap.Articles) == 3 && readOf(snap, 1) && readOf(snap, 2) && readOf(snap, 3)
	})
	a2, _ := srv.Article(2)
	assert.True(t, a2.Read)

	err = s.Gateway.MarkSourceRead(context.Background(), reader.FavoriteSource())
	require.ErrorIs(t, err, stream.ErrNotUpdatable)
}

// switchingTokens hands out tokens on demand.
type switchingTokens struct {
	mu      sync.Mutex
	current string
	changes chan string
}

func newSwitchingTokens(initial string) *switchingTokens {
	p := &switchingTokens{current: initial, changes: make(chan string, 1)}
	p.changes <- initial
	return p
}

func (p *switchingTokens) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *switchingTokens) Changes() <-chan string { return p.changes }

func (p *switchingTokens) Unauthorized() {}

func (p *switchingTokens) set(token string) {
	p.mu.Lock()
	p.current = token
	p.mu.Unlock()
	p.changes <- token
}

func TestSessionTokenRenewalKeepsList(t *testing.T) {
	srv, baseURL := seededServer(t)
	tokens := newSwitchingTokens("secret")
	s, err := New(testConfig(t, baseURL), Options{Tokens: tokens})
	require.NoError(t, err)
	runSession(t, s)

	s.Stream.Navigate(feedNav("1"))
	first := waitFor(t, s, func(snap stream.Snapshot) bool { return len(snap.Articles) == 2 })
	require.Eventually(t, func() bool {
		return s.Index.Identity() == "reader" && s.Bridge.State() == live.Connected
	}, 3*time.Second, 10*time.Millisecond)

	srv.SetToken("renewed")
	srv.SetFeeds([]reader.Feed{{ID: 1, Title: "Go, renamed"}}, nil)
	tokens.set("renewed")

	require.Eventually(t, func() bool {
		lookups := 0
		for _, req := range srv.Requests() {
			if req.Path == readertest.Prefix+"/user/current" {
				lookups++
			}
		}
		return lookups == 2 && s.Bridge.State() == live.Connected
	}, 3*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool {
		return s.Stream.Snapshot().Generation != first.Generation
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "reader", s.Index.Identity())
	title, _ := s.Index.FeedTitle(1)
	assert.Equal(t, "Go", title, "same login keeps the index")
}

func TestSessionLoginChangeRebuildsAndReloads(t *testing.T) {
	srv, baseURL := seededServer(t)
	tokens := newSwitchingTokens("secret")
	s, err := New(testConfig(t, baseURL), Options{Tokens: tokens})
	require.NoError(t, err)
	runSession(t, s)

	s.Stream.Navigate(feedNav("1"))
	first := waitFor(t, s, func(snap stream.Snapshot) bool { return len(snap.Articles) == 2 })
	require.Eventually(t, func() bool { return s.Index.Identity() == "reader" }, 3*time.Second, 10*time.Millisecond)

	srv.SetToken("other")
	srv.SetUser(reader.User{ID: 2, Login: "someone-else"})
	srv.SetFeeds([]reader.Feed{{ID: 1, Title: "Go, again"}}, nil)
	tokens.set("other")

	require.Eventually(t, func() bool { return s.Index.Identity() == "someone-else" }, 3*time.Second, 10*time.Millisecond)
	title, _ := s.Index.FeedTitle(1)
	assert.Equal(t, "Go, again", title)
	assert.False(t, s.Index.InTag(9, 1))
	waitFor(t, s, func(snap stream.Snapshot) bool {
		return snap.Generation > first.Generation && len(snap.Articles) == 2
	})
	require.Eventually(t, func() bool { return s.Bridge.State() == live.Connected }, 3*time.Second, 10*time.Millisecond)
}
