package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/readerstream/internal/live"
	"github.com/agentworkforce/readerstream/internal/reader"
)

// Tags is the FeedTagIndex as the stream sees it.
type Tags interface {
	reader.TagLookup
	live.TagMembership
}

type Options struct {
	PageSize        int
	SettleDelay     time.Duration
	MaxCatchUpPages int
	InboxSize       int
	Prefs           reader.Preferences
	Tags            Tags
	Logger          Logger
}

// Snapshot is the materialized list handed to consumers. Articles is a copy
// the consumer may keep.
type Snapshot struct {
	Source     *reader.Source
	Prefs      reader.Preferences
	Articles   []reader.Article
	Loading    bool
	Exhausted  bool
	Connected  bool
	Generation uint64
}

// Stream is the single writer of the article list. Every input (navigation,
// preferences, pages, push events, confirmed mutations, connectivity) is a
// message on one inbox and is handled to completion before the next, so
// batches are never applied concurrently. Blocking work runs on goroutines
// that report back through the inbox, tagged with the generation they were
// started for; results for an older generation are dropped.
type Stream struct {
	api     ArticleAPI
	fetcher *Fetcher
	opts    Options
	inbox   chan message
	done    chan struct{}
	once    sync.Once

	// Owned by the Run goroutine.
	ctx           context.Context
	engine        *Engine
	source        *reader.Source
	deepLinkID    int64
	generation    uint64
	genCtx        context.Context
	genCancel     context.CancelFunc
	loading       bool
	exhausted     bool
	connected     bool
	everConnected bool

	mu      sync.Mutex
	latest  Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

type message interface{}

type navigateMsg struct{ nav reader.NavContext }
type prefsMsg struct{ prefs reader.Preferences }
type loadMoreMsg struct{}
type refreshMsg struct{ source *reader.Source }
type feedUpdateMsg struct{ event reader.FeedUpdate }
type stateChangeMsg struct{ event reader.StateChange }
type connectivityMsg struct{ connected bool }
type submitMsg struct{ batch Batch }

type pageResultMsg struct {
	generation uint64
	articles   []reader.Article
	err        error
}

type eventResultMsg struct {
	generation uint64
	articles   []reader.Article
	err        error
}

type resyncResultMsg struct {
	generation uint64
	batch      CorrectionBatch
	ok         bool
	err        error
}

func New(api ArticleAPI, opts Options) *Stream {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	var tags reader.TagLookup
	if opts.Tags != nil {
		tags = opts.Tags
	}
	s := &Stream{
		api:     api,
		fetcher: NewFetcher(api, opts.MaxCatchUpPages, opts.Logger),
		opts:    opts,
		inbox:   make(chan message, opts.InboxSize),
		done:    make(chan struct{}),
		engine:  NewEngine(opts.Prefs, tags),
		subs:    map[int]chan Snapshot{},
	}
	s.latest = Snapshot{Prefs: opts.Prefs, Articles: []reader.Article{}}
	return s
}

// Run processes the inbox until ctx is done. It must be called once.
func (s *Stream) Run(ctx context.Context) error {
	s.ctx = ctx
	s.genCtx, s.genCancel = context.WithCancel(ctx)
	defer func() {
		s.genCancel()
		s.once.Do(func() { close(s.done) })
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.inbox:
			if s.handle(msg) {
				s.publish()
			}
		}
	}
}

// Navigate resolves the navigation context to a source. A context that does
// not describe an article list clears the list and suspends querying.
func (s *Stream) Navigate(nav reader.NavContext) { s.post(navigateMsg{nav: nav}) }

// SetPreferences restarts the list when an ordering preference changed.
func (s *Stream) SetPreferences(prefs reader.Preferences) { s.post(prefsMsg{prefs: prefs}) }

// LoadMore requests the next page after the loaded tail.
func (s *Stream) LoadMore() { s.post(loadMoreMsg{}) }

// Refresh discards the list and reloads the current source.
func (s *Stream) Refresh() { s.post(refreshMsg{}) }

// RefreshSource reloads source if it is still the one being viewed.
func (s *Stream) RefreshSource(source *reader.Source) {
	if source == nil {
		return
	}
	s.post(refreshMsg{source: source})
}

func (s *Stream) FeedUpdate(event reader.FeedUpdate) { s.post(feedUpdateMsg{event: event}) }
func (s *Stream) StateChange(event reader.StateChange) { s.post(stateChangeMsg{event: event}) }
func (s *Stream) Connectivity(connected bool) { s.post(connectivityMsg{connected: connected}) }

// Submit queues a batch produced outside the stream, such as a confirmed
// mutation.
func (s *Stream) Submit(batch Batch) { s.post(submitMsg{batch: batch}) }

// Snapshot returns the most recently published list.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.latest)
}

// Subscribe delivers snapshots as they are published. Slow subscribers only
// see the latest one.
func (s *Stream) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- cloneSnapshot(s.latest)
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Stream) post(msg message) {
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

// handle applies one message and reports whether the snapshot changed.
func (s *Stream) handle(msg message) bool {
	switch m := msg.(type) {
	case navigateMsg:
		return s.navigate(m.nav)
	case prefsMsg:
		if m.prefs.OrderingEqual(s.engine.Preferences()) {
			return false
		}
		s.restart(s.source, m.prefs, 0)
		return true
	case loadMoreMsg:
		return s.loadMore()
	case refreshMsg:
		if m.source != nil && !m.source.Equal(s.source) {
			return false
		}
		if s.source == nil {
			return false
		}
		s.restart(s.source, s.engine.Preferences(), s.deepLinkID)
		return true
	case pageResultMsg:
		return s.pageResult(m)
	case feedUpdateMsg:
		s.feedUpdate(m.event)
		return false
	case eventResultMsg:
		if m.generation != s.generation {
			return false
		}
		if m.err != nil {
			s.logf("fetch announced articles for %s: %v", s.source, m.err)
			return false
		}
		return s.apply(EventBatch{Articles: m.articles})
	case stateChangeMsg:
		return s.apply(PropertyBatch{Name: m.event.State, Value: m.event.Value, Filter: m.event.Options})
	case connectivityMsg:
		return s.connectivity(m.connected)
	case resyncResultMsg:
		if m.generation != s.generation {
			return false
		}
		if m.err != nil {
			s.logf("resync %s: %v", s.source, m.err)
			return false
		}
		if !m.ok {
			return false
		}
		return s.apply(m.batch)
	case submitMsg:
		return s.apply(m.batch)
	default:
		s.logf("stream: unexpected message %T", msg)
		return false
	}
}

func (s *Stream) navigate(nav reader.NavContext) bool {
	source := reader.Resolve(nav)
	deepLinkID := nav.DeepLinkID()
	if source == nil {
		if s.source == nil && s.engine.State().Len() == 0 {
			return false
		}
		s.restart(nil, s.engine.Preferences(), 0)
		return true
	}
	if source.Equal(s.source) && (deepLinkID == 0 || deepLinkID == s.deepLinkID) {
		return false
	}
	s.restart(source, s.engine.Preferences(), deepLinkID)
	return true
}

// restart discards the current pipeline: in-flight work is cancelled, its
// results will carry a stale generation, and a fresh list is started.
func (s *Stream) restart(source *reader.Source, prefs reader.Preferences, deepLinkID int64) {
	s.genCancel()
	s.generation++
	s.genCtx, s.genCancel = context.WithCancel(s.ctx)
	s.engine.Reset(prefs)
	s.engine.Pin(deepLinkID)
	s.source = source
	s.deepLinkID = deepLinkID
	s.loading = false
	s.exhausted = false
	if source == nil {
		return
	}
	s.startFetch(FetchRequest{
		Source:     source,
		Prefs:      prefs,
		Limit:      s.opts.PageSize,
		DeepLinkID: deepLinkID,
	})
}

func (s *Stream) loadMore() bool {
	if s.source == nil || s.loading || s.exhausted {
		return false
	}
	s.startFetch(FetchRequest{
		Source: s.source,
		Prefs:  s.engine.Preferences(),
		Limit:  s.opts.PageSize,
		Cursor: s.engine.Cursor(),
	})
	return true
}

func (s *Stream) startFetch(req FetchRequest) {
	s.loading = true
	ctx, generation := s.genCtx, s.generation
	go func() {
		articles, err := s.fetcher.Fetch(ctx, req)
		s.post(pageResultMsg{generation: generation, articles: articles, err: err})
	}()
}

func (s *Stream) pageResult(m pageResultMsg) bool {
	if m.generation != s.generation {
		return false
	}
	s.loading = false
	if m.err != nil {
		s.logf("fetch page for %s: %v", s.source, m.err)
		return true
	}
	if len(m.articles) == 0 {
		s.exhausted = true
		return true
	}
	s.apply(PageBatch{Articles: m.articles})
	return true
}

func (s *Stream) feedUpdate(event reader.FeedUpdate) {
	if s.source == nil || len(event.ArticleIDs) == 0 || !s.relevant(event) {
		return
	}
	ctx, generation := s.genCtx, s.generation
	source, prefs := s.source, s.engine.Preferences()
	ids := append([]int64(nil), event.ArticleIDs...)
	delay := s.opts.SettleDelay
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		articles, err := s.fetcher.FetchByIDs(ctx, source, prefs, ids)
		if ctx.Err() != nil {
			return
		}
		s.post(eventResultMsg{generation: generation, articles: articles, err: err})
	}()
}

// relevant isolates the relevance check so a failure in it drops the event
// instead of stopping the stream.
func (s *Stream) relevant(event reader.FeedUpdate) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("feed update relevance for feed %d: %v", event.FeedID, r)
			ok = false
		}
	}()
	var tags live.TagMembership
	if s.opts.Tags != nil {
		tags = s.opts.Tags
	}
	return live.ShouldUpdate(s.source, event, tags)
}

// connectivity resyncs after a reconnect. The first connection is not a
// reconnect.
func (s *Stream) connectivity(connected bool) bool {
	changed := connected != s.connected
	s.connected = connected
	if !connected {
		return changed
	}
	reconnect := s.everConnected
	s.everConnected = true
	if !reconnect || s.source == nil || s.engine.State().Len() == 0 {
		return changed
	}
	ctx, generation := s.genCtx, s.generation
	source, prefs, state := s.source, s.engine.Preferences(), s.engine.State()
	go func() {
		batch, ok, err := Resync(ctx, s.api, source, state)
		s.post(resyncResultMsg{generation: generation, batch: batch, ok: ok, err: err})
	}()
	if source.Live() {
		_, maxID, _ := state.IDRange()
		go func() {
			articles, err := s.fetcher.Fetch(ctx, FetchRequest{
				Source:  source,
				Prefs:   prefs,
				Limit:   s.opts.PageSize,
				AfterID: maxID,
			})
			s.post(eventResultMsg{generation: generation, articles: articles, err: err})
		}()
	}
	return changed
}

func (s *Stream) apply(batch Batch) bool {
	changed, err := s.engine.Apply(batch)
	if err != nil {
		s.logf("stream: %v", err)
		return false
	}
	return changed
}

func (s *Stream) publish() {
	snap := Snapshot{
		Source:     s.source,
		Prefs:      s.engine.Preferences(),
		Articles:   s.engine.State().Articles(),
		Loading:    s.loading,
		Exhausted:  s.exhausted,
		Connected:  s.connected,
		Generation: s.generation,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cloneSnapshot(snap):
		default:
		}
	}
}

func cloneSnapshot(snap Snapshot) Snapshot {
	out := snap
	out.Articles = make([]reader.Article, len(snap.Articles))
	for i, article := range snap.Articles {
		out.Articles[i] = article.Clone()
	}
	return out
}

func (s *Stream) logf(format string, args ...any) {
	if s.opts.Logger == nil {
		return
	}
	s.opts.Logger.Printf(format, args...)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s gen=%d articles=%d loading=%t exhausted=%t", s.Source, s.Generation, len(s.Articles), s.Loading, s.Exhausted)
}
