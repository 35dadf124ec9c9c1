package reader

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// User is the login a bearer token authenticates as. Tokens are renewed
// for the same login, so per-login state is keyed by Identity, never by
// the token.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Identity is the login name, or the numeric id when the server sends no
// name.
func (u User) Identity() string {
	if u.Login != "" {
		return u.Login
	}
	if u.ID != 0 {
		return "user:" + strconv.FormatInt(u.ID, 10)
	}
	return ""
}

type Feed struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type Tag struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

type TagFeeds struct {
	Tag Tag     `json:"tag"`
	IDs []int64 `json:"ids"`
}

// FeedTagLister is the part of the API the index is built from.
type FeedTagLister interface {
	ListFeeds(ctx context.Context) ([]Feed, error)
	ListTagFeeds(ctx context.Context) ([]TagFeeds, error)
}

// FeedTagIndex holds feedID → title and tagID → feed ids. It is rebuilt
// wholesale whenever the authenticated login changes and is read-only to
// everything else.
type FeedTagIndex struct {
	mu       sync.RWMutex
	identity string
	feeds    map[int64]string
	tags     map[int64][]int64
	tagged   map[int64]struct{}
}

func NewFeedTagIndex() *FeedTagIndex {
	return &FeedTagIndex{
		feeds:  map[int64]string{},
		tags:   map[int64][]int64{},
		tagged: map[int64]struct{}{},
	}
}

// Rebuild replaces the index contents for identity. It is a no-op when the
// identity is unchanged. On error the previous contents are kept.
func (x *FeedTagIndex) Rebuild(ctx context.Context, identity string, lister FeedTagLister) (bool, error) {
	x.mu.RLock()
	same := x.identity != "" && x.identity == identity
	x.mu.RUnlock()
	if same {
		return false, nil
	}
	feeds, err := lister.ListFeeds(ctx)
	if err != nil {
		return false, err
	}
	tagFeeds, err := lister.ListTagFeeds(ctx)
	if err != nil {
		return false, err
	}
	x.Replace(identity, feeds, tagFeeds)
	return true, nil
}

// Replace swaps in a freshly built index.
func (x *FeedTagIndex) Replace(identity string, feeds []Feed, tagFeeds []TagFeeds) {
	nextFeeds := make(map[int64]string, len(feeds))
	for _, feed := range feeds {
		nextFeeds[feed.ID] = feed.Title
	}
	nextTags := make(map[int64][]int64, len(tagFeeds))
	nextTagged := map[int64]struct{}{}
	for _, entry := range tagFeeds {
		ids := append([]int64(nil), entry.IDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		nextTags[entry.Tag.ID] = ids
		for _, id := range ids {
			nextTagged[id] = struct{}{}
		}
	}
	x.mu.Lock()
	x.identity = identity
	x.feeds = nextFeeds
	x.tags = nextTags
	x.tagged = nextTagged
	x.mu.Unlock()
}

// Reset forgets the identity so the next Rebuild always refetches.
func (x *FeedTagIndex) Reset() {
	x.mu.Lock()
	x.identity = ""
	x.mu.Unlock()
}

func (x *FeedTagIndex) Identity() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.identity
}

func (x *FeedTagIndex) FeedTitle(feedID int64) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	title, ok := x.feeds[feedID]
	return title, ok
}

// TagFeeds returns a copy of the feed ids of a tag.
func (x *FeedTagIndex) TagFeeds(tagID int64) []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]int64(nil), x.tags[tagID]...)
}

func (x *FeedTagIndex) InTag(tagID, feedID int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, id := range x.tags[tagID] {
		if id == feedID {
			return true
		}
	}
	return false
}

// Tagged reports whether the feed belongs to at least one tag.
func (x *FeedTagIndex) Tagged(feedID int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.tagged[feedID]
	return ok
}

func (x *FeedTagIndex) Len() (feeds int, tags int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.feeds), len(x.tags)
}
