package reader

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLister struct {
	feeds    []Feed
	tagFeeds []TagFeeds
	err      error
	calls    int
}

func (f *fakeLister) ListFeeds(ctx context.Context) ([]Feed, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.feeds, nil
}

func (f *fakeLister) ListTagFeeds(ctx context.Context) ([]TagFeeds, error) {
	return f.tagFeeds, nil
}

func TestFeedTagIndexRebuildOnIdentityChange(t *testing.T) {
	lister := &fakeLister{
		feeds:    []Feed{{ID: 10, Title: "Go blog"}, {ID: 20, Title: "Lobsters"}},
		tagFeeds: []TagFeeds{{Tag: Tag{ID: 1, Value: "dev"}, IDs: []int64{20, 10}}},
	}
	index := NewFeedTagIndex()

	rebuilt, err := index.Rebuild(context.Background(), "alice", lister)
	if err != nil || !rebuilt {
		t.Fatalf("expected first rebuild, got rebuilt=%v err=%v", rebuilt, err)
	}
	if title, ok := index.FeedTitle(10); !ok || title != "Go blog" {
		t.Fatalf("expected feed title, got %q %v", title, ok)
	}
	if !index.InTag(1, 20) || index.InTag(1, 30) {
		t.Fatalf("unexpected tag membership")
	}
	if got := index.TagFeeds(1); len(got) != 2 || got[0] != 10 {
		t.Fatalf("expected sorted tag feeds, got %v", got)
	}

	rebuilt, err = index.Rebuild(context.Background(), "alice", lister)
	if err != nil || rebuilt {
		t.Fatalf("expected no rebuild for same identity, got rebuilt=%v err=%v", rebuilt, err)
	}
	if lister.calls != 1 {
		t.Fatalf("expected one list call, got %d", lister.calls)
	}

	lister.feeds = []Feed{{ID: 30, Title: "HN"}}
	lister.tagFeeds = nil
	if _, err := index.Rebuild(context.Background(), "bob", lister); err != nil {
		t.Fatalf("rebuild for new identity failed: %v", err)
	}
	if _, ok := index.FeedTitle(10); ok {
		t.Fatalf("expected previous identity's feeds to be replaced, not merged")
	}
	if index.Tagged(20) {
		t.Fatalf("expected tag membership to be cleared")
	}
}

func TestFeedTagIndexKeepsContentsOnError(t *testing.T) {
	index := NewFeedTagIndex()
	index.Replace("alice", []Feed{{ID: 1, Title: "One"}}, nil)
	lister := &fakeLister{err: errors.New("boom")}
	if _, err := index.Rebuild(context.Background(), "bob", lister); err == nil {
		t.Fatalf("expected error")
	}
	if index.Identity() != "alice" {
		t.Fatalf("expected identity to stay alice, got %q", index.Identity())
	}
	if _, ok := index.FeedTitle(1); !ok {
		t.Fatalf("expected previous contents to survive a failed rebuild")
	}
}

func TestPropertyFilterMatches(t *testing.T) {
	index := NewFeedTagIndex()
	index.Replace("u", nil, []TagFeeds{{Tag: Tag{ID: 1}, IDs: []int64{10}}})
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	article := Article{ID: 5, FeedID: 20, Date: day, Read: false, Favorite: true}

	cases := []struct {
		name   string
		filter PropertyFilter
		want   bool
	}{
		{name: "empty", filter: PropertyFilter{}, want: true},
		{name: "feed hit", filter: PropertyFilter{FeedIDs: []int64{20}}, want: true},
		{name: "feed miss", filter: PropertyFilter{FeedIDs: []int64{10}}, want: false},
		{name: "read only", filter: PropertyFilter{ReadOnly: true}, want: false},
		{name: "unread only", filter: PropertyFilter{UnreadOnly: true}, want: true},
		{name: "favorite only", filter: PropertyFilter{FavoriteOnly: true}, want: true},
		{name: "untagged", filter: PropertyFilter{UntaggedOnly: true}, want: true},
		{name: "before id", filter: PropertyFilter{BeforeID: 5}, want: false},
		{name: "after id", filter: PropertyFilter{AfterID: 4}, want: true},
		{name: "before date", filter: PropertyFilter{BeforeDate: day.Add(time.Hour)}, want: true},
		{name: "after date", filter: PropertyFilter{AfterDate: day}, want: false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(article, index); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	tagged := Article{ID: 6, FeedID: 10}
	if (PropertyFilter{UntaggedOnly: true}).Matches(tagged, index) {
		t.Fatalf("expected tagged feed to be excluded by untaggedOnly")
	}
}

func TestArticleSetPropertyKeepsUnknownNames(t *testing.T) {
	var article Article
	article.SetProperty(PropertyRead, true)
	article.SetProperty(PropertyFavorite, true)
	article.SetProperty("pinned", true)
	if !article.Read || !article.Favorite {
		t.Fatalf("expected known flags to be set")
	}
	if value, ok := article.Property("pinned"); !ok || !value {
		t.Fatalf("expected unknown property to be stored")
	}
	clone := article.Clone()
	clone.SetProperty("pinned", false)
	if value, _ := article.Property("pinned"); !value {
		t.Fatalf("expected clone not to share properties")
	}
}

func TestUserIdentity(t *testing.T) {
	tests := []struct {
		user User
		want string
	}{
		{user: User{ID: 7, Login: "alice"}, want: "alice"},
		{user: User{ID: 7}, want: "user:7"},
		{user: User{}, want: ""},
	}
	for _, tt := range tests {
		if got := tt.user.Identity(); got != tt.want {
			t.Fatalf("Identity(%+v) = %q, want %q", tt.user, got, tt.want)
		}
	}
}
