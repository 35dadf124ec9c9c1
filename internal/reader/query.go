package reader

import (
	"time"
)

// Query carries the filters accepted by the article listing and id-set
// endpoints. Zero values are omitted from the request.
type Query struct {
	Limit       int
	Offset      int
	UnreadOnly  bool
	ReadOnly    bool
	OlderFirst  bool
	IDs         []int64
	BeforeID    int64
	AfterID     int64
	BeforeTime  time.Time
	AfterTime   time.Time
	BeforeScore float64
	AfterScore  float64
}

// PropertyFilter selects the articles a property change applies to. When IDs
// is non-empty the change is targeted and all other fields are ignored.
type PropertyFilter struct {
	IDs          []int64   `json:"ids,omitempty"`
	FeedIDs      []int64   `json:"feedIDs,omitempty"`
	ReadOnly     bool      `json:"readOnly,omitempty"`
	UnreadOnly   bool      `json:"unreadOnly,omitempty"`
	FavoriteOnly bool      `json:"favoriteOnly,omitempty"`
	UntaggedOnly bool      `json:"untaggedOnly,omitempty"`
	BeforeID     int64     `json:"beforeID,omitempty"`
	AfterID      int64     `json:"afterID,omitempty"`
	BeforeDate   time.Time `json:"beforeDate,omitempty"`
	AfterDate    time.Time `json:"afterDate,omitempty"`
}

func (f PropertyFilter) Targeted() bool {
	return len(f.IDs) > 0
}

// Empty reports whether the filter names no ids and no predicate fields. An
// empty filter selects every article.
func (f PropertyFilter) Empty() bool {
	return len(f.IDs) == 0 &&
		len(f.FeedIDs) == 0 &&
		!f.ReadOnly &&
		!f.UnreadOnly &&
		!f.FavoriteOnly &&
		!f.UntaggedOnly &&
		f.BeforeID == 0 &&
		f.AfterID == 0 &&
		f.BeforeDate.IsZero() &&
		f.AfterDate.IsZero()
}

// TagLookup answers whether a feed belongs to any tag.
type TagLookup interface {
	Tagged(feedID int64) bool
}

// Matches evaluates the predicate part of the filter. Targeted ids are not
// consulted here.
func (f PropertyFilter) Matches(a Article, tags TagLookup) bool {
	if len(f.FeedIDs) > 0 && !containsID(f.FeedIDs, a.FeedID) {
		return false
	}
	if f.ReadOnly && !a.Read {
		return false
	}
	if f.UnreadOnly && a.Read {
		return false
	}
	if f.FavoriteOnly && !a.Favorite {
		return false
	}
	// Without a tag lookup no feed is known to be tagged, so every article
	// counts as untagged.
	if f.UntaggedOnly && tags != nil && tags.Tagged(a.FeedID) {
		return false
	}
	if f.BeforeID > 0 && a.ID >= f.BeforeID {
		return false
	}
	if f.AfterID > 0 && a.ID <= f.AfterID {
		return false
	}
	if !f.BeforeDate.IsZero() && !a.Date.Before(f.BeforeDate) {
		return false
	}
	if !f.AfterDate.IsZero() && !a.Date.After(f.AfterDate) {
		return false
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
