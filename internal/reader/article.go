package reader

import (
	"time"
)

const (
	PropertyRead     = "read"
	PropertyFavorite = "favorite"
)

type Article struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feedID"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Stripped    string    `json:"stripped,omitempty"`
	Link        string    `json:"link"`
	Date        time.Time `json:"date"`
	Read        bool      `json:"read"`
	Favorite    bool      `json:"favorite"`
	Score       float64   `json:"score,omitempty"`
	Format      *Format   `json:"format,omitempty"`

	// Properties holds flags with names other than read and favorite. The
	// server owns the schema, so unknown names are kept rather than rejected.
	Properties map[string]bool `json:"-"`
}

// Format is the rich content payload fetched on demand for a single article.
type Format struct {
	Content  string   `json:"content"`
	TopImage string   `json:"topImage,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// SetProperty sets the named flag on the article.
func (a *Article) SetProperty(name string, value bool) {
	switch name {
	case PropertyRead:
		a.Read = value
	case PropertyFavorite:
		a.Favorite = value
	default:
		if a.Properties == nil {
			a.Properties = map[string]bool{}
		}
		a.Properties[name] = value
	}
}

// Property reports the named flag; ok is false for unknown names never set.
func (a Article) Property(name string) (value bool, ok bool) {
	switch name {
	case PropertyRead:
		return a.Read, true
	case PropertyFavorite:
		return a.Favorite, true
	}
	value, ok = a.Properties[name]
	return value, ok
}

// Clone returns a copy that shares no maps or slices with the receiver.
func (a Article) Clone() Article {
	out := a
	if a.Properties != nil {
		out.Properties = make(map[string]bool, len(a.Properties))
		for k, v := range a.Properties {
			out.Properties[k] = v
		}
	}
	if a.Format != nil {
		format := *a.Format
		format.Keywords = append([]string(nil), a.Format.Keywords...)
		out.Format = &format
	}
	return out
}

// Preferences are the user's list ordering and filtering choices.
type Preferences struct {
	OlderFirst  bool `json:"olderFirst" yaml:"older_first"`
	UnreadOnly  bool `json:"unreadOnly" yaml:"unread_only"`
	UnreadFirst bool `json:"unreadFirst" yaml:"unread_first"`
}

// OrderingEqual reports whether switching from p to other can keep the
// currently loaded list. All three flags change either the sort or the
// membership of the list, so any difference forces a reload.
func (p Preferences) OrderingEqual(other Preferences) bool {
	return p == other
}

// InterleavesUnread reports whether unread articles are listed ahead of read
// ones while read articles are still part of the list.
func (p Preferences) InterleavesUnread() bool {
	return p.UnreadFirst && !p.UnreadOnly
}
