package reader

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type SourceKind int

const (
	SourceUser SourceKind = iota + 1
	SourceFavorite
	SourceFeed
	SourceTag
	SourcePopular
	SourceSearch
)

func (k SourceKind) String() string {
	switch k {
	case SourceUser:
		return "user"
	case SourceFavorite:
		return "favorite"
	case SourceFeed:
		return "feed"
	case SourceTag:
		return "tag"
	case SourcePopular:
		return "popular"
	case SourceSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Source describes the logical article collection being viewed. Popular and
// Search wrap an inner User, Feed or Tag source.
type Source struct {
	Kind  SourceKind
	ID    int64
	Query string
	Inner *Source
}

func UserSource() *Source { return &Source{Kind: SourceUser} }
func FavoriteSource() *Source { return &Source{Kind: SourceFavorite} }
func FeedSource(id int64) *Source { return &Source{Kind: SourceFeed, ID: id} }
func TagSource(id int64) *Source { return &Source{Kind: SourceTag, ID: id} }
func PopularSource(inner *Source) *Source {
	return &Source{Kind: SourcePopular, Inner: inner}
}
func SearchSource(query string, inner *Source) *Source {
	return &Source{Kind: SourceSearch, Query: query, Inner: inner}
}

// Path is the URL fragment appended to the article endpoint. It doubles as
// the equality key used to detect a source change.
func (s *Source) Path() string {
	if s == nil {
		return ""
	}
	switch s.Kind {
	case SourceUser:
		return ""
	case SourceFavorite:
		return "/favorite"
	case SourceFeed:
		return "/feed/" + strconv.FormatInt(s.ID, 10)
	case SourceTag:
		return "/tag/" + strconv.FormatInt(s.ID, 10)
	case SourcePopular:
		return "/popular" + s.Inner.Path()
	case SourceSearch:
		return "/search/" + url.PathEscape(s.Query) + s.Inner.Path()
	default:
		return ""
	}
}

// Updatable is false where bulk "mark all as read" is not allowed.
func (s *Source) Updatable() bool {
	if s == nil {
		return false
	}
	switch s.Kind {
	case SourceUser, SourceFeed, SourceTag:
		return true
	default:
		return false
	}
}

// ScoreOrdered reports whether the server sorts this source by a relevance
// score, making the score part of the paging anchor.
func (s *Source) ScoreOrdered() bool {
	if s == nil {
		return false
	}
	return s.Kind == SourcePopular || s.Kind == SourceSearch
}

// Live reports whether feed-update push events can be relevant to the
// source. Popular, search and favorite collections are not "all articles of
// some feeds" and never are.
func (s *Source) Live() bool {
	if s == nil {
		return false
	}
	switch s.Kind {
	case SourceUser, SourceFeed, SourceTag:
		return true
	default:
		return false
	}
}

func (s *Source) Equal(other *Source) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return s.Path() == other.Path()
}

func (s *Source) String() string {
	if s == nil {
		return "<none>"
	}
	switch s.Kind {
	case SourceFeed, SourceTag:
		return fmt.Sprintf("%s(%d)", s.Kind, s.ID)
	case SourcePopular:
		return fmt.Sprintf("popular(%s)", s.Inner)
	case SourceSearch:
		return fmt.Sprintf("search(%q, %s)", s.Query, s.Inner)
	default:
		return s.Kind.String()
	}
}

// NavContext is the navigation state handed over by the routing layer.
type NavContext struct {
	Primary   string
	Secondary string
	Params    map[string]string
}

const (
	ParamID        = "id"
	ParamQuery     = "query"
	ParamArticleID = "articleID"
)

// DeepLinkID returns the article id named by the navigation context, or 0.
func (n NavContext) DeepLinkID() int64 {
	id, ok := positiveID(n.Params[ParamArticleID])
	if !ok {
		return 0
	}
	return id
}

// Resolve maps a navigation context to a Source. A nil result means the
// context does not describe an article list and querying must be suppressed.
func Resolve(nav NavContext) *Source {
	switch strings.TrimSpace(nav.Primary) {
	case "user":
		return UserSource()
	case "favorite":
		return FavoriteSource()
	case "feed":
		return resolveInner("feed", nav.Params)
	case "tag":
		return resolveInner("tag", nav.Params)
	case "popular":
		inner := resolveInner(nav.Secondary, nav.Params)
		if inner == nil {
			return nil
		}
		return PopularSource(inner)
	case "search":
		inner := resolveInner(nav.Secondary, nav.Params)
		if inner == nil {
			return nil
		}
		raw, ok := nav.Params[ParamQuery]
		if !ok {
			return nil
		}
		query, err := url.QueryUnescape(raw)
		if err != nil {
			return nil
		}
		query = strings.TrimSpace(query)
		if query == "" {
			return nil
		}
		return SearchSource(query, inner)
	default:
		return nil
	}
}

func resolveInner(name string, params map[string]string) *Source {
	switch strings.TrimSpace(name) {
	case "user":
		return UserSource()
	case "feed":
		id, ok := positiveID(params[ParamID])
		if !ok {
			return nil
		}
		return FeedSource(id)
	case "tag":
		id, ok := positiveID(params[ParamID])
		if !ok {
			return nil
		}
		return TagSource(id)
	default:
		return nil
	}
}

func positiveID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
