package reader

const (
	EventFeedUpdate         = "feed-update"
	EventArticleStateChange = "article-state-change"
)

// FeedUpdate announces new or changed articles of a feed.
type FeedUpdate struct {
	FeedID     int64   `json:"feedID"`
	ArticleIDs []int64 `json:"articleIDs"`
}

// StateChange announces a property change applied server-side to the
// articles selected by Options.
type StateChange struct {
	State   string         `json:"state"`
	Value   bool           `json:"value"`
	Options PropertyFilter `json:"options"`
}
