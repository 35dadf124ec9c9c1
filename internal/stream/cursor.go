package stream

import (
	"time"

	"github.com/agentworkforce/readerstream/internal/reader"
)

// Cursor is the paging anchor taken from the currently loaded list. When
// unread articles are interleaved first, the unread and read parts of the
// list are anchored independently.
type Cursor struct {
	Time        time.Time
	Score       float64
	UnreadTime  time.Time
	UnreadScore float64
	// ReadInPlace counts articles in the unread part that have since been
	// read. A read-only page may return them again.
	ReadInPlace int
}

func (c Cursor) IsZero() bool {
	return c.Time.IsZero() && c.UnreadTime.IsZero()
}

// DeriveCursor anchors at the last loaded article. With unread-first
// interleaving the last unread article anchors the unread part, and only
// the read articles after it anchor the read part; when there are none the
// read part starts from the top. The pinned article (a spliced deep link)
// never anchors, since it was not loaded by paging.
func DeriveCursor(articles []reader.Article, prefs reader.Preferences, pinnedID int64) Cursor {
	var c Cursor
	if !prefs.InterleavesUnread() {
		for i := len(articles) - 1; i >= 0; i-- {
			if articles[i].ID == pinnedID {
				continue
			}
			c.Time = articles[i].Date
			c.Score = articles[i].Score
			break
		}
		return c
	}
	boundary := 0
	for i, article := range articles {
		if article.Read {
			continue
		}
		boundary = i + 1
		if article.ID != pinnedID {
			c.UnreadTime = article.Date
			c.UnreadScore = article.Score
		}
	}
	for _, article := range articles[:boundary] {
		if article.Read {
			c.ReadInPlace++
		}
	}
	for _, article := range articles[boundary:] {
		if article.ID == pinnedID {
			continue
		}
		c.Time = article.Date
		c.Score = article.Score
	}
	return c
}
