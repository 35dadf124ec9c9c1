package live

import (
	"github.com/agentworkforce/readerstream/internal/reader"
)

// TagMembership answers tag → feed membership questions, normally backed
// by the FeedTagIndex.
type TagMembership interface {
	InTag(tagID, feedID int64) bool
}

// ShouldUpdate reports whether a feed update concerns the source being
// viewed. Popular, search and favorite sources never take feed updates.
func ShouldUpdate(source *reader.Source, event reader.FeedUpdate, tags TagMembership) bool {
	if source == nil {
		return false
	}
	switch source.Kind {
	case reader.SourceUser:
		return true
	case reader.SourceFeed:
		return event.FeedID == source.ID
	case reader.SourceTag:
		return tags != nil && tags.InTag(source.ID, event.FeedID)
	default:
		return false
	}
}
