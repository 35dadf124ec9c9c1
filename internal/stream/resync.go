package stream

import (
	"context"

	"github.com/agentworkforce/readerstream/internal/reader"
)

// resyncIDLimit bounds the unread id-set request. It is an id set, not a
// page, so it is far larger than a page.
const resyncIDLimit = 10000

// Resync asks the server for the unread ids within the loaded id range and
// turns the answer into an authoritative read-state correction for that
// range. ok is false when nothing is loaded.
func Resync(ctx context.Context, api ArticleAPI, source *reader.Source, state ListState) (batch CorrectionBatch, ok bool, err error) {
	minID, maxID, ok := state.IDRange()
	if !ok || source == nil {
		return CorrectionBatch{}, false, nil
	}
	// beforeID/afterID are exclusive on the server; widen by one for the
	// closed range.
	ids, err := api.ListArticleIDs(ctx, source.Path(), reader.Query{
		UnreadOnly: true,
		AfterID:    minID - 1,
		BeforeID:   maxID + 1,
		Limit:      resyncIDLimit,
	})
	if err != nil {
		return CorrectionBatch{}, false, err
	}
	return CorrectionBatch{MinID: minID, MaxID: maxID, UnreadIDs: ids}, true, nil
}
