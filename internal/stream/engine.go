package stream

import (
	"fmt"

	"github.com/agentworkforce/readerstream/internal/reader"
)

// Batch is one self-contained unit of change applied atomically to the list.
type Batch interface {
	batchKind() string
}

// PageBatch is a page from the fetcher, already ordered by the server.
type PageBatch struct {
	Articles []reader.Article
}

// EventBatch carries articles announced by the push channel (or caught up
// after a reconnect). New ones are spliced in by the insertion comparator.
type EventBatch struct {
	Articles []reader.Article
}

// CorrectionBatch is an authoritative read state for the closed id range
// [MinID, MaxID]: listed ids are unread, all others in range are read.
type CorrectionBatch struct {
	MinID     int64
	MaxID     int64
	UnreadIDs []int64
}

// PropertyBatch sets Name to Value on the ids in Filter.IDs, or on every
// article matching the filter's predicate when no ids are given.
type PropertyBatch struct {
	Name   string
	Value  bool
	Filter reader.PropertyFilter
}

func (PageBatch) batchKind() string       { return "page" }
func (EventBatch) batchKind() string      { return "event" }
func (CorrectionBatch) batchKind() string { return "correction" }
func (PropertyBatch) batchKind() string   { return "property" }

// Engine folds batches into the list it owns. It is not safe for concurrent
// use; the Stream actor is its only caller.
type Engine struct {
	state  ListState
	prefs  reader.Preferences
	tags   reader.TagLookup
	pinned int64
}

func NewEngine(prefs reader.Preferences, tags reader.TagLookup) *Engine {
	return &Engine{state: NewListState(), prefs: prefs, tags: tags}
}

// Reset discards the list, for a new source or ordering preference.
func (e *Engine) Reset(prefs reader.Preferences) {
	e.state = NewListState()
	e.prefs = prefs
	e.pinned = 0
}

// Pin marks the article spliced in out of band for a deep link. It does not
// anchor paging and is kept behind later pages while it trails the list.
func (e *Engine) Pin(id int64) {
	e.pinned = id
}

func (e *Engine) State() ListState {
	return e.state
}

func (e *Engine) Preferences() reader.Preferences {
	return e.prefs
}

func (e *Engine) Cursor() Cursor {
	return DeriveCursor(e.state.articles, e.prefs, e.pinned)
}

// Apply folds one batch into the list. The next list is built aside and only
// committed when the batch completes, so a failing batch leaves the list as
// it was and is reported as an error instead of escaping.
func (e *Engine) Apply(batch Batch) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			changed = false
			err = fmt.Errorf("apply %s batch: %v", kindOf(batch), r)
		}
	}()
	var next ListState
	switch b := batch.(type) {
	case PageBatch:
		next, changed = applyPage(e.state, b, e.prefs, e.pinned)
	case EventBatch:
		next, changed = applyEvent(e.state, b, e.prefs)
	case CorrectionBatch:
		next, changed = applyCorrection(e.state, b)
	case PropertyBatch:
		next, changed = applyProperty(e.state, b, e.tags)
	case nil:
		return false, fmt.Errorf("apply: nil batch")
	default:
		return false, fmt.Errorf("apply: unsupported batch %T", batch)
	}
	if changed {
		e.state = next
	}
	return changed, nil
}

func kindOf(batch Batch) string {
	if batch == nil {
		return "nil"
	}
	return batch.batchKind()
}

func applyPage(state ListState, batch PageBatch, prefs reader.Preferences, pinnedID int64) (ListState, bool) {
	if len(batch.Articles) == 0 {
		return state, false
	}
	articles := copyArticles(state.articles)
	index := make(map[int64]int, len(state.index)+len(batch.Articles))
	for id, pos := range state.index {
		index[id] = pos
	}
	// A trailing pinned article is lifted off and put back among the page.
	var held *reader.Article
	if n := len(articles); pinnedID != 0 && n > 0 && articles[n-1].ID == pinnedID {
		last := articles[n-1]
		held = &last
		articles = articles[:n-1]
		delete(index, pinnedID)
	}
	tail := len(articles)
	for _, article := range batch.Articles {
		if pos, ok := index[article.ID]; ok {
			articles[pos] = article
			continue
		}
		articles = append(articles, article)
		index[article.ID] = len(articles) - 1
	}
	if held != nil {
		if _, ok := index[pinnedID]; !ok {
			pos := tail + insertionPoint(articles[tail:], *held, prefs)
			articles = insertAt(articles, pos, *held)
			index = buildIndex(articles)
		}
	}
	return ListState{articles: articles, index: index}, true
}

// applyEvent computes every insertion against the pre-update index and
// defers in-place replacements of already known ids until all insertions
// are done.
func applyEvent(state ListState, batch EventBatch, prefs reader.Preferences) (ListState, bool) {
	if len(batch.Articles) == 0 {
		return state, false
	}
	articles := copyArticles(state.articles)
	inserted := map[int64]struct{}{}
	var replacements []reader.Article
	for _, article := range batch.Articles {
		if _, ok := state.index[article.ID]; ok {
			replacements = append(replacements, article)
			continue
		}
		if _, ok := inserted[article.ID]; ok {
			replacements = append(replacements, article)
			continue
		}
		articles = insertAt(articles, insertionPoint(articles, article, prefs), article)
		inserted[article.ID] = struct{}{}
	}
	next := newListStateFrom(articles)
	for _, article := range replacements {
		next.articles[next.index[article.ID]] = article
	}
	return next, true
}

func applyCorrection(state ListState, batch CorrectionBatch) (ListState, bool) {
	if len(state.articles) == 0 || batch.MinID > batch.MaxID {
		return state, false
	}
	unread := make(map[int64]struct{}, len(batch.UnreadIDs))
	for _, id := range batch.UnreadIDs {
		unread[id] = struct{}{}
	}
	articles := copyArticles(state.articles)
	changed := false
	for i := range articles {
		id := articles[i].ID
		if id < batch.MinID || id > batch.MaxID {
			continue
		}
		_, isUnread := unread[id]
		if articles[i].Read == isUnread {
			articles[i].Read = !isUnread
			changed = true
		}
	}
	if !changed {
		return state, false
	}
	return ListState{articles: articles, index: state.index}, true
}

func applyProperty(state ListState, batch PropertyBatch, tags reader.TagLookup) (ListState, bool) {
	if len(state.articles) == 0 {
		return state, false
	}
	articles := copyArticles(state.articles)
	set := func(pos int) bool {
		current, ok := articles[pos].Property(batch.Name)
		if ok && current == batch.Value {
			return false
		}
		article := articles[pos].Clone()
		article.SetProperty(batch.Name, batch.Value)
		articles[pos] = article
		return true
	}
	changed := false
	if batch.Filter.Targeted() {
		for _, id := range batch.Filter.IDs {
			pos, ok := state.index[id]
			if !ok {
				continue
			}
			if set(pos) {
				changed = true
			}
		}
	} else {
		for pos := range articles {
			if !batch.Filter.Matches(articles[pos], tags) {
				continue
			}
			if set(pos) {
				changed = true
			}
		}
	}
	if !changed {
		return state, false
	}
	return ListState{articles: articles, index: state.index}, true
}
