package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/readerstream/internal/reader"
)

func loadedEngine(t *testing.T, prefs reader.Preferences, tags reader.TagLookup, articles ...reader.Article) *Engine {
	t.Helper()
	e := NewEngine(prefs, tags)
	_, err := e.Apply(PageBatch{Articles: articles})
	require.NoError(t, err)
	return e
}

func TestApplyKeepsIndexConsistent(t *testing.T) {
	prefs := reader.Preferences{UnreadFirst: true}
	e := NewEngine(prefs, nil)
	batches := []Batch{
		PageBatch{Articles: []reader.Article{article(1, 1, 9, false), article(2, 1, 8, true), article(3, 2, 7, true)}},
		EventBatch{Articles: []reader.Article{article(4, 1, 10, false), article(2, 1, 8, false), article(4, 1, 10, true)}},
		PageBatch{Articles: []reader.Article{article(3, 2, 7, false), article(5, 2, 1, true)}},
		CorrectionBatch{MinID: 1, MaxID: 5, UnreadIDs: []int64{1}},
		PropertyBatch{Name: reader.PropertyFavorite, Value: true, Filter: reader.PropertyFilter{FeedIDs: []int64{2}}},
		EventBatch{Articles: []reader.Article{article(6, 3, 0, false)}},
	}
	for _, batch := range batches {
		_, err := e.Apply(batch)
		require.NoError(t, err)
		state := e.State()
		require.True(t, state.consistent(), "index out of sync after %T: %v", batch, state.IDs())
	}
	assert.Equal(t, 6, e.State().Len())
}

func TestPageBatchIsIdempotent(t *testing.T) {
	page := PageBatch{Articles: []reader.Article{article(1, 1, 3, false), article(2, 1, 2, false), article(3, 1, 1, true)}}
	once := NewEngine(reader.Preferences{}, nil)
	_, err := once.Apply(page)
	require.NoError(t, err)

	twice := NewEngine(reader.Preferences{}, nil)
	_, err = twice.Apply(page)
	require.NoError(t, err)
	_, err = twice.Apply(page)
	require.NoError(t, err)

	assert.Equal(t, once.State().Articles(), twice.State().Articles())
	assert.True(t, twice.State().consistent())
}

func TestPageBatchReplacesKnownIDsInPlace(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil, article(1, 1, 3, false), article(2, 1, 2, false))
	updated := article(1, 1, 3, true)
	updated.Title = "edited"
	_, err := e.Apply(PageBatch{Articles: []reader.Article{updated, article(3, 1, 1, false)}})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, e.State().IDs())
	got, ok := e.State().Get(1)
	require.True(t, ok)
	assert.Equal(t, "edited", got.Title)
	assert.True(t, got.Read)
}

func TestEventBatchUnreadFirstIgnoresDate(t *testing.T) {
	prefs := reader.Preferences{UnreadFirst: true}
	e := loadedEngine(t, prefs, nil,
		article(1, 1, 10, false),
		article(2, 1, 20, true),
		article(3, 1, 15, true),
	)
	// Older than everything loaded, but unread.
	_, err := e.Apply(EventBatch{Articles: []reader.Article{article(4, 1, 1, false)}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4, 2, 3}, e.State().IDs())
}

func TestEventBatchInsertsBeforeFirstOlderArticle(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil,
		article(1, 1, 20, false),
		article(2, 1, 15, true),
		article(3, 1, 10, false),
	)
	_, err := e.Apply(EventBatch{Articles: []reader.Article{
		article(4, 1, 12, false),
		// Same date as id 2: lands after it, in front of the next older one.
		article(5, 1, 15, false),
		article(6, 1, 30, true),
	}})
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 1, 2, 5, 4, 3}, e.State().IDs())
}

func TestEventBatchOlderFirstScansFromTail(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{OlderFirst: true}, nil,
		article(1, 1, 1, false),
		article(2, 1, 5, false),
		article(3, 1, 9, false),
	)
	_, err := e.Apply(EventBatch{Articles: []reader.Article{article(4, 1, 7, false), article(5, 1, 0, false)}})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 2, 4, 3}, e.State().IDs())
}

func TestEventBatchDefersReplacements(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil,
		article(1, 1, 20, false),
		article(2, 1, 10, false),
	)
	replaced := article(2, 1, 10, true)
	replaced.Title = "server copy"
	_, err := e.Apply(EventBatch{Articles: []reader.Article{replaced, article(3, 1, 15, false)}})
	require.NoError(t, err)

	state := e.State()
	assert.Equal(t, []int64{1, 3, 2}, state.IDs())
	got, ok := state.Get(2)
	require.True(t, ok)
	assert.Equal(t, "server copy", got.Title)
	assert.True(t, got.Read)
	assert.True(t, state.consistent())
}

func TestEventBatchDuplicateInBatchInsertsOnce(t *testing.T) {
	e := NewEngine(reader.Preferences{}, nil)
	second := article(7, 1, 5, true)
	_, err := e.Apply(EventBatch{Articles: []reader.Article{article(7, 1, 5, false), second}})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, e.State().IDs())
	got, _ := e.State().Get(7)
	assert.True(t, got.Read)
}

func TestFilteredPropertyBatch(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil,
		reader.Article{ID: 1, FeedID: 10, Read: false},
		reader.Article{ID: 2, FeedID: 20, Read: true},
	)
	changed, err := e.Apply(PropertyBatch{
		Name:   reader.PropertyRead,
		Value:  true,
		Filter: reader.PropertyFilter{FeedIDs: []int64{10}},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	first, _ := e.State().Get(1)
	second, _ := e.State().Get(2)
	assert.True(t, first.Read)
	assert.True(t, second.Read)

	// Only the feed 10 article was touched.
	changed, err = e.Apply(PropertyBatch{
		Name:   reader.PropertyFavorite,
		Value:  true,
		Filter: reader.PropertyFilter{FeedIDs: []int64{10}},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	second, _ = e.State().Get(2)
	assert.False(t, second.Favorite)
}

// An empty filter applies to every loaded article. This is kept as the
// server sends it; callers that mean "nothing" must not send an empty filter.
func TestEmptyPropertyFilterAppliesToAll(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil,
		article(1, 10, 3, false),
		article(2, 20, 2, false),
		article(3, 30, 1, true),
	)
	changed, err := e.Apply(PropertyBatch{Name: reader.PropertyFavorite, Value: true})
	require.NoError(t, err)
	assert.True(t, changed)
	for _, a := range e.State().Articles() {
		assert.True(t, a.Favorite, "article %d", a.ID)
	}
}

func TestTargetedPropertyBatchIgnoresFilterAndUnknownIDs(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil,
		article(1, 10, 3, false),
		article(2, 20, 2, false),
	)
	changed, err := e.Apply(PropertyBatch{
		Name:   reader.PropertyRead,
		Value:  true,
		Filter: reader.PropertyFilter{IDs: []int64{2, 99}, FeedIDs: []int64{10}},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	first, _ := e.State().Get(1)
	second, _ := e.State().Get(2)
	assert.False(t, first.Read)
	assert.True(t, second.Read)

	changed, err = e.Apply(PropertyBatch{Name: reader.PropertyRead, Value: true, Filter: reader.PropertyFilter{IDs: []int64{99}}})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUntaggedOnlyFilter(t *testing.T) {
	tags := fakeTags{5: {10}}
	e := loadedEngine(t, reader.Preferences{}, tags,
		article(1, 10, 3, false),
		article(2, 20, 2, false),
	)
	_, err := e.Apply(PropertyBatch{Name: reader.PropertyRead, Value: true, Filter: reader.PropertyFilter{UntaggedOnly: true}})
	require.NoError(t, err)
	first, _ := e.State().Get(1)
	second, _ := e.State().Get(2)
	assert.False(t, first.Read)
	assert.True(t, second.Read)
}

func TestUntaggedOnlyWithoutIndexMatchesEveryArticle(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil,
		article(1, 10, 3, false),
		article(2, 20, 2, false),
	)
	_, err := e.Apply(PropertyBatch{Name: reader.PropertyRead, Value: true, Filter: reader.PropertyFilter{UntaggedOnly: true}})
	require.NoError(t, err)
	first, _ := e.State().Get(1)
	second, _ := e.State().Get(2)
	assert.True(t, first.Read)
	assert.True(t, second.Read)
}

func TestUnknownPropertyIsSetBlindly(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil, article(1, 10, 3, false))
	changed, err := e.Apply(PropertyBatch{Name: "pinned", Value: true, Filter: reader.PropertyFilter{IDs: []int64{1}}})
	require.NoError(t, err)
	assert.True(t, changed)
	got, _ := e.State().Get(1)
	value, ok := got.Property("pinned")
	assert.True(t, ok)
	assert.True(t, value)
}

func TestCorrectionBatchOnlyTouchesRange(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil,
		article(12, 1, 9, false),
		article(8, 1, 8, true),
		article(7, 1, 7, true),
		article(6, 1, 6, true),
		article(5, 1, 5, true),
		article(3, 1, 3, true),
	)
	// 3 and 12 are outside the range; a sloppy server may still list them.
	changed, err := e.Apply(CorrectionBatch{MinID: 5, MaxID: 8, UnreadIDs: []int64{6, 3}})
	require.NoError(t, err)
	assert.True(t, changed)

	want := map[int64]bool{12: false, 8: true, 7: true, 6: false, 5: true, 3: true}
	for _, a := range e.State().Articles() {
		assert.Equal(t, want[a.ID], a.Read, "article %d", a.ID)
	}
	assert.Equal(t, []int64{12, 8, 7, 6, 5, 3}, e.State().IDs())
}

func TestApplyRejectsNilBatch(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil, article(1, 1, 1, false))
	changed, err := e.Apply(nil)
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, []int64{1}, e.State().IDs())
}

func TestStateIsNotAliasedBySnapshots(t *testing.T) {
	e := loadedEngine(t, reader.Preferences{}, nil, article(1, 1, 1, false))
	before := e.State()
	_, err := e.Apply(PropertyBatch{Name: reader.PropertyRead, Value: true, Filter: reader.PropertyFilter{IDs: []int64{1}}})
	require.NoError(t, err)

	old, _ := before.Get(1)
	now, _ := e.State().Get(1)
	assert.False(t, old.Read)
	assert.True(t, now.Read)
}

func TestDeriveCursor(t *testing.T) {
	articles := []reader.Article{
		{ID: 1, Date: day(9), Read: false, Score: 3},
		{ID: 2, Date: day(7), Read: false, Score: 2},
		{ID: 3, Date: day(8), Read: true, Score: 5},
		{ID: 4, Date: day(4), Read: true, Score: 1},
	}
	c := DeriveCursor(articles, reader.Preferences{UnreadFirst: true}, 0)
	assert.Equal(t, day(7), c.UnreadTime)
	assert.Equal(t, 2.0, c.UnreadScore)
	assert.Equal(t, day(4), c.Time)
	assert.Equal(t, 1.0, c.Score)
	assert.Zero(t, c.ReadInPlace)

	c = DeriveCursor(articles, reader.Preferences{UnreadFirst: true, UnreadOnly: true}, 0)
	assert.True(t, c.UnreadTime.IsZero())
	assert.Equal(t, day(4), c.Time)

	assert.True(t, DeriveCursor(nil, reader.Preferences{}, 0).IsZero())
}

func TestDeriveCursorIgnoresArticlesReadInPlace(t *testing.T) {
	prefs := reader.Preferences{UnreadFirst: true}
	articles := []reader.Article{
		{ID: 11, Date: day(10)},
		{ID: 12, Date: day(9), Read: true},
		{ID: 13, Date: day(8)},
	}
	c := DeriveCursor(articles, prefs, 0)
	assert.Equal(t, day(8), c.UnreadTime)
	assert.True(t, c.Time.IsZero(), "no read part loaded yet")
	assert.Equal(t, 1, c.ReadInPlace)

	articles = append(articles, reader.Article{ID: 21, Date: day(12), Read: true}, reader.Article{ID: 22, Date: day(11), Read: true})
	c = DeriveCursor(articles, prefs, 0)
	assert.Equal(t, day(11), c.Time)
	assert.Equal(t, 1, c.ReadInPlace)
}

func TestDeriveCursorSkipsPinnedArticle(t *testing.T) {
	articles := []reader.Article{
		{ID: 1, Date: day(30)},
		{ID: 2, Date: day(20)},
		{ID: 42, Date: day(5)},
	}
	c := DeriveCursor(articles, reader.Preferences{}, 42)
	assert.Equal(t, day(20), c.Time)

	c = DeriveCursor(articles, reader.Preferences{}, 0)
	assert.Equal(t, day(5), c.Time)
}

func TestPageKeepsTrailingPinnedArticleInOrder(t *testing.T) {
	e := NewEngine(reader.Preferences{}, nil)
	e.Pin(42)
	_, err := e.Apply(PageBatch{Articles: []reader.Article{article(1, 1, 30, false), article(2, 1, 20, false), article(42, 1, 5, false)}})
	require.NoError(t, err)
	assert.Equal(t, day(20), e.Cursor().Time)

	_, err = e.Apply(PageBatch{Articles: []reader.Article{article(3, 1, 15, false), article(4, 1, 2, false)}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 42, 4}, e.State().IDs())
	pos, ok := e.State().Position(4)
	require.True(t, ok)
	assert.Equal(t, 4, pos)
	assert.Equal(t, day(2), e.Cursor().Time)

	e.Reset(reader.Preferences{})
	_, err = e.Apply(PageBatch{Articles: []reader.Article{article(1, 1, 30, false), article(42, 1, 5, false)}})
	require.NoError(t, err)
	assert.Equal(t, day(5), e.Cursor().Time, "reset clears the pin")
}
