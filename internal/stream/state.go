package stream

import (
	"github.com/agentworkforce/readerstream/internal/reader"
)

// ListState is the ordered article list plus its id → position index. The
// order is the user-visible sort. The index always mirrors the positions and
// every id appears at most once.
type ListState struct {
	articles []reader.Article
	index    map[int64]int
}

func NewListState() ListState {
	return ListState{index: map[int64]int{}}
}

func newListStateFrom(articles []reader.Article) ListState {
	return ListState{articles: articles, index: buildIndex(articles)}
}

func (s ListState) Len() int {
	return len(s.articles)
}

func (s ListState) Position(id int64) (int, bool) {
	pos, ok := s.index[id]
	return pos, ok
}

func (s ListState) Get(id int64) (reader.Article, bool) {
	pos, ok := s.index[id]
	if !ok {
		return reader.Article{}, false
	}
	return s.articles[pos].Clone(), true
}

// Articles returns a deep copy safe to hand to consumers.
func (s ListState) Articles() []reader.Article {
	out := make([]reader.Article, len(s.articles))
	for i, article := range s.articles {
		out[i] = article.Clone()
	}
	return out
}

func (s ListState) IDs() []int64 {
	out := make([]int64, len(s.articles))
	for i, article := range s.articles {
		out[i] = article.ID
	}
	return out
}

// IDRange returns the smallest and largest loaded ids.
func (s ListState) IDRange() (minID, maxID int64, ok bool) {
	if len(s.articles) == 0 {
		return 0, 0, false
	}
	minID, maxID = s.articles[0].ID, s.articles[0].ID
	for _, article := range s.articles[1:] {
		if article.ID < minID {
			minID = article.ID
		}
		if article.ID > maxID {
			maxID = article.ID
		}
	}
	return minID, maxID, true
}

// consistent reports whether the index exactly reflects the sequence.
func (s ListState) consistent() bool {
	if len(s.index) != len(s.articles) {
		return false
	}
	for pos, article := range s.articles {
		if got, ok := s.index[article.ID]; !ok || got != pos {
			return false
		}
	}
	return true
}

func buildIndex(articles []reader.Article) map[int64]int {
	index := make(map[int64]int, len(articles))
	for pos, article := range articles {
		index[article.ID] = pos
	}
	return index
}

func copyArticles(articles []reader.Article) []reader.Article {
	return append(make([]reader.Article, 0, len(articles)+8), articles...)
}
