package stream

import (
	"github.com/agentworkforce/readerstream/internal/reader"
)

// sortsBefore reports whether a is displayed ahead of b. With UnreadFirst
// the read state decides whenever it differs, regardless of date. Equal
// dates never sort before each other.
func sortsBefore(a, b reader.Article, prefs reader.Preferences) bool {
	if prefs.UnreadFirst && a.Read != b.Read {
		return !a.Read
	}
	if prefs.OlderFirst {
		return a.Date.Before(b.Date)
	}
	return a.Date.After(b.Date)
}

// shouldInsert is the insertion comparator: incoming goes in front of
// current.
func shouldInsert(incoming, current reader.Article, prefs reader.Preferences) bool {
	return sortsBefore(incoming, current, prefs)
}

// insertionPoint finds where incoming belongs in list. The scan runs from
// the head for newest-first lists and from the tail for OlderFirst lists,
// where new articles usually land near the end.
func insertionPoint(list []reader.Article, incoming reader.Article, prefs reader.Preferences) int {
	if prefs.OlderFirst {
		for i := len(list) - 1; i >= 0; i-- {
			if sortsBefore(list[i], incoming, prefs) {
				return i + 1
			}
		}
		return 0
	}
	for i := range list {
		if shouldInsert(incoming, list[i], prefs) {
			return i
		}
	}
	return len(list)
}

func insertAt(list []reader.Article, pos int, article reader.Article) []reader.Article {
	list = append(list, reader.Article{})
	copy(list[pos+1:], list[pos:])
	list[pos] = article
	return list
}
