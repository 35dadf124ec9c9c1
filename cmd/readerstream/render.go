package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/agentworkforce/readerstream/internal/reader"
	"github.com/agentworkforce/readerstream/internal/stream"
)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#626262"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	colorGreen   = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#25D366"}

	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	statusStyle   = lipgloss.NewStyle().Foreground(colorDim)
	liveStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	unreadStyle   = lipgloss.NewStyle().Bold(true)
	readStyle     = lipgloss.NewStyle().Foreground(colorDim)
	favoriteStyle = lipgloss.NewStyle().Foreground(colorAccent)
	feedStyle     = lipgloss.NewStyle().Foreground(colorDim).Width(16).MaxWidth(16)
)

// feedTitles resolves feed ids to display names.
type feedTitles interface {
	FeedTitle(feedID int64) (string, bool)
}

func renderSnapshot(w io.Writer, snap stream.Snapshot, titles feedTitles) {
	fmt.Fprintln(w, renderHeader(snap))
	for _, article := range snap.Articles {
		fmt.Fprintln(w, renderArticle(article, titles))
	}
}

func renderHeader(snap stream.Snapshot) string {
	parts := []string{headerStyle.Render(snap.Source.String())}
	parts = append(parts, statusStyle.Render(fmt.Sprintf("%d articles", len(snap.Articles))))
	switch {
	case snap.Loading:
		parts = append(parts, statusStyle.Render("loading"))
	case snap.Exhausted:
		parts = append(parts, statusStyle.Render("end of list"))
	}
	if snap.Connected {
		parts = append(parts, liveStyle.Render("live"))
	}
	return strings.Join(parts, statusStyle.Render(" · "))
}

func renderArticle(article reader.Article, titles feedTitles) string {
	marker := " "
	if article.Favorite {
		marker = favoriteStyle.Render("★")
	}
	feed := fmt.Sprintf("feed %d", article.FeedID)
	if titles != nil {
		if title, ok := titles.FeedTitle(article.FeedID); ok && title != "" {
			feed = title
		}
	}
	title := article.Title
	if article.Read {
		title = readStyle.Render(title)
	} else {
		title = unreadStyle.Render(title)
	}
	return fmt.Sprintf("%s %6d  %s  %s  %s",
		marker,
		article.ID,
		statusStyle.Render(article.Date.Local().Format("2006-01-02 15:04")),
		feedStyle.Render(feed),
		title,
	)
}

func renderFormat(w io.Writer, format reader.Format) {
	if format.TopImage != "" {
		fmt.Fprintln(w, statusStyle.Render(format.TopImage))
	}
	fmt.Fprintln(w, format.Content)
	if len(format.Keywords) > 0 {
		fmt.Fprintln(w, statusStyle.Render("keywords: "+strings.Join(format.Keywords, ", ")))
	}
}
