// Package readertest is an in-memory article API and push channel for tests.
package readertest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/agentworkforce/readerstream/internal/live"
	"github.com/agentworkforce/readerstream/internal/reader"
)

const Prefix = "/api/v2"

// Request is one recorded API call.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	CorrelationID string
}

type Server struct {
	mu         sync.Mutex
	token      string
	user       reader.User
	articles   map[int64]reader.Article
	formats    map[int64]reader.Format
	feeds      []reader.Feed
	tagFeeds   []reader.TagFeeds
	failNext   int
	failStatus int
	requests   []Request

	pushMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

// NewServer accepts requests carrying "Bearer <token>". An empty token
// accepts any bearer token.
func NewServer(token string) *Server {
	return &Server{
		token:    token,
		user:     reader.User{ID: 1, Login: "reader"},
		articles: map[int64]reader.Article{},
		formats:  map[int64]reader.Format{},
		conns:    map[*websocket.Conn]struct{}{},
	}
}

// Start serves s on a local httptest server.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s)
}

// PushURL is the websocket endpoint for a server started at baseURL.
func PushURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + Prefix + "/push"
}

func (s *Server) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetUser changes the login the accepted token authenticates as.
func (s *Server) SetUser(user reader.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

func (s *Server) AddArticles(articles ...reader.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, article := range articles {
		s.articles[article.ID] = article.Clone()
	}
}

func (s *Server) Article(id int64) (reader.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	return article.Clone(), ok
}

func (s *Server) SetFormat(id int64, format reader.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formats[id] = format
}

func (s *Server) SetFeeds(feeds []reader.Feed, tagFeeds []reader.TagFeeds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds = append([]reader.Feed(nil), feeds...)
	s.tagFeeds = append([]reader.TagFeeds(nil), tagFeeds...)
}

// FailNext makes the next n API requests answer with status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failStatus = status
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	correlationID := r.Header.Get("X-Correlation-Id")
	// Split the escaped path so search queries may contain slashes.
	path := r.URL.EscapedPath()
	if !strings.HasPrefix(path, Prefix+"/") {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	if status, code, message := s.authorize(r.Header.Get("Authorization")); status != 0 {
		writeError(w, status, code, message, correlationID)
		return
	}
	parts := strings.Split(strings.TrimPrefix(path, Prefix+"/"), "/")

	if len(parts) == 1 && parts[0] == "push" && r.Method == http.MethodGet {
		s.handlePush(w, r)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), CorrelationID: correlationID})
	if s.failNext > 0 {
		s.failNext--
		status := s.failStatus
		s.mu.Unlock()
		writeError(w, status, "injected", "injected failure", correlationID)
		return
	}
	s.mu.Unlock()

	switch {
	case len(parts) == 2 && parts[0] == "user" && parts[1] == "current" && r.Method == http.MethodGet:
		s.mu.Lock()
		user := s.user
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, user)
	case len(parts) == 1 && parts[0] == "feed" && r.Method == http.MethodGet:
		s.handleFeeds(w)
	case len(parts) == 2 && parts[0] == "tag" && parts[1] == "feedIDs" && r.Method == http.MethodGet:
		s.handleTagFeeds(w)
	case len(parts) == 3 && parts[0] == "article" && isID(parts[1]) && parts[2] == "format" && r.Method == http.MethodGet:
		s.handleFormat(w, parts[1], correlationID)
	case len(parts) == 3 && parts[0] == "article" && isID(parts[1]) && (r.Method == http.MethodPost || r.Method == http.MethodDelete):
		s.handleProperty(w, r, parts[1], parts[2])
	case len(parts) >= 1 && parts[0] == "article":
		source, rest, ok := parseSource(parts[1:])
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "unknown source", correlationID)
			return
		}
		switch {
		case len(rest) == 0 && r.Method == http.MethodGet:
			s.handleList(w, r, source, correlationID)
		case len(rest) == 1 && rest[0] == "ids" && r.Method == http.MethodGet:
			s.handleIDs(w, r, source, correlationID)
		case len(rest) == 1 && rest[0] == reader.PropertyRead && r.Method == http.MethodPost:
			s.handleBulkRead(w, source)
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		}
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) authorize(header string) (int, string, string) {
	if !strings.HasPrefix(header, "Bearer ") {
		return http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token"
	}
	s.mu.Lock()
	want := s.token
	s.mu.Unlock()
	if want != "" && token != want {
		return http.StatusForbidden, "forbidden", "token not accepted"
	}
	return 0, "", ""
}

func (s *Server) handleFeeds(w http.ResponseWriter) {
	s.mu.Lock()
	feeds := append([]reader.Feed{}, s.feeds...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

func (s *Server) handleTagFeeds(w http.ResponseWriter) {
	s.mu.Lock()
	tagFeeds := append([]reader.TagFeeds{}, s.tagFeeds...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"tagFeeds": tagFeeds})
}

func (s *Server) handleFormat(w http.ResponseWriter, rawID, correlationID string) {
	id, _ := strconv.ParseInt(rawID, 10, 64)
	s.mu.Lock()
	format, ok := s.formats[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no format for article", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, format)
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request, rawID, name string) {
	id, _ := strconv.ParseInt(rawID, 10, 64)
	value := r.Method == http.MethodPost
	s.mu.Lock()
	article, ok := s.articles[id]
	if ok {
		article.SetProperty(name, value)
		s.articles[id] = article
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	// Other clients learn about the change through the push channel.
	_ = s.Push(r.Context(), reader.StateChange{State: name, Value: value, Options: reader.PropertyFilter{IDs: []int64{id}}})
}

func (s *Server) handleBulkRead(w http.ResponseWriter, source *reader.Source) {
	if !source.Updatable() {
		writeJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}
	s.mu.Lock()
	for id, article := range s.articles {
		if s.inSourceLocked(article, source) {
			article.Read = true
			s.articles[id] = article
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, source *reader.Source, correlationID string) {
	articles, err := s.query(source, r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) handleIDs(w http.ResponseWriter, r *http.Request, source *reader.Source, correlationID string) {
	articles, err := s.query(source, r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	ids := make([]int64, len(articles))
	for i, article := range articles {
		ids[i] = article.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (s *Server) query(source *reader.Source, values url.Values) ([]reader.Article, error) {
	f, err := parseFilter(values)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []reader.Article
	for _, article := range s.articles {
		if s.inSourceLocked(article, source) && f.matches(article) {
			out = append(out, article.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			if f.olderFirst {
				return a.Date.Before(b.Date)
			}
			return a.Date.After(b.Date)
		}
		if f.olderFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	if f.offset >= len(out) {
		return []reader.Article{}, nil
	}
	out = out[f.offset:]
	if len(out) > f.limit {
		out = out[:f.limit]
	}
	return out, nil
}

func (s *Server) inSourceLocked(article reader.Article, source *reader.Source) bool {
	switch source.Kind {
	case reader.SourceUser:
		return true
	case reader.SourceFavorite:
		return article.Favorite
	case reader.SourceFeed:
		return article.FeedID == source.ID
	case reader.SourceTag:
		for _, tf := range s.tagFeeds {
			if tf.Tag.ID != source.ID {
				continue
			}
			for _, feedID := range tf.IDs {
				if feedID == article.FeedID {
					return true
				}
			}
		}
		return false
	case reader.SourcePopular:
		return article.Score > 0 && s.inSourceLocked(article, source.Inner)
	case reader.SourceSearch:
		return strings.Contains(strings.ToLower(article.Title), strings.ToLower(source.Query)) && s.inSourceLocked(article, source.Inner)
	default:
		return false
	}
}

// parseSource reads a source path off the front of parts and returns what
// follows it.
func parseSource(parts []string) (*reader.Source, []string, bool) {
	if len(parts) == 0 || parts[0] == "" {
		return reader.UserSource(), nil, true
	}
	switch parts[0] {
	case "ids", reader.PropertyRead:
		return reader.UserSource(), parts, true
	case "favorite":
		return reader.FavoriteSource(), parts[1:], true
	case "feed", "tag":
		if len(parts) < 2 || !isID(parts[1]) {
			return nil, nil, false
		}
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		if parts[0] == "feed" {
			return reader.FeedSource(id), parts[2:], true
		}
		return reader.TagSource(id), parts[2:], true
	case "popular":
		inner, rest, ok := parseInner(parts[1:])
		if !ok {
			return nil, nil, false
		}
		return reader.PopularSource(inner), rest, true
	case "search":
		if len(parts) < 2 {
			return nil, nil, false
		}
		query, err := url.PathUnescape(parts[1])
		if err != nil || query == "" {
			return nil, nil, false
		}
		inner, rest, ok := parseInner(parts[2:])
		if !ok {
			return nil, nil, false
		}
		return reader.SearchSource(query, inner), rest, true
	default:
		return nil, nil, false
	}
}

func parseInner(parts []string) (*reader.Source, []string, bool) {
	if len(parts) > 0 && (parts[0] == "feed" || parts[0] == "tag") {
		return parseSource(parts)
	}
	return reader.UserSource(), parts, true
}

func isID(raw string) bool {
	id, err := strconv.ParseInt(raw, 10, 64)
	return err == nil && id > 0
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := conn.CloseRead(context.Background())
	s.pushMu.Lock()
	s.conns[conn] = struct{}{}
	s.pushMu.Unlock()

	<-ctx.Done()

	s.pushMu.Lock()
	delete(s.conns, conn)
	s.pushMu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// Push sends event (a reader.FeedUpdate or reader.StateChange) to every
// connected push client.
func (s *Server) Push(ctx context.Context, event any) error {
	data, err := live.Encode(event)
	if err != nil {
		return err
	}
	return s.PushRaw(ctx, data)
}

// PushRaw sends data as is, for exercising malformed messages.
func (s *Server) PushRaw(ctx context.Context, data []byte) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var firstErr error
	for conn := range s.conns {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) PushConnections() int {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	return len(s.conns)
}

// DropPushConnections closes every push connection, as a server restart
// would.
func (s *Server) DropPushConnections() {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "restarting")
		delete(s.conns, conn)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
