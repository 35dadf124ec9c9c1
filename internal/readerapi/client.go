package readerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentworkforce/readerstream/internal/reader"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("request rejected by server")
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && isUnauthorizedStatus(e.StatusCode)
}

func isUnauthorizedStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

type Options struct {
	APIPrefix  string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64
	// Unauthorized is called once for every 401/403 response.
	Unauthorized func()
	Logger       Logger
}

type Logger interface {
	Printf(format string, args ...any)
}

// Client talks to the article API. The bearer token is read per request so
// token renewals take effect without rebuilding the client.
type Client struct {
	baseURL      string
	prefix       string
	token        func() string
	httpClient   *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	limiter      *rate.Limiter
	unauthorized func()
	logger       Logger
}

func NewClient(baseURL string, token func() string, opts Options) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(opts.APIPrefix), "/")
	if prefix == "/" {
		prefix = "/api/v2"
	}
	if token == nil {
		token = func() string { return "" }
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 10
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:      baseURL,
		prefix:       prefix,
		token:        token,
		httpClient:   httpClient,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		limiter:      limiter,
		unauthorized: opts.Unauthorized,
		logger:       opts.Logger,
	}
}

type articlesResponse struct {
	Articles []reader.Article `json:"articles"`
}

type idsResponse struct {
	IDs []int64 `json:"ids"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type feedsResponse struct {
	Feeds []reader.Feed `json:"feeds"`
}

type tagFeedsResponse struct {
	TagFeeds []reader.TagFeeds `json:"tagFeeds"`
}

// ListArticles returns one page of articles for the source path. A
// successful empty page is returned as a non-nil empty slice.
func (c *Client) ListArticles(ctx context.Context, sourcePath string, q reader.Query) ([]reader.Article, error) {
	var out articlesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/article"+sourcePath, encodeQuery(q), nil, &out); err != nil {
		return nil, err
	}
	if out.Articles == nil {
		out.Articles = []reader.Article{}
	}
	return out.Articles, nil
}

func (c *Client) ListArticleIDs(ctx context.Context, sourcePath string, q reader.Query) ([]int64, error) {
	var out idsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/article"+sourcePath+"/ids", encodeQuery(q), nil, &out); err != nil {
		return nil, err
	}
	if out.IDs == nil {
		out.IDs = []int64{}
	}
	return out.IDs, nil
}

func (c *Client) ArticleFormat(ctx context.Context, id int64) (reader.Format, error) {
	var out reader.Format
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/article/%d/format", id), nil, nil, &out)
	return out, err
}

// SetArticleProperty issues POST (value=true) or DELETE (value=false) on
// the article's property endpoint.
func (c *Client) SetArticleProperty(ctx context.Context, id int64, name string, value bool) error {
	method := http.MethodDelete
	if value {
		method = http.MethodPost
	}
	var out successResponse
	if err := c.doJSON(ctx, method, fmt.Sprintf("/article/%d/%s", id, url.PathEscape(name)), nil, nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return ErrRejected
	}
	return nil
}

// MarkSourceRead marks every article of the source read in one request.
func (c *Client) MarkSourceRead(ctx context.Context, sourcePath string) error {
	var out successResponse
	if err := c.doJSON(ctx, http.MethodPost, "/article"+sourcePath+"/read", nil, nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return ErrRejected
	}
	return nil
}

// CurrentUser resolves the login behind the current token.
func (c *Client) CurrentUser(ctx context.Context) (reader.User, error) {
	var out reader.User
	err := c.doJSON(ctx, http.MethodGet, "/user/current", nil, nil, &out)
	return out, err
}

func (c *Client) ListFeeds(ctx context.Context) ([]reader.Feed, error) {
	var out feedsResponse
	err := c.doJSON(ctx, http.MethodGet, "/feed", nil, nil, &out)
	return out.Feeds, err
}

func (c *Client) ListTagFeeds(ctx context.Context) ([]reader.TagFeeds, error) {
	var out tagFeedsResponse
	err := c.doJSON(ctx, http.MethodGet, "/tag/feedIDs", nil, nil, &out)
	return out.TagFeeds, err
}

func encodeQuery(q reader.Query) url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.UnreadOnly {
		v.Set("unreadOnly", "true")
	}
	if q.ReadOnly {
		v.Set("readOnly", "true")
	}
	if q.OlderFirst {
		v.Set("olderFirst", "true")
	}
	for _, id := range q.IDs {
		v.Add("id", strconv.FormatInt(id, 10))
	}
	if q.BeforeID > 0 {
		v.Set("beforeID", strconv.FormatInt(q.BeforeID, 10))
	}
	if q.AfterID > 0 {
		v.Set("afterID", strconv.FormatInt(q.AfterID, 10))
	}
	if !q.BeforeTime.IsZero() {
		v.Set("beforeTime", strconv.FormatInt(q.BeforeTime.Unix(), 10))
	}
	if !q.AfterTime.IsZero() {
		v.Set("afterTime", strconv.FormatInt(q.AfterTime.Unix(), 10))
	}
	if q.BeforeScore != 0 {
		v.Set("beforeScore", strconv.FormatFloat(q.BeforeScore, 'f', -1, 64))
	}
	if q.AfterScore != 0 {
		v.Set("afterScore", strconv.FormatFloat(q.AfterScore, 'f', -1, 64))
	}
	return v
}

func (c *Client) doJSON(
	ctx context.Context,
	method, requestPath string,
	query url.Values,
	body any,
	out any,
) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	target := c.baseURL + c.prefix + requestPath
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token())
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				c.logf("%s %s failed (attempt %d): %v", method, requestPath, attempt+1, err)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			c.logf("%s %s returned %d (attempt %d)", method, requestPath, resp.StatusCode, attempt+1)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
		if isUnauthorizedStatus(resp.StatusCode) && c.unauthorized != nil {
			c.unauthorized()
		}
		return httpErr
	}
}

// retryDelay escalates linearly, attempt*BaseDelay, capped at MaxDelay.
func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * c.baseDelay
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

func correlationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
