// Package mangadex reads chapter metadata and page images from the MangaDex API.
package mangadex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jonboulle/clockwork"

	"mangabot/internal/chaptercache"
)

const (
	// DefaultBaseURL is the public MangaDex API root.
	DefaultBaseURL = "https://api.mangadex.org"

	defaultRequestTimeout = 15 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 500 * time.Millisecond
	// atHomeTTL is how long an at-home server assignment is reused.
	atHomeTTL = 10 * time.Minute
	// maxPageBytes caps one downloaded page image.
	maxPageBytes = 20 << 20
)

var (
	// ErrNotFound reports a chapter or manga the API does not know.
	ErrNotFound = errors.New("mangadex: not found")
	// ErrPageTooLarge reports a page image above the download cap.
	ErrPageTooLarge = errors.New("mangadex: page image too large")
)

// StatusError is a non-2xx API response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mangadex: %s returned status %d", e.URL, e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Option mutates client configuration.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRequestTimeout bounds each HTTP request, including each retry.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

// WithRetry configures how transient failures are retried.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

// WithDataSaver selects compressed page images.
func WithDataSaver(enabled bool) Option {
	return func(c *Client) {
		c.dataSaver = enabled
	}
}

// WithCache shares chapter and manga metadata through cache.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithClock replaces the clock used for at-home expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger configures diagnostics logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client implements chaptercache.MetadataSource and chaptercache.PageSource.
type Client struct {
	http           *http.Client
	baseURL        string
	requestTimeout time.Duration
	retryAttempts  uint
	retryDelay     time.Duration
	dataSaver      bool
	maxPageBytes   int64
	cache          Cache
	clock          clockwork.Clock
	logger         *slog.Logger

	mu     sync.Mutex
	atHome map[string]atHomeEntry
}

type atHomeEntry struct {
	pageURLs  []string
	fetchedAt time.Time
}

var (
	_ chaptercache.MetadataSource = (*Client)(nil)
	_ chaptercache.PageSource     = (*Client)(nil)
)

// NewClient creates a MangaDex client.
func NewClient(options ...Option) *Client {
	client := &Client{
		http:           &http.Client{},
		baseURL:        DefaultBaseURL,
		requestTimeout: defaultRequestTimeout,
		retryAttempts:  defaultRetryAttempts,
		retryDelay:     defaultRetryDelay,
		maxPageBytes:   maxPageBytes,
		clock:          clockwork.NewRealClock(),
		logger:         slog.Default(),
		atHome:         make(map[string]atHomeEntry),
	}
	for _, option := range options {
		option(client)
	}

	return client
}

// Chapter resolves chapter metadata.
func (c *Client) Chapter(ctx context.Context, id string) (chaptercache.ChapterMeta, error) {
	var meta chaptercache.ChapterMeta
	if c.cacheGet(ctx, chapterCacheKey(id), &meta) {
		return meta, nil
	}

	var response chapterResponse
	if err := c.getJSON(ctx, "/chapter/"+url.PathEscape(id), &response); err != nil {
		return chaptercache.ChapterMeta{}, fmt.Errorf("get chapter %s: %w", id, err)
	}

	attributes := response.Data.Attributes
	meta = chaptercache.ChapterMeta{
		ID:          response.Data.ID,
		Title:       deref(attributes.Title),
		Volume:      deref(attributes.Volume),
		Chapter:     deref(attributes.Chapter),
		Language:    attributes.TranslatedLanguage,
		Pages:       attributes.Pages,
		ExternalURL: deref(attributes.ExternalURL),
	}
	if attributes.PublishAt != nil {
		meta.PublishedAt = attributes.PublishAt.UTC()
	}
	for _, related := range response.Data.Relationships {
		if related.Type == "manga" {
			meta.MangaID = related.ID
			break
		}
	}
	if meta.ID == "" {
		meta.ID = id
	}

	c.cacheSet(ctx, chapterCacheKey(id), meta)

	return meta, nil
}

// Manga resolves manga metadata.
func (c *Client) Manga(ctx context.Context, id string) (chaptercache.MangaMeta, error) {
	var meta chaptercache.MangaMeta
	if c.cacheGet(ctx, mangaCacheKey(id), &meta) {
		return meta, nil
	}

	var response mangaResponse
	if err := c.getJSON(ctx, "/manga/"+url.PathEscape(id), &response); err != nil {
		return chaptercache.MangaMeta{}, fmt.Errorf("get manga %s: %w", id, err)
	}

	attributes := response.Data.Attributes
	meta = chaptercache.MangaMeta{
		ID:            response.Data.ID,
		Title:         localizedTitle(attributes.Title),
		ContentRating: attributes.ContentRating,
		MALID:         attributes.Links["mal"],
	}
	if meta.ID == "" {
		meta.ID = id
	}

	c.cacheSet(ctx, mangaCacheKey(id), meta)

	return meta, nil
}

// FetchPage downloads the zero-based index-th page image of a chapter.
func (c *Client) FetchPage(ctx context.Context, chapterID string, index int) ([]byte, error) {
	pageURLs, err := c.pageURLs(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d of %s: %w", index+1, chapterID, err)
	}
	if index < 0 || index >= len(pageURLs) {
		return nil, fmt.Errorf("fetch page %d of %s: chapter has %d pages", index+1, chapterID, len(pageURLs))
	}

	var image []byte
	err = c.do(ctx, func(requestCtx context.Context) error {
		body, err := c.get(requestCtx, pageURLs[index])
		if err != nil {
			return err
		}
		defer body.Close()

		image, err = io.ReadAll(io.LimitReader(body, c.maxPageBytes+1))
		if err != nil {
			return fmt.Errorf("read page body: %w", err)
		}
		if int64(len(image)) > c.maxPageBytes {
			image = nil
			return retry.Unrecoverable(fmt.Errorf("%w: over %d bytes", ErrPageTooLarge, c.maxPageBytes))
		}

		return nil
	})
	if err != nil {
		c.forgetAtHome(chapterID)
		return nil, fmt.Errorf("fetch page %d of %s: %w", index+1, chapterID, err)
	}

	return image, nil
}

// pageURLs returns the image URLs for a chapter, asking for a fresh at-home
// server once the previous assignment is older than atHomeTTL.
func (c *Client) pageURLs(ctx context.Context, chapterID string) ([]string, error) {
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.atHome[chapterID]
	c.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < atHomeTTL {
		return entry.pageURLs, nil
	}

	var response atHomeResponse
	if err := c.getJSON(ctx, "/at-home/server/"+url.PathEscape(chapterID), &response); err != nil {
		return nil, fmt.Errorf("get at-home server: %w", err)
	}

	quality, files := "data", response.Chapter.Data
	if c.dataSaver && len(response.Chapter.DataSaver) > 0 {
		quality, files = "data-saver", response.Chapter.DataSaver
	}
	base := strings.TrimRight(response.BaseURL, "/")
	urls := make([]string, 0, len(files))
	for _, file := range files {
		urls = append(urls, base+"/"+quality+"/"+response.Chapter.Hash+"/"+file)
	}

	c.mu.Lock()
	for id, stale := range c.atHome {
		if now.Sub(stale.fetchedAt) >= atHomeTTL {
			delete(c.atHome, id)
		}
	}
	c.atHome[chapterID] = atHomeEntry{pageURLs: urls, fetchedAt: now}
	c.mu.Unlock()

	return urls, nil
}

func (c *Client) forgetAtHome(chapterID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.atHome, chapterID)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, func(requestCtx context.Context) error {
		body, err := c.get(requestCtx, c.baseURL+path)
		if err != nil {
			return err
		}
		defer body.Close()

		if err := json.NewDecoder(body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode %s: %w", path, err))
		}

		return nil
	})
}

// do runs attempt under retry-go. Each attempt gets its own request timeout.
func (c *Client) do(ctx context.Context, attempt func(context.Context) error) error {
	return retry.Do(
		func() error {
			requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()

			return attempt(requestCtx)
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.DebugContext(ctx, "mangadex request retry", "attempt", n+1, "error", err)
		}),
	)
}

func (c *Client) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	request.Header.Set("User-Agent", "mangabot")

	response, err := c.http.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode == http.StatusNotFound {
		_ = response.Body.Close()
		return nil, ErrNotFound
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		_ = response.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: response.StatusCode}
	}

	return response.Body, nil
}

func isTransient(err error) bool {
	if !retry.IsRecoverable(err) || errors.Is(err, ErrNotFound) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	return true
}

func (c *Client) cacheGet(ctx context.Context, key string, out any) bool {
	if c.cache == nil {
		return false
	}

	raw, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "mangadex cache read failed", "key", key, "error", err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.WarnContext(ctx, "mangadex cache entry invalid", "key", key, "error", err)
		return false
	}

	return true
}

func (c *Client) cacheSet(ctx context.Context, key string, value any) {
	if c.cache == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw); err != nil {
		c.logger.WarnContext(ctx, "mangadex cache write failed", "key", key, "error", err)
	}
}

func chapterCacheKey(id string) string { return "mangadex:chapter:" + id }
func mangaCacheKey(id string) string   { return "mangadex:manga:" + id }
