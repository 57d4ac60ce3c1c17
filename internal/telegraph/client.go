// Package telegraph publishes chapters as Telegraph articles made of image nodes.
package telegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go/v4"

	"mangabot/internal/chaptercache"
)

const (
	// DefaultAPIURL is the Telegraph API root.
	DefaultAPIURL = "https://api.telegra.ph"
	// DefaultUploadURL receives image uploads.
	DefaultUploadURL = "https://telegra.ph/upload"

	defaultRequestTimeout = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelay     = time.Second
	maxTitleRunes         = 256
)

// APIError is an error reported in a Telegraph response body.
type APIError struct {
	Method  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegraph %s: %s", e.Method, e.Message)
}

// Config holds the account used to create pages.
type Config struct {
	AccessToken string
	AuthorName  string
	AuthorURL   string
}

// Option mutates client configuration.
type Option func(*Client)

// WithAPIURL overrides the API root.
func WithAPIURL(apiURL string) Option {
	return func(c *Client) {
		if apiURL != "" {
			c.apiURL = strings.TrimRight(apiURL, "/")
		}
	}
}

// WithUploadURL overrides the upload endpoint.
func WithUploadURL(uploadURL string) Option {
	return func(c *Client) {
		if uploadURL != "" {
			c.uploadURL = uploadURL
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

// WithRequestTimeout bounds each request attempt.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

// WithRetry configures how transport failures are retried.
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

// WithLogger configures diagnostics logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client implements chaptercache.Publisher on top of Telegraph.
type Client struct {
	cfg            Config
	http           *http.Client
	apiURL         string
	uploadURL      string
	requestTimeout time.Duration
	retryAttempts  uint
	retryDelay     time.Duration
	logger         *slog.Logger
}

var _ chaptercache.Publisher = (*Client)(nil)

// NewClient creates a Telegraph publisher.
func NewClient(cfg Config, options ...Option) (*Client, error) {
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("new telegraph client: access token is required")
	}

	client := &Client{
		cfg:            cfg,
		http:           &http.Client{},
		apiURL:         DefaultAPIURL,
		uploadURL:      DefaultUploadURL,
		requestTimeout: defaultRequestTimeout,
		retryAttempts:  defaultRetryAttempts,
		retryDelay:     defaultRetryDelay,
		logger:         slog.Default(),
	}
	for _, option := range options {
		option(client)
	}

	return client, nil
}

// Begin starts an article. Author fields fall back to the account config.
func (c *Client) Begin(ctx context.Context, meta chaptercache.ArticleMeta) (chaptercache.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin article: %w", err)
	}
	title := clipTitle(strings.TrimSpace(meta.Title))
	if title == "" {
		return nil, fmt.Errorf("begin article: empty title")
	}
	if meta.AuthorName == "" {
		meta.AuthorName = c.cfg.AuthorName
	}
	if meta.AuthorURL == "" {
		meta.AuthorURL = c.cfg.AuthorURL
	}
	meta.Title = title

	return &article{client: c, meta: meta}, nil
}

type article struct {
	client *Client
	meta   chaptercache.ArticleMeta

	mu     sync.Mutex
	images []string
}

// AppendPage uploads image and adds it as the next node of the article.
func (a *article) AppendPage(ctx context.Context, image []byte) error {
	src, err := a.client.upload(ctx, image)
	if err != nil {
		return fmt.Errorf("append page: %w", err)
	}

	a.mu.Lock()
	a.images = append(a.images, src)
	a.mu.Unlock()

	return nil
}

// Finalize creates the page and returns its URL.
func (a *article) Finalize(ctx context.Context) (string, error) {
	a.mu.Lock()
	images := append([]string(nil), a.images...)
	a.mu.Unlock()

	if len(images) == 0 {
		return "", fmt.Errorf("finalize article: no pages")
	}

	pageURL, err := a.client.createPage(ctx, a.meta, images)
	if err != nil {
		return "", fmt.Errorf("finalize article: %w", err)
	}

	return pageURL, nil
}

type uploadedFile struct {
	Src string `json:"src"`
}

type uploadError struct {
	Error string `json:"error"`
}

func (c *Client) upload(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", retry.Unrecoverable(fmt.Errorf("upload: empty image"))
	}
	contentType := http.DetectContentType(image)

	var src string
	err := c.do(ctx, func(requestCtx context.Context) error {
		body, formType, err := multipartImage(image, contentType)
		if err != nil {
			return retry.Unrecoverable(err)
		}

		raw, err := c.post(requestCtx, c.uploadURL, formType, body)
		if err != nil {
			return err
		}

		var files []uploadedFile
		if err := json.Unmarshal(raw, &files); err != nil {
			var failure uploadError
			if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
				return retry.Unrecoverable(&APIError{Method: "upload", Message: failure.Error})
			}
			return retry.Unrecoverable(fmt.Errorf("decode upload response: %w", err))
		}
		if len(files) == 0 || files[0].Src == "" {
			return retry.Unrecoverable(&APIError{Method: "upload", Message: "empty response"})
		}
		src = files[0].Src

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	return c.absoluteSrc(src), nil
}

func multipartImage(image []byte, contentType string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName(contentType)+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func fileName(contentType string) string {
	switch contentType {
	case "image/png":
		return "page.png"
	case "image/gif":
		return "page.gif"
	default:
		return "page.jpg"
	}
}

// absoluteSrc resolves the relative /file/... path the upload endpoint returns.
func (c *Client) absoluteSrc(src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	base, err := url.Parse(c.uploadURL)
	if err != nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}

	return base.ResolveReference(ref).String()
}

type node struct {
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

type createPageResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result struct {
		URL string `json:"url"`
	} `json:"result"`
}

func (c *Client) createPage(ctx context.Context, meta chaptercache.ArticleMeta, images []string) (string, error) {
	nodes := make([]node, 0, len(images))
	for _, src := range images {
		nodes = append(nodes, node{Tag: "img", Attrs: map[string]string{"src": src}})
	}
	content, err := json.Marshal(nodes)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}

	form := url.Values{}
	form.Set("access_token", c.cfg.AccessToken)
	form.Set("title", meta.Title)
	if meta.AuthorName != "" {
		form.Set("author_name", meta.AuthorName)
	}
	if meta.AuthorURL != "" {
		form.Set("author_url", meta.AuthorURL)
	}
	form.Set("content", string(content))
	form.Set("return_content", "false")
	encoded := form.Encode()

	var pageURL string
	err = c.do(ctx, func(requestCtx context.Context) error {
		raw, err := c.post(requestCtx, c.apiURL+"/createPage", "application/x-www-form-urlencoded", strings.NewReader(encoded))
		if err != nil {
			return err
		}

		var response createPageResponse
		if err := json.Unmarshal(raw, &response); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode createPage response: %w", err))
		}
		if !response.OK {
			return retry.Unrecoverable(&APIError{Method: "createPage", Message: response.Error})
		}
		if response.Result.URL == "" {
			return retry.Unrecoverable(&APIError{Method: "createPage", Message: "empty page url"})
		}
		pageURL = response.Result.URL

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}

	return pageURL, nil
}

func (c *Client) post(ctx context.Context, endpoint string, contentType string, body io.Reader) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	request.Header.Set("Content-Type", contentType)

	response, err := c.http.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusInternalServerError || response.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s returned status %d", endpoint, response.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		var failure uploadError
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return nil, retry.Unrecoverable(&APIError{Method: endpoint, Message: failure.Error})
		}
		return nil, retry.Unrecoverable(fmt.Errorf("%s returned status %d", endpoint, response.StatusCode))
	}

	return raw, nil
}

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
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.DebugContext(ctx, "telegraph request retry", "attempt", n+1, "error", err)
		}),
	)
}

func clipTitle(title string) string {
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}

	return string([]rune(title)[:maxTitleRunes])
}
