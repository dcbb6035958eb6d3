// Package fetch retrieves web pages for the browse_web tool and reduces
// them to readable text. Pages that need JavaScript can be rendered by
// an optional [Renderer]; plain HTTP is used when none is configured or
// rendering fails.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/quill/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted text.
const DefaultMaxChars = 50000

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Length      int    `json:"length"`
	StatusCode  int    `json:"status_code"`
	Rendered    bool   `json:"rendered,omitempty"`
}

// Renderer loads a page in a real browser and returns the resulting
// HTML after scripts have run.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
	renderer Renderer
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRenderer renders pages through r before falling back to HTTP.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

// WithMaxChars sets the default extracted text limit.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Fetcher with default settings.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
		),
		maxBytes: DefaultMaxBytes,
		maxChars: DefaultMaxChars,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	f.logger = f.logger.With("component", "fetch")
	return f
}

// Fetch downloads the URL and extracts readable text content.
// maxChars limits the output length; 0 uses the fetcher default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("browse_web: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = f.maxChars
	}

	if f.renderer != nil {
		res, err := f.render(ctx, rawURL, maxChars)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("render failed, falling back to http", "url", rawURL, "error", err)
	}
	return f.get(ctx, rawURL, maxChars)
}

func (f *Fetcher) render(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	page, err := f.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if int64(len(page)) > f.maxBytes {
		page = page[:f.maxBytes]
	}
	title, content := extractHTML(page)
	res := finish(&Result{
		URL:         rawURL,
		Title:       title,
		ContentType: "text/html",
		StatusCode:  http.StatusOK,
		Rendered:    true,
	}, content, maxChars)
	return res, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("browse_web: invalid url: %w", err)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browse_web: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("browse_web: %s returned HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("browse_web: failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	res := &Result{
		URL:         rawURL,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}

	var content string
	switch {
	case isHTML(contentType):
		res.Title, content = extractHTML(string(body))
	case isPlainText(contentType), utf8.Valid(body):
		content = string(body)
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
		res.Length = len(body)
		return res, nil
	}
	return finish(res, content, maxChars), nil
}

func finish(res *Result, content string, maxChars int) *Result {
	if utf8.RuneCountInString(content) > maxChars {
		content = truncateUTF8(content, maxChars)
		res.Truncated = true
	}
	res.Content = content
	res.Length = utf8.RuneCountInString(content)
	return res
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isPlainText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// truncateUTF8 truncates a string to maxChars runes without splitting
// a multi-byte character.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
