// Package browser renders JavaScript-heavy pages through a hosted
// Chrome instance (Browserless) over the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultEndpoint is the Browserless WebSocket endpoint used when no
// base URL is configured.
const DefaultEndpoint = "wss://production-sfo.browserless.io"

// DefaultTimeout bounds one page render, connection included.
const DefaultTimeout = 45 * time.Second

// session is one connected browser.
type session interface {
	Load(ctx context.Context, pageURL string) (string, error)
	Close() error
}

type dialFunc func(ctx context.Context, controlURL string) (session, error)

// Browserless implements fetch.Renderer. Each render opens its own
// browser connection, so concurrent tool calls never share a page.
type Browserless struct {
	controlURL string
	timeout    time.Duration
	dial       dialFunc
	logger     *slog.Logger
}

// NewBrowserless creates a renderer for the given API key. A non-empty
// endpoint replaces DefaultEndpoint.
func NewBrowserless(apiKey, endpoint string, logger *slog.Logger) (*Browserless, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("browserless: API key not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	u, err := controlURL(endpoint, apiKey)
	if err != nil {
		return nil, err
	}
	return &Browserless{
		controlURL: u,
		timeout:    DefaultTimeout,
		dial:       dialRod,
		logger:     logger.With("component", "browserless"),
	}, nil
}

// controlURL builds the DevTools WebSocket URL with the token query
// parameter Browserless expects.
func controlURL(endpoint, apiKey string) (string, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("browserless: invalid endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("browserless: unsupported endpoint scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Render loads pageURL and returns the document HTML once the load
// event has fired.
func (b *Browserless) Render(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	s, err := b.dial(ctx, b.controlURL)
	if err != nil {
		return "", fmt.Errorf("browserless: connect: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			b.logger.Debug("browser close failed", "error", err)
		}
	}()

	html, err := s.Load(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("browserless: render %s: %w", pageURL, err)
	}
	b.logger.Debug("page rendered", "url", pageURL, "bytes", len(html), "elapsed", time.Since(start))
	return html, nil
}

type rodSession struct {
	browser *rod.Browser
}

func dialRod(ctx context.Context, controlURL string) (session, error) {
	br := rod.New().ControlURL(controlURL).Context(ctx)
	if err := br.Connect(); err != nil {
		return nil, err
	}
	return &rodSession{browser: br}, nil
}

func (s *rodSession) Load(ctx context.Context, pageURL string) (string, error) {
	page, err := s.browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", err
	}
	page = page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return "", err
	}
	return page.HTML()
}

func (s *rodSession) Close() error {
	return s.browser.Close()
}
