// Package scrape runs Apify actors that extract structured data, such
// as product listings, from e-commerce sites.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/quill/internal/httpkit"
)

const apifyURL = "https://api.apify.com"

// DefaultActor is the actor used when none is configured.
const DefaultActor = "apify~e-commerce-scraping-tool"

// runTimeout bounds the synchronous actor run on the Apify side.
const runTimeout = 120 * time.Second

// Item is one record from an actor's dataset. Field sets vary by
// actor, so items stay untyped.
type Item map[string]any

// Apify runs actors synchronously and returns their dataset items.
type Apify struct {
	baseURL    string
	actor      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewApify creates an Apify client. Empty actor and baseURL use the
// defaults.
func NewApify(apiKey, actor, baseURL string, logger *slog.Logger) (*Apify, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apify: API key not configured")
	}
	if actor == "" {
		actor = DefaultActor
	}
	if baseURL == "" {
		baseURL = apifyURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Apify{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Apify actor IDs use "~" in URLs where the console shows "/".
		actor: strings.Replace(actor, "/", "~", 1),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(runTimeout+30*time.Second),
			httpkit.WithHeader("Authorization", "Bearer "+apiKey),
		),
		logger: logger.With("component", "apify"),
	}, nil
}

type startURL struct {
	URL string `json:"url"`
}

type actorInput struct {
	StartURLs         []startURL `json:"startUrls,omitempty"`
	Keyword           string     `json:"keyword,omitempty"`
	MaxProductResults int        `json:"maxProductResults"`
}

// Run starts the actor for the given page or keyword and waits for
// its dataset. At least one of pageURL and keyword must be set.
func (a *Apify) Run(ctx context.Context, pageURL, keyword string, limit int) ([]Item, error) {
	if pageURL == "" && keyword == "" {
		return nil, fmt.Errorf("apify: url or keyword is required")
	}
	if limit <= 0 {
		limit = 10
	}
	in := actorInput{Keyword: keyword, MaxProductResults: limit}
	if pageURL != "" {
		in.StartURLs = []startURL{{URL: pageURL}}
	}

	params := url.Values{
		"timeout": {fmt.Sprintf("%d", int(runTimeout.Seconds()))},
		"limit":   {fmt.Sprintf("%d", limit)},
		"clean":   {"true"},
	}
	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?%s", a.baseURL, url.PathEscape(a.actor), params.Encode())

	start := time.Now()
	var items []Item
	if err := httpkit.DoJSON(ctx, a.httpClient, http.MethodPost, endpoint, in, &items); err != nil {
		return nil, fmt.Errorf("apify: run %s: %w", a.actor, err)
	}
	a.logger.Debug("actor run complete", "actor", a.actor, "items", len(items), "elapsed", time.Since(start))
	return items, nil
}
