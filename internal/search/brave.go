package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/quill/internal/httpkit"
)

const braveURL = "https://api.search.brave.com"

// Brave implements the Provider interface for the Brave Search API.
type Brave struct {
	baseURL    string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider. An empty baseURL uses the
// public API.
func NewBrave(apiKey, baseURL string) *Brave {
	if baseURL == "" {
		baseURL = braveURL
	}
	return &Brave{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithHeader("X-Subscription-Token", apiKey),
		),
	}
}

func (b *Brave) Name() string { return "brave" }

// braveResponse is the JSON response from Brave's web search API.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age"`
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(opts.count())},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	var br braveResponse
	reqURL := b.baseURL + "/res/v1/web/search?" + params.Encode()
	if err := httpkit.DoJSON(ctx, b.httpClient, http.MethodGet, reqURL, nil, &br); err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   stripTags(r.Description),
			Published: r.Age,
		})
	}
	return results, nil
}
