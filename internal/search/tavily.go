package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/quill/internal/httpkit"
)

const tavilyURL = "https://api.tavily.com"

// Tavily implements the Provider interface for the Tavily search API.
type Tavily struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTavily creates a Tavily provider. An empty baseURL uses the public
// API.
func NewTavily(apiKey, baseURL string) *Tavily {
	if baseURL == "" {
		baseURL = tavilyURL
	}
	return &Tavily{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithHeader("Authorization", "Bearer "+apiKey),
		),
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
	Topic       string `json:"topic,omitempty"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	req := tavilyRequest{
		APIKey:      t.apiKey,
		Query:       query,
		MaxResults:  opts.count(),
		SearchDepth: "basic",
	}
	if opts.Topic == "news" {
		req.Topic = "news"
	}

	var tr tavilyResponse
	if err := httpkit.DoJSON(ctx, t.httpClient, http.MethodPost, t.baseURL+"/search", req, &tr); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Content,
			Published: r.PublishedDate,
			Score:     r.Score,
		})
	}
	return results, nil
}
