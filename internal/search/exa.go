package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/quill/internal/httpkit"
)

const exaURL = "https://api.exa.ai"

// Exa implements the Provider interface for the Exa neural search API,
// formerly Metaphor. It favors recent articles and blog posts.
type Exa struct {
	baseURL    string
	httpClient *http.Client
}

// NewExa creates an Exa provider. An empty baseURL uses the public API.
func NewExa(apiKey, baseURL string) *Exa {
	if baseURL == "" {
		baseURL = exaURL
	}
	return &Exa{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithHeader("x-api-key", apiKey),
		),
	}
}

func (e *Exa) Name() string { return "exa" }

type exaRequest struct {
	Query      string      `json:"query"`
	NumResults int         `json:"numResults"`
	Type       string      `json:"type"`
	Category   string      `json:"category,omitempty"`
	Contents   exaContents `json:"contents"`
}

type exaContents struct {
	Text struct {
		MaxCharacters int `json:"maxCharacters"`
	} `json:"text"`
}

type exaResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		PublishedDate string  `json:"publishedDate"`
		Author        string  `json:"author"`
		Text          string  `json:"text"`
		Score         float64 `json:"score"`
	} `json:"results"`
}

func (e *Exa) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	req := exaRequest{
		Query:      query,
		NumResults: opts.count(),
		Type:       "auto",
	}
	if opts.Topic == "news" {
		req.Category = "news"
	}
	req.Contents.Text.MaxCharacters = 500

	var er exaResponse
	if err := httpkit.DoJSON(ctx, e.httpClient, http.MethodPost, e.baseURL+"/search", req, &er); err != nil {
		return nil, fmt.Errorf("exa: %w", err)
	}

	results := make([]Result, 0, len(er.Results))
	for _, r := range er.Results {
		snippet := strings.Join(strings.Fields(r.Text), " ")
		if r.Author != "" {
			snippet = "By " + r.Author + ". " + snippet
		}
		published := r.PublishedDate
		if len(published) >= 10 {
			published = published[:10]
		}
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   snippet,
			Published: published,
			Score:     r.Score,
		})
	}
	return results, nil
}
