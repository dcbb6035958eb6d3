package search

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/quill/internal/httpkit"
)

const serperURL = "https://google.serper.dev"

// Serper implements the Provider interface for Serper's Google search
// API. The "scholar" topic searches Google Scholar.
type Serper struct {
	baseURL    string
	httpClient *http.Client
}

// NewSerper creates a Serper provider. An empty baseURL uses the public
// API.
func NewSerper(apiKey, baseURL string) *Serper {
	if baseURL == "" {
		baseURL = serperURL
	}
	return &Serper{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(20*time.Second),
			httpkit.WithHeader("X-API-KEY", apiKey),
		),
	}
}

func (s *Serper) Name() string { return "serper" }

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	HL  string `json:"hl,omitempty"`
}

type serperResponse struct {
	AnswerBox *struct {
		Title   string `json:"title"`
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"answerBox"`
	Organic []struct {
		Title           string `json:"title"`
		Link            string `json:"link"`
		Snippet         string `json:"snippet"`
		Date            string `json:"date"`
		PublicationInfo string `json:"publicationInfo"`
		Year            int    `json:"year"`
		CitedBy         int    `json:"citedBy"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	endpoint := "/search"
	if opts.Topic == "scholar" {
		endpoint = "/scholar"
	}

	var sr serperResponse
	req := serperRequest{Q: query, Num: opts.count(), HL: opts.Language}
	if err := httpkit.DoJSON(ctx, s.httpClient, http.MethodPost, s.baseURL+endpoint, req, &sr); err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}

	var results []Result
	if ab := sr.AnswerBox; ab != nil && (ab.Answer != "" || ab.Snippet != "") {
		snippet := ab.Answer
		if snippet == "" {
			snippet = ab.Snippet
		}
		results = append(results, Result{Title: "Answer: " + ab.Title, URL: ab.Link, Snippet: snippet})
	}
	for _, r := range sr.Organic {
		res := Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet, Published: r.Date}
		if r.PublicationInfo != "" {
			res.Snippet = r.PublicationInfo + ". " + res.Snippet
		}
		if r.Year > 0 && res.Published == "" {
			res.Published = strconv.Itoa(r.Year)
		}
		if r.CitedBy > 0 {
			res.Snippet += fmt.Sprintf(" [cited by %d]", r.CitedBy)
		}
		results = append(results, res)
	}
	if max := opts.count(); len(results) > max {
		results = results[:max]
	}
	return results, nil
}
