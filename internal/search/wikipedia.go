package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/quill/internal/httpkit"
)

// maxExtract caps the introduction text kept per article.
const maxExtract = 600

// Wikipedia implements the Provider interface using the MediaWiki
// Action API. It needs no credential. Each result carries the plain-text
// introduction of the matching article.
type Wikipedia struct {
	baseURL    string
	httpClient *http.Client
}

// NewWikipedia creates a Wikipedia provider for the given language
// edition. A non-empty baseURL overrides the host derived from lang.
func NewWikipedia(lang, baseURL string) *Wikipedia {
	if lang == "" {
		lang = "en"
	}
	if baseURL == "" {
		baseURL = "https://" + lang + ".wikipedia.org"
	}
	return &Wikipedia{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (w *Wikipedia) Name() string { return "wikipedia" }

type wikipediaResponse struct {
	Query struct {
		Pages []struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Index   int    `json:"index"`
			Extract string `json:"extract"`
			FullURL string `json:"fullurl"`
			Touched string `json:"touched"`
		} `json:"pages"`
	} `json:"query"`
}

func (w *Wikipedia) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"formatversion": {"2"},
		"generator":     {"search"},
		"gsrsearch":     {query},
		"gsrlimit":      {strconv.Itoa(opts.count())},
		"prop":          {"extracts|info"},
		"inprop":        {"url"},
		"exintro":       {"1"},
		"explaintext":   {"1"},
		"exlimit":       {"max"},
	}

	var wr wikipediaResponse
	reqURL := w.baseURL + "/w/api.php?" + params.Encode()
	if err := httpkit.DoJSON(ctx, w.httpClient, http.MethodGet, reqURL, nil, &wr); err != nil {
		return nil, fmt.Errorf("wikipedia: %w", err)
	}

	pages := wr.Query.Pages
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	results := make([]Result, 0, len(pages))
	for _, p := range pages {
		link := p.FullURL
		if link == "" {
			link = w.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(p.Title, " ", "_"))
		}
		results = append(results, Result{
			Title:   p.Title,
			URL:     link,
			Snippet: truncate(stripTags(p.Extract), maxExtract),
		})
	}
	return results, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
