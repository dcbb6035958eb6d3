package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/quill/internal/httpkit"
)

// GitHub implements the Provider interface with repository search.
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub creates a repository search provider. The token is
// optional; anonymous search has a much lower rate limit. A non-empty
// baseURL points the client at another API root.
func NewGitHub(token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(httpkit.NewClient())
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github: invalid base URL: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{client: client, logger: logger.With("component", "github")}, nil
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	so := &gogithub.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: gogithub.ListOptions{PerPage: opts.count()},
	}
	found, resp, err := g.client.Search.Repositories(ctx, query, so)
	if err != nil {
		return nil, fmt.Errorf("github: search repositories: %w", err)
	}
	g.checkRateLimit(resp)

	results := make([]Result, 0, len(found.Repositories))
	for _, repo := range found.Repositories {
		snippet := repo.GetDescription()
		meta := []string{fmt.Sprintf("%d stars", repo.GetStargazersCount())}
		if lang := repo.GetLanguage(); lang != "" {
			meta = append(meta, lang)
		}
		if snippet != "" {
			snippet += " "
		}
		snippet += "(" + strings.Join(meta, ", ") + ")"

		r := Result{
			Title:   repo.GetFullName(),
			URL:     repo.GetHTMLURL(),
			Snippet: snippet,
		}
		if ts := repo.GetPushedAt(); !ts.IsZero() {
			r.Published = ts.Format("2006-01-02")
		}
		results = append(results, r)
		if len(results) >= opts.count() {
			break
		}
	}
	return results, nil
}

// checkRateLimit logs a warning when remaining API calls run low.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil || resp.Response == nil || resp.StatusCode != http.StatusOK {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 5 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}
