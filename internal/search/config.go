package search

import (
	"log/slog"

	"github.com/nugget/quill/internal/config"
)

// FromConfig builds a Manager with every provider cfg enables. The
// primary provider is the first configured of tavily, serper, exa,
// brave, searxng and wikipedia.
func FromConfig(cfg config.SearchConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := NewManager("")

	if cfg.Tavily.Configured() {
		mgr.Register(NewTavily(cfg.Tavily.APIKey, cfg.Tavily.BaseURL))
	}
	if cfg.Serper.Configured() {
		mgr.Register(NewSerper(cfg.Serper.APIKey, cfg.Serper.BaseURL))
	}
	if cfg.Metaphor.Configured() {
		mgr.Register(NewExa(cfg.Metaphor.APIKey, cfg.Metaphor.BaseURL))
	}
	if cfg.Brave.Configured() {
		mgr.Register(NewBrave(cfg.Brave.APIKey, cfg.Brave.BaseURL))
	}
	if cfg.SearXNG.Configured() {
		mgr.Register(NewSearXNG(cfg.SearXNG.URL))
	}
	if !cfg.Wikipedia.Disabled {
		mgr.Register(NewWikipedia(cfg.Wikipedia.Language, ""))
	}
	if cfg.GitHub.Enabled {
		gh, err := NewGitHub(cfg.GitHub.Token, "", logger)
		if err != nil {
			logger.Warn("github search disabled", "error", err)
		} else {
			mgr.Register(gh)
		}
	}

	logger.Info("search providers configured", "providers", mgr.Providers(), "primary", mgr.Primary())
	return mgr
}
