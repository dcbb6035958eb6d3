package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/quill/internal/agent"
	"github.com/nugget/quill/internal/browser"
	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/connwatch"
	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/events"
	"github.com/nugget/quill/internal/fetch"
	"github.com/nugget/quill/internal/gateway"
	"github.com/nugget/quill/internal/guardrail"
	"github.com/nugget/quill/internal/mcp"
	"github.com/nugget/quill/internal/scrape"
	"github.com/nugget/quill/internal/search"
	"github.com/nugget/quill/internal/tools"
	"github.com/nugget/quill/internal/usage"
)

// appOptions selects which optional parts of the runtime are built.
type appOptions struct {
	// persistent opens the SQLite conversation and usage stores under
	// DataDir. One-shot commands keep everything in memory.
	persistent bool
	// remote attaches MCP servers for background discovery.
	remote bool
	// watch monitors remote servers and rediscovers their tools when
	// they reconnect. Only meaningful for long-running commands.
	watch bool
}

// app is the assembled research runtime shared by serve and ask.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	registry *tools.Registry
	gateway  *gateway.Gateway
	loop     *agent.Loop
	store    conversation.Store
	usage    *usage.Store
	watch    *connwatch.Manager

	closers []func() error
}

// buildApp wires configuration into a runnable research loop. Remote
// tool discovery started here runs under ctx.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    events.New(),
		store:  conversation.NewMemoryStore(),
	}

	if opts.persistent {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
		if err := a.openStores(); err != nil {
			a.Close()
			return nil, err
		}
	}

	// --- Research tools ---
	// Local providers contribute their tools up front. A provider whose
	// credential is missing contributes nothing.
	a.registry = tools.Assemble(ctx, logger,
		search.NewToolProvider(search.FromConfig(cfg.Search, logger), cfg.Search.MaxResults),
		fetch.Provider(newFetcher(cfg.Browse, logger)),
		scrape.Provider(newApify(cfg.Scrape, logger)),
		usage.Provider(a.usage),
	)

	// --- Model gateway ---
	// Bindings snapshot the tool set, so any change to it drops the cache.
	a.gateway = gateway.New(cfg.Models, a.registry, logger)
	a.registry.OnChange(func() {
		a.gateway.InvalidateAll()
		a.bus.Emit(events.SourceRegistry, events.KindToolsChanged, map[string]any{
			"tool_count": a.registry.Len(),
		})
	})

	if opts.watch {
		a.watch = connwatch.NewManager(logger)
		a.closers = append(a.closers, func() error { a.watch.Stop(); return nil })
	}
	if opts.remote {
		for _, sc := range cfg.MCP.Servers {
			a.attachMCP(ctx, sc)
		}
	}

	loopOpts := []agent.Option{agent.WithEvents(a.bus)}
	if a.usage != nil {
		loopOpts = append(loopOpts, agent.WithUsage(a.usage))
	}
	a.loop = agent.NewLoop(logger, a.gateway, a.registry, agent.Config{
		MaxIterations:    cfg.Agent.MaxIterations,
		ToolTimeout:      time.Duration(cfg.Agent.ToolTimeoutSec) * time.Second,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		Guardrail:        guardrail.New(cfg.Guardrail.MaxLength, cfg.Guardrail.UnsafeKeywords, cfg.Guardrail.SensitiveKeywords),
	}, loopOpts...)

	logger.Info("research runtime ready",
		"tools", a.registry.Len(),
		"models", a.gateway.Names(),
		"default_model", cfg.Models.Default,
	)
	return a, nil
}

func (a *app) openStores() error {
	if a.cfg.Conversations.Persist {
		dbPath := filepath.Join(a.cfg.DataDir, "conversations.db")
		db, err := conversation.OpenSQLite(dbPath)
		if err != nil {
			return err
		}
		store, err := conversation.NewSQLiteStore(db, a.logger)
		if err != nil {
			db.Close()
			return fmt.Errorf("open conversation database %s: %w", dbPath, err)
		}
		a.store = store
		a.closers = append(a.closers, db.Close)
		a.logger.Info("conversation database opened", "path", dbPath)
	}

	if !a.cfg.Usage.Disabled {
		dbPath := filepath.Join(a.cfg.DataDir, "usage.db")
		store, err := usage.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open usage database %s: %w", dbPath, err)
		}
		a.usage = store
		a.closers = append(a.closers, store.Close)
		a.logger.Info("usage database opened", "path", dbPath)
	}
	return nil
}

// attachMCP starts background discovery for one MCP server. When
// watching, discovery re-runs whenever the server becomes reachable
// again. A server that fails to configure is logged and skipped.
func (a *app) attachMCP(ctx context.Context, sc config.MCPServerConfig) {
	p, err := mcp.FromConfig(sc, a.logger)
	if err != nil {
		a.logger.Error("mcp server skipped", "server", sc.Name, "error", err)
		return
	}
	a.closers = append(a.closers, p.Client().Close)
	a.registry.AttachRemote(ctx, p)

	if a.watch == nil {
		return
	}
	a.watch.Watch(ctx, connwatch.WatcherConfig{
		Name:    p.Name(),
		Kind:    "mcp",
		Probe:   p.Client().Ping,
		Backoff: connwatch.DefaultBackoffConfig(),
		OnReady: func() {
			if err := a.registry.Refresh(ctx, p.Name()); err != nil {
				a.logger.Warn("mcp rediscovery failed", "server", sc.Name, "error", err)
			}
		},
	})
}

// Close releases stores and remote connections in reverse order of
// acquisition.
func (a *app) Close() error {
	var errs []error
	if a.registry != nil {
		a.registry.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// conversationCount reports how many conversations are stored, for
// status publishing.
func (a *app) conversationCount() int {
	ids, err := a.store.ListIDs()
	if err != nil {
		return 0
	}
	return len(ids)
}

func newFetcher(cfg config.BrowseConfig, logger *slog.Logger) *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithMaxChars(cfg.MaxChars),
		fetch.WithLogger(logger),
	}
	if cfg.Browserless.Configured() {
		r, err := browser.NewBrowserless(cfg.Browserless.APIKey, cfg.Browserless.BaseURL, logger)
		if err != nil {
			logger.Warn("browserless rendering disabled", "error", err)
		} else {
			opts = append(opts, fetch.WithRenderer(r))
		}
	}
	return fetch.New(opts...)
}

// newApify returns nil when scraping is not configured, which leaves
// scrape_products out of the tool set.
func newApify(cfg config.ScrapeConfig, logger *slog.Logger) *scrape.Apify {
	if !cfg.Apify.Configured() {
		return nil
	}
	a, err := scrape.NewApify(cfg.Apify.APIKey, cfg.Actor, cfg.Apify.BaseURL, logger)
	if err != nil {
		logger.Warn("product scraping disabled", "error", err)
		return nil
	}
	return a
}
