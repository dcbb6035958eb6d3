// Package gateway resolves logical model names to bound model backends.
//
// A [Binding] pairs a constructed [llm.Client] with the tool set that was
// registered when the binding was made. Bindings are cached per logical
// name, so later tool registrations only become visible after
// [Gateway.Invalidate]. A name that cannot be bound falls back once to the
// configured default backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/tools"
)

// ErrBackendUnavailable is returned when neither the requested backend
// nor the default backend can be bound.
type ErrBackendUnavailable struct {
	Requested string
	Default   string
	Err       error
}

func (e *ErrBackendUnavailable) Error() string {
	if e.Requested == e.Default {
		return fmt.Sprintf("model backend %q unavailable: %v", e.Default, e.Err)
	}
	return fmt.Sprintf("model backend %q unavailable and default %q unavailable: %v", e.Requested, e.Default, e.Err)
}

func (e *ErrBackendUnavailable) Unwrap() error { return e.Err }

// errUnknownBackend is the cause recorded for names with no configured
// backend.
var errUnknownBackend = errors.New("no backend configured")

// Gateway resolves and caches model bindings.
type Gateway struct {
	backends    []config.BackendConfig
	defaultName string
	verify      bool
	factory     Factory
	registry    *tools.Registry
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// entry lets concurrent first resolutions of one name share a single
// construction.
type entry struct {
	once    sync.Once
	binding *Binding
	err     error

	// bound is set under Gateway.mu once binding holds a usable value.
	bound bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithFactory replaces the backend constructor.
func WithFactory(f Factory) Option {
	return func(g *Gateway) { g.factory = f }
}

// New creates a gateway over the configured backends. Tools offered to
// models come from registry snapshots taken at bind time.
func New(cfg config.ModelsConfig, registry *tools.Registry, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		backends:    cfg.Backends,
		defaultName: cfg.Default,
		verify:      cfg.VerifyOnResolve,
		registry:    registry,
		logger:      logger.With("component", "gateway"),
		entries:     make(map[string]*entry),
	}
	for _, o := range opts {
		o(g)
	}
	if g.factory == nil {
		g.factory = DefaultFactory(logger)
	}
	return g
}

// Default returns the logical name of the fallback backend.
func (g *Gateway) Default() string { return g.defaultName }

// Names returns the configured logical names in configuration order.
func (g *Gateway) Names() []string {
	names := make([]string, len(g.backends))
	for i, b := range g.backends {
		names[i] = b.Name
	}
	return names
}

// Resolve returns the binding for a logical name. An empty name selects
// the default. Successful resolutions are cached until invalidated;
// failures are not cached.
func (g *Gateway) Resolve(ctx context.Context, name string) (*Binding, error) {
	if name == "" {
		name = g.defaultName
	}

	g.mu.Lock()
	e, ok := g.entries[name]
	if !ok {
		e = &entry{}
		g.entries[name] = e
	}
	g.mu.Unlock()

	e.once.Do(func() {
		e.binding, e.err = g.resolve(ctx, name)
	})

	if e.err != nil {
		g.mu.Lock()
		if g.entries[name] == e {
			delete(g.entries, name)
		}
		g.mu.Unlock()
		return nil, e.err
	}
	g.mu.Lock()
	e.bound = true
	g.mu.Unlock()
	return e.binding, nil
}

func (g *Gateway) resolve(ctx context.Context, name string) (*Binding, error) {
	b, err := g.bind(ctx, name)
	if err == nil {
		g.logger.Info("model bound", "name", name, "provider", b.Provider, "model", b.Model, "tools", len(b.Tools))
		return b, nil
	}
	if name == g.defaultName {
		return nil, &ErrBackendUnavailable{Requested: name, Default: g.defaultName, Err: err}
	}

	g.logger.Warn("model backend unavailable, falling back to default",
		"requested", name, "default", g.defaultName, "error", err)

	b, derr := g.bind(ctx, g.defaultName)
	if derr != nil {
		return nil, &ErrBackendUnavailable{Requested: name, Default: g.defaultName, Err: derr}
	}
	b.LogicalName = name
	b.FellBack = true
	return b, nil
}

func (g *Gateway) bind(ctx context.Context, name string) (*Binding, error) {
	var bc config.BackendConfig
	found := false
	for _, b := range g.backends {
		if b.Name == name {
			bc, found = b, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", name, errUnknownBackend)
	}

	client, err := g.factory(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", name, err)
	}
	if g.verify {
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("verify %s: %w", name, err)
		}
	}

	var snapshot []*tools.Tool
	if g.registry != nil {
		snapshot = g.registry.Snapshot()
	}
	return newBinding(name, bc, client, snapshot, g.logger), nil
}

// Invalidate drops the cached binding for name so the next Resolve
// rebinds it with a fresh tool snapshot.
func (g *Gateway) Invalidate(name string) {
	g.mu.Lock()
	delete(g.entries, name)
	g.mu.Unlock()
}

// InvalidateAll drops every cached binding.
func (g *Gateway) InvalidateAll() {
	g.mu.Lock()
	clear(g.entries)
	g.mu.Unlock()
	g.logger.Debug("bindings invalidated")
}

// Cached returns the logical names with a live binding.
func (g *Gateway) Cached() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var names []string
	for name, e := range g.entries {
		if e.bound {
			names = append(names, name)
		}
	}
	return names
}
