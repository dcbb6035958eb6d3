package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Provider contributes tools at startup. A provider checks its own
// prerequisites, such as a credential, and returns no tools when they
// are missing.
type Provider interface {
	Name() string
	Tools(ctx context.Context) ([]*Tool, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context) ([]*Tool, error)
}

// Name implements Provider.
func (p ProviderFunc) Name() string { return p.ProviderName }

// Tools implements Provider.
func (p ProviderFunc) Tools(ctx context.Context) ([]*Tool, error) { return p.Fn(ctx) }

// Static returns a provider that always contributes the given tools.
func Static(name string, tools ...*Tool) Provider {
	return ProviderFunc{
		ProviderName: name,
		Fn:           func(context.Context) ([]*Tool, error) { return tools, nil },
	}
}

// Assemble builds a registry from providers. Each provider runs in
// isolation: an error or panic from one is logged and skipped. If no
// tool is available afterwards, the fallback search tool is registered.
func Assemble(ctx context.Context, logger *slog.Logger, providers ...Provider) *Registry {
	r := NewRegistry(logger)
	for _, p := range providers {
		r.AddProvider(ctx, p)
	}
	r.EnsureFallback()
	return r
}

// AddProvider registers every tool p contributes and returns how many
// were accepted.
func (r *Registry) AddProvider(ctx context.Context, p Provider) int {
	log := r.logger.With("provider", p.Name())

	list, err := safeTools(ctx, p)
	if err != nil {
		log.Warn("tool provider skipped", "error", err)
		return 0
	}
	if len(list) == 0 {
		log.Debug("tool provider contributed no tools")
		return 0
	}

	added := 0
	for _, t := range list {
		if t.Source == "" {
			t.Source = p.Name()
		}
		if err := r.Register(t); err != nil {
			var dup *ErrDuplicateTool
			if errors.As(err, &dup) {
				log.Warn("duplicate tool rejected", "tool", dup.ToolName, "registered_by", dup.Existing)
			} else {
				log.Warn("tool rejected", "error", err)
			}
			continue
		}
		added++
	}
	log.Info("tool provider registered", "tools", added)
	return added
}

func safeTools(ctx context.Context, p Provider) (list []*Tool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider panicked: %v", rec)
		}
	}()
	return p.Tools(ctx)
}
