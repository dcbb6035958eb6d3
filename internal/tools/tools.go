// Package tools defines the registry of capabilities the research loop
// may call. Tools come from static providers assembled at startup and
// from remote providers discovered in the background.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler runs a tool with decoded arguments and returns its text result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// Source names the provider that contributed the tool.
	Source  string  `json:"source,omitempty"`
	Handler Handler `json:"-"`
}

// SourceStatic is the source recorded for tools registered without one.
const SourceStatic = "static"

// Registry holds available tools. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	logger   *slog.Logger
	onChange []func()

	remote remoteState
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
	r.remote.init()
	return r
}

// Register adds a tool. The first registration of a name wins: a later
// tool with the same name from a different source is rejected with
// *ErrDuplicateTool. Re-registering from the same source replaces the
// entry.
func (r *Registry) Register(t *Tool) error {
	if err := r.register(t); err != nil {
		return err
	}
	r.notify()
	return nil
}

// register adds t without notifying observers, so callers adding a
// batch can notify once.
func (r *Registry) register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %q: handler is required", t.Name)
	}
	if t.Source == "" {
		t.Source = SourceStatic
	}

	r.mu.Lock()
	if existing, ok := r.tools[t.Name]; ok && existing.Source != t.Source {
		r.mu.Unlock()
		return &ErrDuplicateTool{ToolName: t.Name, Existing: existing.Source, Rejected: t.Source}
	}
	r.tools[t.Name] = t
	r.mu.Unlock()
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the current tool set, sorted by name.
// Later registrations do not affect a snapshot already taken.
func (r *Registry) Snapshot() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OnChange registers fn to run after the tool set changes.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

func (r *Registry) notify() {
	r.mu.RLock()
	fns := append([]func(){}, r.onChange...)
	r.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Invoke runs the named tool. An unknown name returns
// *ErrToolUnavailable. A panicking handler is reported as an error.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	return Call(ctx, t, args)
}

// Call runs t's handler, converting a panic into an error.
func Call(ctx context.Context, t *Tool, args map[string]any) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, p)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args)
}

// Definitions renders tools in the function-calling format shared by
// the model backends.
func Definitions(tools []*Tool) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// Find returns the tool named name from a snapshot, or nil.
func Find(tools []*Tool, name string) *Tool {
	for _, t := range tools {
		if t.Name == name {
			return t
		}
	}
	return nil
}
