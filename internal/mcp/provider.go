package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// Provider exposes one MCP server's tools as a tools.RemoteProvider.
// The first Discover performs the handshake; later calls re-list tools.
type Provider struct {
	server  string
	client  *Client
	include []glob.Glob
	exclude []glob.Glob
	logger  *slog.Logger
}

// NewProvider wraps client. Include and exclude entries are glob
// patterns matched against the server's own tool names. When include
// is non-empty only matching tools are exposed; exclude is applied
// afterwards.
func NewProvider(client *Client, include, exclude []string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inc, err := compileGlobs(include)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: include_tools: %w", client.Name(), err)
	}
	exc, err := compileGlobs(exclude)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: exclude_tools: %w", client.Name(), err)
	}
	return &Provider{
		server:  client.Name(),
		client:  client,
		include: inc,
		exclude: exc,
		logger:  logger.With("mcp_server", client.Name()),
	}, nil
}

// FromConfig builds the transport, client and provider for one
// configured server.
func FromConfig(cfg config.MCPServerConfig, logger *slog.Logger) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp: server name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tlog := logger.With("mcp_server", cfg.Name)

	var transport Transport
	switch cfg.Transport {
	case "", "http", "streamable_http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp %s: url is required for http transport", cfg.Name)
		}
		transport = NewHTTPTransport(HTTPConfig{URL: cfg.URL, Headers: cfg.Headers, Logger: tlog})
	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp %s: command is required for stdio transport", cfg.Name)
		}
		transport = NewStdioTransport(StdioConfig{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env, Logger: tlog})
	default:
		return nil, fmt.Errorf("mcp %s: unknown transport %q", cfg.Name, cfg.Transport)
	}

	return NewProvider(NewClient(cfg.Name, transport, logger), cfg.IncludeTools, cfg.ExcludeTools, logger)
}

// Name implements tools.RemoteProvider.
func (p *Provider) Name() string { return "mcp:" + p.server }

// Client returns the underlying MCP client.
func (p *Provider) Client() *Client { return p.client }

// Discover implements tools.RemoteProvider.
func (p *Provider) Discover(ctx context.Context) ([]*tools.Tool, error) {
	if !p.client.Initialized() {
		if err := p.client.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	defs, err := p.client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", p.server, err)
	}

	var list []*tools.Tool
	seen := make(map[string]string, len(defs))
	for _, td := range defs {
		if !p.allowed(td.Name) {
			continue
		}
		name := ToolName(p.server, td.Name)
		if first, dup := seen[name]; dup {
			p.logger.Warn("MCP tool name collides after namespacing, skipping",
				"mcp_name", td.Name, "kept", first, "tool", name)
			continue
		}
		seen[name] = td.Name
		list = append(list, p.bridge(name, td))
		p.logger.Debug("bridged MCP tool", "mcp_name", td.Name, "tool", name)
	}
	return list, nil
}

func (p *Provider) allowed(name string) bool {
	if len(p.include) > 0 && !matchAny(p.include, name) {
		return false
	}
	return !matchAny(p.exclude, name)
}

// bridge creates a tool that proxies calls to the MCP server.
func (p *Provider) bridge(name string, td ToolDefinition) *tools.Tool {
	mcpName := td.Name
	desc := td.Description
	if desc == "" {
		desc = fmt.Sprintf("%s (from MCP server %s)", td.Name, p.server)
	}
	return &tools.Tool{
		Name:        name,
		Description: desc,
		Parameters:  td.InputSchema,
		Source:      p.Name(),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return p.client.CallTool(ctx, mcpName, args)
		},
	}
}

// ToolName generates a namespaced tool name from an MCP server name and
// tool name. Both components are sanitized to contain only lowercase
// alphanumeric characters and underscores.
func ToolName(serverName, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(mcpToolName))
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = sanitizeRe.ReplaceAllString(s, "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	var out []glob.Glob
	for _, pat := range patterns {
		g, err := glob.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pat, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
