package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nugget/quill/internal/buildinfo"
)

// protocolVersion is the MCP revision Quill speaks.
const protocolVersion = "2024-11-05"

// maxToolPages bounds tools/list pagination.
const maxToolPages = 20

// ToolDefinition is one entry of a tools/list reply.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is one item of a tools/call reply. Search and fetch
// servers often return documents as embedded resources.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	MIMEType string    `json:"mimeType,omitempty"`
	URI      string    `json:"uri,omitempty"`
	Resource *Resource `json:"resource,omitempty"`
}

// Resource is the payload of an embedded resource block.
type Resource struct {
	URI  string `json:"uri"`
	Text string `json:"text,omitempty"`
}

type toolReply struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type toolsPage struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type peer struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type handshake struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      peer   `json:"serverInfo"`
}

// Client speaks MCP to one server over a Transport.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	ids       atomic.Int64

	mu    sync.RWMutex
	ready bool
	peer  peer
	tools []ToolDefinition
}

// NewClient creates a client for the named server.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Initialize performs the handshake: initialize, then the
// notifications/initialized notice.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      peer{Name: "quill", Version: buildinfo.Version},
	}
	var hs handshake
	if err := c.roundTrip(ctx, "initialize", params, &hs); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if _, err := c.transport.RoundTrip(ctx, newNotice("notifications/initialized")); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.ready = true
	c.peer = hs.ServerInfo
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", hs.ServerInfo.Name,
		"server_version", hs.ServerInfo.Version,
		"protocol_version", hs.ProtocolVersion,
	)
	return nil
}

// Initialized reports whether the handshake has completed.
func (c *Client) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// ServerInfo returns the name and version the server reported.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peer.Name, c.peer.Version
}

// ListTools fetches every page of tools/list. The result replaces the
// list returned by Tools.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var all []ToolDefinition
	cursor := ""
	for range maxToolPages {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		var page toolsPage
		if err := c.call(ctx, "tools/list", params, &page); err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	c.mu.Lock()
	c.tools = all
	c.mu.Unlock()

	c.logger.Info("discovered MCP tools", "count", len(all))
	return all, nil
}

// Tools returns the definitions from the last successful ListTools.
func (c *Client) Tools() []ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool runs a tool and flattens its content blocks to text. A reply
// flagged isError becomes an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var reply toolReply
	err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &reply)
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}
	text := renderContent(reply.Content)
	if reply.IsError {
		return "", fmt.Errorf("MCP tool %s returned error: %s", name, text)
	}
	return text, nil
}

// Ping checks that the server answers. Servers that do not implement
// ping but reply to it are alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.call(ctx, "ping", nil, nil); err != nil && !IsMethodNotFound(err) {
		return err
	}
	return nil
}

// Close closes the transport.
func (c *Client) Close() error {
	c.logger.Info("closing MCP client")
	return c.transport.Close()
}

// call is roundTrip with one re-initialize when the session expired.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	err := c.roundTrip(ctx, method, params, out)
	if !errors.Is(err, ErrSessionExpired) {
		return err
	}
	c.logger.Info("MCP session expired, re-initializing", "method", method)
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	return c.roundTrip(ctx, method, params, out)
}

func (c *Client) roundTrip(ctx context.Context, method string, params, out any) error {
	resp, err := c.transport.RoundTrip(ctx, newCall(c.ids.Add(1), method, params))
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("no reply to %s", method)
	}
	return resp.decode(out)
}

// renderContent joins content blocks into tool output. Text passes
// through, embedded resources keep their URI as a header, and other
// blocks become bracketed markers.
func renderContent(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch {
		case b.Type == "text":
			parts = append(parts, b.Text)
		case b.Resource != nil && b.Resource.Text != "":
			parts = append(parts, fmt.Sprintf("[resource %s]\n%s", b.Resource.URI, b.Resource.Text))
		case b.Resource != nil:
			parts = append(parts, fmt.Sprintf("[resource %s]", b.Resource.URI))
		case b.URI != "":
			parts = append(parts, fmt.Sprintf("[%s %s]", b.Type, b.URI))
		case b.MIMEType != "":
			parts = append(parts, fmt.Sprintf("[%s %s]", b.Type, b.MIMEType))
		default:
			parts = append(parts, "["+b.Type+"]")
		}
	}
	return strings.Join(parts, "\n")
}
