package mcp

import (
	"context"
	"errors"
)

// ErrSessionExpired is returned by a transport when the server no longer
// recognizes its session. The client re-initializes and retries once.
var ErrSessionExpired = errors.New("mcp session expired")

// Transport carries JSON-RPC messages to one MCP server.
type Transport interface {
	// RoundTrip delivers req and returns the server's reply. For a
	// notification it returns a nil Response once the message is sent.
	RoundTrip(ctx context.Context, req *Request) (*Response, error)

	// Close releases the transport. A stdio transport stops its
	// subprocess.
	Close() error
}
