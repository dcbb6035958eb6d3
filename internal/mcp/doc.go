// Package mcp connects to MCP (Model Context Protocol) servers and
// exposes their tools to the research loop.
//
// MCP uses JSON-RPC 2.0 over two transports: stdio (subprocess) and
// streamable HTTP, where a server may answer with plain JSON or with a
// single-response SSE stream. The client discovers tools via tools/list
// and invokes them via tools/call. [Provider] implements
// tools.RemoteProvider so discovery runs in the background and tools
// appear in the registry under "mcp_<server>_<tool>" names.
//
// Only the client side is implemented.
package mcp
