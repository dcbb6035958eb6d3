package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/nugget/quill/internal/httpkit"
)

// sessionHeader carries the server-assigned session for streamable HTTP.
const sessionHeader = "Mcp-Session-Id"

// maxResponseBytes bounds a single JSON-RPC response body.
const maxResponseBytes = 10 << 20

// HTTPConfig configures an HTTP MCP transport that communicates with a
// remote MCP server over streamable HTTP (JSON-RPC over POST).
type HTTPConfig struct {
	// URL is the MCP server endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request
	// (e.g., Authorization).
	Headers map[string]string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport communicates with an MCP server over streamable HTTP.
// Each JSON-RPC request is sent as an HTTP POST. The reply is either a
// JSON body or an SSE stream whose first matching message is the
// response.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates an HTTP transport for the given config.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := httpkit.NewClient(
		httpkit.WithLogger(logger),
	)

	return &HTTPTransport{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: client,
		logger:     logger,
	}
}

// post sends one message and returns the open response, reporting
// whether a session header went with it.
func (t *HTTPTransport) post(ctx context.Context, req *Request) (*http.Response, bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("marshal %s: %w", req.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.RLock()
	session := t.sessionID
	t.mu.RUnlock()
	if session != "" {
		httpReq.Header.Set(sessionHeader, session)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}

	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return httpResp, session != "", nil
}

// RoundTrip implements Transport. A 404 on a request that carried a
// session means the server dropped it and yields [ErrSessionExpired].
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	httpResp, hadSession, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	switch {
	case httpResp.StatusCode == http.StatusNotFound && hadSession:
		t.mu.Lock()
		t.sessionID = ""
		t.mu.Unlock()
		return nil, ErrSessionExpired
	case req.isNotice() && httpResp.StatusCode == http.StatusAccepted:
		return nil, nil
	case httpResp.StatusCode != http.StatusOK:
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return nil, fmt.Errorf("MCP server returned %d for %s: %s", httpResp.StatusCode, req.Method, errBody)
	case req.isNotice():
		return nil, nil
	}

	body := io.LimitReader(httpResp.Body, maxResponseBytes)
	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readSSEResponse(body, req)
	}

	var resp Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", req.Method, err)
	}
	if !resp.answers(req) {
		return nil, fmt.Errorf("reply id %d does not match %s request", resp.ID, req.Method)
	}
	return &resp, nil
}

// readSSEResponse scans an event stream for the reply to req. Server
// notifications and requests on the same stream are skipped.
func readSSEResponse(r io.Reader, req *Request) (*Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)

	var data strings.Builder
	flush := func() (*Response, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var resp Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			return nil, false
		}
		if !resp.answers(req) {
			return nil, false
		}
		return &resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("event stream ended without a reply to %s", req.Method)
}

// Close is a no-op for HTTP transports.
func (t *HTTPTransport) Close() error {
	return nil
}
