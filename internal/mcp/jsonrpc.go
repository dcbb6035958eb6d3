package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes an MCP server may answer with.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

var codeNames = map[int]string{
	codeParseError:     "parse error",
	codeInvalidRequest: "invalid request",
	codeMethodNotFound: "method not found",
	codeInvalidParams:  "invalid params",
	codeInternalError:  "internal error",
}

// Request is an outgoing message. A request without an ID is a
// notification and the server never answers it.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func newCall(id int64, method string, params any) *Request {
	return &Request{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}
}

func newNotice(method string) *Request {
	return &Request{JSONRPC: jsonrpcVersion, Method: method}
}

func (r *Request) isNotice() bool { return r.ID == nil }

// Response is an incoming message. Servers interleave their own
// notifications and requests with replies; those carry a Method.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// answers reports whether r is the reply to req.
func (r *Response) answers(req *Request) bool {
	if r.Method != "" || req.ID == nil || r.ID != *req.ID {
		return false
	}
	return r.Result != nil || r.Error != nil
}

// decode unpacks the result into v, or returns the server's error.
// A nil v only checks for an error.
func (r *Response) decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if v == nil {
		return nil
	}
	if len(r.Result) == 0 {
		return errors.New("reply carries neither result nor error")
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// RPCError is the error object of a failed reply.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if name, ok := codeNames[e.Code]; ok {
		return fmt.Sprintf("%s (%d): %s", name, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether err carries a method-not-found reply.
func IsMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound
}
