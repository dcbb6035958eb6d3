package api

import (
	"bytes"
	"io"
	"net/http"
)

// maxTraceBody caps how much of a request body is captured for trace
// logging.
const maxTraceBody = 64 << 10

// captureBody reads the request body for logging and replaces it so
// the handler can still decode it.
func captureBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTraceBody))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	return body, nil
}
