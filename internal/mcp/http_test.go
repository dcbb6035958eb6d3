package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPTransport_JSON(t *testing.T) {
	var sawSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("Authorization") != "Bearer t" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		sawSession = r.Header.Get(sessionHeader)

		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set(sessionHeader, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: *req.ID, Result: json.RawMessage(`{"ok":true}`)})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	resp, err := tr.RoundTrip(context.Background(), newCall(1, "ping", nil))
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Errorf("result = %s", resp.Result)
	}

	if _, err := tr.RoundTrip(context.Background(), newCall(2, "ping", nil)); err != nil {
		t.Fatal(err)
	}
	if sawSession != "sess-1" {
		t.Errorf("session header on second request = %q, want sess-1", sawSession)
	}
}

func TestHTTPTransport_SSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Write([]byte("event: message\n" +
			"data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{}}\n\n" +
			": keepalive\n\n" +
			"event: message\n" +
			"data: {\"jsonrpc\":\"2.0\",\"id\":7,\n" +
			"data: \"result\":{\"tools\":[]}}\n\n"))
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(HTTPConfig{URL: srv.URL}).RoundTrip(context.Background(), newCall(7, "tools/list", nil))
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.ID != 7 || string(resp.Result) != `{"tools":[]}` {
		t.Errorf("resp = %+v result=%s", resp, resp.Result)
	}
}

func TestReadSSEResponse_NoMatch(t *testing.T) {
	stream := "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"sampling/createMessage\",\"params\":{}}\n\n"
	if _, err := readSSEResponse(strings.NewReader(stream), newCall(2, "tools/call", nil)); err == nil {
		t.Fatal("expected error when no reply matches")
	}
	resp, err := readSSEResponse(strings.NewReader("data: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{}}"), newCall(3, "ping", nil))
	if err != nil || resp.ID != 3 {
		t.Errorf("unterminated final event: resp=%v err=%v", resp, err)
	}
}

func TestHTTPTransport_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("session expired"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	if _, err := tr.RoundTrip(context.Background(), newCall(1, "ping", nil)); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("RoundTrip err = %v", err)
	}
	if _, err := tr.RoundTrip(context.Background(), newNotice("notifications/initialized")); err == nil {
		t.Error("notification should fail on 404")
	}
}

func TestHTTPTransport_NoticeAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(HTTPConfig{URL: srv.URL}).RoundTrip(context.Background(), newNotice("notifications/initialized"))
	if err != nil || resp != nil {
		t.Errorf("notification = %v, %v", resp, err)
	}
}

func TestHTTPTransport_SessionExpired(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get(sessionHeader) != "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set(sessionHeader, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: *req.ID, Result: json.RawMessage(`{}`)})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	if _, err := tr.RoundTrip(context.Background(), newCall(1, "initialize", nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.RoundTrip(context.Background(), newCall(2, "tools/list", nil)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	// The stale session is dropped, so the next request starts fresh.
	if _, err := tr.RoundTrip(context.Background(), newCall(3, "initialize", nil)); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestHTTPTransport_MismatchedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":99,"result":{}}`))
	}))
	defer srv.Close()

	if _, err := NewHTTPTransport(HTTPConfig{URL: srv.URL}).RoundTrip(context.Background(), newCall(1, "ping", nil)); err == nil {
		t.Fatal("expected error for a reply to another request")
	}
}
