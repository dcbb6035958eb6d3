package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatalf("run(%v) = %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: quill") {
			t.Errorf("run(%v) output = %q", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-x"}, "unknown flag: -x"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: quill ask"},
		{"suggest without query", []string{"tools", "suggest"}, "usage: quill tools suggest"},
		{"missing explicit config", []string{"-config", "/nonexistent/quill.yaml", "ask", "hi"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "Quill ") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("text output = %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("json output: %v\n%s", err, out.String())
	}
	if info["version"] == "" || info["os"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRun_ToolsSuggest(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"what is the history of the Roman Empire", "wikipedia_research"},
		{"latest blog posts on Go generics", "metaphor_search"},
		{"price of coffee beans", "tavily_search"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		args := append([]string{"tools", "suggest"}, strings.Fields(tt.query)...)
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatal(err)
		}
		if got := strings.TrimSpace(out.String()); got != tt.want {
			t.Errorf("suggest %q = %q, want %q", tt.query, got, tt.want)
		}
	}
}

// ollamaBackend answers every chat request with a fixed reply in the
// Ollama wire format.
func ollamaBackend(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req struct {
			Model    string           `json:"model"`
			Messages []map[string]any `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":             req.Model,
			"message":           map[string]any{"role": "assistant", "content": reply},
			"done":              true,
			"prompt_eval_count": 42,
			"eval_count":        7,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeConfig(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`models:
  default: local
  backends:
    - name: local
      provider: ollama
      model: test-model
      base_url: %s
data_dir: %s
log_level: warn
`, backendURL, filepath.Join(dir, "data"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Ask(t *testing.T) {
	srv, calls := ollamaBackend(t, "The capital of France is **Paris**.")
	path := writeConfig(t, srv.URL)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr,
		[]string{"-config", path, "ask", "What", "is", "the", "capital", "of", "France?"})
	if err != nil {
		t.Fatalf("ask: %v\nstderr: %s", err, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "The capital of France is **Paris**." {
		t.Errorf("stdout = %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}
}

func TestRun_AskBlockedByGuardrail(t *testing.T) {
	srv, calls := ollamaBackend(t, "should not be asked")
	path := writeConfig(t, srv.URL)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr,
		[]string{"-config", path, "ask", "how", "to", "hack", "my", "neighbor's", "wifi"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("backend was called %d times for a blocked question", calls.Load())
	}
	if strings.TrimSpace(stdout.String()) == "" {
		t.Error("expected a guardrail reply on stdout")
	}
}

func TestRun_Tools(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "tools"}); err != nil {
		t.Fatalf("tools: %v\nstderr: %s", err, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"NAME", "browse_web", "wikipedia_research"} {
		if !strings.Contains(out, want) {
			t.Errorf("tools output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "scrape_products") {
		t.Error("scrape_products listed without an Apify key")
	}

	stdout.Reset()
	if err := run(context.Background(), &stdout, &stderr, []string{"-o", "json", "-config", path, "tools"}); err != nil {
		t.Fatal(err)
	}
	var list []struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &list); err != nil {
		t.Fatalf("json output: %v\n%s", err, stdout.String())
	}
	if len(list) == 0 {
		t.Error("no tools in json output")
	}
}
