package search

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error

	lastQuery string
	lastOpts  Options
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, q string, opts Options) ([]Result, error) {
	m.lastQuery, m.lastOpts = q, opts
	return m.results, m.err
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{Title: "Test", URL: "https://example.com", Snippet: "A test result"},
		},
	})

	results, err := mgr.Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Test" {
		t.Errorf("expected title 'Test', got %q", results[0].Title)
	}
}

func TestManagerSearchWith(t *testing.T) {
	mgr := NewManager("primary")
	mgr.Register(&mockProvider{name: "primary", results: []Result{{Title: "Primary"}}})
	mgr.Register(&mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}})

	results, err := mgr.SearchWith(context.Background(), "secondary", "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Title != "Secondary" {
		t.Errorf("expected 'Secondary', got %q", results[0].Title)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager("missing")
	_, err := mgr.Search(context.Background(), "test", Options{})
	if err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestManagerPrimaryDefaultsToFirst(t *testing.T) {
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "zeta"})
	mgr.Register(&mockProvider{name: "alpha"})

	if got := mgr.Primary(); got != "zeta" {
		t.Errorf("Primary() = %q, want zeta", got)
	}
	if got := strings.Join(mgr.Providers(), ","); got != "alpha,zeta" {
		t.Errorf("Providers() = %q, want sorted", got)
	}
}

func TestManagerProviderError(t *testing.T) {
	boom := errors.New("quota exceeded")
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "p", err: boom})
	if _, err := mgr.Search(context.Background(), "q", Options{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{Title: "First", URL: "https://a.com", Snippet: "Snippet A", Published: "2024-01-02"},
		{Title: "Second", URL: "https://b.com"},
	}
	want := "1. First (2024-01-02)\n   https://a.com\n   Snippet A\n\n2. Second\n   https://b.com"
	if got := FormatResults(results); got != want {
		t.Errorf("FormatResults() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	out := FormatResults(nil)
	if out != "No results found." {
		t.Errorf("expected 'No results found.', got %q", out)
	}
}

func TestConfigured(t *testing.T) {
	mgr := NewManager("test")
	if mgr.Configured() {
		t.Error("empty manager should not be configured")
	}
	mgr.Register(&mockProvider{name: "test"})
	if !mgr.Configured() {
		t.Error("manager with provider should be configured")
	}
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain  text\n here", "plain text here"},
		{"The <strong>Go</strong> language", "The Go language"},
		{`<span class="searchmatch">Ada</span> Lovelace &amp; Babbage`, "Ada Lovelace & Babbage"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripTags(tt.in); got != tt.want {
			t.Errorf("stripTags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
