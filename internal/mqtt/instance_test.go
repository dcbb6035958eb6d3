package mqtt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestLoadOrCreateInstanceID(t *testing.T) {
	tests := []struct {
		name     string
		existing string // file content; empty means no file
		keep     bool
	}{
		{name: "first run"},
		{name: "existing id", existing: "0190d5c4-8a1e-7b3a-9c41-5f2e6d7a8b90\n", keep: true},
		{name: "blank file", existing: "\n"},
		{name: "corrupt file", existing: "desk-quill"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, instanceFile)
			if tt.existing != "" {
				if err := os.WriteFile(path, []byte(tt.existing), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			id, err := LoadOrCreateInstanceID(dir)
			if err != nil {
				t.Fatalf("LoadOrCreateInstanceID: %v", err)
			}
			if tt.keep {
				if id != strings.TrimSpace(tt.existing) {
					t.Errorf("id = %q, want stored %q", id, tt.existing)
				}
				return
			}
			parsed, err := uuid.Parse(id)
			if err != nil || parsed.Version() != 7 {
				t.Errorf("id %q is not a UUIDv7", id)
			}
			data, _ := os.ReadFile(path)
			if got := strings.TrimSpace(string(data)); got != id {
				t.Errorf("stored = %q, want %q", got, id)
			}
		})
	}
}

func TestLoadOrCreateInstanceID_StableAcrossRestarts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "quill")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != instanceFile {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("data dir holds %v, want only %s", names, instanceFile)
	}
}

func TestLoadOrCreateInstanceID_Unreadable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be cannot be read as an ID.
	if err := os.Mkdir(filepath.Join(dir, instanceFile), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateInstanceID(dir); err == nil {
		t.Fatal("expected error when the ID path is a directory")
	}
}
