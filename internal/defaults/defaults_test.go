package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nugget/quill/internal/config"
)

func TestConfigYAML_Loads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Models.Default != "openai" {
		t.Errorf("default model = %q", cfg.Models.Default)
	}
	if _, ok := cfg.Models.Backend("anthropic"); !ok {
		t.Error("anthropic backend missing")
	}
	if len(cfg.MCP.Servers) != 1 || cfg.MCP.Servers[0].Transport != "streamable_http" {
		t.Errorf("mcp servers = %+v", cfg.MCP.Servers)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("max_results = %d", cfg.Search.MaxResults)
	}
}
