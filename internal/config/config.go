// Package config handles Quill configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/quill/config.yaml, /etc/quill/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "quill", "config.yaml"))
	}

	paths = append(paths, "/etc/quill/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Quill configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Models        ModelsConfig        `yaml:"models"`
	Agent         AgentConfig         `yaml:"agent"`
	Guardrail     GuardrailConfig     `yaml:"guardrail"`
	Search        SearchConfig        `yaml:"search"`
	Browse        BrowseConfig        `yaml:"browse"`
	Scrape        ScrapeConfig        `yaml:"scrape"`
	MCP           MCPConfig           `yaml:"mcp"`
	Conversations ConversationsConfig `yaml:"conversations"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Usage         UsageConfig         `yaml:"usage"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address     string   `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// ModelsConfig defines the model backends a request may select by
// logical name.
type ModelsConfig struct {
	// Default is the logical name used when a request names no model and
	// the single fallback target when a named backend is unavailable.
	Default string `yaml:"default"`
	// VerifyOnResolve pings a backend before binding it. A failed ping
	// marks the backend unavailable for that resolution.
	VerifyOnResolve bool            `yaml:"verify_on_resolve"`
	Backends        []BackendConfig `yaml:"backends"`
}

// BackendConfig is one selectable model backend.
type BackendConfig struct {
	Name     string `yaml:"name"`     // logical name callers use, e.g. "openai"
	Provider string `yaml:"provider"` // openai, anthropic, gemini, ollama
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// Backend returns the backend with the given logical name.
func (c ModelsConfig) Backend(name string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// AgentConfig bounds the research loop.
type AgentConfig struct {
	MaxIterations    int `yaml:"max_iterations"`     // model calls per request (default 10)
	ToolTimeoutSec   int `yaml:"tool_timeout_sec"`   // per tool call (default 30)
	MaxParallelTools int `yaml:"max_parallel_tools"` // concurrent calls per step (default 4)
}

// GuardrailConfig overrides the input filter. Empty lists keep the
// built-in keyword sets.
type GuardrailConfig struct {
	MaxLength         int      `yaml:"max_length"`
	UnsafeKeywords    []string `yaml:"unsafe_keywords"`
	SensitiveKeywords []string `yaml:"sensitive_keywords"`
}

// SearchConfig configures the research search tools.
type SearchConfig struct {
	Tavily    APIKeyConfig    `yaml:"tavily"`
	Serper    APIKeyConfig    `yaml:"serper"`
	Metaphor  APIKeyConfig    `yaml:"metaphor"`
	Brave     APIKeyConfig    `yaml:"brave"`
	SearXNG   SearXNGConfig   `yaml:"searxng"`
	GitHub    GitHubConfig    `yaml:"github"`
	Wikipedia WikipediaConfig `yaml:"wikipedia"`
	// MaxResults is the default result count per query (default 5).
	MaxResults int `yaml:"max_results"`
}

// Configured reports whether any keyed search provider is set up.
func (c SearchConfig) Configured() bool {
	return c.Tavily.Configured() || c.Serper.Configured() || c.Metaphor.Configured() ||
		c.Brave.Configured() || c.SearXNG.Configured()
}

// APIKeyConfig is a provider that needs only a credential.
type APIKeyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the key is set.
func (c APIKeyConfig) Configured() bool { return c.APIKey != "" }

// SearXNGConfig points at a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether the instance URL is set.
func (c SearXNGConfig) Configured() bool { return c.URL != "" }

// GitHubConfig enables repository search. Token is optional but raises
// the rate limit.
type GitHubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// WikipediaConfig controls the encyclopedia tool, which needs no key.
type WikipediaConfig struct {
	Disabled bool   `yaml:"disabled"`
	Language string `yaml:"language"` // default "en"
}

// BrowseConfig configures page extraction.
type BrowseConfig struct {
	// Browserless enables JavaScript rendering through a hosted
	// Chrome DevTools endpoint.
	Browserless APIKeyConfig `yaml:"browserless"`
	MaxChars    int          `yaml:"max_chars"`
}

// ScrapeConfig configures structured scraping through Apify actors.
type ScrapeConfig struct {
	Apify APIKeyConfig `yaml:"apify"`
	Actor string       `yaml:"actor"`
}

// MCPConfig lists remote tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig is one MCP server.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "http" (default) or "stdio"
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       []string          `yaml:"env"`
	// IncludeTools and ExcludeTools accept glob patterns.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`
}

// ConversationsConfig selects the conversation store.
type ConversationsConfig struct {
	// Persist keeps conversations in SQLite under DataDir instead of
	// process memory.
	Persist bool `yaml:"persist"`
}

// UsageConfig controls the token usage ledger kept under DataDir.
type UsageConfig struct {
	Disabled bool `yaml:"disabled"`
}

// MQTTConfig configures event and status publishing to a broker.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"` // Home Assistant discovery root
	PublishIntervalSec int    `yaml:"publish_interval"`
	ForwardEvents      bool   `yaml:"forward_events"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Credential is one well-known secret and the value configured for it.
type Credential struct {
	Name  string // environment variable name, e.g. TAVILY_API_KEY
	Value string
}

// Credentials lists the secrets Quill knows about in a stable order,
// named by the environment variables that conventionally carry them.
// Model keys come from the first backend of each provider.
func (c *Config) Credentials() []Credential {
	backendKey := func(provider string) string {
		for _, b := range c.Models.Backends {
			if b.Provider == provider && b.APIKey != "" {
				return b.APIKey
			}
		}
		return ""
	}
	return []Credential{
		{"OPENAI_API_KEY", backendKey("openai")},
		{"ANTHROPIC_API_KEY", backendKey("anthropic")},
		{"GEMINI_API_KEY", backendKey("gemini")},
		{"TAVILY_API_KEY", c.Search.Tavily.APIKey},
		{"SERPER_API_KEY", c.Search.Serper.APIKey},
		{"METAPHOR_API_KEY", c.Search.Metaphor.APIKey},
		{"BROWSERLESS_API_KEY", c.Browse.Browserless.APIKey},
		{"APIFY_API_KEY", c.Scrape.Apify.APIKey},
		{"GITHUB_TOKEN", c.Search.GitHub.Token},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration built from environment variables
// alone, for running without a config file.
func Default() *Config {
	cfg := &Config{
		Search: SearchConfig{
			Tavily:   APIKeyConfig{APIKey: os.Getenv("TAVILY_API_KEY")},
			Serper:   APIKeyConfig{APIKey: os.Getenv("SERPER_API_KEY")},
			Metaphor: APIKeyConfig{APIKey: firstEnv("METAPHOR_API_KEY", "EXA_API_KEY")},
			GitHub:   GitHubConfig{Enabled: true, Token: os.Getenv("GITHUB_TOKEN")},
		},
		Browse: BrowseConfig{
			Browserless: APIKeyConfig{APIKey: os.Getenv("BROWSERLESS_API_KEY")},
		},
		Scrape: ScrapeConfig{
			Apify: APIKeyConfig{APIKey: os.Getenv("APIFY_API_KEY")},
		},
	}
	cfg.Models.Backends = envBackends()
	cfg.applyDefaults()
	return cfg
}

// envBackends derives the built-in backends from well-known API key
// variables. Backends without a key are still listed so that selecting
// them falls back cleanly to the default.
func envBackends() []BackendConfig {
	return []BackendConfig{
		{Name: "openai", Provider: "openai", Model: "gpt-4o", APIKey: os.Getenv("OPENAI_API_KEY")},
		{Name: "anthropic", Provider: "anthropic", Model: "claude-3-sonnet-20240229", APIKey: os.Getenv("ANTHROPIC_API_KEY")},
		{Name: "gemini", Provider: "gemini", Model: "gemini-2.0-flash", APIKey: firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")},
		{Name: "ollama", Provider: "ollama", Model: "qwen3:4b", BaseURL: os.Getenv("OLLAMA_URL")},
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.Default == "" {
		c.Models.Default = "openai"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.ToolTimeoutSec <= 0 {
		c.Agent.ToolTimeoutSec = 30
	}
	if c.Agent.MaxParallelTools <= 0 {
		c.Agent.MaxParallelTools = 4
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 5
	}
	if c.Search.Wikipedia.Language == "" {
		c.Search.Wikipedia.Language = "en"
	}
	if c.Browse.MaxChars <= 0 {
		c.Browse.MaxChars = 50000
	}
	if c.Scrape.Actor == "" {
		c.Scrape.Actor = "apify~e-commerce-scraping-tool"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	for i := range c.Models.Backends {
		b := &c.Models.Backends[i]
		if b.Provider == "" {
			b.Provider = b.Name
		}
	}
	for i := range c.MCP.Servers {
		if c.MCP.Servers[i].Transport == "" {
			c.MCP.Servers[i].Transport = "http"
		}
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "quill"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
}

// Validate checks the configuration for values that would fail at
// runtime.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}

	seen := make(map[string]bool)
	for _, b := range c.Models.Backends {
		if b.Name == "" {
			return fmt.Errorf("models.backends: entry with empty name")
		}
		if seen[b.Name] {
			return fmt.Errorf("models.backends: duplicate name %q", b.Name)
		}
		seen[b.Name] = true
		switch b.Provider {
		case "openai", "anthropic", "gemini", "ollama":
		default:
			return fmt.Errorf("models.backends[%s]: unsupported provider %q", b.Name, b.Provider)
		}
	}

	for _, s := range c.MCP.Servers {
		if s.Name == "" {
			return fmt.Errorf("mcp.servers: entry with empty name")
		}
		switch s.Transport {
		case "http", "streamable_http":
			if s.URL == "" {
				return fmt.Errorf("mcp.servers[%s]: http transport requires url", s.Name)
			}
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("mcp.servers[%s]: stdio transport requires command", s.Name)
			}
		default:
			return fmt.Errorf("mcp.servers[%s]: unknown transport %q", s.Name, s.Transport)
		}
	}
	return nil
}
