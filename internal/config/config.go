// Package config loads the agentrt configuration file.
//
// A file is YAML, or JSON5 when its extension is .json or .json5. ${VAR}
// references are expanded from the environment before parsing and
// "$include" pulls in other files, merged underneath the including one.
//
//	version: 1
//	default_provider: claude
//	providers:
//	  - name: claude
//	    type: anthropic
//	    api_key: ${ANTHROPIC_API_KEY}
//	    model: claude-sonnet-4-20250514
//	compression:
//	  enabled: true
//	  context_length: 200000
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/agentrt/internal/agent"
	agentctx "github.com/haasonsaas/agentrt/internal/agent/context"
	"github.com/haasonsaas/agentrt/internal/observability"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// Config is the root configuration.
type Config struct {
	Version int `yaml:"version"`

	// DefaultProvider names the entry of Providers used when none is chosen.
	// Default: the first provider.
	DefaultProvider string                  `yaml:"default_provider"`
	Providers       []models.ProviderConfig `yaml:"providers"`

	Agent         AgentConfig                `yaml:"agent"`
	Compression   agentctx.CompressionConfig `yaml:"compression"`
	Team          TeamConfig                 `yaml:"team"`
	Sessions      SessionsConfig             `yaml:"sessions"`
	Tools         ToolsConfig                `yaml:"tools"`
	Logging       LoggingConfig              `yaml:"logging"`
	Observability ObservabilityConfig        `yaml:"observability"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	MaxIterations int  `yaml:"max_iterations"`
	AutoApprove   bool `yaml:"auto_approve"`

	Approval agent.ApprovalPolicy `yaml:"approval"`

	// ToolTimeout bounds a single tool call. Default: 2m.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// SystemPrompt applies to providers that do not set their own.
	SystemPrompt string `yaml:"system_prompt"`
}

// TeamConfig configures the team coordinator.
type TeamConfig struct {
	MaxAutoTriggers int           `yaml:"max_auto_triggers"`
	Debounce        time.Duration `yaml:"debounce"`
	MaxPeers        int           `yaml:"max_peers"`
}

// SessionsConfig selects the session store.
type SessionsConfig struct {
	// Driver is "sqlite" or "memory". Default: sqlite.
	Driver string `yaml:"driver"`
	// DSN is the sqlite database path.
	DSN string `yaml:"dsn"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// Workspace confines file and shell tools. Default: the working directory.
	Workspace string   `yaml:"workspace"`
	Allow     []string `yaml:"allow"`
	Deny      []string `yaml:"deny"`

	EnableShell  bool          `yaml:"enable_shell"`
	Shell        string        `yaml:"shell"`
	ShellTimeout time.Duration `yaml:"shell_timeout"`

	MaxReadBytes int `yaml:"max_read_bytes"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Redact adds secret patterns to the built-in set.
	Redact []string `yaml:"redact"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when set, e.g. "127.0.0.1:9090".
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing. Tracing is off without an
// endpoint.
type TracingConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	SampleRate  float64           `yaml:"sample_rate"`
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	Insecure    bool              `yaml:"insecure"`
	Attributes  map[string]string `yaml:"attributes"`
}

// ValidationError aggregates every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid config: " + e.Issues[0]
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// ErrUnknownProvider is returned by Provider for a name not in Providers.
var ErrUnknownProvider = errors.New("unknown provider")

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used without a file: one provider per
// API key found in the environment.
func Default() *Config {
	cfg := &Config{}
	envProviders := []struct {
		env string
		cfg models.ProviderConfig
	}{
		{"ANTHROPIC_API_KEY", models.ProviderConfig{Name: "anthropic", Type: "anthropic", Model: "claude-sonnet-4-20250514"}},
		{"OPENAI_API_KEY", models.ProviderConfig{Name: "openai", Type: "openai", Model: "gpt-4o"}},
		{"GEMINI_API_KEY", models.ProviderConfig{Name: "gemini", Type: "gemini", Model: "gemini-2.0-flash"}},
	}
	for _, p := range envProviders {
		if key := os.Getenv(p.env); key != "" {
			pc := p.cfg
			pc.APIKey = key
			cfg.Providers = append(cfg.Providers, pc)
		}
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			p.Name = p.Type
		}
		if p.SystemPrompt == "" {
			p.SystemPrompt = cfg.Agent.SystemPrompt
		}
	}
	if cfg.DefaultProvider == "" && len(cfg.Providers) > 0 {
		cfg.DefaultProvider = cfg.Providers[0].Name
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = agent.DefaultMaxIterations
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 2 * time.Minute
	}

	if cfg.Compression.ContextLength == 0 {
		cfg.Compression.ContextLength = agentctx.DefaultCompressionConfig().ContextLength
	}
	cfg.Compression = cfg.Compression.WithDefaults()

	if cfg.Team.MaxAutoTriggers == 0 {
		cfg.Team.MaxAutoTriggers = 5
	}
	if cfg.Team.Debounce == 0 {
		cfg.Team.Debounce = 2 * time.Second
	}
	if cfg.Team.MaxPeers == 0 {
		cfg.Team.MaxPeers = 4
	}

	if cfg.Sessions.Driver == "" {
		cfg.Sessions.Driver = "sqlite"
	}
	if cfg.Sessions.Driver == "sqlite" && cfg.Sessions.DSN == "" {
		cfg.Sessions.DSN = ".agentrt/sessions.db"
	}

	if cfg.Tools.Workspace == "" {
		cfg.Tools.Workspace = "."
	}
	if cfg.Tools.ShellTimeout == 0 {
		cfg.Tools.ShellTimeout = 2 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Observability.Tracing.SampleRate == 0 {
		cfg.Observability.Tracing.SampleRate = 1
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		switch {
		case strings.TrimSpace(p.Name) == "":
			add("providers[%d].name is required", i)
		case seen[p.Name]:
			add("providers[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true
		if strings.TrimSpace(p.Type) == "" {
			add("providers[%d].type is required", i)
		}
		if strings.TrimSpace(p.Model) == "" {
			add("providers[%d].model is required", i)
		}
		if p.MaxTokens < 0 {
			add("providers[%d].max_tokens must be >= 0", i)
		}
	}
	if c.DefaultProvider != "" && !seen[c.DefaultProvider] {
		add("default_provider %q does not match any provider", c.DefaultProvider)
	}

	if c.Agent.MaxIterations < 0 {
		add("agent.max_iterations must be >= 0")
	}
	if c.Agent.ToolTimeout < 0 {
		add("agent.tool_timeout must be >= 0")
	}
	switch c.Agent.Approval.DefaultDecision {
	case "", agent.ApprovalAllowed, agent.ApprovalDenied, agent.ApprovalPending:
	default:
		add("agent.approval.default_decision must be allowed, denied or pending")
	}

	comp := c.Compression
	if comp.Enabled {
		if comp.ContextLength <= 0 {
			add("compression.context_length must be > 0")
		}
		if comp.FullThreshold <= 0 || comp.FullThreshold > 1 {
			add("compression.full_threshold must be in (0, 1]")
		}
		if comp.PreThreshold <= 0 || comp.PreThreshold >= comp.FullThreshold {
			add("compression.pre_threshold must be > 0 and below full_threshold")
		}
	}
	if comp.ZoneBSize < 0 {
		add("compression.zone_b_size must be >= 0")
	}

	if c.Team.MaxAutoTriggers < 0 {
		add("team.max_auto_triggers must be >= 0")
	}
	if c.Team.Debounce < 0 {
		add("team.debounce must be >= 0")
	}
	if c.Team.MaxPeers < 0 {
		add("team.max_peers must be >= 0")
	}

	switch c.Sessions.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Sessions.DSN) == "" {
			add("sessions.dsn is required for the sqlite driver")
		}
	default:
		add("sessions.driver must be memory or sqlite, got %q", c.Sessions.Driver)
	}

	if c.Tools.ShellTimeout < 0 {
		add("tools.shell_timeout must be >= 0")
	}
	if c.Tools.MaxReadBytes < 0 {
		add("tools.max_read_bytes must be >= 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		add("logging.format must be json or text")
	}

	if r := c.Observability.Tracing.SampleRate; r < 0 || r > 1 {
		add("observability.tracing.sample_rate must be in [0, 1]")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Provider returns the provider called name, or the default provider when
// name is empty.
func (c *Config) Provider(name string) (models.ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	if name == "" {
		return models.ProviderConfig{}, fmt.Errorf("%w: no providers configured", ErrUnknownProvider)
	}
	for _, p := range c.Providers {
		if p.Name == name {
			return p, nil
		}
	}
	return models.ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// LogConfig converts the logging section for observability.NewLogger.
func (c *Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:          c.Logging.Level,
		Format:         c.Logging.Format,
		RedactPatterns: c.Logging.Redact,
	}
}

// TraceConfig converts the tracing section for observability.NewTracer.
func (c *Config) TraceConfig(version string) observability.TraceConfig {
	t := c.Observability.Tracing
	return observability.TraceConfig{
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Environment:    t.Environment,
		Endpoint:       t.Endpoint,
		SamplingRate:   t.SampleRate,
		Attributes:     t.Attributes,
		EnableInsecure: t.Insecure,
	}
}
