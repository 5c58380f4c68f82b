package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// yamlOverlay mirrors the subset of fields an operator may want to set in a
// config file rather than the environment — chiefly the MCP server list,
// which is awkward to express as flat env vars. Field names match the
// teacher's mcpServerYAML nesting.
type yamlOverlay struct {
	MCPServers []struct {
		Name             string            `yaml:"name"`
		Command          string            `yaml:"command"`
		Args             []string          `yaml:"args"`
		Env              map[string]string `yaml:"env"`
		KeepAliveSeconds int               `yaml:"keepAliveSeconds"`
		PathDependent    bool              `yaml:"pathDependent"`
		URL              string            `yaml:"url"`
		Headers          map[string]string `yaml:"headers"`
		BearerToken      string            `yaml:"bearerToken"`
		TimeoutSeconds   int               `yaml:"timeoutSeconds"`
	} `yaml:"mcpServers"`
}

// Load builds a Config by reading a .env file (if present), then process
// environment variables, then optionally overlaying a YAML file named by
// MCP_CONFIG (or ./config.yaml if unset), and finally applying
// defaults to anything still unset. This mirrors the teacher's
// env-then-yaml-then-defaults loader shape.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		OpenAI: OpenAIConfig{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			BaseURL:     os.Getenv("OPENAI_BASE_URL"),
			Model:       os.Getenv("OPENAI_MODEL"),
			SelfHosted:  boolEnv("OPENAI_SELF_HOSTED", false),
			LogPayloads: boolEnv("OPENAI_LOG_PAYLOADS", false),
		},
		Anthropic: AnthropicConfig{
			APIKey:             os.Getenv("ANTHROPIC_API_KEY"),
			Model:              os.Getenv("ANTHROPIC_MODEL"),
			BaseURL:            os.Getenv("ANTHROPIC_BASE_URL"),
			PromptCacheEnabled: boolEnv("ANTHROPIC_PROMPT_CACHE", true),
		},
		Google: GoogleConfig{
			APIKey:  os.Getenv("GOOGLE_API_KEY"),
			Model:   os.Getenv("GOOGLE_MODEL"),
			Project: os.Getenv("GOOGLE_PROJECT"),
			Region:  os.Getenv("GOOGLE_REGION"),
		},
		Migration: MigrationConfig{
			WorkDir:    os.Getenv("WORKDIR"),
			ExportDir:  os.Getenv("MIGRATION_EXPORT_DIR"),
			TargetDSN:  os.Getenv("MIGRATION_TARGET_DSN"),
			StatusPath: os.Getenv("MIGRATION_STATUS_PATH"),
			DryRun:     boolEnv("MIGRATION_DRY_RUN", false),
			BatchSize:  intEnv("MIGRATION_BATCH_SIZE", 0),
		},
		Observability: ObservabilityConfig{
			LogPath:        os.Getenv("LOG_PATH"),
			LogLevel:       os.Getenv("LOG_LEVEL"),
			OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
			ServiceName:    os.Getenv("SERVICE_NAME"),
			TracingEnabled: boolEnv("TRACING_ENABLED", false),
		},
	}

	if err := loadMCPOverlay(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: loading mcp overlay: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.OpenAI.APIKey == "" && cfg.Anthropic.APIKey == "" && cfg.Google.APIKey == "" {
		return Config{}, fmt.Errorf("config: at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY must be set")
	}
	if cfg.Migration.WorkDir == "" {
		return Config{}, fmt.Errorf("config: WORKDIR is required")
	}
	abs, err := filepath.Abs(cfg.Migration.WorkDir)
	if err != nil {
		return Config{}, fmt.Errorf("config: resolving WORKDIR: %w", err)
	}
	cfg.Migration.WorkDir = abs

	return cfg, nil
}

func loadMCPOverlay(cfg *Config) error {
	path := os.Getenv("MCP_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, s := range overlay.MCPServers {
		cfg.MCP.Servers = append(cfg.MCP.Servers, MCPServerConfig{
			Name:             s.Name,
			Command:          s.Command,
			Args:             s.Args,
			Env:              s.Env,
			KeepAliveSeconds: s.KeepAliveSeconds,
			PathDependent:    s.PathDependent,
			URL:              s.URL,
			Headers:          s.Headers,
			BearerToken:      s.BearerToken,
			TimeoutSeconds:   s.TimeoutSeconds,
		})
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-3-5-sonnet-latest"
	}
	if cfg.Google.Model == "" {
		cfg.Google.Model = "gemini-2.0-flash"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "chatforge"
	}
	if cfg.Migration.ExportDir == "" {
		cfg.Migration.ExportDir = filepath.Join(cfg.Migration.WorkDir, "export")
	}
	if cfg.Migration.StatusPath == "" {
		cfg.Migration.StatusPath = filepath.Join(cfg.Migration.WorkDir, "migration-status.json")
	}
	if cfg.Migration.BatchSize <= 0 {
		cfg.Migration.BatchSize = 50
	}
	for i := range cfg.MCP.Servers {
		if cfg.MCP.Servers[i].TimeoutSeconds <= 0 {
			cfg.MCP.Servers[i].TimeoutSeconds = 30
		}
		if cfg.MCP.Servers[i].KeepAliveSeconds <= 0 {
			cfg.MCP.Servers[i].KeepAliveSeconds = 300
		}
	}
}

func boolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func intEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
