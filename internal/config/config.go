// Package config loads runtime configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all vaultbrain configuration.
type Config struct {
	Addr      string
	VaultPath string
	DBPath    string
	BackupDir string
	AutoApply bool

	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	DefaultProvider  string
	DefaultModel     string
	TitleModel       string

	MaxTurns    int
	ToolTimeout time.Duration

	SkillsDirs   []string
	PersonasDirs []string

	MCPServers map[string]MCPServerConfig
}

// MCPServerConfig describes one remote MCP server.
type MCPServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// fileConfig is the YAML layer for things that do not fit env vars well.
type fileConfig struct {
	MCPServers   map[string]MCPServerConfig `yaml:"mcp_servers"`
	SkillsDirs   []string                   `yaml:"skills_dirs"`
	PersonasDirs []string                   `yaml:"personas_dirs"`
}

// Init loads config from environment variables, then overlays the YAML file
// named by VAULTBRAIN_CONFIG (default vaultbrain.yaml) when it exists.
func Init() (Config, error) {
	cfg := Config{
		Addr:             env("VAULTBRAIN_ADDR", ":8420"),
		VaultPath:        env("VAULTBRAIN_VAULT_PATH", "./vault"),
		DBPath:           env("VAULTBRAIN_DB_PATH", "./vaultbrain.db"),
		BackupDir:        env("VAULTBRAIN_BACKUP_DIR", "./data/backups"),
		AutoApply:        envBool("VAULTBRAIN_AUTO_APPLY", false),
		AnthropicAPIKey:  env("VAULTBRAIN_ANTHROPIC_API_KEY", os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicBaseURL: env("VAULTBRAIN_ANTHROPIC_BASE_URL", ""),
		OpenAIAPIKey:     env("VAULTBRAIN_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:    env("VAULTBRAIN_OPENAI_BASE_URL", ""),
		DefaultProvider:  env("VAULTBRAIN_DEFAULT_PROVIDER", "anthropic"),
		DefaultModel:     env("VAULTBRAIN_DEFAULT_MODEL", ""),
		TitleModel:       env("VAULTBRAIN_TITLE_MODEL", "claude-3-5-haiku-20241022"),
		MaxTurns:         envInt("VAULTBRAIN_MAX_TURNS", 5),
		ToolTimeout:      envDuration("VAULTBRAIN_TOOL_TIMEOUT", 60*time.Second),
		SkillsDirs:       envList("VAULTBRAIN_SKILLS_DIRS", ""),
		PersonasDirs:     envList("VAULTBRAIN_PERSONAS_DIRS", ""),
		MCPServers:       map[string]MCPServerConfig{},
	}

	path := env("VAULTBRAIN_CONFIG", "vaultbrain.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	for id, s := range fc.MCPServers {
		cfg.MCPServers[id] = s
	}
	if len(fc.SkillsDirs) > 0 {
		cfg.SkillsDirs = append(cfg.SkillsDirs, fc.SkillsDirs...)
	}
	if len(fc.PersonasDirs) > 0 {
		cfg.PersonasDirs = append(cfg.PersonasDirs, fc.PersonasDirs...)
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envList(key, def string) []string {
	v := env(key, def)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envDuration parses a Go duration string from env.
func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
