// Package config loads the YAML configuration shared by the CLI and the
// HTTP server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file searched for by DefaultPath.
const FileName = "config.yaml"

// placeholderAPIKey is the value shipped in the example config.
const placeholderAPIKey = "YOUR_API_KEY_HERE"

// ErrNotFound is returned when no configuration file exists.
var ErrNotFound = errors.New("configuration file not found")

// RetryConfig mirrors unifiedllm.RetryPolicy. Delays are in seconds.
type RetryConfig struct {
	Enabled         bool    `yaml:"enabled" env:"ENABLED"`
	MaxRetries      int     `yaml:"max_retries" env:"MAX_RETRIES" validate:"gte=0"`
	InitialDelay    float64 `yaml:"initial_delay" env:"INITIAL_DELAY" validate:"gte=0"`
	MaxDelay        float64 `yaml:"max_delay" env:"MAX_DELAY" validate:"gte=0"`
	ExponentialBase float64 `yaml:"exponential_base" env:"EXPONENTIAL_BASE" validate:"gte=1"`
}

// ToolsConfig switches the built-in tool groups on and off.
type ToolsConfig struct {
	EnableFileTools bool   `yaml:"enable_file_tools" env:"ENABLE_FILE_TOOLS"`
	EnableBash      bool   `yaml:"enable_bash" env:"ENABLE_BASH"`
	EnableNote      bool   `yaml:"enable_note" env:"ENABLE_NOTE"`
	EnableSkills    bool   `yaml:"enable_skills" env:"ENABLE_SKILLS"`
	SkillsDir       string `yaml:"skills_dir" env:"SKILLS_DIR"`
}

// ServerConfig configures `miniagent serve`.
type ServerConfig struct {
	Addr           string        `yaml:"addr" env:"ADDR" validate:"required"`
	DatabaseURL    string        `yaml:"database_url" env:"DATABASE_URL"`
	SessionTimeout time.Duration `yaml:"session_timeout" env:"SESSION_TIMEOUT" validate:"gt=0"`
}

// Config is the full configuration.
type Config struct {
	APIKey           string       `yaml:"api_key" env:"API_KEY" validate:"required"`
	APIBase          string       `yaml:"api_base" env:"API_BASE"`
	Model            string       `yaml:"model" env:"MODEL" validate:"required"`
	Provider         string       `yaml:"provider" env:"PROVIDER" validate:"required"`
	Retry            RetryConfig  `yaml:"retry" envPrefix:"RETRY_"`
	MaxSteps         int          `yaml:"max_steps" env:"MAX_STEPS" validate:"gt=0"`
	TokenLimit       int          `yaml:"token_limit" env:"TOKEN_LIMIT" validate:"gt=0"`
	WorkspaceDir     string       `yaml:"workspace_dir" env:"WORKSPACE_DIR" validate:"required"`
	SystemPromptPath string       `yaml:"system_prompt_path" env:"SYSTEM_PROMPT_PATH"`
	LogDir           string       `yaml:"log_dir" env:"LOG_DIR"`
	Tools            ToolsConfig  `yaml:"tools" envPrefix:"TOOLS_"`
	Server           ServerConfig `yaml:"server" envPrefix:"SERVER_"`

	// path is the file the configuration was read from, if any.
	path string
}

// Default returns the built-in defaults. APIKey is left empty.
func Default() Config {
	return Config{
		APIBase:  "https://api.minimax.io",
		Model:    "MiniMax-M2.5",
		Provider: "anthropic",
		Retry: RetryConfig{
			Enabled:         true,
			MaxRetries:      3,
			InitialDelay:    1,
			MaxDelay:        60,
			ExponentialBase: 2,
		},
		MaxSteps:         50,
		TokenLimit:       80000,
		WorkspaceDir:     "./workspace",
		SystemPromptPath: "system_prompt.md",
		Tools: ToolsConfig{
			EnableFileTools: true,
			EnableBash:      true,
			EnableNote:      true,
			EnableSkills:    true,
			SkillsDir:       "./skills",
		},
		Server: ServerConfig{
			Addr:           ":8000",
			SessionTimeout: time.Hour,
		},
	}
}

// SearchPaths lists the locations checked by DefaultPath, highest priority
// first.
func SearchPaths() []string {
	paths := []string{filepath.Join("mini_agent", "config", FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".mini-agent", "config", FileName))
	}
	return paths
}

// DefaultPath returns the first existing file from SearchPaths.
func DefaultPath() (string, error) {
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Load reads the configuration at path, or the first file from SearchPaths
// when path is empty. MINI_AGENT_* environment variables override file
// values. The result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("%w (searched %v)", err, SearchPaths())
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "MINI_AGENT_"}); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields and ranges and rejects the placeholder
// API key.
func (c *Config) Validate() error {
	if c.APIKey == placeholderAPIKey {
		return errors.New("invalid config: api_key is still the placeholder, set a real API key")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Dir returns the directory of the loaded file, or "." when the
// configuration did not come from a file.
func (c *Config) Dir() string {
	if c.path == "" {
		return "."
	}
	return filepath.Dir(c.path)
}

// ResolveSkillsDir returns the skills directory. A relative path is tried
// against the config directory, the current directory and mini_agent/ in
// that order; when none exists the configured value is returned unchanged.
func (c *Config) ResolveSkillsDir() string {
	dir := c.Tools.SkillsDir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	for _, candidate := range []string{
		filepath.Join(c.Dir(), dir),
		dir,
		filepath.Join("mini_agent", dir),
	} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return dir
}

// ResolveSystemPromptPath returns the prompt file location. Relative paths
// are tried against the config directory first and then the current
// directory. An empty string means no file was found.
func (c *Config) ResolveSystemPromptPath() string {
	if c.SystemPromptPath == "" {
		return ""
	}
	if filepath.IsAbs(c.SystemPromptPath) {
		return c.SystemPromptPath
	}
	for _, candidate := range []string{
		filepath.Join(c.Dir(), c.SystemPromptPath),
		c.SystemPromptPath,
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
