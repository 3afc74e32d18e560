package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// FileName is looked up in the working directory.
	FileName = "raillock.yaml"
	// EnvPrefix prefixes environment overrides, e.g. RAILLOCK_WEB_PORT.
	EnvPrefix = "RAILLOCK"
	// DefaultPolicyFile is the policy filename used when none is given.
	DefaultPolicyFile = "raillock_config.yaml"
)

// Config root configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Web    WebConfig    `mapstructure:"web"`
	Output OutputConfig `mapstructure:"output"`
	Log    LogConfig    `mapstructure:"log"`
	Audit  AuditConfig  `mapstructure:"audit"`
}

// ServerConfig describes the MCP server under review.
type ServerConfig struct {
	// Target is "stdio:<command> [args]" or an http(s) URL.
	Target string `mapstructure:"target"`
	// Transport selects how URLs are read: "http" (plain JSON listing) or
	// "sse" (MCP over SSE). Ignored for stdio targets.
	Transport string            `mapstructure:"transport"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Headers   map[string]string `mapstructure:"headers"`
	// Env is merged into the environment of stdio servers.
	Env map[string]string `mapstructure:"env"`
}

// UseSSE reports whether URL targets use the MCP SSE transport.
func (s ServerConfig) UseSSE() bool {
	return strings.EqualFold(strings.TrimSpace(s.Transport), "sse")
}

// WebConfig HTTP API settings
type WebConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns host:port.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// OutputConfig policy file settings
type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	Filename string `mapstructure:"filename"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// AuditConfig audit trail settings
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			Timeout:   30 * time.Second,
			Headers:   map[string]string{},
			Env:       map[string]string{},
		},
		Web: WebConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Output: OutputConfig{
			Dir:      ".",
			Filename: DefaultPolicyFile,
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(ConfigDir(), "audit.jsonl"),
		},
	}
}

// ConfigDir returns the raillock config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".raillock")
}

// ConfigPath returns the user-level config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Resolve picks the config file to read: explicit wins, then FileName in
// the working directory, then ConfigPath. It returns "" when none exists.
func Resolve(explicit string) (string, error) {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		if _, err := os.Stat(trimmed); err != nil {
			return "", fmt.Errorf("config file %s: %w", trimmed, err)
		}
		return trimmed, nil
	}
	for _, candidate := range []string{FileName, ConfigPath()} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file %s: %w", candidate, err)
		}
	}
	return "", nil
}

// Load reads the config file chosen by Resolve, applies RAILLOCK_* environment
// overrides and validates the result. Without a file the defaults apply.
func Load(explicit string) (*Config, error) {
	cfg := DefaultConfig()

	path, err := Resolve(explicit)
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.target", cfg.Server.Target)
	v.SetDefault("server.transport", cfg.Server.Transport)
	v.SetDefault("server.timeout", cfg.Server.Timeout.String())
	v.SetDefault("web.host", cfg.Web.Host)
	v.SetDefault("web.port", cfg.Web.Port)
	v.SetDefault("web.allowed_origins", cfg.Web.AllowedOrigins)
	v.SetDefault("output.dir", cfg.Output.Dir)
	v.SetDefault("output.filename", cfg.Output.Filename)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.path", cfg.Audit.Path)
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	transport := strings.ToLower(strings.TrimSpace(c.Server.Transport))
	switch transport {
	case "":
		c.Server.Transport = "http"
	case "http", "sse":
		c.Server.Transport = transport
	default:
		return fmt.Errorf("server.transport must be one of http, sse; got %q", c.Server.Transport)
	}

	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative, got %s", c.Server.Timeout)
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 1 and 65535, got %d", c.Web.Port)
	}
	if strings.TrimSpace(c.Web.Host) == "" {
		c.Web.Host = "127.0.0.1"
	}

	if strings.TrimSpace(c.Output.Dir) == "" {
		c.Output.Dir = "."
	}
	if strings.TrimSpace(c.Output.Filename) == "" {
		c.Output.Filename = DefaultPolicyFile
	}
	if strings.ContainsAny(c.Output.Filename, `/\`) {
		return fmt.Errorf("output.filename must be a bare file name, got %q", c.Output.Filename)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		return fmt.Errorf("audit.path must be non-empty when audit is enabled")
	}
	return nil
}
