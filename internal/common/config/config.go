// Package config provides configuration management for the agor daemon.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the agor daemon.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Events   EventsConfig   `mapstructure:"events"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Docker   DockerConfig   `mapstructure:"docker"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds entity-store connection configuration. Driver is
// selected by AGOR_DB_DIALECT / DATABASE_URL per the external interface
// contract; sqlite is the default for a single-user local daemon.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // "sqlite" or "postgresql"
	Path     string `mapstructure:"path"`   // sqlite file path; a relative path is resolved against the working directory
	URL      string `mapstructure:"url"`    // DATABASE_URL, used verbatim for postgresql
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// EventsConfig configures the event bus (C2).
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances
	// when backed by NATS. Empty means derive from the daemon's local identity.
	Namespace string `mapstructure:"namespace"`
}

// NATSConfig holds NATS messaging configuration for the optional NATS
// event-bus backend. An empty URL means use the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds bearer-token signing configuration (§6 External Interfaces).
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwtSecret"`
	TokenDuration        int    `mapstructure:"tokenDuration"`        // client token TTL, seconds (default 7d)
	ExecutorTokenDuration int   `mapstructure:"executorTokenDuration"` // short-lived executor session token TTL, seconds
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// WorktreeConfig configures the git-worktree collaborator (§1, out of core
// scope but still owned by the daemon's state directory).
type WorktreeConfig struct {
	BasePath      string `mapstructure:"basePath"`      // default: ~/.agor/worktrees
	DefaultBranch string `mapstructure:"defaultBranch"` // default: main
	CleanupOnRemove bool `mapstructure:"cleanupOnRemove"`
}

// MCPConfig configures the MCP resolver (C7).
type MCPConfig struct {
	// UserEnvKeys is the allow-listed subset of env names exposable to MCP
	// templates, i.e. AGOR_USER_ENV_KEYS from §6.
	UserEnvKeys []string `mapstructure:"userEnvKeys"`
}

// ExecutorConfig configures how the scheduler (C4) spawns executor (C5)
// subprocesses.
type ExecutorConfig struct {
	BinaryPath       string `mapstructure:"binaryPath"`
	MaxConcurrent    int    `mapstructure:"maxConcurrent"`
	GracePeriodSec   int    `mapstructure:"gracePeriodSec"`   // cancellation grace window, default 5s
	PermissionTimeoutSec int `mapstructure:"permissionTimeoutSec"` // default 30s, never below 30s
}

// TerminalConfig configures the Terminal Service (C8, interface-only per
// §4.8): PTY defaults and whether sessions bound to a worktree should share
// a per-user tmux session instead of a bare ephemeral PTY.
type TerminalConfig struct {
	PreferTmux   bool   `mapstructure:"preferTmux"`
	TmuxPrefix   string `mapstructure:"tmuxPrefix"` // session name prefix, default "agor-"
	DefaultShell string `mapstructure:"defaultShell"`
	DefaultCols  int    `mapstructure:"defaultCols"`
	DefaultRows  int    `mapstructure:"defaultRows"`
	Sandboxed    bool   `mapstructure:"sandboxed"` // run PTYs inside a Docker container instead of the host
	SandboxImage string `mapstructure:"sandboxImage"`
}

// DockerConfig configures the optional sandboxed terminal/executor backend.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the client token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// ExecutorTokenDurationTime returns the executor session-token duration.
func (a *AuthConfig) ExecutorTokenDurationTime() time.Duration {
	return time.Duration(a.ExecutorTokenDuration) * time.Second
}

// GracePeriod returns the cancellation grace window as a time.Duration.
func (e *ExecutorConfig) GracePeriod() time.Duration {
	return time.Duration(e.GracePeriodSec) * time.Second
}

// PermissionTimeout returns the permission-prompt timeout as a time.Duration.
func (e *ExecutorConfig) PermissionTimeout() time.Duration {
	return time.Duration(e.PermissionTimeoutSec) * time.Second
}

// detectDefaultLogFormat returns "json" in container/production environments
// and "text" for interactive terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGOR_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// defaultStateDir returns ~/.agor, the persisted-state layout root (§6).
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agor"
	}
	return filepath.Join(home, ".agor")
}

// StateDir exposes defaultStateDir beyond this package, for components
// (CLI token cache, vendor transcript import markers) that live under
// ~/.agor/ but aren't their own Config section.
func StateDir() string {
	return defaultStateDir()
}

// ImportCacheDir returns ~/.agor/import-cache/<vendor>, where each vendor
// family's importer records one dedup marker per imported transcript,
// keyed by vendor resume token (§6: "no-op if session already exists with
// matching vendor resume token").
func ImportCacheDir(vendor string) string {
	return filepath.Join(defaultStateDir(), "import-cache", vendor)
}

// CLITokenPath returns ~/.agor/cli-token, the mode-0600 CLI auth token
// cache (§6).
func CLITokenPath() string {
	return filepath.Join(defaultStateDir(), "cli-token")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(defaultStateDir(), "agor.db"))
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("events.namespace", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agor")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 7*24*3600)
	v.SetDefault("auth.executorTokenDuration", 6*3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("worktree.basePath", filepath.Join(defaultStateDir(), "worktrees"))
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.cleanupOnRemove", true)

	v.SetDefault("mcp.userEnvKeys", []string{})

	v.SetDefault("executor.binaryPath", "")
	v.SetDefault("executor.maxConcurrent", 8)
	v.SetDefault("executor.gracePeriodSec", 5)
	v.SetDefault("executor.permissionTimeoutSec", 30)

	v.SetDefault("terminal.preferTmux", true)
	v.SetDefault("terminal.tmuxPrefix", "agor-")
	v.SetDefault("terminal.defaultShell", defaultShell())
	v.SetDefault("terminal.defaultCols", 80)
	v.SetDefault("terminal.defaultRows", 24)
	v.SetDefault("terminal.sandboxed", false)
	v.SetDefault("terminal.sandboxImage", "")

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.apiVersion", "")
}

// defaultShell returns the interactive login shell for ephemeral PTYs,
// falling back to a portable default when $SHELL is unset (e.g. Windows).
func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Load reads configuration from environment variables, config file, and
// defaults using default search locations.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations. Environment variables use the AGOR_ prefix with underscore
// nesting (AGOR_SERVER_PORT, AGOR_DB_DIALECT, AGOR_USER_ENV_KEYS, ...).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// §6 names these env vars explicitly; bind them onto the nested keys
	// AutomaticEnv's naive replacer would otherwise miss.
	_ = v.BindEnv("database.driver", "AGOR_DB_DIALECT")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("mcp.userEnvKeys", "AGOR_USER_ENV_KEYS")
	_ = v.BindEnv("logging.level", "AGOR_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(defaultStateDir())
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agor/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if raw := os.Getenv("AGOR_USER_ENV_KEYS"); raw != "" {
		cfg.MCP.UserEnvKeys = splitAndTrim(raw)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks that configuration is internally consistent. Most fields
// have workable defaults for local single-user operation.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite driver")
		}
	case "postgresql", "postgres":
		if cfg.Database.URL == "" {
			errs = append(errs, "database.url (DATABASE_URL) is required for postgresql driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be sqlite or postgresql, got %q", cfg.Database.Driver))
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.Executor.PermissionTimeoutSec < 30 {
		// §5 Concurrency & Resource Model: permission prompts never time out
		// in under 30s.
		cfg.Executor.PermissionTimeoutSec = 30
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// generateDevSecret produces a non-empty placeholder signing secret for
// development. Production deployments should set AGOR_AUTH_JWTSECRET.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
