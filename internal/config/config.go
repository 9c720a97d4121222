// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/github-relay/config.toml",
	"configs/config.toml",
}

// DefaultAllowedDomains is the allowlist used when none is configured.
var DefaultAllowedDomains = []string{"github.com", "githubusercontent.com"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Relay     RelayConfig     `toml:"relay"`
	Allowlist AllowlistConfig `toml:"allowlist"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (18080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds settings for connections to download targets.
// The proxy fields apply only when the corresponding environment variable is unset.
type UpstreamConfig struct {
	HTTPProxy           string `toml:"http_proxy"`
	HTTPSProxy          string `toml:"https_proxy"`
	NoProxy             string `toml:"no_proxy"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	ConnectTimeoutSecs  int    `toml:"connect_timeout_seconds"`
	StallTimeoutSeconds int    `toml:"stall_timeout_seconds"` // -1 disables the stall watchdog
	IdleConnections     int    `toml:"idle_connections"`
	UserAgent           string `toml:"user_agent"`
}

// RelayConfig controls how downloads are relayed to clients.
type RelayConfig struct {
	ProbeBeforeFetch bool   `toml:"probe_before_fetch"`
	ChunkSizeBytes   int    `toml:"chunk_size_bytes"`
	FallbackFilename string `toml:"fallback_filename"`
	Marker           string `toml:"marker"`
	GitHubBaseURL    string `toml:"github_base_url"`
}

// AllowlistConfig restricts which target hosts may be relayed.
type AllowlistConfig struct {
	Enabled *bool    `toml:"enabled"` // nil means enabled
	Domains []string `toml:"domains"`
	File    string   `toml:"file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/github-relay/config.toml then configs/config.toml and falls back to the
// built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	for name, v := range map[string]int{
		"upstream.probe_timeout_seconds":   c.Upstream.ProbeTimeoutSeconds,
		"upstream.fetch_timeout_seconds":   c.Upstream.FetchTimeoutSeconds,
		"upstream.connect_timeout_seconds": c.Upstream.ConnectTimeoutSecs,
		"upstream.idle_connections":        c.Upstream.IdleConnections,
		"relay.chunk_size_bytes":           c.Relay.ChunkSizeBytes,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", name, v)
		}
	}
	if c.Upstream.StallTimeoutSeconds < -1 {
		return fmt.Errorf("upstream.stall_timeout_seconds must be -1 (disabled) or non-negative; got %d", c.Upstream.StallTimeoutSeconds)
	}
	if c.Relay.ChunkSizeBytes > 64*1024*1024 {
		return fmt.Errorf("relay.chunk_size_bytes must not exceed 64 MiB; got %d", c.Relay.ChunkSizeBytes)
	}

	// Proxy URLs may omit the scheme; anything url.Parse rejects is still an error.
	for name, v := range map[string]string{
		"upstream.http_proxy":  c.Upstream.HTTPProxy,
		"upstream.https_proxy": c.Upstream.HTTPSProxy,
	} {
		if v == "" {
			continue
		}
		if _, err := url.Parse(v); err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", name, err)
		}
	}

	if c.Relay.GitHubBaseURL != "" {
		u, err := url.Parse(c.Relay.GitHubBaseURL)
		if err != nil {
			return fmt.Errorf("relay.github_base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("relay.github_base_url must use http or https; got %q", c.Relay.GitHubBaseURL)
		}
	}
	if strings.ContainsAny(c.Relay.FallbackFilename, `/\"`) {
		return fmt.Errorf("relay.fallback_filename must be a bare file name; got %q", c.Relay.FallbackFilename)
	}

	for _, d := range c.Allowlist.Domains {
		if strings.TrimSpace(d) == "" {
			return errors.New("allowlist.domains must not contain empty entries")
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, "/")
		}
		for _, reserved := range []string{"/download", "/github", "/status", "/health"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between an
// explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 18080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024 // downloads are GETs; nothing large is expected inbound
	}
	if c.Upstream.ProbeTimeoutSeconds == 0 {
		c.Upstream.ProbeTimeoutSeconds = 10
	}
	if c.Upstream.FetchTimeoutSeconds == 0 {
		c.Upstream.FetchTimeoutSeconds = 300
	}
	if c.Upstream.ConnectTimeoutSecs == 0 {
		c.Upstream.ConnectTimeoutSecs = 30
	}
	if c.Upstream.StallTimeoutSeconds == 0 {
		c.Upstream.StallTimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "Mozilla/5.0 (compatible; github-relay-go/1.0)"
	}
	if c.Relay.ChunkSizeBytes == 0 {
		c.Relay.ChunkSizeBytes = 1024 * 1024
	}
	if c.Relay.FallbackFilename == "" {
		c.Relay.FallbackFilename = "download.bin"
	}
	if c.Relay.GitHubBaseURL == "" {
		c.Relay.GitHubBaseURL = "https://github.com"
	}
	c.Relay.GitHubBaseURL = strings.TrimRight(c.Relay.GitHubBaseURL, "/")
	if c.Allowlist.Enabled == nil {
		enabled := true
		c.Allowlist.Enabled = &enabled
	}
	if len(c.Allowlist.Domains) == 0 {
		c.Allowlist.Domains = append([]string(nil), DefaultAllowedDomains...)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AllowlistEnabled reports whether target hosts must match the allowlist.
func (c *AllowlistConfig) AllowlistEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ProbeTimeout returns the HEAD probe bound.
func (c *UpstreamConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// FetchTimeout returns the bound on reaching the GET response headers. The body is
// bounded only by StallTimeout.
func (c *UpstreamConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// ConnectTimeout returns the dial timeout.
func (c *UpstreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// StallTimeout returns how long a transfer may go without receiving bytes.
// Zero disables the check.
func (c *UpstreamConfig) StallTimeout() time.Duration {
	if c.StallTimeoutSeconds < 0 {
		return 0
	}
	return time.Duration(c.StallTimeoutSeconds) * time.Second
}

// FilePath returns the config file that was loaded, or empty when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// Proxy URLs in the file may carry credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
