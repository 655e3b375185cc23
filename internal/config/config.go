// Package config handles TOML configuration loading and validation.
package config

import (
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
	"/etc/backoffice-proxy/config.toml",
	"configs/config.toml",
}

// Reserved routes that the namespace and metrics path must not shadow.
const (
	HealthzPath = "/healthz"
	StatusPath  = "/proxy/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL    string `kong:"help='Core API base URL (overrides config).',env='NEXT_PUBLIC_API_URL'"`
	PaymentSecret string `kong:"help='Payment gateway secret key (overrides config).',env='TOSS_SECRET_KEY'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Payment PaymentConfig `toml:"payment"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3001)
	Namespace    string          `toml:"namespace"`
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig describes the Core API the generic forwarder targets.
type BackendConfig struct {
	BaseURL          string   `toml:"base_url"`
	APIRoot          string   `toml:"api_root"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
	IdleConnections  int      `toml:"idle_connections"`
	MaxResponseBytes int64    `toml:"max_response_bytes"`
	AllowedPrefixes  []string `toml:"allowed_prefixes"` // empty allows every path
}

// PaymentConfig describes the payment gateway confirmation endpoint.
type PaymentConfig struct {
	Path           string `toml:"path"`
	ConfirmURL     string `toml:"confirm_url"`
	SecretKey      string `toml:"secret_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
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

// Defaults used when neither the config file nor the environment set a value.
const (
	DefaultBackendURL = "http://localhost:10010"
	DefaultConfirmURL = "https://api.tosspayments.com/v1/payments/confirm"
	DefaultNamespace  = "/api/proxy"
	DefaultAPIRoot    = "/api"
	DefaultTimeout    = 15 // seconds

	DefaultMaxResponseBytes = 32 << 20
)

// Load reads the optional TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/backoffice-proxy/config.toml then configs/config.toml, and falls back
// to built-in defaults if neither exists.
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
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
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
	if cli.BackendURL != "" {
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.PaymentSecret != "" {
		c.Payment.SecretKey = cli.PaymentSecret
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) URL; got %q", c.Backend.BaseURL)
	}
	if !strings.HasPrefix(c.Backend.APIRoot, "/") {
		return fmt.Errorf("backend.api_root must start with '/'; got %q", c.Backend.APIRoot)
	}

	// The gateway receives a Basic credential, so plain HTTP is refused.
	pu, err := url.Parse(c.Payment.ConfirmURL)
	if err != nil {
		return fmt.Errorf("payment.confirm_url is not a valid URL: %w", err)
	}
	if pu.Scheme != "https" {
		return fmt.Errorf("payment.confirm_url must use HTTPS; got %q", c.Payment.ConfirmURL)
	}

	if err := checkRoute("server.namespace", c.Server.Namespace); err != nil {
		return err
	}
	if c.Server.Namespace == "/" {
		return fmt.Errorf("server.namespace must not be the root path")
	}
	if err := checkRoute("payment.path", c.Payment.Path); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be non-negative; got %d", c.Backend.TimeoutSeconds)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Backend.MaxResponseBytes < 0 {
		return fmt.Errorf("backend.max_response_bytes must be non-negative; got %d", c.Backend.MaxResponseBytes)
	}
	if c.Payment.TimeoutSeconds < 0 {
		return fmt.Errorf("payment.timeout_seconds must be non-negative; got %d", c.Payment.TimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p == "" || p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{c.Server.Namespace, c.Payment.Path, HealthzPath, StatusPath} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func checkRoute(field, p string) error {
	if p == "" || p[0] != '/' {
		return fmt.Errorf("%s must start with '/'; got %q", field, p)
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		return fmt.Errorf("%s must not end with '/'; got %q", field, p)
	}
	if p == HealthzPath || p == StatusPath {
		return fmt.Errorf("%s %q conflicts with reserved route", field, p)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Server.Namespace == "" {
		c.Server.Namespace = DefaultNamespace
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendURL
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.APIRoot == "" {
		c.Backend.APIRoot = DefaultAPIRoot
	}
	c.Backend.APIRoot = "/" + strings.Trim(c.Backend.APIRoot, "/")
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = DefaultTimeout
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Backend.MaxResponseBytes == 0 {
		c.Backend.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if c.Payment.Path == "" {
		c.Payment.Path = "/api/payments/confirm"
	}
	if c.Payment.ConfirmURL == "" {
		c.Payment.ConfirmURL = DefaultConfirmURL
	}
	if c.Payment.TimeoutSeconds == 0 {
		c.Payment.TimeoutSeconds = DefaultTimeout
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

// Timeout returns the outbound deadline for Core API calls.
func (c *BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the outbound deadline for gateway calls.
func (c *PaymentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether a secret key is available.
func (c *PaymentConfig) Configured() bool {
	return c.SecretKey != ""
}

// WarnPermissions logs a warning if the config file is readable by group or others.
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
