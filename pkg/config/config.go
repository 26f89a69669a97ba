// Package config defines the runtime configuration structs and parsing
// helpers for the control-plane process. The file is read once by Load; this
// package does not watch it for changes.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ionmandns/pkg/storage"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
//
//nolint:fieldalignment // Struct is organized for readability; padding cost is acceptable.
type Config struct {
	Telemetry    TelemetryConfig `yaml:"telemetry"`
	Server       ServerConfig    `yaml:"server"`
	Resolver     ResolverConfig  `yaml:"resolver"`
	Rules        RulesConfig     `yaml:"rules"`
	Firewall     FirewallConfig  `yaml:"firewall"`
	Logging      LoggingConfig   `yaml:"logging"`
	Database     storage.Config  `yaml:"database"`
	ReloadPeriod time.Duration   `yaml:"reload_period"`
}

// ServerConfig holds the Front Proxy's listener settings.
type ServerConfig struct {
	ListenAddress string            `yaml:"listen_address"` // UDP:53 by default
	QueryLogger   QueryLoggerConfig `yaml:"query_logger"`
}

// QueryLoggerConfig holds the single-consumer query log queue settings.
type QueryLoggerConfig struct {
	Enabled    bool `yaml:"enabled"`     // default: true
	BufferSize int  `yaml:"buffer_size"` // default: 50000
	BatchSize  int  `yaml:"batch_size"`  // default: 500
}

// ResolverConfig holds the Recursive Resolver's settings.
type ResolverConfig struct {
	ListenAddress   string           `yaml:"listen_address"`
	Upstreams       []UpstreamConfig `yaml:"upstreams"`
	AttemptTimeout  time.Duration    `yaml:"attempt_timeout"`  // default: 3s
	Cache           CacheConfig      `yaml:"cache"`
	StatusInterval  time.Duration    `yaml:"status_interval"`  // default: 3s
	StatusPath      string           `yaml:"status_path"`      // JSON status sink, default: /run/ionmandns/status.json
}

// UpstreamConfig describes one candidate upstream resolver.
type UpstreamConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"` // "udp" or "tls"
	ServerName string `yaml:"server_name,omitempty"` // SNI/verification name, TLS only
}

// CacheConfig holds the resolver's answer cache settings.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"` // default: 5000
	MinTTL     time.Duration `yaml:"min_ttl"`      // default: 60s
	MaxTTL     time.Duration `yaml:"max_ttl"`      // default: 24h
}

// RulesConfig points at the hot-reloaded category/game definition files.
type RulesConfig struct {
	CategoriesPath string `yaml:"categories_path"` // default: ./categories.json
	GamesPath      string `yaml:"games_path"`      // default: ./games.json
}

// FirewallConfig controls the Port Rule Compiler's nftables install target.
type FirewallConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Table      string `yaml:"table"`      // default: ionman
	Chain      string `yaml:"chain"`      // default: port_block
	AutoDetect bool   `yaml:"auto_detect"` // parsed only; no component reads it and no auto-detect pass exists
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	Enabled           bool   `yaml:"enabled"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
}

// Load loads the configuration from a YAML file.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by user via CLI flag, this is intentional
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults.
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config for cloning: %w", err)
	}

	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config clone: %w", err)
	}

	clone.applyDefaults()
	return &clone, nil
}

// Save writes the configuration back to a YAML file, atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":53"
	}
	if !c.Server.QueryLogger.Enabled && c.Server.QueryLogger.BufferSize == 0 && c.Server.QueryLogger.BatchSize == 0 {
		c.Server.QueryLogger.Enabled = true
	}
	if c.Server.QueryLogger.BufferSize == 0 {
		c.Server.QueryLogger.BufferSize = 50000
	}
	if c.Server.QueryLogger.BatchSize == 0 {
		c.Server.QueryLogger.BatchSize = 500
	}

	if c.Resolver.ListenAddress == "" {
		c.Resolver.ListenAddress = "127.0.0.1:5300"
	}
	if len(c.Resolver.Upstreams) == 0 {
		c.Resolver.Upstreams = []UpstreamConfig{
			{Host: "1.1.1.1", Port: 53, Transport: "udp"},
			{Host: "8.8.8.8", Port: 53, Transport: "udp"},
		}
	}
	if c.Resolver.AttemptTimeout == 0 {
		c.Resolver.AttemptTimeout = 3 * time.Second
	}
	if c.Resolver.StatusInterval == 0 {
		c.Resolver.StatusInterval = 3 * time.Second
	}
	if c.Resolver.StatusPath == "" {
		c.Resolver.StatusPath = "/run/ionmandns/status.json"
	}
	if c.Resolver.Cache.MaxEntries == 0 {
		c.Resolver.Cache.MaxEntries = 5000
	}
	if c.Resolver.Cache.MinTTL == 0 {
		c.Resolver.Cache.MinTTL = 60 * time.Second
	}
	if c.Resolver.Cache.MaxTTL == 0 {
		c.Resolver.Cache.MaxTTL = 24 * time.Hour
	}

	if c.Rules.CategoriesPath == "" {
		c.Rules.CategoriesPath = "./categories.json"
	}
	if c.Rules.GamesPath == "" {
		c.Rules.GamesPath = "./games.json"
	}

	if c.Firewall.Table == "" {
		c.Firewall.Table = "ionman"
	}
	if c.Firewall.Chain == "" {
		c.Firewall.Chain = "port_block"
	}

	if c.ReloadPeriod == 0 {
		c.ReloadPeriod = 30 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = storage.DefaultConfig().Path
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = storage.DefaultConfig().BusyTimeout
	}
	if c.Database.CacheSize == 0 {
		c.Database.CacheSize = storage.DefaultConfig().CacheSize
	}
	if c.Database.MMapSize == 0 {
		c.Database.MMapSize = storage.DefaultConfig().MMapSize
	}
	if c.Database.QueryBatch == 0 {
		c.Database.QueryBatch = storage.DefaultConfig().QueryBatch
	}
	if c.Database.RetentionDays == 0 {
		c.Database.RetentionDays = storage.DefaultConfig().RetentionDays
	}
	if c.Database.FlushInterval == 0 {
		c.Database.FlushInterval = storage.DefaultConfig().FlushInterval
	}
	c.Database.WALMode = true

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "ionmandns"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

const (
	envDBPath   = "IONMANDNS_DB_PATH"
	envListen   = "IONMANDNS_LISTEN_ADDRESS"
	envLogLevel = "IONMANDNS_LOG_LEVEL"
)

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(envDBPath)); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(envListen)); v != "" {
		c.Server.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}

	if len(c.Resolver.Upstreams) == 0 {
		return fmt.Errorf("resolver.upstreams must have at least one entry")
	}
	for i, u := range c.Resolver.Upstreams {
		if u.Host == "" {
			return fmt.Errorf("resolver.upstreams[%d].host cannot be empty", i)
		}
		if u.Transport != "udp" && u.Transport != "tls" {
			return fmt.Errorf("resolver.upstreams[%d].transport must be 'udp' or 'tls'", i)
		}
	}
	if c.Resolver.Cache.MinTTL > c.Resolver.Cache.MaxTTL {
		return fmt.Errorf("resolver.cache.min_ttl cannot exceed max_ttl")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	return nil
}
