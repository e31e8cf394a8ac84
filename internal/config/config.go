// Package config provides configuration management for the monoturn server.
// It handles loading and parsing the YAML configuration file and provides
// structured access to application settings: listen address, upstream
// endpoint, collapse policy, scaffold captures, catalog refresh, OAuth, and
// logging.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the HTTP server binds to.
	Host string `yaml:"host" json:"host"`

	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port"`

	// RequestLog enables detailed request logging.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// APIKeys is a list of keys for authenticating clients to this server.
	// Empty means no client authentication.
	APIKeys []string `yaml:"api-keys,omitempty" json:"api-keys,omitempty"`

	// Upstream describes the chat completion endpoint requests are collapsed for.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// Collapse holds the loop-detection policy limits.
	Collapse CollapseConfig `yaml:"collapse" json:"collapse"`

	// Scaffold points at optional captured scaffold blocks overriding the
	// built-in templates.
	Scaffold ScaffoldConfig `yaml:"scaffold,omitempty" json:"scaffold,omitempty"`

	// Catalog configures periodic fetching of the remote model catalog.
	Catalog CatalogConfig `yaml:"catalog,omitempty" json:"catalog,omitempty"`

	// OAuth configures the authorization-code login flow for the upstream.
	OAuth OAuthConfig `yaml:"oauth,omitempty" json:"oauth,omitempty"`

	// Logging configures log level and optional file rotation.
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// UpstreamConfig describes the upstream single-turn endpoint.
type UpstreamConfig struct {
	// URL is the chat completions endpoint requests are forwarded to.
	URL string `yaml:"url" json:"url"`

	// Model overrides the model field of forwarded requests when set.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Dialect selects the upstream wire format adapter ("chat" or "prompt").
	// Empty means chat.
	Dialect string `yaml:"dialect,omitempty" json:"dialect,omitempty"`

	// TimeoutSeconds bounds one upstream round trip. <= 0 selects the default.
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// CollapseConfig holds the loop-detection thresholds. They are policy
// constants, deliberately configuration rather than hard-coded logic.
type CollapseConfig struct {
	// FamilyThreshold is the per-family inspection limit; a family is
	// suppressed once its running count exceeds this. <= 0 selects the
	// default (4).
	FamilyThreshold int `yaml:"family-threshold,omitempty" json:"family-threshold,omitempty"`

	// GlobalThreshold is the cumulative inspections-since-mutation limit.
	// <= 0 selects the default (8).
	GlobalThreshold int `yaml:"global-threshold,omitempty" json:"global-threshold,omitempty"`
}

// ScaffoldConfig points at captured scaffold block files.
type ScaffoldConfig struct {
	// ProgressFile overrides the progress checklist block when set.
	ProgressFile string `yaml:"progress-file,omitempty" json:"progress-file,omitempty"`

	// EnvironmentFile overrides the environment description block when set.
	EnvironmentFile string `yaml:"environment-file,omitempty" json:"environment-file,omitempty"`
}

// CatalogConfig configures remote model catalog refresh and caching.
type CatalogConfig struct {
	// URL is the remote catalog endpoint. Empty disables remote refresh.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// RefreshSeconds is how long a fetched catalog stays fresh. <= 0 selects
	// the default (3600).
	RefreshSeconds int `yaml:"refresh-seconds,omitempty" json:"refresh-seconds,omitempty"`

	// CacheFile persists the last fetched catalog across restarts.
	CacheFile string `yaml:"cache-file,omitempty" json:"cache-file,omitempty"`
}

// OAuthConfig configures the authorization-code exchange with the upstream
// identity provider.
type OAuthConfig struct {
	// ClientID identifies this application to the provider.
	ClientID string `yaml:"client-id,omitempty" json:"client-id,omitempty"`

	// AuthURL is the provider's authorization endpoint.
	AuthURL string `yaml:"auth-url,omitempty" json:"auth-url,omitempty"`

	// TokenURL is the provider's token endpoint.
	TokenURL string `yaml:"token-url,omitempty" json:"token-url,omitempty"`

	// Scopes lists the requested OAuth scopes.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// CallbackPort is the local loopback port for the redirect listener.
	// <= 0 selects the default (8765).
	CallbackPort int `yaml:"callback-port,omitempty" json:"callback-port,omitempty"`

	// TokenFile is where the exchanged token is persisted.
	TokenFile string `yaml:"token-file,omitempty" json:"token-file,omitempty"`
}

// LoggingConfig configures the shared logger.
type LoggingConfig struct {
	// Level is a logrus level name ("debug", "info", ...). Empty means info.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// File enables rotated file output when set; empty logs to stderr only.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// MaxSizeMB is the rotation size limit per log file.
	MaxSizeMB int `yaml:"max-size-mb,omitempty" json:"max-size-mb,omitempty"`

	// MaxBackups is how many rotated files to retain.
	MaxBackups int `yaml:"max-backups,omitempty" json:"max-backups,omitempty"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file at path, applying defaults for
// every unset field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 8317
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 300
	}
	if c.Upstream.Dialect == "" {
		c.Upstream.Dialect = "chat"
	}
	if c.Collapse.FamilyThreshold <= 0 {
		c.Collapse.FamilyThreshold = 4
	}
	if c.Collapse.GlobalThreshold <= 0 {
		c.Collapse.GlobalThreshold = 8
	}
	if c.Catalog.RefreshSeconds <= 0 {
		c.Catalog.RefreshSeconds = 3600
	}
	if c.OAuth.CallbackPort <= 0 {
		c.OAuth.CallbackPort = 8765
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
}

// UpstreamTimeout returns the upstream round-trip timeout as a duration.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// CatalogTTL returns the catalog freshness window as a duration.
func (c *Config) CatalogTTL() time.Duration {
	return time.Duration(c.Catalog.RefreshSeconds) * time.Second
}
