package config

import "time"

// Config represents the complete cibridge configuration.
type Config struct {
	Service  ServiceConfig   `yaml:"service"`
	State    StateConfig     `yaml:"state"`
	API      APIConfig       `yaml:"api,omitempty"`
	Webhooks *WebhooksConfig `yaml:"webhooks,omitempty"`
	Plugin   PluginConfig    `yaml:"plugin"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name string `yaml:"name"`
	// InstanceID is reported as serviceId on every task result. When empty a
	// stable id is derived from the host name and state path.
	InstanceID       string        `yaml:"instance_id"`
	LogLevel         string        `yaml:"log_level"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	Workers          int           `yaml:"workers"`
	TaskLogRetention time.Duration `yaml:"task_log_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Listen         string        `yaml:"listen"`
	Auth           APIAuthConfig `yaml:"auth"`
	MaxSyncTimeout time.Duration `yaml:"max_sync_timeout,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines HMAC-signed task intake endpoints served on their
// own listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint is one signed intake path.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// PluginConfig selects the CI plugin that implements the capability set.
type PluginConfig struct {
	Dir      string          `yaml:"dir"`
	Name     string          `yaml:"name"`
	Config   map[string]any  `yaml:"config,omitempty"`
	Timeouts *TimeoutsConfig `yaml:"timeouts,omitempty"`
}

// TimeoutsConfig bounds plugin calls by command type.
type TimeoutsConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "cibridge",
			LogLevel:         "info",
			TickInterval:     time.Second,
			Workers:          1,
			TaskLogRetention: 7 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled:        false,
			Listen:         "127.0.0.1:8080",
			MaxSyncTimeout: 2 * time.Minute,
		},
		Plugin: PluginConfig{
			Dir:      "./plugins",
			Timeouts: DefaultTimeouts(),
		},
	}
}

// DefaultTimeouts returns default plugin call timeouts.
func DefaultTimeouts() *TimeoutsConfig {
	return &TimeoutsConfig{
		Read:  30 * time.Second,
		Write: 2 * time.Minute,
	}
}
