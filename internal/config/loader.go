package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const configFilename = "config.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates a configuration file.
// configPath may be a file or a directory containing config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, configFilename)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", configFilename, absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	// Relative paths are resolved against the config file's directory.
	baseDir := filepath.Dir(absPath)
	cfg.State.Path = resolvePath(baseDir, cfg.State.Path)
	cfg.Plugin.Dir = resolvePath(baseDir, cfg.Plugin.Dir)

	if cfg.Service.InstanceID == "" {
		cfg.Service.InstanceID = DeriveInstanceID(cfg.State.Path)
	}
	return cfg, nil
}

// Parse decodes YAML config bytes on top of Defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config by checking standard locations.
// Priority order: $CIBRIDGE_CONFIG, ~/.config/cibridge, /etc/cibridge, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("CIBRIDGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "cibridge", configFilename)
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := filepath.Join("/etc/cibridge", configFilename)
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	if _, err := os.Stat(configFilename); err == nil {
		return configFilename, nil
	}

	return "", fmt.Errorf("no config found (checked: $CIBRIDGE_CONFIG, ~/.config/cibridge, /etc/cibridge, ./config.yaml)")
}

// DeriveInstanceID returns a stable UUID for this host and state path, so a
// bridge keeps its identity across restarts without explicit configuration.
func DeriveInstanceID(statePath string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("cibridge://"+host+"/"+statePath)).String()
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()
	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.Workers <= 0 {
		cfg.Service.Workers = defaults.Service.Workers
	}
	if cfg.Plugin.Timeouts == nil {
		cfg.Plugin.Timeouts = DefaultTimeouts()
	}
	if cfg.Plugin.Timeouts.Read <= 0 {
		cfg.Plugin.Timeouts.Read = defaults.Plugin.Timeouts.Read
	}
	if cfg.Plugin.Timeouts.Write <= 0 {
		cfg.Plugin.Timeouts.Write = defaults.Plugin.Timeouts.Write
	}
	if cfg.Plugin.Config == nil {
		cfg.Plugin.Config = make(map[string]any)
	}
	return cfg
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate rejects it where it matters.
		return match
	})
}

func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.Plugin.Dir == "" {
		return fmt.Errorf("plugin.dir is required")
	}
	if cfg.Plugin.Name == "" {
		return fmt.Errorf("plugin.name is required")
	}
	if err := checkUnresolvedEnvVars(cfg.Plugin.Config, "plugin.config"); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth requires api_key or tokens when api is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := unresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		if err := validateWebhooks(cfg.Webhooks); err != nil {
			return err
		}
	}

	return nil
}

func validateWebhooks(wc *WebhooksConfig) error {
	if wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when endpoints are configured")
	}
	seen := make(map[string]bool, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		prefix := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with /", prefix)
		}
		if seen[ep.Path] {
			return fmt.Errorf("%s.path %q is duplicated", prefix, ep.Path)
		}
		seen[ep.Path] = true
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", prefix)
		}
		if err := unresolved(prefix+".secret", ep.Secret); err != nil {
			return err
		}
	}
	return nil
}

func unresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

func checkUnresolvedEnvVars(data map[string]any, prefix string) error {
	for key, value := range data {
		field := prefix + "." + key
		switch v := value.(type) {
		case string:
			if err := unresolved(field, v); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, field); err != nil {
				return err
			}
		}
	}
	return nil
}
