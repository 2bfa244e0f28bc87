package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SupportedProtocol is the plugin envelope version this bridge speaks.
	SupportedProtocol = 1
	manifestFilename  = "manifest.yaml"
)

// Registry holds discovered plugins indexed by name.
type Registry struct {
	plugins map[string]*Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*Plugin)}
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all registered plugins.
func (r *Registry) All() map[string]*Plugin {
	return r.plugins
}

// Add registers a plugin in the registry.
func (r *Registry) Add(plugin *Plugin) error {
	if _, exists := r.plugins[plugin.Name]; exists {
		return fmt.Errorf("plugin %q already registered", plugin.Name)
	}
	r.plugins[plugin.Name] = plugin
	return nil
}

// Discover scans pluginsDir for manifest.yaml files and validates each plugin.
// Invalid plugins are logged and skipped; duplicate names keep the first one
// found.
func Discover(pluginsDir string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	if strings.TrimSpace(pluginsDir) == "" {
		return nil, fmt.Errorf("plugin directory is required")
	}

	root, err := filepath.Abs(pluginsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin directory %q: %w", pluginsDir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plugin directory does not exist: %s", root)
		}
		return nil, fmt.Errorf("failed to stat plugin directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugin directory is not a directory: %s", root)
	}

	registry := NewRegistry()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFilename {
			return nil
		}

		pluginPath := filepath.Dir(path)
		plugin, err := loadPlugin(pluginPath, root)
		if err != nil {
			logger("warn", "failed to load plugin", "path", pluginPath, "error", err.Error())
			return nil
		}

		if err := registry.Add(plugin); err != nil {
			existing, _ := registry.Get(plugin.Name)
			logger("warn", "duplicate plugin ignored (keeping first discovered)",
				"plugin", plugin.Name, "ignored_path", plugin.Path, "kept_path", existing.Path)
			return nil
		}

		logger("info", "loaded plugin", "plugin", plugin.Name, "path", plugin.Path,
			"version", plugin.Version, "capabilities", len(plugin.Commands))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan plugin directory %s: %w", root, err)
	}
	return registry, nil
}

func loadPlugin(pluginPath, root string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	entrypoint := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrust(entrypoint, pluginPath, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Plugin{
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypoint,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Description: manifest.Description,
		Commands:    manifest.Commands,
		ConfigKeys:  manifest.ConfigKeys,
	}, nil
}

func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Protocol != SupportedProtocol {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", m.Protocol, SupportedProtocol)
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	if len(m.Commands) == 0 {
		return fmt.Errorf("at least one capability must be declared")
	}

	seen := make(map[Capability]bool, len(m.Commands))
	for _, cmd := range m.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("command name is required")
		}
		if !cmd.Name.Known() {
			return fmt.Errorf("unknown capability %q", cmd.Name)
		}
		if seen[cmd.Name] {
			return fmt.Errorf("capability %q declared twice", cmd.Name)
		}
		seen[cmd.Name] = true
	}
	return nil
}

// validateTrust requires the entrypoint to resolve inside both the plugin
// directory and root, be executable, and the plugin directory to not be
// world-writable.
func validateTrust(entrypoint, pluginPath, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypoint)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin root symlink %s: %w", root, err)
	}

	sep := string(os.PathSeparator)
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+sep) {
		return fmt.Errorf("entrypoint %s is not under plugin root %s", resolvedEntrypoint, resolvedRoot)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+sep) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}
	return nil
}
