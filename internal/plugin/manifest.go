package plugin

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capability names a single CI operation a plugin can serve. The plugin is
// invoked with the capability as its protocol command.
type Capability string

const (
	CapServerInfo        Capability = "server_info"
	CapPluginInfo        Capability = "plugin_info"
	CapJobsList          Capability = "jobs_list"
	CapPipeline          Capability = "pipeline"
	CapRunPipeline       Capability = "run_pipeline"
	CapStopPipeline      Capability = "stop_pipeline"
	CapSnapshotLatest    Capability = "snapshot_latest"
	CapSnapshotByNumber  Capability = "snapshot_by_number"
	CapTestDiscovery     Capability = "test_discovery"
	CapCreateExecutor    Capability = "create_executor"
	CapSuiteRun          Capability = "suite_run"
	CapTestConnectivity  Capability = "test_connectivity"
	CapUpsertCredentials Capability = "upsert_credentials"
	CapDeleteExecutor    Capability = "delete_executor"
	CapSuspendCIEvents   Capability = "suspend_ci_events"
)

// CommandType is a coarse hint for a capability. Read capabilities only
// query the CI server; write capabilities may change it. It selects the call
// timeout.
type CommandType string

const (
	CommandTypeRead  CommandType = "read"
	CommandTypeWrite CommandType = "write"
)

var capabilityTypes = map[Capability]CommandType{
	CapServerInfo:        CommandTypeRead,
	CapPluginInfo:        CommandTypeRead,
	CapJobsList:          CommandTypeRead,
	CapPipeline:          CommandTypeRead,
	CapSnapshotLatest:    CommandTypeRead,
	CapSnapshotByNumber:  CommandTypeRead,
	CapTestConnectivity:  CommandTypeRead,
	CapRunPipeline:       CommandTypeWrite,
	CapStopPipeline:      CommandTypeWrite,
	CapTestDiscovery:     CommandTypeWrite,
	CapCreateExecutor:    CommandTypeWrite,
	CapSuiteRun:          CommandTypeWrite,
	CapUpsertCredentials: CommandTypeWrite,
	CapDeleteExecutor:    CommandTypeWrite,
	CapSuspendCIEvents:   CommandTypeWrite,
}

// Known reports whether c is a capability the bridge can route to.
func (c Capability) Known() bool {
	_, ok := capabilityTypes[c]
	return ok
}

// Type returns the command type of a known capability.
func (c Capability) Type() CommandType {
	return capabilityTypes[c]
}

// KnownCapabilities lists every routable capability in sorted order.
func KnownCapabilities() []Capability {
	out := make([]Capability, 0, len(capabilityTypes))
	for c := range capabilityTypes {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Command declares a capability the plugin implements.
type Command struct {
	Name        Capability `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
}

// Commands accepts either form:
//   - string array: commands: [server_info, jobs_list]
//   - object array: commands: [{name: jobs_list, description: "..."}]
type Commands []Command

func (c *Commands) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*c = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("commands must be a sequence")
	}

	out := make([]Command, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, Command{Name: Capability(strings.TrimSpace(item.Value))})
		case yaml.MappingNode:
			var tmp Command
			if err := item.Decode(&tmp); err != nil {
				return fmt.Errorf("invalid command object: %w", err)
			}
			tmp.Name = Capability(strings.TrimSpace(string(tmp.Name)))
			out = append(out, tmp)
		default:
			return fmt.Errorf("invalid command entry (must be string or object)")
		}
	}

	*c = out
	return nil
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Protocol    int         `yaml:"protocol"`
	Entrypoint  string      `yaml:"entrypoint"`
	Description string      `yaml:"description,omitempty"`
	Commands    Commands    `yaml:"commands"`
	ConfigKeys  *ConfigKeys `yaml:"config_keys,omitempty"`
}

// ConfigKeys defines required and optional configuration keys for a plugin.
type ConfigKeys struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

// Plugin represents a discovered and validated plugin.
type Plugin struct {
	Name        string // Plugin name from manifest
	Path        string // Absolute path to plugin directory
	Entrypoint  string // Absolute path to entrypoint executable
	Protocol    int
	Version     string
	Description string
	Commands    Commands
	ConfigKeys  *ConfigKeys
}

// Supports reports whether the plugin declared capability c.
func (p *Plugin) Supports(c Capability) bool {
	return slices.ContainsFunc(p.Commands, func(cmd Command) bool { return cmd.Name == c })
}

// CheckConfig verifies that cfg carries every required config key.
func (p *Plugin) CheckConfig(cfg map[string]any) error {
	if p.ConfigKeys == nil {
		return nil
	}
	var missing []string
	for _, key := range p.ConfigKeys.Required {
		if v, ok := cfg[key]; !ok || v == nil || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("plugin %q: missing required config keys: %s", p.Name, strings.Join(missing, ", "))
	}
	return nil
}
