// Package doctor checks a loaded cibridge configuration against the
// discovered plugins and reports which task routes will work.
package doctor

import (
	"fmt"
	"net"
	"slices"
	"sort"

	"github.com/mattjoyce/cibridge/internal/auth"
	"github.com/mattjoyce/cibridge/internal/config"
	"github.com/mattjoyce/cibridge/internal/plugin"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []Issue  `json:"warnings,omitempty"`
	Routes   []Route  `json:"routes,omitempty"`
	Plugin   string   `json:"plugin,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Route reports whether the selected plugin can serve a task route.
type Route struct {
	Name    string   `json:"name"`
	Served  bool     `json:"served"`
	Missing []string `json:"missing,omitempty"`
}

// routeCapabilities lists what each task route calls. suspend_status is
// absent because the bridge stores the flag itself.
var routeCapabilities = []struct {
	route string
	caps  []plugin.Capability
}{
	{"status", []plugin.Capability{plugin.CapServerInfo}},
	{"jobs_list", []plugin.Capability{plugin.CapJobsList}},
	{"job_detail", []plugin.Capability{plugin.CapPipeline}},
	{"pipeline_run", []plugin.Capability{plugin.CapRunPipeline}},
	{"pipeline_stop", []plugin.Capability{plugin.CapStopPipeline}},
	{"snapshot_latest", []plugin.Capability{plugin.CapSnapshotLatest}},
	{"snapshot_by_number", []plugin.Capability{plugin.CapSnapshotByNumber}},
	{"executor_init", []plugin.Capability{plugin.CapTestDiscovery, plugin.CapCreateExecutor}},
	{"executor_suite_run", []plugin.Capability{plugin.CapSuiteRun}},
	{"executor_test_conn", []plugin.Capability{plugin.CapTestConnectivity}},
	{"executor_credentials_upsert", []plugin.Capability{plugin.CapUpsertCredentials}},
	{"executor_delete", []plugin.Capability{plugin.CapDeleteExecutor}},
}

var knownScopes = []string{auth.ScopeAll, auth.ScopeTasksRO, auth.ScopeTasksRW, auth.ScopeEventsRO, "events:rw"}

// minSecretLen is the shortest webhook secret accepted without a warning.
const minSecretLen = 16

// Doctor validates configuration against discovered plugins.
type Doctor struct {
	cfg      *config.Config
	registry *plugin.Registry
}

// New creates a Doctor from a loaded config and plugin registry.
func New(cfg *config.Config, registry *plugin.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validatePlugin(r)
	d.validateTimeouts(r)
	d.validateAPI(r)
	d.validateWebhooks(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validatePlugin(r *Result) {
	name := d.cfg.Plugin.Name
	p, ok := d.registry.Get(name)
	if !ok {
		d.addError(r, "plugin", "plugin.name", fmt.Sprintf("plugin %q not found in %s", name, d.cfg.Plugin.Dir))
		return
	}
	r.Plugin = p.Name
	for _, c := range p.Commands {
		r.Commands = append(r.Commands, string(c.Name))
	}
	sort.Strings(r.Commands)

	if err := p.CheckConfig(d.cfg.Plugin.Config); err != nil {
		d.addError(r, "plugin", "plugin.config", err.Error())
	}
	if p.ConfigKeys != nil {
		keys := make([]string, 0, len(d.cfg.Plugin.Config))
		for k := range d.cfg.Plugin.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !slices.Contains(p.ConfigKeys.Required, k) && !slices.Contains(p.ConfigKeys.Optional, k) {
				d.addWarning(r, "plugin", "plugin.config."+k, fmt.Sprintf("plugin %q does not declare config key %q", name, k))
			}
		}
	}

	for _, rc := range routeCapabilities {
		route := Route{Name: rc.route, Served: true}
		for _, c := range rc.caps {
			if !p.Supports(c) {
				route.Served = false
				route.Missing = append(route.Missing, string(c))
			}
		}
		if !route.Served {
			d.addWarning(r, "capabilities", "", fmt.Sprintf("route %s will answer 501: plugin lacks %v", rc.route, route.Missing))
		}
		r.Routes = append(r.Routes, route)
	}
}

func (d *Doctor) validateTimeouts(r *Result) {
	t := d.cfg.Plugin.Timeouts
	if t == nil {
		return
	}
	if t.Read > t.Write {
		d.addWarning(r, "plugin", "plugin.timeouts", fmt.Sprintf("read timeout %s exceeds write timeout %s", t.Read, t.Write))
	}
	if d.cfg.API.Enabled && d.cfg.API.MaxSyncTimeout > 0 && d.cfg.API.MaxSyncTimeout < t.Write {
		d.addWarning(r, "api", "api.max_sync_timeout",
			fmt.Sprintf("max_sync_timeout %s is shorter than the plugin write timeout %s", d.cfg.API.MaxSyncTimeout, t.Write))
	}
}

func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey != "" && !isLoopback(d.cfg.API.Listen) {
		d.addWarning(r, "api", "api.auth.api_key", "legacy api_key grants full access on a non-loopback listener; prefer scoped tokens")
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		for _, scope := range tok.Scopes {
			if !slices.Contains(knownScopes, scope) {
				d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes", i), fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	if d.cfg.API.Enabled && d.cfg.Webhooks.Listen == d.cfg.API.Listen {
		d.addError(r, "webhooks", "webhooks.listen", "webhooks.listen must differ from api.listen")
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		if len(ep.Secret) < minSecretLen {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].secret", i),
				fmt.Sprintf("secret is shorter than %d characters", minSecretLen))
		}
	}
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
