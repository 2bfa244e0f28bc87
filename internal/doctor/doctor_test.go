package doctor

import (
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/cibridge/internal/config"
	"github.com/mattjoyce/cibridge/internal/plugin"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Plugin.Name = "jenkins"
	cfg.Plugin.Config = map[string]any{"url": "https://ci.example.com"}
	cfg.Plugin.Timeouts = config.DefaultTimeouts()
	return cfg
}

func registryWith(plugins ...*plugin.Plugin) *plugin.Registry {
	r := plugin.NewRegistry()
	for _, p := range plugins {
		_ = r.Add(p)
	}
	return r
}

func fullPlugin() *plugin.Plugin {
	p := &plugin.Plugin{
		Name:       "jenkins",
		Protocol:   1,
		ConfigKeys: &plugin.ConfigKeys{Required: []string{"url"}, Optional: []string{"user"}},
	}
	for _, c := range plugin.KnownCapabilities() {
		p.Commands = append(p.Commands, plugin.Command{Name: c})
	}
	return p
}

func hasIssue(issues []Issue, substr string) bool {
	for _, i := range issues {
		if strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), registryWith(fullPlugin())).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	for _, route := range r.Routes {
		if !route.Served {
			t.Errorf("route %s should be served", route.Name)
		}
	}
	if r.Plugin != "jenkins" || len(r.Commands) != len(plugin.KnownCapabilities()) {
		t.Errorf("unexpected plugin summary: %s %v", r.Plugin, r.Commands)
	}
}

func TestValidate_PluginNotFound(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), registryWith()).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, `plugin "jenkins" not found`) {
		t.Fatalf("unexpected errors: %v", r.Errors)
	}
}

func TestValidate_MissingRequiredKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Plugin.Config = map[string]any{"user": "bot"}
	r := New(cfg, registryWith(fullPlugin())).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "missing required config keys: url") {
		t.Fatalf("unexpected errors: %v", r.Errors)
	}
}

func TestValidate_UndeclaredConfigKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Plugin.Config["colour"] = "blue"
	r := New(cfg, registryWith(fullPlugin())).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got %v", r.Errors)
	}
	if !hasIssue(r.Warnings, `does not declare config key "colour"`) {
		t.Fatalf("unexpected warnings: %v", r.Warnings)
	}
}

func TestValidate_RouteCoverage(t *testing.T) {
	t.Parallel()
	p := &plugin.Plugin{
		Name: "jenkins",
		Commands: plugin.Commands{
			{Name: plugin.CapServerInfo},
			{Name: plugin.CapJobsList},
			{Name: plugin.CapTestDiscovery},
		},
	}
	r := New(validConfig(), registryWith(p)).Validate()
	if !r.Valid {
		t.Fatalf("coverage gaps must not invalidate: %v", r.Errors)
	}

	served := map[string]Route{}
	for _, route := range r.Routes {
		served[route.Name] = route
	}
	if !served["status"].Served || !served["jobs_list"].Served {
		t.Error("status and jobs_list should be served")
	}
	execInit := served["executor_init"]
	if execInit.Served || len(execInit.Missing) != 1 || execInit.Missing[0] != string(plugin.CapCreateExecutor) {
		t.Errorf("executor_init should miss create_executor only: %+v", execInit)
	}
	if !hasIssue(r.Warnings, "route pipeline_run will answer 501") {
		t.Errorf("expected pipeline_run warning, got %v", r.Warnings)
	}
}

func TestValidate_Timeouts(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Plugin.Timeouts = &config.TimeoutsConfig{Read: time.Minute, Write: 10 * time.Second}
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:8080"
	cfg.API.MaxSyncTimeout = 5 * time.Second
	cfg.API.Auth.APIKey = "k"

	r := New(cfg, registryWith(fullPlugin())).Validate()
	if !hasIssue(r.Warnings, "exceeds write timeout") {
		t.Errorf("expected read>write warning: %v", r.Warnings)
	}
	if !hasIssue(r.Warnings, "shorter than the plugin write timeout") {
		t.Errorf("expected sync timeout warning: %v", r.Warnings)
	}
	if hasIssue(r.Warnings, "legacy api_key") {
		t.Errorf("loopback api_key should not warn: %v", r.Warnings)
	}
}

func TestValidate_API(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8080"
	cfg.API.Auth.APIKey = "k"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"tasks:ro", "jobs:rw"}}}

	r := New(cfg, registryWith(fullPlugin())).Validate()
	if !hasIssue(r.Warnings, "legacy api_key") {
		t.Errorf("expected api_key warning: %v", r.Warnings)
	}
	if !hasIssue(r.Warnings, `unknown scope "jobs:rw"`) {
		t.Errorf("expected unknown scope warning: %v", r.Warnings)
	}
}

func TestValidate_Webhooks(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:8080"
	cfg.API.Auth.APIKey = "k"
	cfg.Webhooks = &config.WebhooksConfig{
		Listen:    "127.0.0.1:8080",
		Endpoints: []config.WebhookEndpoint{{Path: "/intake/alm", Secret: "short"}},
	}

	r := New(cfg, registryWith(fullPlugin())).Validate()
	if r.Valid {
		t.Fatal("expected shared listener to be invalid")
	}
	if !hasIssue(r.Errors, "must differ from api.listen") {
		t.Errorf("unexpected errors: %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "secret is shorter than 16 characters") {
		t.Errorf("unexpected warnings: %v", r.Warnings)
	}
}

func TestIsLoopback(t *testing.T) {
	for listen, want := range map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:8080":     true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"bad":            false,
	} {
		if got := isLoopback(listen); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", listen, got, want)
		}
	}
}
