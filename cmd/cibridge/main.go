package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/cibridge/internal/api"
	"github.com/mattjoyce/cibridge/internal/auth"
	"github.com/mattjoyce/cibridge/internal/config"
	"github.com/mattjoyce/cibridge/internal/dispatch"
	"github.com/mattjoyce/cibridge/internal/doctor"
	"github.com/mattjoyce/cibridge/internal/events"
	"github.com/mattjoyce/cibridge/internal/inspect"
	"github.com/mattjoyce/cibridge/internal/lock"
	"github.com/mattjoyce/cibridge/internal/log"
	"github.com/mattjoyce/cibridge/internal/metrics"
	"github.com/mattjoyce/cibridge/internal/plugin"
	"github.com/mattjoyce/cibridge/internal/queue"
	"github.com/mattjoyce/cibridge/internal/services"
	"github.com/mattjoyce/cibridge/internal/state"
	"github.com/mattjoyce/cibridge/internal/storage"
	"github.com/mattjoyce/cibridge/internal/tasking"
	"github.com/mattjoyce/cibridge/internal/tui/watch"
	"github.com/mattjoyce/cibridge/internal/webhook"
)

const shutdownGrace = 30 * time.Second

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "task":
		return runTaskNoun(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `cibridge - CI task bridge for ALM tasks

Usage:
  cibridge <noun> <action> [flags]

System Commands:
  system start      Start the bridge service in foreground
  system watch      Live TUI of bridge health, routes and task events

Task Commands:
  task route        Route a single task through the plugin and print the result
  task inspect <id> Show a queued task and its recorded result

Config Commands:
  config check      Validate configuration and plugin binding

Plugin Commands:
  plugin list       Show discovered plugins and their capabilities

General:
  version           Show version information
  help              Show this help message

All actions accept --config <path>. Without it the config is discovered from
$CIBRIDGE_CONFIG, ~/.config/cibridge, /etc/cibridge or ./config.yaml.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cibridge system <start|watch> [flags]")
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "watch":
		if len(args) > 1 && isHelpFlag(args[1]) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: cibridge system <start|watch> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func isHelpFlag(arg string) bool {
	return arg == "help" || arg == "--help" || arg == "-h"
}

func runTaskNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cibridge task route --url URL [--method GET] [--body BODY] [--id ID]")
		return 1
	}
	switch args[0] {
	case "route":
		return runTaskRoute(args[1:])
	case "inspect":
		return runTaskInspect(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: cibridge task route --url URL [--method GET] [--body BODY] [--id ID]")
		fmt.Println("       cibridge task inspect <queue-id> [--json]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown task action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cibridge config check [--config PATH]")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: cibridge config check [--config PATH]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cibridge plugin list [--config PATH]")
		return 1
	}
	switch args[0] {
	case "list":
		return runPluginList(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: cibridge plugin list [--config PATH]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", args[0])
		return 1
	}
}

// --- VERSION ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("cibridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{Version: strings.TrimSpace(version), Commit: "unknown", BuildTime: "unknown"}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

// --- SHARED WIRING ---

func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", fmt.Errorf("discover config: %w", err)
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func discoveryLogger(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		default:
			logger.Error(msg, args...)
		}
	}
}

// bindPlugin discovers plugins and binds the configured one to the services
// adapter. store may be nil.
func bindPlugin(cfg *config.Config, store services.FlagStore, logger *slog.Logger) (*plugin.Plugin, *services.ExecServices, error) {
	registry, err := plugin.Discover(cfg.Plugin.Dir, discoveryLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("plugin discovery: %w", err)
	}
	p, ok := registry.Get(cfg.Plugin.Name)
	if !ok {
		return nil, nil, fmt.Errorf("plugin %q not found in %s", cfg.Plugin.Name, cfg.Plugin.Dir)
	}
	svc, err := services.New(p, cfg.Plugin, store)
	if err != nil {
		return nil, nil, fmt.Errorf("plugin %q: %w", p.Name, err)
	}
	return p, svc, nil
}

func newRouter(cfg *config.Config, svc tasking.PluginServices, observer tasking.Observer) (*tasking.Router, error) {
	opts := []tasking.Option{tasking.WithSDKVersion(currentVersionInfo().Version)}
	if observer != nil {
		opts = append(opts, tasking.WithObserver(observer))
	}
	return tasking.NewRouter(svc, cfg.Service.InstanceID, opts...)
}

// --- SYSTEM START ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("cibridge starting", "version", version, "config", resolved, "instance_id", cfg.Service.InstanceID)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	p, svc, err := bindPlugin(cfg, state.NewStore(db), logger)
	if err != nil {
		logger.Error("failed to bind plugin", "error", err)
		return 1
	}
	logger.Info("plugin bound", "plugin", p.Name, "version", p.Version, "commands", len(p.Commands))

	m := metrics.NewMetrics()
	router, err := newRouter(cfg, svc, m)
	if err != nil {
		logger.Error("failed to create task router", "error", err)
		return 1
	}

	q := queue.New(db)
	hub := events.NewHub(256)
	disp := dispatch.New(q, router, m, dispatch.Options{
		Workers:      cfg.Service.Workers,
		TickInterval: cfg.Service.TickInterval,
		Retention:    cfg.Service.TaskLogRetention,
		ServiceID:    cfg.Service.InstanceID,
		Events:       hub,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 3)
	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		if err := disp.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(apiConfig(cfg, p.Name), q, router, hub, m, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		webhookConfig, err := webhook.FromConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}
		webhookServer := webhook.New(webhookConfig, q, log.WithComponent("webhook"), webhook.WithEvents(hub), webhook.WithObserver(m))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("cibridge running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	// In-flight tasks finish; plugin calls see the cancelled context.
	select {
	case <-dispDone:
	case <-time.After(shutdownGrace):
		logger.Warn("in-flight tasks still running at shutdown", "grace", shutdownGrace)
	}

	logger.Info("cibridge stopped")
	return 0
}

func apiConfig(cfg *config.Config, pluginName string) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen:         cfg.API.Listen,
		APIKey:         cfg.API.Auth.APIKey,
		Tokens:         tokens,
		MaxSyncTimeout: cfg.API.MaxSyncTimeout,
		ServiceID:      cfg.Service.InstanceID,
		Plugin:         pluginName,
	}
}

// --- TASK ROUTE ---

func runTaskRoute(args []string) int {
	fs := flag.NewFlagSet("task route", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	id := fs.String("id", "", "Task id (defaults to cli-<unix nanos>)")
	method := fs.String("method", "GET", "Task method")
	url := fs.String("url", "", "Task URL containing "+tasking.APIMarker)
	body := fs.String("body", "", "Task body; @file reads it from a file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall routing timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	task := tasking.Task{ID: *id, Method: tasking.Method(strings.ToUpper(*method)), URL: *url}
	if task.ID == "" {
		task.ID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}
	if path, ok := strings.CutPrefix(*body, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
			return 1
		}
		task.Body = string(data)
	} else {
		task.Body = *body
	}
	if err := task.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid task: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// stdout carries the result; logs go to stderr.
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)
	logger := log.WithComponent("cli")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, closeStore := openFlagStore(ctx, cfg, logger)
	defer closeStore()

	_, svc, err := bindPlugin(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind plugin: %v\n", err)
		return 1
	}
	router, err := newRouter(cfg, svc, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create router: %v\n", err)
		return 1
	}

	result, err := router.Execute(ctx, &task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid task: %v\n", err)
		return 1
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

// openFlagStore opens the state database so the suspend flag is shared with a
// running bridge. Routing still works without it.
func openFlagStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.FlagStore, func()) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Warn("state database unavailable, suspend flag will not persist", "path", cfg.State.Path, "error", err)
		return nil, func() {}
	}
	return state.NewStore(db), func() { _ = db.Close() }
}

// --- TASK INSPECT ---

func runTaskInspect(args []string) int {
	fs := flag.NewFlagSet("task inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	// Allow the id before or after flags.
	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: cibridge task inspect <queue-id> [--json]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	out, err := build(ctx, queue.New(db), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return 0
}

// --- CONFIG CHECK ---

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
		return 1
	}
	quiet := slog.New(slog.NewJSONHandler(io.Discard, nil))
	registry, err := plugin.Discover(cfg.Plugin.Dir, discoveryLogger(quiet))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid: plugin discovery: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry).Validate()
	if *jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		printDoctorResult(os.Stdout, resolved, cfg, result)
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func printDoctorResult(w io.Writer, resolved string, cfg *config.Config, result *doctor.Result) {
	if result.Valid {
		fmt.Fprintf(w, "Config OK: %s\n", resolved)
	} else {
		fmt.Fprintf(w, "Config invalid: %s\n", resolved)
	}
	fmt.Fprintf(w, "  instance_id: %s\n", cfg.Service.InstanceID)
	fmt.Fprintf(w, "  state:       %s\n", cfg.State.Path)
	fmt.Fprintf(w, "  plugin:      %s (%d commands)\n", cfg.Plugin.Name, len(result.Commands))
	if cfg.API.Enabled {
		fmt.Fprintf(w, "  api:         %s\n", cfg.API.Listen)
	}
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "  ERROR [%s] %s\n", issue.Category, issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "  WARN  [%s] %s\n", issue.Category, issue.Message)
	}
}

// --- PLUGIN LIST ---

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("plugin list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	registry, err := plugin.Discover(cfg.Plugin.Dir, discoveryLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil))))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin discovery failed: %v\n", err)
		return 1
	}

	type pluginSummary struct {
		Name     string   `json:"name"`
		Version  string   `json:"version"`
		Selected bool     `json:"selected"`
		Commands []string `json:"commands"`
	}
	var summaries []pluginSummary
	for name, p := range registry.All() {
		s := pluginSummary{Name: name, Version: p.Version, Selected: name == cfg.Plugin.Name}
		for _, c := range p.Commands {
			s.Commands = append(s.Commands, string(c.Name))
		}
		sort.Strings(s.Commands)
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	if *jsonOut {
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	for _, s := range summaries {
		marker := " "
		if s.Selected {
			marker = "*"
		}
		fmt.Printf("%s %s %s\n    %s\n", marker, s.Name, s.Version, strings.Join(s.Commands, ", "))
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Bridge API URL")
	apiKey := fs.String("api-key", os.Getenv("CIBRIDGE_API_KEY"), "API Bearer Token with events:ro scope")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or CIBRIDGE_API_KEY env var.")
		return 1
	}

	m := watch.New(strings.TrimRight(*apiURL, "/"), *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printSystemWatchHelp() {
	fmt.Println("Usage: cibridge system watch [flags]")
	fmt.Println()
	fmt.Println("Shows bridge health, per-route outcomes and the live task event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Bridge API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or CIBRIDGE_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select route")
}
