// Package services implements the CI capability set by invoking a plugin
// executable once per call over the JSON stdin/stdout protocol.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/cibridge/internal/config"
	"github.com/mattjoyce/cibridge/internal/log"
	"github.com/mattjoyce/cibridge/internal/plugin"
	"github.com/mattjoyce/cibridge/internal/protocol"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

const (
	stateComponent = "ci_events"
	stateSuspended = "suspended"
)

// FlagStore persists bridge-level settings across restarts.
type FlagStore interface {
	Set(ctx context.Context, component, key string, value any) error
	Lookup(ctx context.Context, component, key string, out any) (bool, error)
}

// ExecServices is a tasking.PluginServices backed by a plugin subprocess.
type ExecServices struct {
	plugin   *plugin.Plugin
	config   map[string]any
	timeouts config.TimeoutsConfig
	store    FlagStore
	logger   *slog.Logger
}

var _ tasking.PluginServices = (*ExecServices)(nil)

// New creates ExecServices for p using the plugin section of the bridge
// config. store may be nil, in which case the suspend flag is not persisted.
func New(p *plugin.Plugin, cfg config.PluginConfig, store FlagStore) (*ExecServices, error) {
	if p == nil {
		return nil, fmt.Errorf("plugin is required")
	}
	if err := p.CheckConfig(cfg.Config); err != nil {
		return nil, err
	}
	timeouts := config.DefaultTimeouts()
	if cfg.Timeouts != nil {
		if cfg.Timeouts.Read > 0 {
			timeouts.Read = cfg.Timeouts.Read
		}
		if cfg.Timeouts.Write > 0 {
			timeouts.Write = cfg.Timeouts.Write
		}
	}
	return &ExecServices{
		plugin:   p,
		config:   cfg.Config,
		timeouts: *timeouts,
		store:    store,
		logger:   log.WithPlugin(p.Name),
	}, nil
}

func (s *ExecServices) GetServerInfo(ctx context.Context) (*protocol.CIServerInfo, error) {
	info, err := query[protocol.CIServerInfo](ctx, s, plugin.CapServerInfo, nil)
	if err != nil || info == nil {
		return info, err
	}
	if suspended, ok := s.suspended(ctx); ok {
		info.Suspended = suspended
	}
	return info, nil
}

// GetPluginInfo falls back to the manifest version when the plugin does not
// serve plugin_info itself.
func (s *ExecServices) GetPluginInfo(ctx context.Context) (*protocol.CIPluginInfo, error) {
	if !s.plugin.Supports(plugin.CapPluginInfo) {
		return &protocol.CIPluginInfo{Version: s.plugin.Version}, nil
	}
	return query[protocol.CIPluginInfo](ctx, s, plugin.CapPluginInfo, nil)
}

func (s *ExecServices) GetJobsList(ctx context.Context, includeParameters bool) (*protocol.CIJobsList, error) {
	return query[protocol.CIJobsList](ctx, s, plugin.CapJobsList, map[string]any{
		"include_parameters": includeParameters,
	})
}

func (s *ExecServices) GetPipeline(ctx context.Context, jobID string) (*protocol.PipelineNode, error) {
	return query[protocol.PipelineNode](ctx, s, plugin.CapPipeline, map[string]any{"job_id": jobID})
}

func (s *ExecServices) RunPipeline(ctx context.Context, jobID, body string) error {
	_, err := s.call(ctx, plugin.CapRunPipeline, map[string]any{"job_id": jobID, "body": body})
	return err
}

func (s *ExecServices) StopPipelineRun(ctx context.Context, jobID, body string) error {
	_, err := s.call(ctx, plugin.CapStopPipeline, map[string]any{"job_id": jobID, "body": body})
	return err
}

func (s *ExecServices) GetSnapshotLatest(ctx context.Context, jobID string, subTree bool) (*protocol.SnapshotNode, error) {
	return query[protocol.SnapshotNode](ctx, s, plugin.CapSnapshotLatest, map[string]any{
		"job_id":   jobID,
		"sub_tree": subTree,
	})
}

func (s *ExecServices) GetSnapshotByNumber(ctx context.Context, jobID, buildID string, subTree bool) (*protocol.SnapshotNode, error) {
	return query[protocol.SnapshotNode](ctx, s, plugin.CapSnapshotByNumber, map[string]any{
		"job_id":   jobID,
		"build_id": buildID,
		"sub_tree": subTree,
	})
}

func (s *ExecServices) RunTestDiscovery(ctx context.Context, info *protocol.DiscoveryInfo) error {
	_, err := s.call(ctx, plugin.CapTestDiscovery, info)
	return err
}

func (s *ExecServices) CreateExecutor(ctx context.Context, info *protocol.DiscoveryInfo) (*protocol.PipelineNode, error) {
	return query[protocol.PipelineNode](ctx, s, plugin.CapCreateExecutor, info)
}

func (s *ExecServices) RunTestSuiteExecution(ctx context.Context, info *protocol.TestSuiteExecutionInfo) error {
	_, err := s.call(ctx, plugin.CapSuiteRun, info)
	return err
}

func (s *ExecServices) CheckRepositoryConnectivity(ctx context.Context, info *protocol.TestConnectivityInfo) (*protocol.CapabilityResponse, error) {
	return query[protocol.CapabilityResponse](ctx, s, plugin.CapTestConnectivity, info)
}

func (s *ExecServices) UpsertCredentials(ctx context.Context, info *protocol.CredentialsInfo) (*protocol.CapabilityResponse, error) {
	return query[protocol.CapabilityResponse](ctx, s, plugin.CapUpsertCredentials, info)
}

func (s *ExecServices) DeleteExecutor(ctx context.Context, id string) error {
	_, err := s.call(ctx, plugin.CapDeleteExecutor, map[string]any{"executor_id": id})
	return err
}

// SuspendCIEvents records the flag and forwards it to the plugin if the
// plugin handles suspension itself.
func (s *ExecServices) SuspendCIEvents(ctx context.Context, suspend bool) error {
	if s.store != nil {
		if err := s.store.Set(ctx, stateComponent, stateSuspended, suspend); err != nil {
			return fmt.Errorf("persist suspend flag: %w", err)
		}
	}
	s.logger.Info("ci events suspension changed", "suspended", suspend)
	if !s.plugin.Supports(plugin.CapSuspendCIEvents) {
		return nil
	}
	_, err := s.call(ctx, plugin.CapSuspendCIEvents, map[string]any{"suspend": suspend})
	return err
}

func (s *ExecServices) suspended(ctx context.Context) (bool, bool) {
	if s.store == nil {
		return false, false
	}
	var v bool
	found, err := s.store.Lookup(ctx, stateComponent, stateSuspended, &v)
	if err != nil {
		s.logger.Warn("failed to read suspend flag", "error", err)
		return false, false
	}
	return v, found
}

// query calls c and decodes its result into T. A missing or null result is
// returned as nil.
func query[T any](ctx context.Context, s *ExecServices, c plugin.Capability, args any) (*T, error) {
	resp, err := s.call(ctx, c, args)
	if err != nil {
		return nil, err
	}
	if !resp.HasResult() {
		return nil, nil
	}
	out := new(T)
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", c, err)
	}
	return out, nil
}

func (s *ExecServices) call(ctx context.Context, c plugin.Capability, args any) (*protocol.Response, error) {
	if !s.plugin.Supports(c) {
		return nil, fmt.Errorf("%s: %w", c, tasking.ErrNotImplemented)
	}

	var rawArgs json.RawMessage
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("%s: encode args: %w", c, err)
		}
		rawArgs = encoded
	}

	timeout := s.timeoutFor(c)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	req := &protocol.Request{
		Protocol:   protocol.Version,
		Command:    string(c),
		Config:     s.config,
		Args:       rawArgs,
		DeadlineAt: time.Now().Add(timeout),
	}
	if taskID, ok := tasking.TaskIDFrom(ctx); ok {
		req.TaskID = taskID
	}

	logger := s.logger.With("capability", string(c))
	start := time.Now()
	resp, stderr, err := spawn(ctx, s.plugin.Entrypoint, req, timeout, logger)
	if stderr != "" {
		logger.Debug("plugin stderr", "stderr", stderr)
	}
	if err != nil {
		logger.Error("plugin call failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("%s: %w", c, err)
	}

	for _, entry := range resp.Logs {
		logger.Log(ctx, log.ParseLevel(entry.Level), entry.Message, "source", "plugin")
	}
	logger.Debug("plugin call completed", "status", resp.Status, "duration", time.Since(start))

	if resp.Status == "error" {
		return nil, responseError(c, resp)
	}
	return resp, nil
}

func (s *ExecServices) timeoutFor(c plugin.Capability) time.Duration {
	if c.Type() == plugin.CommandTypeRead {
		return s.timeouts.Read
	}
	return s.timeouts.Write
}

// responseError maps a plugin error envelope onto the tasking error types.
func responseError(c plugin.Capability, resp *protocol.Response) error {
	switch resp.ErrorKind {
	case protocol.ErrorKindPermission:
		return &tasking.ClassifiedFailure{
			Code:     codeOr(resp.ErrorCode, http.StatusForbidden),
			Category: tasking.CategoryPermission,
			Message:  resp.Error,
		}
	case protocol.ErrorKindConfiguration:
		return &tasking.ClassifiedFailure{
			Code:     codeOr(resp.ErrorCode, http.StatusBadRequest),
			Category: tasking.CategoryConfiguration,
			Message:  resp.Error,
		}
	case protocol.ErrorKindNotImplemented:
		return fmt.Errorf("%s: %w", c, tasking.ErrNotImplemented)
	}
	return errors.New(resp.Error)
}

func codeOr(code, fallback int) int {
	if code > 0 {
		return code
	}
	return fallback
}
