// Command mock-ci is a reference cibridge plugin that simulates a CI server.
// Jobs, builds and credentials live in a JSON catalog under data_dir so that
// successive plugin invocations observe each other's writes.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/cibridge/internal/protocol"
)

const (
	pluginVersion = "1.0.0"
	catalogFile   = "catalog.json"

	buildRunning  = "running"
	buildFinished = "finished"
	resultAborted = "aborted"
)

var errJobNotFound = errors.New("job not found")

type pluginConfig struct {
	DataDir   string
	ServerURL string
	ReadOnly  bool
}

type job struct {
	Name       string                 `json:"name"`
	Parameters []protocol.CIParameter `json:"parameters,omitempty"`
}

type build struct {
	CIID      string `json:"ci_id"`
	Number    int    `json:"number"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
	StartedAt int64  `json:"started_at"`
	Body      string `json:"body,omitempty"`
}

type catalog struct {
	Jobs        map[string]*job     `json:"jobs"`
	Builds      map[string][]*build `json:"builds"`
	Credentials map[string]string   `json:"credentials"`
	Suspended   bool                `json:"suspended"`
}

func main() {
	resp := handle()
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle() protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol %d", req.Protocol))
	}

	cfg := parseConfig(req.Config)
	if cfg.DataDir == "" {
		return protocol.Response{
			Status:    "error",
			Error:     "data_dir is required",
			ErrorKind: protocol.ErrorKindConfiguration,
		}
	}

	cat, err := loadCatalog(cfg.DataDir)
	if err != nil {
		return errResp(err.Error())
	}
	resp, dirty := dispatch(req, cfg, cat)
	if dirty {
		if err := saveCatalog(cfg.DataDir, cat); err != nil {
			return errResp(err.Error())
		}
	}
	return resp
}

var writeCommands = map[string]bool{
	"run_pipeline":       true,
	"stop_pipeline":      true,
	"upsert_credentials": true,
	"suspend_ci_events":  true,
}

// dispatch runs one command against cat and reports whether cat changed.
func dispatch(req protocol.Request, cfg pluginConfig, cat *catalog) (protocol.Response, bool) {
	command := strings.TrimSpace(req.Command)
	if cfg.ReadOnly && writeCommands[command] {
		return protocol.Response{
			Status:    "error",
			Error:     "mock-ci is read only",
			ErrorKind: protocol.ErrorKindPermission,
			ErrorCode: 403,
		}, false
	}

	var args struct {
		JobID             string `json:"job_id"`
		BuildID           string `json:"build_id"`
		Body              string `json:"body"`
		IncludeParameters bool   `json:"include_parameters"`
		Suspend           bool   `json:"suspend"`
	}
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(fmt.Sprintf("invalid args: %v", err)), false
		}
	}

	switch command {
	case "server_info":
		return okResp(protocol.CIServerInfo{
			Type:      "mock-ci",
			Version:   pluginVersion,
			URL:       cfg.ServerURL,
			Suspended: cat.Suspended,
		}), false
	case "plugin_info":
		return okResp(protocol.CIPluginInfo{Version: pluginVersion}), false
	case "jobs_list":
		return okResp(cat.jobsList(args.IncludeParameters)), false
	case "pipeline":
		node := cat.pipeline(args.JobID)
		if node == nil {
			return okResp(nil), false
		}
		return okResp(node), false
	case "run_pipeline":
		b, err := cat.run(args.JobID, args.Body, time.Now())
		if err != nil {
			return errResp(err.Error()), false
		}
		return withLog(okResp(nil), fmt.Sprintf("started %s #%d", args.JobID, b.Number)), true
	case "stop_pipeline":
		if err := cat.stop(args.JobID); err != nil {
			return errResp(err.Error()), false
		}
		return withLog(okResp(nil), "stopped "+args.JobID), true
	case "snapshot_latest":
		return snapshotResp(cat.snapshot(args.JobID, "")), false
	case "snapshot_by_number":
		return snapshotResp(cat.snapshot(args.JobID, args.BuildID)), false
	case "test_connectivity":
		var info protocol.TestConnectivityInfo
		_ = json.Unmarshal(req.Args, &info)
		return okResp(testConnectivity(info)), false
	case "upsert_credentials":
		var info protocol.CredentialsInfo
		_ = json.Unmarshal(req.Args, &info)
		return okResp(cat.upsertCredentials(info)), true
	case "suspend_ci_events":
		cat.Suspended = args.Suspend
		return okResp(nil), true
	default:
		return protocol.Response{
			Status:    "error",
			Error:     fmt.Sprintf("unknown command: %s", command),
			ErrorKind: protocol.ErrorKindNotImplemented,
		}, false
	}
}

func parseConfig(raw map[string]any) pluginConfig {
	cfg := pluginConfig{}
	if v, ok := raw["data_dir"].(string); ok {
		cfg.DataDir = v
	}
	if v, ok := raw["server_url"].(string); ok {
		cfg.ServerURL = v
	}
	switch v := raw["read_only"].(type) {
	case bool:
		cfg.ReadOnly = v
	case string:
		cfg.ReadOnly, _ = strconv.ParseBool(v)
	}
	return cfg
}

func seedCatalog() *catalog {
	return &catalog{
		Jobs: map[string]*job{
			"build": {
				Name: "build",
				Parameters: []protocol.CIParameter{
					{Type: "string", Name: "branch", DefaultValue: "main"},
				},
			},
			"release/deploy": {Name: "deploy"},
		},
		Builds:      map[string][]*build{},
		Credentials: map[string]string{},
	}
}

func loadCatalog(dir string) (*catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, catalogFile))
	if errors.Is(err, os.ErrNotExist) {
		return seedCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat := &catalog{}
	if err := json.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if cat.Builds == nil {
		cat.Builds = map[string][]*build{}
	}
	if cat.Credentials == nil {
		cat.Credentials = map[string]string{}
	}
	return cat, nil
}

// saveCatalog replaces the catalog file atomically.
func saveCatalog(dir string, cat *catalog) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, catalogFile+".*")
	if err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write catalog: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, catalogFile))
}

func (c *catalog) jobsList(includeParameters bool) protocol.CIJobsList {
	ids := make([]string, 0, len(c.Jobs))
	for id := range c.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := protocol.CIJobsList{Jobs: make([]protocol.PipelineNode, 0, len(ids))}
	for _, id := range ids {
		node := protocol.PipelineNode{JobCIID: id, Name: c.Jobs[id].Name}
		if includeParameters {
			node.Parameters = c.Jobs[id].Parameters
		}
		list.Jobs = append(list.Jobs, node)
	}
	return list
}

func (c *catalog) pipeline(jobID string) *protocol.PipelineNode {
	j, ok := c.Jobs[jobID]
	if !ok {
		return nil
	}
	return &protocol.PipelineNode{JobCIID: jobID, Name: j.Name, Parameters: j.Parameters}
}

func (c *catalog) run(jobID, body string, now time.Time) (*build, error) {
	if _, ok := c.Jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", errJobNotFound, jobID)
	}
	b := &build{
		CIID:      uuid.NewString(),
		Number:    len(c.Builds[jobID]) + 1,
		Status:    buildRunning,
		StartedAt: now.UnixMilli(),
		Body:      body,
	}
	c.Builds[jobID] = append(c.Builds[jobID], b)
	return b, nil
}

// stop aborts the newest running build of jobID. Stopping a job with nothing
// running is a no-op.
func (c *catalog) stop(jobID string) error {
	if _, ok := c.Jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", errJobNotFound, jobID)
	}
	builds := c.Builds[jobID]
	for i := len(builds) - 1; i >= 0; i-- {
		if builds[i].Status == buildRunning {
			builds[i].Status = buildFinished
			builds[i].Result = resultAborted
			return nil
		}
	}
	return nil
}

// snapshot returns build number of jobID, or the newest build when number is
// empty.
func (c *catalog) snapshot(jobID, number string) *protocol.SnapshotNode {
	j, ok := c.Jobs[jobID]
	if !ok {
		return nil
	}
	builds := c.Builds[jobID]
	if len(builds) == 0 {
		return nil
	}

	b := builds[len(builds)-1]
	if number != "" {
		n, err := strconv.Atoi(number)
		if err != nil || n < 1 || n > len(builds) {
			return nil
		}
		b = builds[n-1]
	}
	return &protocol.SnapshotNode{
		JobCIID:   jobID,
		Name:      j.Name,
		BuildCIID: b.CIID,
		Number:    strconv.Itoa(b.Number),
		StartTime: b.StartedAt,
		Status:    b.Status,
		Result:    b.Result,
		Causes:    []protocol.CIEventCause{{Type: "user", User: "cibridge"}},
	}
}

func (c *catalog) upsertCredentials(info protocol.CredentialsInfo) protocol.CapabilityResponse {
	if info.Username == "" {
		return protocol.CapabilityResponse{Status: 400, Body: "username is required"}
	}
	id := info.CredentialsID
	status := 200
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := c.Credentials[id]; !ok {
		status = 201
	}
	c.Credentials[id] = info.Username
	return protocol.CapabilityResponse{Status: status, Body: id}
}

func testConnectivity(info protocol.TestConnectivityInfo) protocol.CapabilityResponse {
	if info.SCMRepository == nil || info.SCMRepository.URL == "" {
		return protocol.CapabilityResponse{Status: 400, Body: "scm repository url is required"}
	}
	if strings.HasPrefix(info.SCMRepository.URL, "http://unreachable") {
		return protocol.CapabilityResponse{Status: 404, Body: "repository unreachable"}
	}
	return protocol.CapabilityResponse{Status: 200}
}

func snapshotResp(node *protocol.SnapshotNode) protocol.Response {
	if node == nil {
		return okResp(nil)
	}
	return okResp(node)
}

// okResp wraps result. A nil result is sent as an absent result.
func okResp(result any) protocol.Response {
	resp := protocol.Response{Status: "ok"}
	if result == nil {
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		return errResp(fmt.Sprintf("encode result: %v", err))
	}
	resp.Result = data
	return resp
}

func withLog(resp protocol.Response, msg string) protocol.Response {
	resp.Logs = append(resp.Logs, protocol.LogEntry{Level: "info", Message: msg})
	return resp
}

func errResp(msg string) protocol.Response {
	return protocol.Response{
		Status: "error",
		Error:  msg,
		Logs:   []protocol.LogEntry{{Level: "error", Message: msg}},
	}
}
