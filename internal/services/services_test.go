package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/cibridge/internal/config"
	"github.com/mattjoyce/cibridge/internal/plugin"
	"github.com/mattjoyce/cibridge/internal/protocol"
	"github.com/mattjoyce/cibridge/internal/state"
	"github.com/mattjoyce/cibridge/internal/storage"
	"github.com/mattjoyce/cibridge/internal/tasking"
)

// ciPlugin answers by command and records the last request next to itself.
const ciPlugin = `#!/bin/sh
req=$(cat)
printf '%s' "$req" > "$(dirname "$0")/last_request.json"
case "$req" in
  *'"command":"server_info"'*)
    echo '{"status":"ok","result":{"type":"jenkins","version":"2.440","url":"http://ci.local","instanceId":"","suspended":false}}' ;;
  *'"command":"plugin_info"'*)
    echo '{"status":"ok","result":{"version":"9.9.9"}}' ;;
  *'"command":"jobs_list"'*)
    echo '{"status":"ok","result":{"jobs":[{"jobCiId":"a","name":"A"}]},"logs":[{"level":"info","message":"listed"}]}' ;;
  *'"command":"pipeline"'*)
    echo '{"status":"ok","result":null}' ;;
  *'"command":"run_pipeline"'*)
    echo '{"status":"error","error":"queue is full"}' ;;
  *'"command":"stop_pipeline"'*)
    echo '{"status":"error","error_kind":"permission","error":"no rights","error_code":401}' ;;
  *'"command":"snapshot_latest"'*)
    echo '{"status":"error","error_kind":"configuration","error":"bad url"}' ;;
  *'"command":"snapshot_by_number"'*)
    echo '{"status":"ok","result":{"jobCiId":"a","name":"A","buildCiId":"42","number":"42"}}' ;;
  *'"command":"test_connectivity"'*)
    echo '{"status":"ok","result":{"status":200,"body":"connected"}}' ;;
  *'"command":"delete_executor"'*)
    echo '{"status":"error","error_kind":"not_implemented","error":"nope"}' ;;
  *'"command":"suspend_ci_events"'*)
    echo '{"status":"ok"}' ;;
  *)
    echo 'not json' ;;
esac
`

var allCapabilities = plugin.Commands{
	{Name: plugin.CapServerInfo},
	{Name: plugin.CapPluginInfo},
	{Name: plugin.CapJobsList},
	{Name: plugin.CapPipeline},
	{Name: plugin.CapRunPipeline},
	{Name: plugin.CapStopPipeline},
	{Name: plugin.CapSnapshotLatest},
	{Name: plugin.CapSnapshotByNumber},
	{Name: plugin.CapTestConnectivity},
	{Name: plugin.CapDeleteExecutor},
	{Name: plugin.CapSuspendCIEvents},
	{Name: plugin.CapSuiteRun},
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newServices(t *testing.T, script string, commands plugin.Commands, store FlagStore) *ExecServices {
	t.Helper()
	p := &plugin.Plugin{
		Name:       "jenkins",
		Version:    "1.0.0",
		Entrypoint: writeScript(t, script),
		Protocol:   plugin.SupportedProtocol,
		Commands:   commands,
	}
	s, err := New(p, config.PluginConfig{
		Config:   map[string]any{"url": "http://ci.local"},
		Timeouts: &config.TimeoutsConfig{Read: 5 * time.Second, Write: 5 * time.Second},
	}, store)
	require.NoError(t, err)
	return s
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return state.NewStore(db)
}

func lastRequest(t *testing.T, s *ExecServices) *protocol.Request {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(s.plugin.Entrypoint), "last_request.json"))
	require.NoError(t, err)
	req, err := protocol.DecodeDTO[protocol.Request](string(data))
	require.NoError(t, err)
	return req
}

func TestNew(t *testing.T) {
	_, err := New(nil, config.PluginConfig{}, nil)
	assert.Error(t, err)

	p := &plugin.Plugin{Name: "jenkins", ConfigKeys: &plugin.ConfigKeys{Required: []string{"token"}}}
	_, err = New(p, config.PluginConfig{Config: map[string]any{}}, nil)
	assert.ErrorContains(t, err, "token")

	s, err := New(&plugin.Plugin{Name: "jenkins"}, config.PluginConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.timeoutFor(plugin.CapJobsList))
	assert.Equal(t, 2*time.Minute, s.timeoutFor(plugin.CapRunPipeline))
}

func TestExecServices_Queries(t *testing.T) {
	s := newServices(t, ciPlugin, allCapabilities, nil)
	ctx := tasking.WithTaskID(context.Background(), "task-9")

	server, err := s.GetServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jenkins", server.Type)
	assert.Equal(t, "2.440", server.Version)

	req := lastRequest(t, s)
	assert.Equal(t, "server_info", req.Command)
	assert.Equal(t, "task-9", req.TaskID)
	assert.Equal(t, protocol.Version, req.Protocol)
	assert.Equal(t, "http://ci.local", req.Config["url"])

	info, err := s.GetPluginInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", info.Version)

	jobs, err := s.GetJobsList(ctx, false)
	require.NoError(t, err)
	require.Len(t, jobs.Jobs, 1)
	assert.Equal(t, "a", jobs.Jobs[0].JobCIID)
	assert.JSONEq(t, `{"include_parameters":false}`, string(lastRequest(t, s).Args))

	node, err := s.GetPipeline(ctx, "folder/a")
	require.NoError(t, err)
	assert.Nil(t, node, "null result maps to nil")
	assert.JSONEq(t, `{"job_id":"folder/a"}`, string(lastRequest(t, s).Args))

	snap, err := s.GetSnapshotByNumber(ctx, "a", "42", false)
	require.NoError(t, err)
	assert.Equal(t, "42", snap.BuildCIID)
	assert.JSONEq(t, `{"job_id":"a","build_id":"42","sub_tree":false}`, string(lastRequest(t, s).Args))

	resp, err := s.CheckRepositoryConnectivity(ctx, &protocol.TestConnectivityInfo{})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "connected", resp.Body)
}

func TestExecServices_ErrorMapping(t *testing.T) {
	s := newServices(t, ciPlugin, allCapabilities, nil)
	ctx := context.Background()

	err := s.RunPipeline(ctx, "a", "{}")
	require.Error(t, err)
	assert.Equal(t, "queue is full", err.Error())

	err = s.StopPipelineRun(ctx, "a", "")
	var failure *tasking.ClassifiedFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 401, failure.Code)
	assert.Equal(t, tasking.CategoryPermission, failure.Category)
	assert.Equal(t, "no rights", failure.Message)

	_, err = s.GetSnapshotLatest(ctx, "a", false)
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 400, failure.Code)
	assert.Equal(t, tasking.CategoryConfiguration, failure.Category)

	err = s.DeleteExecutor(ctx, "exec-1")
	assert.ErrorIs(t, err, tasking.ErrNotImplemented)

	err = s.RunTestSuiteExecution(ctx, &protocol.TestSuiteExecutionInfo{})
	assert.ErrorContains(t, err, "decode response")
}

func TestExecServices_UndeclaredCapability(t *testing.T) {
	s := newServices(t, ciPlugin, plugin.Commands{{Name: plugin.CapServerInfo}}, nil)
	ctx := context.Background()

	_, err := s.GetJobsList(ctx, true)
	assert.ErrorIs(t, err, tasking.ErrNotImplemented)
	assert.ErrorIs(t, s.RunTestDiscovery(ctx, &protocol.DiscoveryInfo{}), tasking.ErrNotImplemented)

	// plugin_info falls back to the manifest.
	info, err := s.GetPluginInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", info.Version)
}

func TestExecServices_SuspendCIEvents(t *testing.T) {
	store := newStore(t)
	s := newServices(t, ciPlugin, allCapabilities, store)
	ctx := context.Background()

	require.NoError(t, s.SuspendCIEvents(ctx, true))
	assert.JSONEq(t, `{"suspend":true}`, string(lastRequest(t, s).Args))

	var suspended bool
	found, err := store.Lookup(ctx, "ci_events", "suspended", &suspended)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, suspended)

	server, err := s.GetServerInfo(ctx)
	require.NoError(t, err)
	assert.True(t, server.Suspended, "stored flag overrides plugin report")

	// Without the capability the flag is only persisted.
	local := newServices(t, ciPlugin, plugin.Commands{{Name: plugin.CapServerInfo}}, store)
	require.NoError(t, local.SuspendCIEvents(ctx, false))
	_, err = store.Lookup(ctx, "ci_events", "suspended", &suspended)
	require.NoError(t, err)
	assert.False(t, suspended)
}

func TestExecServices_Timeout(t *testing.T) {
	s := newServices(t, "#!/bin/sh\ncat >/dev/null\nexec sleep 10\n", allCapabilities, nil)
	s.timeouts.Read = 100 * time.Millisecond

	start := time.Now()
	_, err := s.GetServerInfo(context.Background())
	assert.ErrorIs(t, err, ErrPluginTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecServices_ContextCancel(t *testing.T) {
	s := newServices(t, "#!/bin/sh\ncat >/dev/null\nexec sleep 10\n", allCapabilities, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := s.GetServerInfo(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecServices_NonZeroExitStillDecodes(t *testing.T) {
	script := "#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\",\"result\":{\"version\":\"1\"}}'\necho oops >&2\nexit 3\n"
	s := newServices(t, script, allCapabilities, nil)

	info, err := s.GetPluginInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", info.Version)
}

func TestTruncateStderr(t *testing.T) {
	assert.Equal(t, "short", truncateStderr("short"))
	long := strings.Repeat("x", maxStderrBytes+10)
	assert.Len(t, truncateStderr(long), maxStderrBytes)
}
