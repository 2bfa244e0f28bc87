package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mattjoyce/cibridge/internal/protocol"
)

func request(t *testing.T, command string, args any) protocol.Request {
	t.Helper()
	req := protocol.Request{Protocol: protocol.Version, Command: command}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			t.Fatalf("marshal args: %v", err)
		}
		req.Args = raw
	}
	return req
}

func TestRunStopAndSnapshot(t *testing.T) {
	cat := seedCatalog()
	cfg := pluginConfig{DataDir: t.TempDir()}

	resp, dirty := dispatch(request(t, "run_pipeline", map[string]any{"job_id": "build", "body": "{}"}), cfg, cat)
	if resp.Status != "ok" || !dirty {
		t.Fatalf("run: status=%q dirty=%v error=%s", resp.Status, dirty, resp.Error)
	}
	if len(resp.Logs) != 1 || resp.Logs[0].Message != "started build #1" {
		t.Fatalf("run logs = %+v", resp.Logs)
	}

	resp, _ = dispatch(request(t, "snapshot_latest", map[string]any{"job_id": "build"}), cfg, cat)
	var snap protocol.SnapshotNode
	if err := json.Unmarshal(resp.Result, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Number != "1" || snap.Status != buildRunning {
		t.Fatalf("snapshot = %+v", snap)
	}

	if resp, _ = dispatch(request(t, "stop_pipeline", map[string]any{"job_id": "build"}), cfg, cat); resp.Status != "ok" {
		t.Fatalf("stop: %s", resp.Error)
	}
	if got := cat.Builds["build"][0]; got.Status != buildFinished || got.Result != resultAborted {
		t.Fatalf("build after stop = %+v", got)
	}

	resp, _ = dispatch(request(t, "snapshot_by_number", map[string]any{"job_id": "build", "build_id": "7"}), cfg, cat)
	if resp.Status != "ok" || len(resp.Result) != 0 {
		t.Fatalf("missing build should be an empty result, got %+v", resp)
	}
}

func TestRunUnknownJob(t *testing.T) {
	resp, dirty := dispatch(request(t, "run_pipeline", map[string]any{"job_id": "nope"}), pluginConfig{DataDir: "x"}, seedCatalog())
	if resp.Status != "error" || dirty {
		t.Fatalf("status=%q dirty=%v", resp.Status, dirty)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	cfg := parseConfig(map[string]any{"data_dir": "x", "read_only": "true"})
	resp, _ := dispatch(request(t, "run_pipeline", map[string]any{"job_id": "build"}), cfg, seedCatalog())
	if resp.ErrorKind != protocol.ErrorKindPermission || resp.ErrorCode != 403 {
		t.Fatalf("resp = %+v", resp)
	}

	resp, _ = dispatch(request(t, "jobs_list", nil), cfg, seedCatalog())
	if resp.Status != "ok" {
		t.Fatalf("reads must still work: %+v", resp)
	}
}

func TestJobsListParameters(t *testing.T) {
	cat := seedCatalog()
	with := cat.jobsList(true)
	without := cat.jobsList(false)
	if len(with.Jobs) != 2 || with.Jobs[0].JobCIID != "build" {
		t.Fatalf("jobs = %+v", with.Jobs)
	}
	if len(with.Jobs[0].Parameters) != 1 || len(without.Jobs[0].Parameters) != 0 {
		t.Fatalf("parameters not toggled: %+v / %+v", with.Jobs[0], without.Jobs[0])
	}
}

func TestCatalogPersists(t *testing.T) {
	dir := t.TempDir()
	cat, err := loadCatalog(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cat.run("release/deploy", "", time.Unix(100, 0)); err != nil {
		t.Fatalf("run: %v", err)
	}
	resp := cat.upsertCredentials(protocol.CredentialsInfo{CredentialsID: "c1", Username: "bot"})
	if resp.Status != 201 {
		t.Fatalf("first upsert status = %d", resp.Status)
	}
	if err := saveCatalog(dir, cat); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := loadCatalog(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Builds["release/deploy"]) != 1 {
		t.Fatalf("builds not persisted: %+v", reloaded.Builds)
	}
	if again := reloaded.upsertCredentials(protocol.CredentialsInfo{CredentialsID: "c1", Username: "bot"}); again.Status != 200 {
		t.Fatalf("second upsert status = %d", again.Status)
	}
}

func TestConnectivity(t *testing.T) {
	if got := testConnectivity(protocol.TestConnectivityInfo{}); got.Status != 400 {
		t.Fatalf("missing repo = %d", got.Status)
	}
	ok := testConnectivity(protocol.TestConnectivityInfo{SCMRepository: &protocol.SCMRepository{Type: "git", URL: "https://git.local/r.git"}})
	if ok.Status != 200 {
		t.Fatalf("reachable repo = %d", ok.Status)
	}
}

func TestUnknownCommandIsNotImplemented(t *testing.T) {
	resp, _ := dispatch(request(t, "delete_executor", nil), pluginConfig{DataDir: "x"}, seedCatalog())
	if resp.ErrorKind != protocol.ErrorKindNotImplemented {
		t.Fatalf("resp = %+v", resp)
	}
}
