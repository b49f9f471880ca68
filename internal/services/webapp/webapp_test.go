package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"startup-inspector/internal/adapters/host"
	"startup-inspector/internal/app"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/execx"
	"startup-inspector/internal/services/backup"
)

type fixture struct {
	srv       *httptest.Server
	runner    *execx.FakeRunner
	agentPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	agents := filepath.Join(root, "LaunchAgents")
	require.NoError(t, os.MkdirAll(agents, 0o755))
	raw, err := plist.Marshal(map[string]any{
		"Label":            "com.example.sync",
		"ProgramArguments": []string{"/usr/local/bin/sync"},
		"RunAtLoad":        true,
	}, plist.XMLFormat)
	require.NoError(t, err)
	agentPath := filepath.Join(agents, "com.example.sync.plist")
	require.NoError(t, os.WriteFile(agentPath, raw, 0o644))

	cfg := app.DefaultConfig("")
	cfg.DBPath = filepath.Join(root, "inspector.db")
	cfg.AgentDirs = []app.DirConfig{{Path: agents, Scope: model.ScopeUser}}
	cfg.DaemonDirs = nil
	cfg.LegacyLoginItemsPath = ""
	cfg.BTMPaths = nil

	runner := execx.NewFakeRunner()
	runner.Set("launchctl list", "PID\tStatus\tLabel\n123\t0\tcom.example.sync\n", nil)
	runner.Set("osascript -e "+host.LoginItemsDetailScript, "Slack\t/Applications/Slack.app\tfalse\n", nil)
	runner.Set("launchctl unload "+agentPath, "", nil)

	a, err := app.New(context.Background(), cfg, app.Deps{Runner: runner, Actor: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	s := NewServer(Deps{
		Engine:   a.Engine,
		Store:    a.Store,
		Backups:  backup.NewManager(filepath.Join(root, "Backups"), nil),
		Registry: a.Registry,
	}, Options{DBPath: cfg.DBPath})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, runner: runner, agentPath: agentPath}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

// refresh 通过 job 接口刷新并等待结束。
func (f *fixture) refresh(t *testing.T) map[string]any {
	t.Helper()
	code, job := f.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusAccepted, code)
	jobID, _ := job["job_id"].(string)
	require.NotEmpty(t, jobID)

	var last map[string]any
	require.Eventually(t, func() bool {
		_, last = f.do(t, http.MethodGet, "/api/jobs/"+jobID, nil)
		return last["status"] != "running"
	}, 5*time.Second, 20*time.Millisecond)
	return last
}

func TestHealthAndMeta(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, body = f.do(t, http.MethodGet, "/api/meta", nil)
	assert.Equal(t, http.StatusOK, code)
	db := body["db"].(map[string]any)
	assert.Equal(t, "1", db["schema_version"])
	assert.Equal(t, "startup_inspector", db["schema_name"])
	migrations := db["migrations"].([]any)
	require.Len(t, migrations, 1)
	assert.Equal(t, "001_init.sql", migrations[0].(map[string]any)["name"])

	code, _ = f.do(t, http.MethodPost, "/api/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestRefreshJobAndInventory(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/inventory/agents", nil)
	assert.Equal(t, http.StatusNotFound, code, "not refreshed yet")

	job := f.refresh(t)
	assert.Contains(t, []any{"success", "partial"}, job["status"])

	code, body := f.do(t, http.MethodGet, "/api/inventory", nil)
	require.Equal(t, http.StatusOK, code)
	cats := body["categories"].([]any)
	assert.Len(t, cats, 4)
	agg := body["aggregate"].(map[string]any)
	assert.EqualValues(t, 2, agg["enabled_count"])

	code, body = f.do(t, http.MethodGet, "/api/inventory/launch_agents", nil)
	require.Equal(t, http.StatusOK, code)
	recs := body["records"].([]any)
	require.Len(t, recs, 1)
	rec := recs[0].(map[string]any)
	assert.Equal(t, "com.example.sync", rec["identity_key"])
	assert.Equal(t, f.agentPath, rec["path"])

	code, _ = f.do(t, http.MethodGet, "/api/inventory/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/api/jobs/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["jobs"], 1)

	code, body = f.do(t, http.MethodGet, "/api/refresh-runs?limit=10", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["runs"], 4)
}

func TestItemActions(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	code, body := f.do(t, http.MethodPost, "/api/items/disable", itemRequest{Category: "agents", IdentityKey: "com.example.sync"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, 1, f.runner.CallCount("launchctl unload "+f.agentPath))

	// launchctl load 未预置，按工具失败处理。
	code, body = f.do(t, http.MethodPost, "/api/items/enable", itemRequest{Category: "agents", IdentityKey: "com.example.sync"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	fe := body["fault"].(map[string]any)
	assert.Equal(t, "mutation_failure", fe["kind"])

	code, _ = f.do(t, http.MethodPost, "/api/items/priority", itemRequest{Category: "agents", IdentityKey: "com.example.sync", Kind: "launch_order", Value: "first"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = f.do(t, http.MethodPost, "/api/items/disable", itemRequest{Category: "agents", IdentityKey: "missing"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = f.do(t, http.MethodPost, "/api/items/explode", itemRequest{Category: "agents", IdentityKey: "com.example.sync"})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/audit/verify", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Positive(t, body["total"])
}

func TestBackupsAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	code, body := f.do(t, http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["backups"])

	code, body = f.do(t, http.MethodPost, "/api/backups", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["path"], "backup_")

	code, body = f.do(t, http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["backups"], 1)

	code, body = f.do(t, http.MethodGet, "/api/exports?type=backup_json", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["exports"], 1)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "startup_inspector_refresh_duration_seconds")
}

func TestJobManagerKeepsBoundedHistory(t *testing.T) {
	m := newJobManager()
	m.limit = 3

	m.put(&refreshJob{JobID: "job-1", Status: "running", CreatedAt: 1})
	for i := 2; i <= 6; i++ {
		m.put(&refreshJob{JobID: fmt.Sprintf("job-%d", i), Status: "success", CreatedAt: int64(i)})
	}

	jobs := m.listCopies()
	require.Len(t, jobs, 3)
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.JobID)
	}
	assert.Equal(t, []string{"job-6", "job-5", "job-1"}, ids)

	_, ok := m.getCopy("job-2")
	assert.False(t, ok)
	_, ok = m.getCopy("job-1")
	assert.True(t, ok, "running jobs are never evicted")
	assert.Len(t, m.order, 3)
}
