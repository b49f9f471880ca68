package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/clock"
	"startup-inspector/internal/platform/execx"
)

func writePlist(t *testing.T, path string, v any, format int) {
	t.Helper()
	raw, err := plist.Marshal(v, format)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func newTestCache(t *testing.T, labels ...string) (*LoadStateCache, *execx.FakeRunner) {
	t.Helper()
	out := "PID\tStatus\tLabel\n"
	for _, l := range labels {
		out += "1\t0\t" + l + "\n"
	}
	runner := execx.NewFakeRunner()
	runner.Set("launchctl list", out, nil)
	return NewLoadStateCache(runner, clock.NewFakeClock(time.Now()), nil), runner
}

func TestAgentDaemonSourceRead(t *testing.T) {
	userDir := t.TempDir()
	localDir := t.TempDir()

	writePlist(t, filepath.Join(userDir, "com.example.sync.plist"), map[string]any{
		"Label":            "com.example.sync",
		"ProgramArguments": []string{"/Applications/Sync.app/Contents/MacOS/sync", "--daemon"},
		"RunAtLoad":        true,
		"KeepAlive":        true,
		"WatchPaths":       []string{"/Users/me/Documents"},
	}, plist.XMLFormat)
	// 二进制 plist + 缺 Label，回退为文件名。
	writePlist(t, filepath.Join(userDir, "com.vendor.updater.plist"), map[string]any{
		"Program":       "/usr/local/bin/updater",
		"StartInterval": 3600,
	}, plist.BinaryFormat)
	// 不安全路径。
	writePlist(t, filepath.Join(userDir, "com.evil.plist"), map[string]any{
		"Label":   "com.evil",
		"Program": "/tmp/evil/../../etc",
	}, plist.XMLFormat)
	// 解析失败。
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "broken.plist"), []byte(`<?xml version="1.0"?><plist version="1.0"><dict><key>Label</key>`), 0o644))
	// 非 plist 文件忽略。
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "README.txt"), []byte("x"), 0o644))
	// 同 Label 在本机目录重复：用户目录优先。
	writePlist(t, filepath.Join(localDir, "com.example.sync.plist"), map[string]any{
		"Label":   "com.example.sync",
		"Program": "/opt/other/sync",
	}, plist.XMLFormat)

	cache, runner := newTestCache(t, "com.example.sync")
	src := NewAgentDaemonSource(model.CategoryLaunchAgents, []ScopedDir{
		{Path: userDir, Scope: model.ScopeUser},
		{Path: localDir, Scope: model.ScopeLocal},
		{Path: filepath.Join(t.TempDir(), "missing"), Scope: model.ScopeSystem},
	}, cache, nil)

	res := src.Read(context.Background())
	require.Equal(t, model.SourceOK, res.Status)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, runner.CallCount("launchctl list"))

	byKey := map[string]model.LaunchRecord{}
	for _, r := range res.Records {
		byKey[r.IdentityKey] = r
	}

	sync := byKey["com.example.sync"]
	assert.Equal(t, "sync", sync.DisplayName)
	assert.True(t, sync.Enabled)
	assert.Equal(t, "/Applications/Sync.app/Contents/MacOS/sync", sync.Publisher)
	attrs, ok := sync.ServiceDecl()
	require.True(t, ok)
	assert.True(t, attrs.RunAtLoad)
	assert.True(t, attrs.KeepAlive)
	assert.True(t, attrs.WatchPathsNonEmpty)
	assert.Equal(t, model.ScopeUser, attrs.Scope)

	upd := byKey["com.vendor.updater"]
	assert.False(t, upd.Enabled)
	uattrs, _ := upd.ServiceDecl()
	assert.True(t, uattrs.LabelFromFilename)
	assert.True(t, uattrs.HasStartInterval)

	kinds := map[model.DiagnosticKind]int{}
	for _, d := range res.Diagnostics {
		kinds[d.Kind]++
	}
	assert.Equal(t, 2, kinds[model.DiagMalformedRecord])
}

func TestParseDeclarationKeepAliveDictIsNotTrue(t *testing.T) {
	raw, err := plist.Marshal(map[string]any{
		"Label":     "com.example.cond",
		"KeepAlive": map[string]any{"SuccessfulExit": false},
		"Sockets":   map[string]any{"Listeners": map[string]any{"SockServiceName": "8080"}},
	}, plist.XMLFormat)
	require.NoError(t, err)

	decl, err := ParseDeclaration(raw)
	require.NoError(t, err)
	assert.False(t, decl.KeepAlive)
	assert.True(t, decl.HasSockets)
	assert.False(t, decl.HasWatchPaths)
}

func TestParseDeclarationRejectsBadArguments(t *testing.T) {
	raw, err := plist.Marshal(map[string]any{
		"Label":            "x",
		"ProgramArguments": []any{"/bin/sh", 42},
	}, plist.XMLFormat)
	require.NoError(t, err)
	_, err = ParseDeclaration(raw)
	assert.Error(t, err)
}

func TestAgentDaemonSourceAccessDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	cache, _ := newTestCache(t)
	src := NewAgentDaemonSource(model.CategoryLaunchDaemons, []ScopedDir{{Path: locked, Scope: model.ScopeLocal}}, cache, nil)
	res := src.Read(context.Background())
	assert.Equal(t, model.SourceAccessDenied, res.Status)
	assert.Empty(t, res.Records)
}
