package mutator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/execx"
	"startup-inspector/internal/platform/fault"
)

func agentAt(path string) model.LaunchRecord {
	return model.LaunchRecord{
		Category:    model.CategoryLaunchAgents,
		IdentityKey: "com.example.agent",
		DisplayName: "agent",
		Path:        path,
		Enabled:     true,
		Service:     &model.ServiceAttrs{Label: "com.example.agent"},
	}
}

func TestSetEnabledLaunchAgent(t *testing.T) {
	runner := execx.NewFakeRunner()
	runner.Set("launchctl unload /Users/me/Library/LaunchAgents/a.plist", "", nil)
	m := New(runner, nil)

	require.NoError(t, m.SetEnabled(context.Background(), agentAt("/Users/me/Library/LaunchAgents/a.plist"), false))
	assert.Equal(t, 1, runner.CallCount("launchctl unload /Users/me/Library/LaunchAgents/a.plist"))
}

func TestSetEnabledFailureCarriesCommand(t *testing.T) {
	runner := execx.NewFakeRunner()
	runner.SetExit("launchctl load /Library/LaunchAgents/a.plist", 5, "Operation not permitted")
	m := New(runner, nil)

	err := m.SetEnabled(context.Background(), agentAt("/Library/LaunchAgents/a.plist"), true)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.MutationFailure))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"launchctl", "load", "/Library/LaunchAgents/a.plist"}, fe.Command)
	assert.Equal(t, 5, fe.ExitCode)
	assert.Equal(t, "/Library/LaunchAgents/a.plist", fe.Path)
	assert.Contains(t, err.Error(), "Operation not permitted")
}

func TestLoginItemScriptsEscapeQuotes(t *testing.T) {
	rec := model.LaunchRecord{
		Category:    model.CategoryLoginItems,
		IdentityKey: `My "App"`,
		DisplayName: `My "App"`,
		Path:        `/Applications/My "App".app`,
	}
	runner := execx.NewFakeRunner()
	runner.Set("osascript -e "+deleteLoginItemScript(rec.DisplayName), "", nil)
	runner.Set("osascript -e "+makeLoginItemScript(rec.Path, "end"), "", nil)
	m := New(runner, nil)

	require.NoError(t, m.SetEnabled(context.Background(), rec, false))
	require.NoError(t, m.SetEnabled(context.Background(), rec, true))

	assert.Contains(t, deleteLoginItemScript(rec.DisplayName), `login item "My \"App\""`)
	assert.Contains(t, makeLoginItemScript(rec.Path, "end"), `{path:"/Applications/My \"App\".app", hidden:false}`)
}

func TestEnableLoginItemWithoutPath(t *testing.T) {
	m := New(execx.NewFakeRunner(), nil)
	err := m.SetEnabled(context.Background(), model.LaunchRecord{Category: model.CategoryLoginItems, IdentityKey: "x", DisplayName: "x"}, true)
	assert.True(t, fault.Is(err, fault.MutationFailure))
}

func TestBackgroundItemToggle(t *testing.T) {
	rec := model.LaunchRecord{
		Category:    model.CategoryBackgroundItems,
		IdentityKey: "com.example.helper",
		Background:  &model.BackgroundAttrs{BundleID: "com.example.helper"},
	}
	runner := execx.NewFakeRunner()
	runner.Set("/usr/bin/sfltool remove-item -l com.example.helper", "", nil)
	m := New(runner, nil)

	require.NoError(t, m.SetEnabled(context.Background(), rec, false))
	assert.Equal(t, 1, runner.CallCount("/usr/bin/sfltool remove-item -l com.example.helper"))
}

func TestRemoveRefusesProtectedPaths(t *testing.T) {
	runner := execx.NewFakeRunner()
	m := New(runner, nil)
	for _, p := range []string{"/System/Library/LaunchDaemons/com.apple.x.plist", "/Library/LaunchDaemons/com.vendor.plist"} {
		rec := agentAt(p)
		rec.Category = model.CategoryLaunchDaemons
		err := m.Remove(context.Background(), rec)
		assert.True(t, fault.Is(err, fault.MutationFailure), p)
	}
	assert.Empty(t, runner.Calls())
}

func TestRemoveDeletesDeclaration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "com.example.agent.plist")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	runner := execx.NewFakeRunner()
	// unload 失败不影响删除。
	m := New(runner, nil)
	require.NoError(t, m.Remove(context.Background(), agentAt(path)))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, runner.CallCount("launchctl unload "+path))
}

func TestSetPriorityLaunchOrder(t *testing.T) {
	rec := model.LaunchRecord{Category: model.CategoryLoginItems, IdentityKey: "Slack", DisplayName: "Slack", Path: "/Applications/Slack.app"}
	runner := execx.NewFakeRunner()
	runner.Set("osascript -e "+deleteLoginItemScript("Slack"), "", nil)
	runner.Set("osascript -e "+makeLoginItemScript("/Applications/Slack.app", "beginning"), "", nil)
	m := New(runner, nil)

	require.NoError(t, m.SetPriority(context.Background(), rec, model.Priority{Kind: model.PriorityLaunchOrder, Value: model.OrderFirst}))
	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1], "make login item at beginning")
}

func TestSetPriorityKindsAreNotInterchangeable(t *testing.T) {
	m := New(execx.NewFakeRunner(), nil)
	login := model.LaunchRecord{Category: model.CategoryLoginItems, IdentityKey: "Slack", Path: "/Applications/Slack.app"}

	err := m.SetPriority(context.Background(), login, model.Priority{Kind: model.PriorityProcessType, Value: model.ProcessTypeBackground})
	assert.True(t, fault.Is(err, fault.MutationFailure))
	err = m.SetPriority(context.Background(), agentAt("/x.plist"), model.Priority{Kind: model.PriorityLaunchOrder, Value: model.OrderFirst})
	assert.True(t, fault.Is(err, fault.MutationFailure))
}

func TestRewriteProcessTypeKeepsFormat(t *testing.T) {
	for _, format := range []int{plist.XMLFormat, plist.BinaryFormat} {
		path := filepath.Join(t.TempDir(), "com.example.agent.plist")
		raw, err := plist.Marshal(map[string]any{
			"Label":            "com.example.agent",
			"ProgramArguments": []string{"/usr/local/bin/agent", "--serve"},
			"RunAtLoad":        true,
		}, format)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, raw, 0o640))

		m := New(execx.NewFakeRunner(), nil)
		require.NoError(t, m.SetPriority(context.Background(), agentAt(path),
			model.Priority{Kind: model.PriorityProcessType, Value: model.ProcessTypeBackground}))

		out, err := os.ReadFile(path)
		require.NoError(t, err)
		var doc map[string]any
		gotFormat, err := plist.Unmarshal(out, &doc)
		require.NoError(t, err)
		assert.Equal(t, format, gotFormat)
		assert.Equal(t, "Background", doc["ProcessType"])
		assert.Equal(t, "com.example.agent", doc["Label"])
		assert.Equal(t, true, doc["RunAtLoad"])

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	}
}

func TestRewriteProcessTypeMissingFile(t *testing.T) {
	m := New(execx.NewFakeRunner(), nil)
	err := m.SetPriority(context.Background(), agentAt(filepath.Join(t.TempDir(), "absent.plist")),
		model.Priority{Kind: model.PriorityProcessType, Value: model.ProcessTypeStandard})
	assert.True(t, fault.Is(err, fault.MutationFailure))
}

func TestRequiresAdmin(t *testing.T) {
	m := New(execx.NewFakeRunner(), nil)
	m.ownerUID = func(path string) (uint32, bool) {
		return 0, path == "/opt/root-owned.plist"
	}

	assert.True(t, m.RequiresAdmin(agentAt("/Library/LaunchAgents/com.vendor.plist")))
	assert.True(t, m.RequiresAdmin(agentAt("/System/Library/LaunchAgents/com.apple.plist")))
	assert.True(t, m.RequiresAdmin(agentAt("/opt/root-owned.plist")))
	assert.False(t, m.RequiresAdmin(agentAt("/Users/me/Library/LaunchAgents/com.me.plist")))
	assert.False(t, m.RequiresAdmin(model.LaunchRecord{Category: model.CategoryLoginItems, Path: "/System/Applications/x.app"}))
}
