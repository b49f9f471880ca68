package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/clock"
	"startup-inspector/internal/platform/hash"
)

func sampleRecords() []model.LaunchRecord {
	return []model.LaunchRecord{
		{Category: model.CategoryLoginItems, IdentityKey: "Slack", DisplayName: "Slack", Path: "/Applications/Slack.app", Enabled: true},
		{Category: model.CategoryLaunchAgents, IdentityKey: "com.example.agent", Path: "/Users/alice/Library/LaunchAgents/com.example.agent.plist", Enabled: false},
		{Category: model.CategoryLaunchDaemons, IdentityKey: "com.example.daemon", Path: "/Library/LaunchDaemons/com.example.daemon.plist", Enabled: true},
		{Category: model.CategoryBackgroundItems, IdentityKey: "com.example.bg", Path: "/Applications/Bg.app", Enabled: true},
	}
}

func TestEncodeFormat(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 30, 15, 999, time.UTC)
	raw, err := Encode(Build(sampleRecords(), now, Options{}))
	require.NoError(t, err)

	want := `{
  "launchAgents": [
    {
      "isEnabled": false,
      "path": "/Users/alice/Library/LaunchAgents/com.example.agent.plist"
    }
  ],
  "launchDaemons": [
    {
      "isEnabled": true,
      "path": "/Library/LaunchDaemons/com.example.daemon.plist"
    }
  ],
  "loginItems": [
    "/Applications/Slack.app"
  ],
  "timestamp": "2024-03-01T08:30:15Z"
}`
	assert.Equal(t, want, string(raw))
}

func TestEncodeEmptyUsesArrays(t *testing.T) {
	raw, err := Encode(Build(nil, time.Unix(0, 0), Options{}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"loginItems": []`)
	assert.NotContains(t, string(raw), "null")
}

func TestBuildMasked(t *testing.T) {
	cfg := Build(sampleRecords(), time.Unix(0, 0), Options{Masked: true})
	require.Len(t, cfg.LaunchAgents, 1)
	assert.Equal(t, "~/Library/LaunchAgents/com.example.agent.plist", cfg.LaunchAgents[0].Path)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode([]byte(`{"launchAgents":[],"launchDaemons":[],"loginItems":[]}`))
	assert.Error(t, err, "timestamp required")

	_, err = Decode([]byte(`{"bogus":1,"timestamp":"2024-01-01T00:00:00Z"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"launchAgents":[{"isEnabled":true,"path":" "}],"timestamp":"2024-01-01T00:00:00Z"}`))
	assert.Error(t, err)

	cfg, err := Decode([]byte(`{"loginItems":["/Applications/A.app"],"timestamp":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/Applications/A.app"}, cfg.LoginItems)
}

func TestDiff(t *testing.T) {
	cfg := Configuration{
		LaunchAgents: []ServiceEntry{{IsEnabled: true, Path: "/Users/alice/Library/LaunchAgents/com.example.agent.plist"}},
		LaunchDaemons: []ServiceEntry{
			{IsEnabled: true, Path: "/Library/LaunchDaemons/com.example.daemon.plist"},
			{IsEnabled: false, Path: "/Library/LaunchDaemons/gone.plist"},
		},
		LoginItems: []string{"/Applications/Slack.app"},
	}
	records := append(sampleRecords(), model.LaunchRecord{
		Category: model.CategoryLoginItems, IdentityKey: "Zoom", Path: "/Applications/Zoom.app", Enabled: true,
	})

	changes := Diff(cfg, records)
	require.Len(t, changes, 3)
	assert.Equal(t, Change{Category: model.CategoryLoginItems, Path: "/Applications/Zoom.app", Kind: ChangeExtra, HasEnable: true}, changes[0])
	assert.Equal(t, ChangeEnabled, changes[1].Kind)
	assert.True(t, changes[1].WantEnable)
	assert.Equal(t, ChangeMissing, changes[2].Kind)
	assert.Equal(t, "/Library/LaunchDaemons/gone.plist", changes[2].Path)
}

func TestLoginItemsComparedByPresence(t *testing.T) {
	records := []model.LaunchRecord{
		{Category: model.CategoryLoginItems, IdentityKey: "Slack", Path: "/Applications/Slack.app", Enabled: false},
		{Category: model.CategoryLoginItems, IdentityKey: "Dropbox", DisplayName: "Dropbox", Enabled: true},
	}

	cfg := Build(records, time.Now(), Options{})
	assert.Equal(t, []string{"/Applications/Slack.app"}, cfg.LoginItems)

	assert.Empty(t, Diff(cfg, records))

	changes := Diff(Configuration{LoginItems: []string{"/Applications/Slack.app", "/Applications/Zoom.app"}}, records)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeMissing, changes[0].Kind)
	assert.Equal(t, "/Applications/Zoom.app", changes[0].Path)
}

func TestManagerLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Backups")
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local))
	m := NewManager(dir, clk)

	list, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	first, err := m.Create(sampleRecords(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "backup_2024-05-01_09-00-00.json", filepath.Base(first))

	clk.Advance(time.Hour)
	second, err := m.Create(sampleRecords()[:1], Options{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644))

	list, err = m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, filepath.Base(second), list[0].Name, "newest first")

	cfg, err := m.Load(list[0].Name)
	require.NoError(t, err)
	assert.Len(t, cfg.LoginItems, 1)
	assert.Empty(t, cfg.LaunchAgents)

	require.NoError(t, m.Delete(list[1].Name))
	list, err = m.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestManagerRejectsTraversal(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	for _, name := range []string{"", "..", "../etc/passwd", "sub/file.json"} {
		err := m.Delete(name)
		require.Error(t, err, name)
		assert.True(t, strings.Contains(err.Error(), "invalid backup name"), name)
	}
}

func TestExportImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, Export(path, sampleRecords(), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Options{}))

	cfg, err := Import(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", cfg.Timestamp.Time().Format(time.RFC3339))
	assert.Empty(t, Diff(cfg, sampleRecords()))
}

type recordingSaver struct {
	exportType, path, sum string
}

func (r *recordingSaver) SaveExport(_ context.Context, exportType, filePath, sha256, _ string) (string, error) {
	r.exportType, r.path, r.sum = exportType, filePath, sha256
	return "export_1", nil
}

func TestRegister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, Export(path, sampleRecords(), time.Unix(0, 0), Options{}))

	saver := &recordingSaver{}
	id, err := Register(context.Background(), saver, path)
	require.NoError(t, err)
	assert.Equal(t, "export_1", id)
	assert.Equal(t, ExportType, saver.exportType)

	want, _, err := hash.File(path)
	require.NoError(t, err)
	assert.Equal(t, want, saver.sum)

	_, err = Register(context.Background(), saver, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
