package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/platform/hash"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "inspector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	v, err := s.GetSchemaMetaValue(context.Background(), "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	missing, err := s.GetSchemaMetaValue(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, NewMigrator(s.db).Up(ctx))

	applied, err := s.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "001_init.sql", applied[0].Name)
	assert.Len(t, applied[0].SHA256, 64)
	assert.NotZero(t, applied[0].AppliedAt)
}

func TestMigrationsRecordSchemaVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.ExecContext(ctx, `UPDATE schema_meta SET value = '0' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, NewMigrator(s.db).Up(ctx))

	v, err := s.GetSchemaMetaValue(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestMigrationsRejectChangedScript(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.ExecContext(ctx, `UPDATE schema_migrations SET sha256 = 'stale' WHERE name = '001_init.sql'`)
	require.NoError(t, err)

	err = NewMigrator(s.db).Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_init.sql changed")
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	got, err := s.LoadSnapshot(ctx, "startup-inspector/login_items")
	require.NoError(t, err)
	assert.Nil(t, got)

	entries := []model.SnapshotEntry{
		{IdentityKey: "Slack", DisplayName: "Slack", Path: "/Applications/Slack.app", Enabled: false, Publisher: "Slack Technologies"},
		{IdentityKey: "Zoom", DisplayName: "Zoom", Enabled: true},
	}
	require.NoError(t, s.SaveSnapshot(ctx, "startup-inspector/login_items", entries))

	got, err = s.LoadSnapshot(ctx, "startup-inspector/login_items")
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	// 覆盖写入。
	require.NoError(t, s.SaveSnapshot(ctx, "startup-inspector/login_items", entries[:1]))
	got, err = s.LoadSnapshot(ctx, "startup-inspector/login_items")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	infos, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].EntryCount)

	require.NoError(t, s.DeleteSnapshot(ctx, "startup-inspector/login_items"))
	got, err = s.LoadSnapshot(ctx, "startup-inspector/login_items")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotEmptyIsNotAbsent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveSnapshot(ctx, "ns", nil))

	got, err := s.LoadSnapshot(ctx, "ns")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSnapshotMalformed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	payload := `{"not":"an array"}`
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots(namespace, payload_json, payload_sha256, entry_count, created_at, updated_at)
		VALUES(?, ?, ?, 0, 0, 0)
	`, "bad", payload, hash.Text(payload))
	require.NoError(t, err)

	_, err = s.LoadSnapshot(ctx, "bad")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.MalformedRecord))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots(namespace, payload_json, payload_sha256, entry_count, created_at, updated_at)
		VALUES(?, '[]', 'tampered', 0, 0, 0)
	`, "tampered")
	require.NoError(t, err)
	_, err = s.LoadSnapshot(ctx, "tampered")
	assert.True(t, fault.Is(err, fault.MalformedRecord))
}

func TestAppendAuditBuildsChainPerNamespace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.AppendAudit(ctx, "a", "refresh", "refresh_start", "started", "cli", "login_items", map[string]any{"k": "v"}))
	now = now.Add(time.Second)
	require.NoError(t, s.AppendAudit(ctx, "a", "refresh", "refresh_finish", "success", "cli", "login_items", nil))
	require.NoError(t, s.AppendAudit(ctx, "b", "mutation", "set_enabled", "failed", "", "", nil))

	logs, err := s.ListAuditLogs(ctx, "a")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Empty(t, logs[0].ChainPrevHash)
	assert.Equal(t, logs[0].ChainHash, logs[1].ChainPrevHash)
	assert.JSONEq(t, `{"k":"v"}`, string(logs[0].DetailJSON))
	assert.JSONEq(t, `{}`, string(logs[1].DetailJSON))

	want := hash.Text("", "a", "refresh", "refresh_start", "started", "1700000000", `{"k":"v"}`)
	assert.Equal(t, want, logs[0].ChainHash)

	other, err := s.ListAuditLogs(ctx, "b")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Empty(t, other[0].ChainPrevHash, "chains are partitioned by namespace")
}

func TestRefreshRunsAndExports(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	runs := []model.CategoryRefresh{
		{RunID: "run_1", Category: model.CategoryLoginItems, Status: model.SourceOK, Method: "osascript_detail", RecordCount: 3, Committed: true, StartedAt: 10, FinishedAt: 11},
		{RunID: "run_1", Category: model.CategoryLaunchDaemons, Status: model.SourceAccessDenied, Committed: true,
			Diagnostics: []model.Diagnostic{{Category: model.CategoryLaunchDaemons, Kind: model.DiagAccessDenied, Path: "/Library/LaunchDaemons", Message: "denied"}},
			StartedAt:   10, FinishedAt: 12},
	}
	require.NoError(t, s.SaveRefreshRuns(ctx, runs))
	require.NoError(t, s.SaveRefreshRuns(ctx, nil))

	got, err := s.ListRefreshRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.CategoryLaunchDaemons, got[0].Category)
	assert.Equal(t, model.SourceAccessDenied, got[0].Status)
	require.Len(t, got[0].Diagnostics, 1)
	assert.Equal(t, "/Library/LaunchDaemons", got[0].Diagnostics[0].Path)
	assert.True(t, got[1].Committed)
	assert.Equal(t, "osascript_detail", got[1].Method)

	exportID, err := s.SaveExport(ctx, "backup_json", "/tmp/b.json", "abc", "ok")
	require.NoError(t, err)
	assert.Contains(t, exportID, "export_")
	_, err = s.SaveExport(ctx, "report_pdf", "/tmp/r.pdf", "def", "ok")
	require.NoError(t, err)

	all, err := s.ListExports(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	pdfs, err := s.ListExports(ctx, "report_pdf")
	require.NoError(t, err)
	require.Len(t, pdfs, 1)
	assert.Equal(t, "/tmp/r.pdf", pdfs[0].FilePath)
}
