package host

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
)

func detailKey() string { return "osascript -e " + LoginItemsDetailScript }
func namesKey() string  { return "osascript -e " + LoginItemsNamesScript }

func TestLoginItemSourceDetail(t *testing.T) {
	runner := execx.NewFakeRunner()
	runner.Set(detailKey(), "Slack\t/Applications/Slack.app\tfalse\n"+
		"Dropbox\t/Applications/Dropbox.app\ttrue\n"+
		"Slack\t/Applications/Slack 2.app\tfalse\n"+
		"Evil\t/tmp/evil/../../etc\tfalse\n"+
		"NoPath\tmissing value\t\n", nil)

	src := NewLoginItemSource(runner, "", nil)
	res := src.Read(context.Background())

	require.Equal(t, model.SourceOK, res.Status)
	assert.Equal(t, "osascript_detail", res.Method)
	require.Len(t, res.Records, 3)

	assert.Equal(t, "Slack", res.Records[0].IdentityKey)
	assert.True(t, res.Records[0].Enabled)
	assert.Equal(t, "/Applications/Slack.app", res.Records[0].Path)

	assert.Equal(t, "Dropbox", res.Records[1].IdentityKey)
	assert.False(t, res.Records[1].Enabled, "hidden login item is disabled")

	attrs, ok := res.Records[2].LoginItem()
	require.True(t, ok)
	assert.False(t, attrs.HiddenKnown)
	assert.Empty(t, res.Records[2].Path)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, model.DiagMalformedRecord, res.Diagnostics[0].Kind)
	assert.Equal(t, 0, runner.CallCount(namesKey()))
}

func TestLoginItemSourceNamesFallback(t *testing.T) {
	runner := execx.NewFakeRunner()
	runner.Set(namesKey(), "Slack, Spotify\n", nil)

	res := NewLoginItemSource(runner, "", nil).Read(context.Background())
	require.Equal(t, model.SourceOK, res.Status)
	assert.Equal(t, "osascript_names", res.Method)
	require.Len(t, res.Records, 2)
	for _, r := range res.Records {
		attrs, _ := r.LoginItem()
		assert.False(t, attrs.HiddenKnown)
	}
}

func TestLoginItemSourceLegacyFile(t *testing.T) {
	legacy := filepath.Join(t.TempDir(), "backgrounditems.btm")
	raw, err := plist.Marshal(map[string]any{
		"$archiver": "NSKeyedArchiver",
		"$objects": []any{
			"$null",
			map[string]any{"Name": "Alfred", "URL": "file:///Applications/Alfred%205.app/"},
			map[string]any{"Name": "NoURL"},
			"just a string",
		},
	}, plist.BinaryFormat)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(legacy, raw, 0o644))

	// 详细脚本成功但返回 0 条，回退到旧版文件。
	runner := execx.NewFakeRunner()
	runner.Set(detailKey(), "", nil)

	res := NewLoginItemSource(runner, legacy, nil).Read(context.Background())
	require.Equal(t, model.SourceOK, res.Status)
	assert.Equal(t, "legacy_btm", res.Method)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Alfred", res.Records[0].IdentityKey)
	assert.Equal(t, "/Applications/Alfred 5.app/", res.Records[0].Path)
}

func TestLoginItemSourceGenuineZeroVersusCouldNotCheck(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.btm")

	answered := execx.NewFakeRunner()
	answered.Set(detailKey(), "\n", nil)
	res := NewLoginItemSource(answered, missing, nil).Read(context.Background())
	assert.Equal(t, model.SourceOK, res.Status)
	assert.Empty(t, res.Records)

	// osascript 全部失败且没有旧版文件：显式标记 degraded。
	failing := execx.NewFakeRunner()
	res = NewLoginItemSource(failing, missing, nil).Read(context.Background())
	assert.Equal(t, model.SourceDegraded, res.Status)
	assert.Empty(t, res.Records)
	assert.Len(t, res.Diagnostics, 2)
}

func TestLoginItemSourceLegacyAccessDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	legacy := filepath.Join(t.TempDir(), "backgrounditems.btm")
	require.NoError(t, os.WriteFile(legacy, []byte("x"), 0o000))

	res := NewLoginItemSource(execx.NewFakeRunner(), legacy, nil).Read(context.Background())
	assert.Equal(t, model.SourceAccessDenied, res.Status)
	assert.Empty(t, res.Records)
}
