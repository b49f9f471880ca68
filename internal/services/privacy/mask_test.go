package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startup-inspector/internal/domain/model"
)

func TestMaskHomePath(t *testing.T) {
	cases := map[string]string{
		"/Users/alice/Library/LaunchAgents/com.a.plist": "~/Library/LaunchAgents/com.a.plist",
		"/Users/alice":                  "~",
		"/Users/alice/":                 "~",
		"/var/root/Library/x":           "~/Library/x",
		"/Users/Shared/tool":            "/Users/Shared/tool",
		"/Library/LaunchAgents/a.plist": "/Library/LaunchAgents/a.plist",
		"":                              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskHomePath(in), in)
	}
}

func TestMaskSnapshotPath(t *testing.T) {
	assert.Equal(t, "bar.json", MaskSnapshotPath("/Users/alice/Library/Application Support/foo/bar.json"))
}

func TestMaskRecordsCopies(t *testing.T) {
	in := []model.LaunchRecord{{
		Category:    model.CategoryLaunchAgents,
		IdentityKey: "com.alice.sync",
		Path:        "/Users/alice/Library/LaunchAgents/com.alice.sync.plist",
		Publisher:   "/Users/alice/bin/sync",
		Service: &model.ServiceAttrs{
			Program:          "/Users/alice/bin/sync",
			ProgramArguments: []string{"/Users/alice/bin/sync", "--config=/Users/alice/.sync.yaml", "-v"},
		},
	}}

	out := MaskRecords(in)
	require.Len(t, out, 1)
	assert.Equal(t, "~/Library/LaunchAgents/com.alice.sync.plist", out[0].Path)
	assert.Equal(t, "~/bin/sync", out[0].Publisher)
	assert.Equal(t, []string{"~/bin/sync", "--config=~/.sync.yaml", "-v"}, out[0].Service.ProgramArguments)

	assert.Equal(t, "/Users/alice/bin/sync", in[0].Service.ProgramArguments[0], "input must not change")
	assert.Nil(t, MaskRecords(nil))
}
