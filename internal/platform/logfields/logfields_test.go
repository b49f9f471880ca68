package logfields

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name string
		attr slog.Attr
		key  string
		val  string
	}{
		{"Category", Category("launch_agents"), KeyCategory, "launch_agents"},
		{"Identity", Identity("com.example.agent"), KeyIdentity, "com.example.agent"},
		{"Label", Label("com.example.agent"), KeyLabel, "com.example.agent"},
		{"Path", Path("/Library/LaunchAgents/x.plist"), KeyPath, "/Library/LaunchAgents/x.plist"},
		{"Method", Method("osascript"), KeyMethod, "osascript"},
		{"Status", Status("ok"), KeyStatus, "ok"},
		{"Command", Command("launchctl list"), KeyCommand, "launchctl list"},
		{"Error", Error(errors.New("boom")), KeyError, "boom"},
		{"NilError", Error(nil), KeyError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.key, tc.attr.Key)
			assert.Equal(t, tc.val, tc.attr.Value.String())
		})
	}
	assert.Equal(t, int64(3), Count(3).Value.Int64())
}
