package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(AccessDenied, "read btm", "permission denied").WithPath("/x/backgrounditems.btm")
	wrapped := fmt.Errorf("read login items: %w", base)

	assert.Equal(t, AccessDenied, KindOf(wrapped))
	assert.True(t, Is(wrapped, AccessDenied))
	assert.False(t, Is(wrapped, MalformedRecord))
	assert.False(t, Is(nil, AccessDenied))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestMutationKeepsCommandDetail(t *testing.T) {
	tool := &Error{
		Kind:     ExternalToolFailure,
		Op:       "exec",
		Command:  []string{"launchctl", "unload", "/Library/LaunchAgents/com.example.plist"},
		ExitCode: 5,
		Stderr:   "Operation not permitted",
	}

	err := Mutation(tool, "disable", "/Library/LaunchAgents/com.example.plist")
	require.Equal(t, MutationFailure, err.Kind)
	assert.Equal(t, 5, err.ExitCode)
	assert.Equal(t, tool.Command, err.Command)
	assert.Contains(t, err.Error(), "launchctl unload")
	assert.Contains(t, err.Error(), "exit=5")
	assert.Contains(t, err.Error(), "path=/Library/LaunchAgents/com.example.plist")
}

func TestWithContext(t *testing.T) {
	err := New(MalformedRecord, "validate", "path traversal").WithContext("field", "Program")
	assert.Equal(t, "Program", err.Context["field"])
}
