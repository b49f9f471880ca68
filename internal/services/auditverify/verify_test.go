package auditverify

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startup-inspector/internal/adapters/store/sqlite"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/hash"
)

func chain(logs []model.AuditLog) {
	prev := ""
	for i := range logs {
		logs[i].ChainPrevHash = prev
		detail := string(logs[i].DetailJSON)
		if detail == "" {
			detail = "{}"
		}
		logs[i].ChainHash = hash.Text(prev, logs[i].Namespace, logs[i].EventType, logs[i].Action, logs[i].Status,
			fmt.Sprintf("%d", logs[i].OccurredAt), detail)
		prev = logs[i].ChainHash
	}
}

func sampleLogs() []model.AuditLog {
	return []model.AuditLog{
		{EventID: "evt_1", Namespace: "startup-inspector", EventType: "refresh", Action: "refresh", Status: "success", DetailJSON: []byte(`{"k":"v"}`), OccurredAt: 1700000000},
		{EventID: "evt_2", Namespace: "startup-inspector", EventType: "mutation", Action: "set_enabled", Status: "failed", OccurredAt: 1700000001},
		{EventID: "evt_3", Namespace: "startup-inspector", EventType: "mutation", Action: "remove", Status: "success", DetailJSON: []byte(`{"n":1}`), OccurredAt: 1700000002},
	}
}

func TestVerifyAuditLogsOK(t *testing.T) {
	logs := sampleLogs()
	chain(logs)

	res := VerifyAuditLogs(logs)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Total)
	assert.Zero(t, res.Failed)
	assert.Equal(t, logs[2].ChainHash, res.LastChainHash)
}

func TestVerifyAuditLogsToleratesIndentedDetail(t *testing.T) {
	logs := sampleLogs()
	chain(logs)
	logs[0].DetailJSON = []byte("{\n  \"k\": \"v\"\n}")

	assert.True(t, VerifyAuditLogs(logs).OK)
}

func TestVerifyAuditLogsDetectsTampering(t *testing.T) {
	logs := sampleLogs()
	chain(logs)
	logs[1].Status = "success"

	res := VerifyAuditLogs(logs)
	assert.False(t, res.OK)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.True(t, res.Failures[0].ChainHashMismatch)
	assert.False(t, res.Failures[0].PrevHashMismatch)
	assert.Equal(t, "chain_hash mismatch", res.Failures[0].Message)
}

func TestVerifyAuditLogsDetectsDeletion(t *testing.T) {
	logs := sampleLogs()
	chain(logs)
	logs = append(logs[:1], logs[2:]...)

	res := VerifyAuditLogs(logs)
	assert.False(t, res.OK)
	require.Len(t, res.Failures, 1)
	assert.True(t, res.Failures[0].PrevHashMismatch)
	assert.Equal(t, 1, res.PrevHashFailed)
	assert.Equal(t, 1, res.ChainHashFailed)
}

func TestVerifyAgainstStore(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "inspector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := sqlite.NewStore(db)

	require.NoError(t, store.AppendAudit(ctx, "ns", "refresh", "refresh", "success", "cli", "", map[string]any{"records": 3}))
	time.Sleep(time.Millisecond)
	require.NoError(t, store.AppendAudit(ctx, "ns", "mutation", "set_enabled", "success", "cli", "launch_agents", nil))

	res, err := Verify(ctx, store, "ns")
	require.NoError(t, err)
	assert.Equal(t, "ns", res.Namespace)
	assert.True(t, res.OK, "%+v", res.Failures)
	assert.Equal(t, 2, res.Total)

	empty, err := Verify(ctx, store, "other")
	require.NoError(t, err)
	assert.True(t, empty.OK)
	assert.Zero(t, empty.Total)
}
