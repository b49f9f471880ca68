package model

import "encoding/json"

// SnapshotEntry 是持久化快照中的一条记录（名称、路径、启用状态、发布者）。
type SnapshotEntry struct {
	IdentityKey string `json:"identityKey"`
	DisplayName string `json:"displayName"`
	Path        string `json:"path"`
	Enabled     bool   `json:"enabled"`
	Publisher   string `json:"publisher"`
}

// SnapshotEntryFromRecord 抽取记录中需要持久化的字段。
func SnapshotEntryFromRecord(r LaunchRecord) SnapshotEntry {
	return SnapshotEntry{
		IdentityKey: r.IdentityKey,
		DisplayName: r.DisplayName,
		Path:        r.Path,
		Enabled:     r.Enabled,
		Publisher:   r.Publisher,
	}
}

// Record 把快照条目还原为指定类别的记录（不含类别专有属性）。
func (e SnapshotEntry) Record(c Category) LaunchRecord {
	return LaunchRecord{
		Category:    c,
		IdentityKey: e.IdentityKey,
		DisplayName: e.DisplayName,
		Path:        e.Path,
		Enabled:     e.Enabled,
		Publisher:   e.Publisher,
	}
}

// AuditLog 表示一条审计日志记录（audit_logs 表）。
type AuditLog struct {
	EventID       string          `json:"event_id"`
	Namespace     string          `json:"namespace"`
	EventType     string          `json:"event_type"`
	Action        string          `json:"action"`
	Status        string          `json:"status"`
	Actor         string          `json:"actor,omitempty"`
	Category      string          `json:"category,omitempty"`
	DetailJSON    json.RawMessage `json:"detail_json,omitempty"`
	OccurredAt    int64           `json:"occurred_at"`
	ChainPrevHash string          `json:"chain_prev_hash,omitempty"`
	ChainHash     string          `json:"chain_hash"`
}
