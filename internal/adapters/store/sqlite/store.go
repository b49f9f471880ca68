package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/platform/hash"
	"startup-inspector/internal/platform/id"

	_ "modernc.org/sqlite"
)

// Store 封装与 SQLite 的读写逻辑：快照、审计链、刷新记录、导出登记。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open 打开（必要时创建）数据库并执行迁移。
// 本地单机工具优先稳定性：单连接 + busy_timeout 减少 "database is locked"。
func Open(ctx context.Context, dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := NewMigrator(db).Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

// GetSchemaMetaValue 查询 schema_meta 表指定 key 的 value。
func (s *Store) GetSchemaMetaValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM schema_meta
		WHERE key = ?
		LIMIT 1
	`, key).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query schema_meta %s: %w", key, err)
	}
	return v, nil
}

// AppliedMigrations 列出已执行的迁移脚本。
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	return NewMigrator(s.db).Applied(ctx)
}

// LoadSnapshot 读取命名空间下的快照。
// 不存在时返回 (nil, nil)；内容损坏（JSON 无法解析或校验和不符）返回 malformed_record。
func (s *Store) LoadSnapshot(ctx context.Context, namespace string) ([]model.SnapshotEntry, error) {
	var payload, sum string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload_json, payload_sha256
		FROM snapshots
		WHERE namespace = ?
	`, namespace).Scan(&payload, &sum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query snapshot %s: %w", namespace, err)
	}

	if hash.Text(payload) != sum {
		return nil, fault.New(fault.MalformedRecord, "load snapshot", "checksum mismatch").WithContext("namespace", namespace)
	}
	var entries []model.SnapshotEntry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return nil, fault.Wrap(err, fault.MalformedRecord, "load snapshot").WithContext("namespace", namespace)
	}
	return entries, nil
}

// SaveSnapshot 覆盖写入快照（upsert）。
func (s *Store) SaveSnapshot(ctx context.Context, namespace string, entries []model.SnapshotEntry) error {
	if entries == nil {
		entries = []model.SnapshotEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	payload := string(raw)
	now := s.now().Unix()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots(namespace, payload_json, payload_sha256, entry_count, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			payload_json=excluded.payload_json,
			payload_sha256=excluded.payload_sha256,
			entry_count=excluded.entry_count,
			updated_at=excluded.updated_at
	`, namespace, payload, hash.Text(payload), len(entries), now, now)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot 删除快照，仅在用户显式操作时调用。
func (s *Store) DeleteSnapshot(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// SnapshotInfo 是快照列表的轻量结构。
type SnapshotInfo struct {
	Namespace  string `json:"namespace"`
	EntryCount int    `json:"entry_count"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// ListSnapshots 列出所有快照命名空间。
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, entry_count, created_at, updated_at
		FROM snapshots
		ORDER BY namespace ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var it SnapshotInfo
		if err := rows.Scan(&it.Namespace, &it.EntryCount, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// AppendAudit 写入审计日志，并生成链式 hash 以便后续校验完整性。
func (s *Store) AppendAudit(ctx context.Context, namespace, eventType, action, status, actor, category string, detail any) error {
	detailJSON := []byte("{}")
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err == nil {
			detailJSON = raw
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx append audit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prev := ""
	err = tx.QueryRowContext(ctx, `
		SELECT chain_hash
		FROM audit_logs
		WHERE namespace = ?
		ORDER BY occurred_at DESC, event_id DESC
		LIMIT 1
	`, namespace).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query previous chain hash: %w", err)
	}

	now := s.now().Unix()
	eventID := id.New("evt")
	chain := hash.Text(prev, namespace, eventType, action, status, fmt.Sprintf("%d", now), string(detailJSON))

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs(
			event_id, namespace, event_type, action, status,
			actor, category, detail_json, occurred_at, chain_prev_hash, chain_hash
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, namespace, eventType, action, status, nullIfEmpty(actor), nullIfEmpty(category), string(detailJSON), now, nullIfEmpty(prev), chain)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit audit log: %w", err)
	}
	return nil
}

// ListAuditLogs 按写入顺序返回命名空间下的审计日志。
func (s *Store) ListAuditLogs(ctx context.Context, namespace string) ([]model.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, namespace, event_type, action, status,
			COALESCE(actor, ''), COALESCE(category, ''), detail_json, occurred_at,
			COALESCE(chain_prev_hash, ''), chain_hash
		FROM audit_logs
		WHERE namespace = ?
		ORDER BY occurred_at ASC, event_id ASC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []model.AuditLog
	for rows.Next() {
		var it model.AuditLog
		var detail string
		if err := rows.Scan(&it.EventID, &it.Namespace, &it.EventType, &it.Action, &it.Status,
			&it.Actor, &it.Category, &detail, &it.OccurredAt, &it.ChainPrevHash, &it.ChainHash); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		it.DetailJSON = json.RawMessage(detail)
		out = append(out, it)
	}
	return out, rows.Err()
}

// SaveRefreshRuns 批量写入一次刷新的各类别结果，使用事务保证原子性。
func (s *Store) SaveRefreshRuns(ctx context.Context, runs []model.CategoryRefresh) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save refresh runs: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO refresh_runs(
			run_id, category, status, method, record_count, diagnostic_count,
			diagnostics_json, fingerprint, committed, error, started_at, finished_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert refresh runs: %w", err)
	}
	defer stmt.Close()

	for _, r := range runs {
		diags := r.Diagnostics
		if diags == nil {
			diags = []model.Diagnostic{}
		}
		diagJSON, mErr := json.Marshal(diags)
		if mErr != nil {
			err = fmt.Errorf("marshal diagnostics: %w", mErr)
			return err
		}
		_, err = stmt.ExecContext(ctx,
			r.RunID,
			string(r.Category),
			string(r.Status),
			nullIfEmpty(r.Method),
			r.RecordCount,
			len(r.Diagnostics),
			string(diagJSON),
			nullIfEmpty(r.Fingerprint),
			boolToInt(r.Committed),
			nullIfEmpty(r.Error),
			r.StartedAt,
			r.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("insert refresh run %s/%s: %w", r.RunID, r.Category, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh runs: %w", err)
	}
	return nil
}

// ListRefreshRuns 返回最近的刷新记录（按结束时间倒序）。
func (s *Store) ListRefreshRuns(ctx context.Context, limit int) ([]model.CategoryRefresh, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, category, status, COALESCE(method, ''), record_count,
			diagnostics_json, COALESCE(fingerprint, ''), committed, COALESCE(error, ''),
			started_at, finished_at
		FROM refresh_runs
		ORDER BY finished_at DESC, run_id DESC, category ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query refresh runs: %w", err)
	}
	defer rows.Close()

	var out []model.CategoryRefresh
	for rows.Next() {
		var it model.CategoryRefresh
		var category, status, diagJSON string
		var committed int
		if err := rows.Scan(&it.RunID, &category, &status, &it.Method, &it.RecordCount,
			&diagJSON, &it.Fingerprint, &committed, &it.Error, &it.StartedAt, &it.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan refresh run: %w", err)
		}
		it.Category = model.Category(category)
		it.Status = model.SourceStatus(status)
		it.Committed = committed == 1
		_ = json.Unmarshal([]byte(diagJSON), &it.Diagnostics)
		out = append(out, it)
	}
	return out, rows.Err()
}

// SaveExport 登记导出产物信息（备份 JSON / PDF 报告）。
func (s *Store) SaveExport(ctx context.Context, exportType, filePath, sha256, status string) (string, error) {
	exportID := id.New("export")
	now := s.now().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exports(export_id, export_type, file_path, sha256, generated_at, status)
		VALUES(?, ?, ?, ?, ?, ?)
	`, exportID, exportType, filePath, sha256, now, status)
	if err != nil {
		return "", fmt.Errorf("insert export: %w", err)
	}
	return exportID, nil
}

// ListExports 列出导出登记（最新在前）。
func (s *Store) ListExports(ctx context.Context, exportType string) ([]model.ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT export_id, export_type, file_path, sha256, generated_at, status
		FROM exports
		WHERE ? = '' OR export_type = ?
		ORDER BY generated_at DESC, export_id DESC
	`, exportType, exportType)
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	var out []model.ExportRecord
	for rows.Next() {
		var it model.ExportRecord
		if err := rows.Scan(&it.ExportID, &it.ExportType, &it.FilePath, &it.SHA256, &it.GeneratedAt, &it.Status); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
