package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"startup-inspector/internal/platform/hash"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// AppliedMigration 是一条已执行的迁移记录。
type AppliedMigration struct {
	Name      string `json:"name"`
	SHA256    string `json:"sha256"`
	AppliedAt int64  `json:"applied_at"`
}

// Migrator 执行内嵌迁移脚本，并在 schema_migrations 中登记每个脚本的哈希。
type Migrator struct {
	db  *sql.DB
	now func() time.Time
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, now: time.Now}
}

type migration struct {
	name    string
	version int
	sql     string
	sum     string
}

// Up 按文件名顺序执行尚未登记的迁移，每个脚本一个事务。
// 已执行脚本的内容被改动时返回错误，之后把 schema_meta.schema_version 更新为最新版本号。
func (m *Migrator) Up(ctx context.Context) error {
	pending, err := loadMigrations()
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			sha256     TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	done := make(map[string]string, len(applied))
	for _, a := range applied {
		done[a.Name] = a.SHA256
	}

	latest := 0
	for _, mg := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if mg.version > latest {
			latest = mg.version
		}
		if sum, ok := done[mg.name]; ok {
			if sum != mg.sum {
				return fmt.Errorf("migration %s changed after it was applied", mg.name)
			}
			continue
		}
		if err := m.apply(ctx, mg); err != nil {
			return err
		}
	}

	if latest > 0 {
		if _, err := m.db.ExecContext(ctx, `
			INSERT INTO schema_meta(key, value) VALUES('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, strconv.Itoa(latest)); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mg migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", mg.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mg.sql); err != nil {
		return fmt.Errorf("exec migration %s: %w", mg.name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations(name, sha256, applied_at) VALUES(?, ?, ?)
	`, mg.name, mg.sum, m.now().Unix()); err != nil {
		return fmt.Errorf("record migration %s: %w", mg.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mg.name, err)
	}
	return nil
}

// Applied 按名称顺序返回已执行的迁移。
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT name, sha256, applied_at
		FROM schema_migrations
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Name, &a.SHA256, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// loadMigrations 读取内嵌脚本。文件名必须以数字版本号开头（001_init.sql）。
func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, _ := strings.Cut(entry.Name(), "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: name must start with a version number", entry.Name())
		}
		raw, err := migrationFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, migration{name: entry.Name(), version: version, sql: string(raw), sum: hash.Text(string(raw))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
