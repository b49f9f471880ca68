package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/clock"
	"startup-inspector/internal/platform/hash"
)

// ExportType 是备份/导出文件在 exports 表中的登记类型。
const ExportType = "backup_json"

// ExportSaver 登记导出产物。
type ExportSaver interface {
	SaveExport(ctx context.Context, exportType, filePath, sha256, status string) (string, error)
}

// Register 计算文件哈希并登记到 exports 表，返回 export_id。
func Register(ctx context.Context, saver ExportSaver, path string) (string, error) {
	sum, _, err := hash.File(path)
	if err != nil {
		return "", fmt.Errorf("sha256 backup: %w", err)
	}
	return saver.SaveExport(ctx, ExportType, path, sum, "ready")
}

// 备份文件名中的时间格式（本地时间）。
const fileTimeLayout = "2006-01-02_15-04-05"

// Info 是一个备份文件的概要。
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager 管理备份目录。
type Manager struct {
	dir   string
	clock clock.Clock
}

func NewManager(dir string, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{dir: dir, clock: clk}
}

// Dir 返回备份目录。
func (m *Manager) Dir() string { return m.dir }

// Create 把当前清单写入 backup_<时间>.json，返回文件路径。
func (m *Manager) Create(records []model.LaunchRecord, opts Options) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	now := m.clock.Now()
	name := "backup_" + now.Format(fileTimeLayout) + ".json"
	path := filepath.Join(m.dir, name)
	if err := Export(path, records, now, opts); err != nil {
		return "", err
	}
	return path, nil
}

// Export 把清单写到指定路径。
func Export(path string, records []model.LaunchRecord, now time.Time, opts Options) error {
	raw, err := Encode(Build(records, now, opts))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}

// Import 读取并校验一个备份或导出文件。
func Import(path string) (Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("read configuration: %w", err)
	}
	return Decode(raw)
}

// List 返回备份文件，最新在前。
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		created := info.ModTime()
		if ts, ok := parseBackupName(name); ok {
			created = ts
		}
		out = append(out, Info{Name: name, Path: filepath.Join(m.dir, name), Size: info.Size(), CreatedAt: created})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Load 读取备份目录中的一个文件。
func (m *Manager) Load(name string) (Configuration, error) {
	path, err := m.resolve(name)
	if err != nil {
		return Configuration{}, err
	}
	return Import(path)
}

// Delete 删除备份目录中的一个文件。
func (m *Manager) Delete(name string) error {
	path, err := m.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	return nil
}

// resolve 只接受备份目录内的文件名，拒绝路径穿越。
func (m *Manager) resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return filepath.Join(m.dir, name), nil
}

func parseBackupName(name string) (time.Time, bool) {
	s := strings.TrimSuffix(strings.TrimPrefix(name, "backup_"), ".json")
	if s == name {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(fileTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
