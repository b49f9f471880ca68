package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"startup-inspector/internal/adapters/host"
	"startup-inspector/internal/domain/model"
)

// 环境变量前缀，覆盖配置文件中的同名项。
const envPrefix = "STARTUP_INSPECTOR_"

// DirConfig 是一个 launchd 声明目录。
type DirConfig struct {
	Path  string      `yaml:"path"`
	Scope model.Scope `yaml:"scope"`
}

// WatchConfig 控制 watch 模式。
type WatchConfig struct {
	// Interval 是定时全量刷新的周期，0 表示只依赖文件事件。
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// Config 存放应用级配置。
type Config struct {
	DBPath    string `yaml:"db_path"`
	Namespace string `yaml:"namespace"`

	CommandTimeout time.Duration `yaml:"command_timeout"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`

	AgentDirs            []DirConfig `yaml:"agent_dirs"`
	DaemonDirs           []DirConfig `yaml:"daemon_dirs"`
	LegacyLoginItemsPath string      `yaml:"legacy_login_items_path"`
	BTMPaths             []string    `yaml:"btm_paths"`

	BackupDir  string      `yaml:"backup_dir"`
	ReportDir  string      `yaml:"report_dir"`
	Watch      WatchConfig `yaml:"watch"`
	ListenAddr string      `yaml:"listen_addr"`
}

// DefaultConfig 返回基于用户主目录的默认配置。home 为空时使用相对路径。
func DefaultConfig(home string) Config {
	dataDir := "data"
	if home != "" {
		dataDir = filepath.Join(home, "Library", "Application Support", "StartupInspector")
	}
	cfg := Config{
		DBPath:               filepath.Join(dataDir, "inspector.db"),
		Namespace:            "startup-inspector",
		CommandTimeout:       10 * time.Second,
		FetchTimeout:         30 * time.Second,
		LegacyLoginItemsPath: host.DefaultLegacyLoginItemsPath(home),
		BTMPaths:             host.DefaultBTMPaths(home),
		BackupDir:            filepath.Join(dataDir, "Backups"),
		ReportDir:            filepath.Join(dataDir, "Reports"),
		Watch:                WatchConfig{Interval: 10 * time.Minute, Debounce: 2 * time.Second},
		ListenAddr:           "127.0.0.1:8787",
	}
	for _, d := range host.DefaultAgentDirs(home) {
		cfg.AgentDirs = append(cfg.AgentDirs, DirConfig{Path: d.Path, Scope: d.Scope})
	}
	for _, d := range host.DefaultDaemonDirs() {
		cfg.DaemonDirs = append(cfg.DaemonDirs, DirConfig{Path: d.Path, Scope: d.Scope})
	}
	return cfg
}

// Load 依次应用：默认值 -> 配置文件（可选）-> .env -> 环境变量。
// .env 不会覆盖已存在的进程环境变量。
func Load(path, home string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig(home)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("DB", &c.DBPath)
	str("NAMESPACE", &c.Namespace)
	str("BACKUP_DIR", &c.BackupDir)
	str("REPORT_DIR", &c.ReportDir)
	str("LISTEN", &c.ListenAddr)
	str("LEGACY_LOGIN_ITEMS", &c.LegacyLoginItemsPath)
	if err := dur("COMMAND_TIMEOUT", &c.CommandTimeout); err != nil {
		return err
	}
	if err := dur("FETCH_TIMEOUT", &c.FetchTimeout); err != nil {
		return err
	}
	if err := dur("WATCH_INTERVAL", &c.Watch.Interval); err != nil {
		return err
	}
	return dur("WATCH_DEBOUNCE", &c.Watch.Debounce)
}

// Validate 做基础结构校验。
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if strings.TrimSpace(c.Namespace) == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command_timeout must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.Watch.Interval < 0 || c.Watch.Debounce < 0 {
		errs = append(errs, errors.New("watch durations must not be negative"))
	}
	for _, d := range append(append([]DirConfig(nil), c.AgentDirs...), c.DaemonDirs...) {
		switch d.Scope {
		case model.ScopeUser, model.ScopeLocal, model.ScopeSystem:
		default:
			errs = append(errs, fmt.Errorf("directory %s: unknown scope %q", d.Path, d.Scope))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func scopedDirs(in []DirConfig) []host.ScopedDir {
	out := make([]host.ScopedDir, 0, len(in))
	for _, d := range in {
		out = append(out, host.ScopedDir{Path: d.Path, Scope: d.Scope})
	}
	return out
}
