// Package backup 读写自启动配置的 JSON 备份与导出文件。
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/services/privacy"
)

// Timestamp 以 RFC 3339（UTC，精确到秒）编码。
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Truncate(time.Second).Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Time 返回标准时间值。
func (t Timestamp) Time() time.Time { return time.Time(t) }

// ServiceEntry 是一个代理或守护进程的备份条目。字段按键名字母序声明。
type ServiceEntry struct {
	IsEnabled bool   `json:"isEnabled"`
	Path      string `json:"path"`
}

// Configuration 是备份/导出文件的顶层结构。字段按键名字母序声明，
// 编码结果的键有序，便于比对。
type Configuration struct {
	LaunchAgents  []ServiceEntry `json:"launchAgents"`
	LaunchDaemons []ServiceEntry `json:"launchDaemons"`
	LoginItems    []string       `json:"loginItems"`
	Timestamp     Timestamp      `json:"timestamp"`
}

// Options 控制生成内容。
type Options struct {
	// Masked 为 true 时隐藏路径中的用户主目录。
	Masked bool
}

// Build 从清单生成配置：登录项只记录路径（只按名称读到、没有路径的登录项不写入），
// 代理/守护进程记录路径与启用状态。
func Build(records []model.LaunchRecord, now time.Time, opts Options) Configuration {
	if opts.Masked {
		records = privacy.MaskRecords(records)
	}
	cfg := Configuration{
		LaunchAgents:  []ServiceEntry{},
		LaunchDaemons: []ServiceEntry{},
		LoginItems:    []string{},
		Timestamp:     Timestamp(now),
	}
	for _, r := range records {
		switch r.Category {
		case model.CategoryLoginItems:
			if r.Path != "" {
				cfg.LoginItems = append(cfg.LoginItems, r.Path)
			}
		case model.CategoryLaunchAgents:
			cfg.LaunchAgents = append(cfg.LaunchAgents, ServiceEntry{IsEnabled: r.Enabled, Path: r.Path})
		case model.CategoryLaunchDaemons:
			cfg.LaunchDaemons = append(cfg.LaunchDaemons, ServiceEntry{IsEnabled: r.Enabled, Path: r.Path})
		}
	}
	return cfg
}

// Encode 以两个空格缩进编码。
func Encode(cfg Configuration) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode 解析并做基础校验（未知字段报错）。
func Decode(raw []byte) (Configuration, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var cfg Configuration
	if err := dec.Decode(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("decode configuration: %w", err)
	}
	if time.Time(cfg.Timestamp).IsZero() {
		return Configuration{}, fmt.Errorf("decode configuration: timestamp is required")
	}
	for _, e := range append(append([]ServiceEntry(nil), cfg.LaunchAgents...), cfg.LaunchDaemons...) {
		if strings.TrimSpace(e.Path) == "" {
			return Configuration{}, fmt.Errorf("decode configuration: service entry without path")
		}
	}
	return cfg, nil
}

// ChangeKind 描述备份与当前清单的差异类型。
type ChangeKind string

const (
	// ChangeMissing 备份中有，当前清单中没有。
	ChangeMissing ChangeKind = "missing"
	// ChangeEnabled 两边都有但启用状态不同。
	ChangeEnabled ChangeKind = "enabled_differs"
	// ChangeExtra 当前清单中有，备份中没有。
	ChangeExtra ChangeKind = "extra"
)

// Change 是一条差异。
type Change struct {
	Category   model.Category `json:"category"`
	Path       string         `json:"path"`
	Kind       ChangeKind     `json:"kind"`
	WantEnable bool           `json:"want_enabled"`
	HasEnable  bool           `json:"has_enabled"`
}

// Diff 比较备份与当前清单（按路径匹配），只报告，不做任何修改。
// 备份不记录登录项的启用状态，登录项只比较是否存在。
func Diff(cfg Configuration, records []model.LaunchRecord) []Change {
	current := map[model.Category]map[string]bool{}
	for _, r := range records {
		if r.Path == "" {
			continue
		}
		if current[r.Category] == nil {
			current[r.Category] = map[string]bool{}
		}
		current[r.Category][r.Path] = r.Enabled
	}

	var changes []Change
	compare := func(c model.Category, want []ServiceEntry, presenceOnly bool) {
		seen := map[string]bool{}
		for _, e := range want {
			seen[e.Path] = true
			has, ok := current[c][e.Path]
			switch {
			case !ok:
				changes = append(changes, Change{Category: c, Path: e.Path, Kind: ChangeMissing, WantEnable: e.IsEnabled})
			case !presenceOnly && has != e.IsEnabled:
				changes = append(changes, Change{Category: c, Path: e.Path, Kind: ChangeEnabled, WantEnable: e.IsEnabled, HasEnable: has})
			}
		}
		for _, r := range records {
			if r.Category == c && r.Path != "" && !seen[r.Path] {
				changes = append(changes, Change{Category: c, Path: r.Path, Kind: ChangeExtra, HasEnable: r.Enabled})
			}
		}
	}

	logins := make([]ServiceEntry, 0, len(cfg.LoginItems))
	for _, p := range cfg.LoginItems {
		if p != "" {
			logins = append(logins, ServiceEntry{IsEnabled: true, Path: p})
		}
	}
	compare(model.CategoryLoginItems, logins, true)
	compare(model.CategoryLaunchAgents, cfg.LaunchAgents, false)
	compare(model.CategoryLaunchDaemons, cfg.LaunchDaemons, false)
	return changes
}
