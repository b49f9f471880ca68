package host

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"howett.net/plist"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/platform/logfields"
	"startup-inspector/internal/services/validator"
)

// ScopedDir 是一个 launchd 声明目录及其作用域。
type ScopedDir struct {
	Path  string
	Scope model.Scope
}

// DefaultAgentDirs 返回代理目录，顺序即优先级：用户 > 本机 > 系统。
func DefaultAgentDirs(home string) []ScopedDir {
	var dirs []ScopedDir
	if home != "" {
		dirs = append(dirs, ScopedDir{Path: filepath.Join(home, "Library", "LaunchAgents"), Scope: model.ScopeUser})
	}
	return append(dirs,
		ScopedDir{Path: "/Library/LaunchAgents", Scope: model.ScopeLocal},
		ScopedDir{Path: "/System/Library/LaunchAgents", Scope: model.ScopeSystem},
	)
}

// DefaultDaemonDirs 返回守护进程目录。
func DefaultDaemonDirs() []ScopedDir {
	return []ScopedDir{
		{Path: "/Library/LaunchDaemons", Scope: model.ScopeLocal},
		{Path: "/System/Library/LaunchDaemons", Scope: model.ScopeSystem},
	}
}

// AgentDaemonSource 枚举 launchd 声明文件。启用状态来自 LoadStateCache。
type AgentDaemonSource struct {
	category model.Category
	dirs     []ScopedDir
	cache    *LoadStateCache
	logger   *slog.Logger
}

func NewAgentDaemonSource(category model.Category, dirs []ScopedDir, cache *LoadStateCache, logger *slog.Logger) *AgentDaemonSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentDaemonSource{category: category, dirs: dirs, cache: cache, logger: logger}
}

func (s *AgentDaemonSource) Category() model.Category { return s.category }

// Read 依次扫描各目录；单个文件解析或校验失败只记录诊断。
func (s *AgentDaemonSource) Read(ctx context.Context) model.SourceResult {
	res := model.SourceResult{Category: s.category, Status: model.SourceOK, Method: "launchd_dirs"}

	var decls []model.Declaration
	present, denied := 0, 0
	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			res.Diagnostics = append(res.Diagnostics, diagFromError(s.category, dir.Path, fault.Wrap(err, fault.ExternalToolFailure, "scan")))
			break
		}
		entries, err := os.ReadDir(dir.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			present++
			if errors.Is(err, fs.ErrPermission) {
				denied++
				res.Diagnostics = append(res.Diagnostics, diagFromError(s.category, dir.Path, fault.Wrap(err, fault.AccessDenied, "read dir")))
			} else {
				res.Diagnostics = append(res.Diagnostics, diagFromError(s.category, dir.Path, fault.Wrap(err, fault.ExternalToolFailure, "read dir")))
			}
			continue
		}
		present++

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".plist") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir.Path, name)
			decl, err := ParseDeclarationFile(path)
			if err != nil {
				s.logger.Debug("skip declaration", logfields.Path(path), logfields.Error(err))
				res.Diagnostics = append(res.Diagnostics, diagFromError(s.category, path, err))
				continue
			}
			decl.Category = s.category
			decl.Scope = dir.Scope
			if err := validator.Validate(&decl); err != nil {
				s.logger.Warn("declaration rejected", logfields.Path(path), logfields.Error(err))
				res.Diagnostics = append(res.Diagnostics, diagFromError(s.category, path, err))
				continue
			}
			decls = append(decls, decl)
		}
	}

	if present > 0 && denied == present {
		res.Status = model.SourceAccessDenied
		return res
	}

	// 整轮只取一次已加载集合。
	var loaded LoadedSet
	if len(decls) > 0 && s.cache != nil {
		loaded = s.cache.Loaded(ctx)
		if loaded.Err != nil {
			res.Diagnostics = append(res.Diagnostics, diagFromError(s.category, "", loaded.Err))
		}
	}

	records := make([]model.LaunchRecord, 0, len(decls))
	for _, d := range decls {
		records = append(records, RecordFromDeclaration(d, loaded.Contains(d.Label)))
	}
	res.Records = dedupeByIdentity(records)
	return res
}

// launchdPlist 对应声明文件中识别的键。KeepAlive/StartInterval 等可能是多种类型，用 any 接收。
type launchdPlist struct {
	Label            string `plist:"Label"`
	Program          string `plist:"Program"`
	ProgramArguments []any  `plist:"ProgramArguments"`
	RunAtLoad        any    `plist:"RunAtLoad"`
	KeepAlive        any    `plist:"KeepAlive"`
	StartInterval    any    `plist:"StartInterval"`
	WatchPaths       any    `plist:"WatchPaths"`
	Sockets          any    `plist:"Sockets"`
	ProcessType      string `plist:"ProcessType"`
}

// ParseDeclarationFile 读取并解析 launchd plist（XML 或二进制）。
func ParseDeclarationFile(path string) (model.Declaration, error) {
	raw, exists, err := readFileClassified(path)
	if err != nil {
		return model.Declaration{}, err
	}
	if !exists {
		return model.Declaration{}, fault.New(fault.MalformedRecord, "parse declaration", "file vanished").WithPath(path)
	}
	decl, err := ParseDeclaration(raw)
	if err != nil {
		return model.Declaration{}, fault.Wrap(err, fault.MalformedRecord, "parse declaration").WithPath(path)
	}
	decl.SourcePath = path
	return decl, nil
}

// ParseDeclaration 解析声明内容。
func ParseDeclaration(raw []byte) (model.Declaration, error) {
	if len(raw) == 0 {
		return model.Declaration{}, errors.New("empty declaration")
	}
	var p launchdPlist
	if _, err := plist.Unmarshal(raw, &p); err != nil {
		return model.Declaration{}, err
	}

	decl := model.Declaration{
		Label:            strings.TrimSpace(p.Label),
		Program:          strings.TrimSpace(p.Program),
		RunAtLoad:        isTrue(p.RunAtLoad),
		KeepAlive:        isTrue(p.KeepAlive),
		HasStartInterval: p.StartInterval != nil,
		HasWatchPaths:    p.WatchPaths != nil,
		HasSockets:       p.Sockets != nil,
		ProcessType:      strings.TrimSpace(p.ProcessType),
	}
	for _, a := range p.ProgramArguments {
		s, ok := a.(string)
		if !ok {
			return model.Declaration{}, errors.New("ProgramArguments contains non-string value")
		}
		decl.ProgramArguments = append(decl.ProgramArguments, s)
	}
	if paths, ok := p.WatchPaths.([]any); ok && len(paths) > 0 {
		decl.WatchPathsNonEmpty = true
		for _, wp := range paths {
			if _, ok := wp.(string); !ok {
				decl.WatchPathsNonEmpty = false
				break
			}
		}
	}
	return decl, nil
}

// RecordFromDeclaration 把已校验的声明转换为记录。
func RecordFromDeclaration(d model.Declaration, loaded bool) model.LaunchRecord {
	label := d.Label
	attrs := model.ServiceAttrs{
		Label:              label,
		LabelFromFilename:  d.LabelFromFilename,
		Program:            d.Program,
		ProgramArguments:   d.ProgramArguments,
		RunAtLoad:          d.RunAtLoad,
		KeepAlive:          d.KeepAlive,
		HasStartInterval:   d.HasStartInterval,
		HasWatchPaths:      d.HasWatchPaths,
		WatchPathsNonEmpty: d.WatchPathsNonEmpty,
		HasSockets:         d.HasSockets,
		ProcessType:        d.ProcessType,
		Scope:              d.Scope,
	}
	return model.LaunchRecord{
		Category:    d.Category,
		IdentityKey: label,
		DisplayName: lastDotComponent(label),
		Path:        d.SourcePath,
		Enabled:     loaded,
		Publisher:   attrs.Executable(),
		Service:     &attrs,
	}
}

// isTrue 只把布尔 true 视为开启；KeepAlive 为字典（条件保活）时按未开启处理。
func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
