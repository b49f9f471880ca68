package host

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/execx"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/platform/logfields"
	"startup-inspector/internal/services/validator"
)

// LoginItemsDetailScript 一次往返取回 name/path/hidden，避免逐项调用 osascript。
const LoginItemsDetailScript = `tell application "System Events"
	set out to ""
	repeat with li in login items
		set itemName to ""
		set itemPath to ""
		set itemHidden to ""
		try
			set itemName to (name of li) as text
		end try
		try
			set itemPath to (path of li) as text
		end try
		try
			set itemHidden to (hidden of li) as text
		end try
		set out to out & itemName & tab & itemPath & tab & itemHidden & linefeed
	end repeat
	return out
end tell`

// LoginItemsNamesScript 只取名称，拿不到 hidden 状态。
const LoginItemsNamesScript = `tell application "System Events" to get the name of every login item`

// DefaultLegacyLoginItemsPath 返回旧版登录项数据库路径。
func DefaultLegacyLoginItemsPath(home string) string {
	if home == "" {
		return ""
	}
	return filepath.Join(home, "Library", "Application Support", "com.apple.backgroundtaskmanagementagent", "backgrounditems.btm")
}

// LoginItemSource 读取登录项：详细脚本 -> 仅名称脚本 -> 旧版 btm 文件。
type LoginItemSource struct {
	runner     execx.Runner
	legacyPath string
	logger     *slog.Logger
}

func NewLoginItemSource(runner execx.Runner, legacyPath string, logger *slog.Logger) *LoginItemSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginItemSource{runner: runner, legacyPath: legacyPath, logger: logger}
}

func (s *LoginItemSource) Category() model.Category { return model.CategoryLoginItems }

func (s *LoginItemSource) Read(ctx context.Context) model.SourceResult {
	res := model.SourceResult{Category: model.CategoryLoginItems, Status: model.SourceOK}

	// primaryAnswered 表示 System Events 成功回答过（即使是 0 条）。
	primaryAnswered := false

	out, err := s.runner.Run(ctx, "osascript", "-e", LoginItemsDetailScript)
	if err == nil {
		primaryAnswered = true
		if recs := s.accept(&res, parseLoginItemDetail(string(out))); len(recs) > 0 {
			res.Records, res.Method = recs, "osascript_detail"
			return res
		}
	} else {
		s.logger.Debug("login items detail query failed", logfields.Error(err))
		res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryLoginItems, "", err))

		out, err = s.runner.Run(ctx, "osascript", "-e", LoginItemsNamesScript)
		if err == nil {
			primaryAnswered = true
			if recs := s.accept(&res, parseLoginItemNames(string(out))); len(recs) > 0 {
				res.Records, res.Method = recs, "osascript_names"
				return res
			}
		} else {
			res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryLoginItems, "", err))
		}
	}

	if s.legacyPath == "" {
		if !primaryAnswered {
			res.Status = model.SourceDegraded
		}
		return res
	}

	raw, exists, err := readFileClassified(s.legacyPath)
	switch {
	case err != nil && fault.Is(err, fault.AccessDenied):
		s.logger.Warn("legacy login items file not readable", logfields.Path(s.legacyPath), logfields.Error(err))
		res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryLoginItems, s.legacyPath, err))
		res.Status = model.SourceAccessDenied
		return res
	case err != nil:
		res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryLoginItems, s.legacyPath, err))
		if !primaryAnswered {
			res.Status = model.SourceDegraded
		}
		return res
	case !exists:
		if !primaryAnswered {
			res.Status = model.SourceDegraded
		}
		return res
	}

	items, perr := parseLegacyLoginItems(raw)
	if perr != nil {
		res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryLoginItems, s.legacyPath,
			fault.Wrap(perr, fault.MalformedRecord, "parse legacy login items").WithPath(s.legacyPath)))
		if !primaryAnswered {
			res.Status = model.SourceDegraded
		}
		return res
	}
	res.Records = s.accept(&res, items)
	res.Method = "legacy_btm"
	return res
}

// accept 校验路径并按名称去重。
func (s *LoginItemSource) accept(res *model.SourceResult, in []model.LaunchRecord) []model.LaunchRecord {
	out := make([]model.LaunchRecord, 0, len(in))
	for _, r := range in {
		if err := validator.ValidatePath(model.CategoryLoginItems, r.Path); err != nil {
			res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryLoginItems, r.Path, err))
			continue
		}
		out = append(out, r)
	}
	return dedupeByIdentity(out)
}

func newLoginRecord(name, path string, hidden, hiddenKnown bool) model.LaunchRecord {
	return model.LaunchRecord{
		Category:    model.CategoryLoginItems,
		IdentityKey: name,
		DisplayName: name,
		Path:        validator.NormalizePath(path),
		// hidden 登录项视为停用；读不到 hidden 时按“已登记即启用”处理，合并时以快照为准。
		Enabled: !(hiddenKnown && hidden),
		Login:   &model.LoginAttrs{Hidden: hidden, HiddenKnown: hiddenKnown},
	}
}

// parseLoginItemDetail 解析 name<TAB>path<TAB>hidden 行。
func parseLoginItemDetail(out string) []model.LaunchRecord {
	var recs []model.LaunchRecord
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		var path string
		if len(parts) > 1 {
			path = strings.TrimSpace(parts[1])
			if path == "missing value" {
				path = ""
			}
		}
		hidden, known := false, false
		if len(parts) > 2 {
			switch strings.ToLower(strings.TrimSpace(parts[2])) {
			case "true":
				hidden, known = true, true
			case "false":
				hidden, known = false, true
			}
		}
		recs = append(recs, newLoginRecord(name, path, hidden, known))
	}
	return recs
}

// parseLoginItemNames 解析 "A, B, C" 形式的名称列表。
func parseLoginItemNames(out string) []model.LaunchRecord {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	var recs []model.LaunchRecord
	for _, name := range strings.Split(out, ", ") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		recs = append(recs, newLoginRecord(name, "", false, false))
	}
	return recs
}

// parseLegacyLoginItems 从旧版 btm 文件中提取同时带 Name 与 URL 的对象。
func parseLegacyLoginItems(raw []byte) ([]model.LaunchRecord, error) {
	arc, err := decodeKeyedArchive(raw)
	if err != nil {
		return nil, err
	}
	var recs []model.LaunchRecord
	for _, m := range arc.dicts() {
		name := strings.TrimSpace(arc.str(m, "Name", "name"))
		url := strings.TrimSpace(arc.str(m, "URL", "url"))
		if name == "" || url == "" {
			continue
		}
		recs = append(recs, newLoginRecord(name, url, false, false))
	}
	return recs, nil
}
