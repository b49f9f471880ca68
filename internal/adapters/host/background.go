package host

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/execx"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/platform/logfields"
	"startup-inspector/internal/services/validator"
)

// SFLToolPath 是后台任务管理的导出工具。
const SFLToolPath = "/usr/bin/sfltool"

// DefaultBTMPaths 返回后台项数据库候选路径。系统级数据库通常只有 root 可读。
func DefaultBTMPaths(home string) []string {
	var paths []string
	if home != "" {
		paths = append(paths, DefaultLegacyLoginItemsPath(home))
	}
	return append(paths,
		"/private/var/db/com.apple.backgroundtaskmanagement/BackgroundItems-v4.btm",
		"/private/var/db/com.apple.backgroundtaskmanagement/BackgroundItems-v8.btm",
	)
}

// BackgroundItemSource 读取 BTM 后台项：sfltool dumpbtm -> 直接解析 .btm 数据库。
type BackgroundItemSource struct {
	runner   execx.Runner
	btmPaths []string
	logger   *slog.Logger
}

func NewBackgroundItemSource(runner execx.Runner, btmPaths []string, logger *slog.Logger) *BackgroundItemSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundItemSource{runner: runner, btmPaths: btmPaths, logger: logger}
}

func (s *BackgroundItemSource) Category() model.Category { return model.CategoryBackgroundItems }

func (s *BackgroundItemSource) Read(ctx context.Context) model.SourceResult {
	res := model.SourceResult{Category: model.CategoryBackgroundItems, Status: model.SourceOK}

	out, err := s.runner.Run(ctx, SFLToolPath, "dumpbtm")
	if err == nil {
		items, recognized, diags := parseDumpBTM(string(out))
		res.Diagnostics = append(res.Diagnostics, diags...)
		if recognized {
			res.Records = s.accept(&res, items)
			res.Method = "sfltool"
			return res
		}
		res.Diagnostics = append(res.Diagnostics, model.Diagnostic{
			Category: model.CategoryBackgroundItems,
			Kind:     model.DiagExternalToolFailure,
			Message:  "sfltool dumpbtm output not recognised",
		})
	} else {
		s.logger.Debug("sfltool dumpbtm failed, falling back to btm files", logfields.Error(err))
		res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryBackgroundItems, "", err))
	}

	readable, denied := 0, 0
	var items []model.LaunchRecord
	for _, p := range s.btmPaths {
		raw, exists, err := readFileClassified(p)
		if !exists {
			continue
		}
		if err != nil {
			if fault.Is(err, fault.AccessDenied) {
				denied++
				s.logger.Warn("background items database not readable", logfields.Path(p), logfields.Error(err))
			}
			res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryBackgroundItems, p, err))
			continue
		}
		parsed, perr := parseBTMDatabase(raw)
		if perr != nil {
			res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryBackgroundItems, p,
				fault.Wrap(perr, fault.MalformedRecord, "parse btm").WithPath(p)))
			continue
		}
		readable++
		items = append(items, parsed...)
	}

	res.Records = s.accept(&res, items)
	switch {
	case len(res.Records) > 0 || readable > 0:
		res.Method = "btm_plist"
	case denied > 0:
		// 文件存在但无权读取，不能当作“没有后台项”。
		res.Status = model.SourceAccessDenied
	default:
		res.Status = model.SourceDegraded
	}
	return res
}

func (s *BackgroundItemSource) accept(res *model.SourceResult, in []model.LaunchRecord) []model.LaunchRecord {
	out := make([]model.LaunchRecord, 0, len(in))
	for _, r := range in {
		if err := validator.ValidatePath(model.CategoryBackgroundItems, r.Path); err != nil {
			res.Diagnostics = append(res.Diagnostics, diagFromError(model.CategoryBackgroundItems, r.Path, err))
			continue
		}
		out = append(out, r)
	}
	return dedupeByIdentity(out)
}

var reBlockHeader = regexp.MustCompile(`^#\d+:?$`)

// parseDumpBTM 解析 sfltool dumpbtm 的 "Key: Value" 分块输出。
// recognized 表示输出中至少出现过一个可识别的条目块。
func parseDumpBTM(out string) (items []model.LaunchRecord, recognized bool, diags []model.Diagnostic) {
	block := map[string]string{}
	flush := func() {
		if len(block) == 0 {
			return
		}
		rec, ok, known := recordFromDumpBlock(block)
		if known {
			recognized = true
		}
		switch {
		case ok:
			items = append(items, rec)
		case known:
			diags = append(diags, model.Diagnostic{
				Category: model.CategoryBackgroundItems,
				Kind:     model.DiagMalformedRecord,
				Message:  "background item without bundle identifier or path: " + block["name"],
			})
		}
		block = map[string]string{}
	}

	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || reBlockHeader.MatchString(trimmed) {
			flush()
			continue
		}
		idx := strings.Index(trimmed, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(trimmed[:idx]), " ", ""))
		val := strings.TrimSpace(trimmed[idx+1:])
		if val == "(null)" {
			val = ""
		}
		if _, dup := block[key]; !dup {
			block[key] = val
		}
	}
	flush()
	return items, recognized, diags
}

// recordFromDumpBlock 把一个块转换为记录。known 表示块看起来像后台项（有 name/label/type）。
func recordFromDumpBlock(b map[string]string) (rec model.LaunchRecord, ok bool, known bool) {
	name := first(b["name"], b["label"])
	itemType := b["type"]
	known = name != "" || itemType != "" || b["bundleidentifier"] != ""
	if !known {
		return model.LaunchRecord{}, false, false
	}

	bundleID := b["bundleidentifier"]
	path := validator.NormalizePath(first(b["path"], b["url"], b["executablepath"]))
	developer := first(b["developer"], b["developername"])

	enabled := true
	if v, has := b["enabled"]; has {
		enabled = !strings.EqualFold(v, "false")
	} else if d := strings.ToLower(b["disposition"]); strings.Contains(d, "disabled") {
		enabled = false
	}

	return newBackgroundRecord(bundleID, name, path, developer, itemType, enabled)
}

func newBackgroundRecord(bundleID, name, path, developer, itemType string, enabled bool) (model.LaunchRecord, bool, bool) {
	key := bundleID
	if key == "" {
		key = path
	}
	if key == "" {
		return model.LaunchRecord{}, false, true
	}
	if name == "" {
		if bundleID != "" {
			name = lastDotComponent(bundleID)
		} else {
			name = strings.TrimSuffix(filepath.Base(strings.TrimSuffix(path, "/")), ".app")
		}
	}
	return model.LaunchRecord{
		Category:    model.CategoryBackgroundItems,
		IdentityKey: key,
		DisplayName: name,
		Path:        path,
		Enabled:     enabled,
		Publisher:   developer,
		Background: &model.BackgroundAttrs{
			BundleID:  bundleID,
			ItemType:  normalizeItemType(itemType),
			Developer: developer,
		},
	}, true, true
}

// normalizeItemType 去掉 "app (0x2)" 中的十六进制标志。
func normalizeItemType(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.Index(t, " ("); i > 0 {
		t = t[:i]
	}
	return strings.ToLower(t)
}

// parseBTMDatabase 从 .btm 数据库中尽量提取后台项：只取能识别的字段。
func parseBTMDatabase(raw []byte) ([]model.LaunchRecord, error) {
	arc, err := decodeKeyedArchive(raw)
	if err != nil {
		return nil, err
	}
	var recs []model.LaunchRecord
	for _, m := range arc.dicts() {
		bundleID := strings.TrimSpace(arc.str(m, "bundleIdentifier", "identifier"))
		if bundleID == "" {
			continue
		}
		rec, ok, _ := newBackgroundRecord(
			bundleID,
			strings.TrimSpace(arc.str(m, "name")),
			validator.NormalizePath(arc.str(m, "path", "url")),
			strings.TrimSpace(arc.str(m, "developer", "developerName")),
			arc.str(m, "type"),
			arc.boolOr(m, "enabled", true),
		)
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
