// Package mutator 在 macOS 上执行启停、删除与优先级调整。
//
// 每个操作都是一次外部命令或一次声明文件改写；失败统一转换为 mutation_failure，
// 保留命令行与退出码，方便用户手动重试。调用方负责在操作后重新读取清单。
package mutator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"

	"startup-inspector/internal/adapters/host"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/execx"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/platform/logfields"
)

// 禁止删除的目录前缀。
var protectedPrefixes = []string{"/System/", "/Library/LaunchDaemons/"}

// 需要管理员权限才能修改的目录前缀。
var privilegedPrefixes = []string{"/System/", "/Library/LaunchDaemons/", "/Library/LaunchAgents/"}

// Mac 是基于 launchctl / osascript / sfltool 的实现。
type Mac struct {
	runner execx.Runner
	logger *slog.Logger
	// ownerUID 返回文件属主，测试中可替换。
	ownerUID func(path string) (uint32, bool)
}

func New(runner execx.Runner, logger *slog.Logger) *Mac {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mac{runner: runner, logger: logger, ownerUID: fileOwnerUID}
}

// SetEnabled 启用或停用。
func (m *Mac) SetEnabled(ctx context.Context, rec model.LaunchRecord, enabled bool) error {
	op := "disable"
	if enabled {
		op = "enable"
	}
	switch rec.Category {
	case model.CategoryLaunchAgents, model.CategoryLaunchDaemons:
		if rec.Path == "" {
			return fault.New(fault.MutationFailure, op, "declaration path unknown")
		}
		verb := "unload"
		if enabled {
			verb = "load"
		}
		return m.run(ctx, op, rec.Path, "launchctl", verb, rec.Path)

	case model.CategoryLoginItems:
		if !enabled {
			return m.osascript(ctx, op, rec.Path, deleteLoginItemScript(rec.DisplayName))
		}
		if rec.Path == "" {
			return fault.New(fault.MutationFailure, op, "login item path unknown, cannot re-register").
				WithContext("identity_key", rec.IdentityKey)
		}
		return m.osascript(ctx, op, rec.Path, makeLoginItemScript(rec.Path, "end"))

	case model.CategoryBackgroundItems:
		verb := "remove-item"
		if enabled {
			verb = "add-item"
		}
		return m.run(ctx, op, rec.Path, host.SFLToolPath, verb, "-l", backgroundKey(rec))
	}
	return fault.New(fault.MutationFailure, op, "unsupported category "+string(rec.Category))
}

// Remove 删除自启动项。系统目录与 /Library/LaunchDaemons 受保护。
func (m *Mac) Remove(ctx context.Context, rec model.LaunchRecord) error {
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(rec.Path, p) {
			return fault.New(fault.MutationFailure, "remove", "protected location").WithPath(rec.Path)
		}
	}

	switch rec.Category {
	case model.CategoryLaunchAgents, model.CategoryLaunchDaemons:
		if rec.Path == "" {
			return fault.New(fault.MutationFailure, "remove", "declaration path unknown")
		}
		if rec.Enabled {
			// 未加载时 unload 会失败，不影响删除。
			if _, err := m.runner.Run(ctx, "launchctl", "unload", rec.Path); err != nil {
				m.logger.Debug("unload before remove failed", logfields.Path(rec.Path), logfields.Error(err))
			}
		}
		if err := os.Remove(rec.Path); err != nil {
			return fault.Mutation(err, "remove", rec.Path)
		}
		m.logger.Info("declaration removed", logfields.Path(rec.Path), logfields.Label(rec.IdentityKey))
		return nil

	case model.CategoryLoginItems:
		return m.osascript(ctx, "remove", rec.Path, deleteLoginItemScript(rec.DisplayName))

	case model.CategoryBackgroundItems:
		return m.run(ctx, "remove", rec.Path, host.SFLToolPath, "remove-item", "-l", backgroundKey(rec))
	}
	return fault.New(fault.MutationFailure, "remove", "unsupported category "+string(rec.Category))
}

// SetPriority 对登录项调整启动顺序，对代理/守护进程改写 ProcessType。
func (m *Mac) SetPriority(ctx context.Context, rec model.LaunchRecord, p model.Priority) error {
	if !p.AppliesTo(rec.Category) {
		return fault.New(fault.MutationFailure, "set priority",
			fmt.Sprintf("priority kind %q does not apply to %s", p.Kind, rec.Category))
	}
	if !p.ValidValue() {
		return fault.New(fault.MutationFailure, "set priority", fmt.Sprintf("invalid value %q", p.Value))
	}

	switch p.Kind {
	case model.PriorityLaunchOrder:
		if rec.Path == "" {
			return fault.New(fault.MutationFailure, "set priority", "login item path unknown, cannot re-register")
		}
		position := "end"
		if p.Value == model.OrderFirst {
			position = "beginning"
		}
		if err := m.osascript(ctx, "set priority", rec.Path, deleteLoginItemScript(rec.DisplayName)); err != nil {
			return err
		}
		return m.osascript(ctx, "set priority", rec.Path, makeLoginItemScript(rec.Path, position))

	case model.PriorityProcessType:
		if err := RewriteProcessType(rec.Path, p.Value); err != nil {
			return fault.Mutation(err, "set priority", rec.Path)
		}
		m.logger.Info("process type updated", logfields.Path(rec.Path), slog.String("process_type", p.Value))
		return nil
	}
	return fault.New(fault.MutationFailure, "set priority", "unsupported priority kind")
}

// RequiresAdmin 判断修改该记录是否需要管理员权限（系统/本机目录或 root 属主）。
func (m *Mac) RequiresAdmin(rec model.LaunchRecord) bool {
	if rec.Category == model.CategoryLoginItems || rec.Path == "" {
		return false
	}
	for _, p := range privilegedPrefixes {
		if strings.HasPrefix(rec.Path, p) {
			return true
		}
	}
	if rec.Category == model.CategoryBackgroundItems {
		return false
	}
	uid, ok := m.ownerUID(rec.Path)
	return ok && uid == 0
}

// RewriteProcessType 原地改写声明中的 ProcessType，保持原有 plist 格式与文件权限。
func RewriteProcessType(path, processType string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat declaration: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read declaration: %w", err)
	}

	var doc map[string]any
	format, err := plist.Unmarshal(raw, &doc)
	if err != nil {
		return fmt.Errorf("decode declaration: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("decode declaration: top level is not a dictionary")
	}
	doc["ProcessType"] = processType

	var out []byte
	if format == plist.BinaryFormat {
		out, err = plist.Marshal(doc, format)
	} else {
		out, err = plist.MarshalIndent(doc, format, "\t")
	}
	if err != nil {
		return fmt.Errorf("encode declaration: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".startup-inspector-*")
	if err != nil {
		return fmt.Errorf("create temp declaration: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp declaration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp declaration: %w", err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod temp declaration: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace declaration: %w", err)
	}
	return nil
}

func (m *Mac) osascript(ctx context.Context, op, path, script string) error {
	return m.run(ctx, op, path, "osascript", "-e", script)
}

func (m *Mac) run(ctx context.Context, op, path, name string, args ...string) error {
	if _, err := m.runner.Run(ctx, name, args...); err != nil {
		return fault.Mutation(err, op, path)
	}
	m.logger.Info("mutation applied", slog.String("op", op), logfields.Path(path), logfields.Command(name))
	return nil
}

func backgroundKey(rec model.LaunchRecord) string {
	if b, ok := rec.BackgroundItem(); ok && b.BundleID != "" {
		return b.BundleID
	}
	return rec.IdentityKey
}

// appleScriptString 转义为 AppleScript 字符串字面量。
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func deleteLoginItemScript(name string) string {
	return fmt.Sprintf(`tell application "System Events"
	if exists login item %[1]s then
		delete login item %[1]s
	end if
end tell`, appleScriptString(name))
}

func makeLoginItemScript(path, position string) string {
	return fmt.Sprintf(`tell application "System Events" to make login item at %s with properties {path:%s, hidden:false}`,
		position, appleScriptString(path))
}
