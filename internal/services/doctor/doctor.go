// Package doctor 检查运行环境：外部工具是否可用、launchd 目录与后台项数据库是否可读。
package doctor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"

	"startup-inspector/internal/adapters/host"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/clock"
)

// Dir 是一个待检查的目录。
type Dir struct {
	Path     string
	Category model.Category
}

type Options struct {
	Dirs []Dir
	// BTMPaths 用于判断是否已授予完全磁盘访问权限。
	BTMPaths []string
	Clock    clock.Clock

	// lookPath/goos 便于测试替换。
	lookPath func(string) (string, error)
	goos     string
}

// Run 执行全部检查，按固定顺序返回结果。
func Run(opts Options) []model.PrecheckResult {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.lookPath == nil {
		opts.lookPath = exec.LookPath
	}
	if opts.goos == "" {
		opts.goos = runtime.GOOS
	}
	now := opts.Clock.Now().Unix()

	out := []model.PrecheckResult{platformCheck(opts.goos, now)}
	out = append(out,
		toolCheck(opts.lookPath, "tool_launchctl", "launchctl available", "", true, "launchctl", now),
		toolCheck(opts.lookPath, "tool_osascript", "osascript available", model.CategoryLoginItems, false, "osascript", now),
		toolCheck(opts.lookPath, "tool_sfltool", "sfltool available", model.CategoryBackgroundItems, false, host.SFLToolPath, now),
	)
	for _, d := range opts.Dirs {
		out = append(out, dirCheck(d, now))
	}
	out = append(out, fullDiskAccessCheck(opts.BTMPaths, now))
	return out
}

// Failed 返回未通过的必需检查。
func Failed(results []model.PrecheckResult) []model.PrecheckResult {
	var out []model.PrecheckResult
	for _, r := range results {
		if r.Required && r.Status == model.PrecheckFailed {
			out = append(out, r)
		}
	}
	return out
}

func platformCheck(goos string, now int64) model.PrecheckResult {
	r := model.PrecheckResult{CheckCode: "platform_darwin", CheckName: "running on macOS", Required: true, CheckedAt: now}
	if goos != "darwin" {
		r.Status = model.PrecheckFailed
		r.Message = fmt.Sprintf("unsupported platform %s; reads and mutations will degrade", goos)
		return r
	}
	r.Status = model.PrecheckPassed
	r.Message = "ok"
	return r
}

func toolCheck(lookPath func(string) (string, error), code, name string, c model.Category, required bool, binary string, now int64) model.PrecheckResult {
	r := model.PrecheckResult{CheckCode: code, CheckName: name, Category: c, Required: required, CheckedAt: now}
	p, err := lookPath(binary)
	if err != nil {
		r.Status = model.PrecheckFailed
		if !required {
			r.Status = model.PrecheckSkipped
		}
		r.Message = fmt.Sprintf("%s not found", binary)
		return r
	}
	r.Status = model.PrecheckPassed
	r.Message = "ok"
	r.Path = p
	return r
}

func dirCheck(d Dir, now int64) model.PrecheckResult {
	r := model.PrecheckResult{
		CheckCode: "dir_readable",
		CheckName: "launchd directory readable",
		Category:  d.Category,
		Path:      d.Path,
		CheckedAt: now,
	}
	_, err := os.ReadDir(d.Path)
	switch {
	case err == nil:
		r.Status = model.PrecheckPassed
		r.Message = "ok"
	case errors.Is(err, fs.ErrNotExist):
		r.Status = model.PrecheckSkipped
		r.Message = "directory does not exist"
	case errors.Is(err, fs.ErrPermission):
		r.Status = model.PrecheckFailed
		r.Message = "permission denied"
	default:
		r.Status = model.PrecheckFailed
		r.Message = err.Error()
	}
	return r
}

// fullDiskAccessCheck 通过尝试读取后台项数据库判断完全磁盘访问权限。
func fullDiskAccessCheck(paths []string, now int64) model.PrecheckResult {
	r := model.PrecheckResult{
		CheckCode: "full_disk_access",
		CheckName: "full disk access granted",
		Category:  model.CategoryBackgroundItems,
		CheckedAt: now,
	}
	existing := 0
	for _, p := range paths {
		f, err := os.Open(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		existing++
		if errors.Is(err, fs.ErrPermission) {
			r.Status = model.PrecheckFailed
			r.Path = p
			r.Message = "permission denied; grant Full Disk Access in System Settings > Privacy & Security"
			return r
		}
		if err == nil {
			_ = f.Close()
		}
	}
	if existing == 0 {
		r.Status = model.PrecheckSkipped
		r.Message = "no background items database found"
		return r
	}
	r.Status = model.PrecheckPassed
	r.Message = "ok"
	return r
}
