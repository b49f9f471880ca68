// Package validator 在记录进入清单前做安全校验。
//
// 规则：
// - 主程序（Program 或 ProgramArguments 第一项）不能含 ".." 路径段
// - 主程序不能位于全局可写的临时目录
// - launchd 声明缺少 Label 时回退为文件名（去掉 .plist），不因此拒绝
package validator

import (
	"net/url"
	"path/filepath"
	"strings"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
)

// tempPrefixes 是全局可写临时目录前缀（含 /private 下的真实路径）。
var tempPrefixes = []string{
	"/tmp/",
	"/var/tmp/",
	"/private/tmp/",
	"/private/var/tmp/",
}

// Validate 校验 launchd 声明；返回 nil 表示可信。
// 注意：会就地补齐缺失的 Label，调用方应传入指针。
func Validate(decl *model.Declaration) error {
	if decl == nil {
		return fault.New(fault.MalformedRecord, "validate declaration", "nil declaration")
	}

	if strings.TrimSpace(decl.Label) == "" {
		decl.Label = LabelFromFilename(decl.SourcePath)
		decl.LabelFromFilename = true
		if decl.Label == "" {
			return fault.New(fault.MalformedRecord, "validate declaration", "no label and no filename").WithPath(decl.SourcePath)
		}
	}

	if decl.Program != "" {
		if err := checkExecutable(decl.Program); err != nil {
			return err.WithPath(decl.SourcePath).WithContext("field", "Program")
		}
	}
	if len(decl.ProgramArguments) > 0 {
		if err := checkExecutable(decl.ProgramArguments[0]); err != nil {
			return err.WithPath(decl.SourcePath).WithContext("field", "ProgramArguments")
		}
	}
	return nil
}

// ValidatePath 对登录项与后台项的路径执行同样的可执行路径规则。
// 空路径（来源无法解析）视为通过。
func ValidatePath(c model.Category, p string) error {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	if err := checkExecutable(p); err != nil {
		return err.WithPath(p).WithContext("category", string(c))
	}
	return nil
}

// NormalizePath 把 file:// URL 转为文件系统路径，其他输入仅去除首尾空白。
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(strings.ToLower(p), "file://") {
		if u, err := url.Parse(p); err == nil && u.Path != "" {
			p = u.Path
		}
	}
	return p
}

// LabelFromFilename 由声明文件名推导 Label：com.example.agent.plist -> com.example.agent。
func LabelFromFilename(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, ".plist")
}

func checkExecutable(p string) *fault.Error {
	p = strings.TrimSpace(p)
	if hasTraversal(p) {
		return fault.New(fault.MalformedRecord, "validate declaration", "executable path contains parent traversal: "+p)
	}
	for _, prefix := range tempPrefixes {
		if strings.HasPrefix(p, prefix) {
			return fault.New(fault.MalformedRecord, "validate declaration", "executable path in world-writable temp dir: "+p)
		}
	}
	return nil
}

func hasTraversal(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
