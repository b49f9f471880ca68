// Package privacy 在导出、报告与接口输出时隐藏用户名等本机信息。
// 只做展示层脱敏，不修改清单与快照中的原始记录。
package privacy

import (
	"path/filepath"
	"regexp"
	"strings"

	"startup-inspector/internal/domain/model"
)

// 用户主目录前缀：/Users/<name> 与 root 的 /var/root。
var reHomePrefix = regexp.MustCompile(`^(/Users/[^/]+|/var/root)(/|$)`)

// MaskHomePath 把用户主目录替换为 "~"，保留其余路径结构。
func MaskHomePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "/Users/Shared/") {
		return p
	}
	loc := reHomePrefix.FindStringSubmatchIndex(p)
	if loc == nil {
		return p
	}
	rest := p[loc[1]:]
	if rest == "" {
		return "~"
	}
	return "~/" + rest
}

// MaskSnapshotPath 把绝对路径压缩为文件名形式。
func MaskSnapshotPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Base(p)
}

// MaskRecords 返回脱敏后的记录副本：路径、程序与参数中的主目录被替换。
func MaskRecords(records []model.LaunchRecord) []model.LaunchRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]model.LaunchRecord, 0, len(records))
	for _, r := range records {
		rr := r.Clone()
		rr.Path = MaskHomePath(rr.Path)
		if strings.HasPrefix(rr.Publisher, "/") {
			rr.Publisher = MaskHomePath(rr.Publisher)
		}
		if rr.Service != nil {
			rr.Service.Program = MaskHomePath(rr.Service.Program)
			for i, a := range rr.Service.ProgramArguments {
				rr.Service.ProgramArguments[i] = maskArgument(a)
			}
		}
		out = append(out, rr)
	}
	return out
}

// maskArgument 处理 "--config=/Users/x/..." 这类带路径的参数。
func maskArgument(a string) string {
	if i := strings.Index(a, "="); i >= 0 {
		return a[:i+1] + MaskHomePath(a[i+1:])
	}
	return MaskHomePath(a)
}
