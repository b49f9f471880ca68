// Package host 采集 macOS 本机的自启动项来源（登录项、launchd 代理/守护进程、BTM 后台项）。
//
// 每个来源都是 best effort：单条失败记为诊断并继续，全部读取方式失败时返回
// 被标记为 degraded 的空结果；权限不足必须作为 access_denied 单独上报。
package host

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
)

// Source 是单一类别的读取器。Read 不返回 error，失败体现在结果状态与诊断中。
type Source interface {
	Category() model.Category
	Read(ctx context.Context) model.SourceResult
}

// readFileClassified 读取文件并区分“不存在”和“无权限”。
// 返回 exists=false 时 err 为 nil。
func readFileClassified(path string) (data []byte, exists bool, err error) {
	data, err = os.ReadFile(path)
	if err == nil {
		return data, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return nil, true, fault.Wrap(err, fault.AccessDenied, "read").WithPath(path)
	}
	return nil, true, fault.Wrap(err, fault.ExternalToolFailure, "read").WithPath(path)
}

// diagFromError 把分类错误转换为诊断项。
func diagFromError(c model.Category, path string, err error) model.Diagnostic {
	kind := model.DiagExternalToolFailure
	switch fault.KindOf(err) {
	case fault.AccessDenied:
		kind = model.DiagAccessDenied
	case fault.MalformedRecord:
		kind = model.DiagMalformedRecord
	}
	return model.Diagnostic{Category: c, Kind: kind, Path: path, Message: err.Error()}
}

// dedupeByIdentity 按身份键去重，保留首次出现的记录。
func dedupeByIdentity(in []model.LaunchRecord) []model.LaunchRecord {
	seen := map[string]struct{}{}
	out := make([]model.LaunchRecord, 0, len(in))
	for _, r := range in {
		key := strings.TrimSpace(r.IdentityKey)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// lastDotComponent 取反向域名风格标识的最后一段，作为展示名。
func lastDotComponent(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "."); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}
