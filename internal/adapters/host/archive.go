package host

import (
	"sort"

	"howett.net/plist"
)

// keyedArchive 是 NSKeyedArchiver 格式 plist 的宽松视图：
// 只识别 $objects 中的字典，字段值如果是 UID 引用则解引用一次。
type keyedArchive struct {
	objects []any
}

// decodeKeyedArchive 解析二进制/XML plist。没有 $objects 时退化为遍历整棵树收集字典。
func decodeKeyedArchive(raw []byte) (*keyedArchive, error) {
	var root any
	if _, err := plist.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	if m, ok := root.(map[string]any); ok {
		if objs, ok := m["$objects"].([]any); ok {
			return &keyedArchive{objects: objs}, nil
		}
	}
	var flat []any
	collectDicts(root, &flat, 0)
	return &keyedArchive{objects: flat}, nil
}

// collectDicts 按键名排序深度优先遍历，保证同一文件每次得到相同的对象顺序。
func collectDicts(v any, out *[]any, depth int) {
	if depth > 32 {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		*out = append(*out, t)
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectDicts(t[k], out, depth+1)
		}
	case []any:
		for _, child := range t {
			collectDicts(child, out, depth+1)
		}
	}
}

// dicts 返回所有字典对象。
func (a *keyedArchive) dicts() []map[string]any {
	var out []map[string]any
	for _, o := range a.objects {
		if m, ok := o.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// resolve 解引用 UID，并把 NSURL 风格的 {NS.relative: ...} 展开为字符串。
func (a *keyedArchive) resolve(v any) any {
	if uid, ok := v.(plist.UID); ok {
		idx := int(uid)
		if idx < 0 || idx >= len(a.objects) {
			return nil
		}
		v = a.objects[idx]
	}
	if m, ok := v.(map[string]any); ok {
		if rel, ok := m["NS.relative"]; ok {
			if uid, ok := rel.(plist.UID); ok {
				idx := int(uid)
				if idx >= 0 && idx < len(a.objects) {
					return a.objects[idx]
				}
				return nil
			}
			return rel
		}
	}
	return v
}

// str 读取字符串字段，按顺序尝试多个键名。
func (a *keyedArchive) str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := a.resolve(m[k]).(string); ok && s != "" && s != "$null" {
			return s
		}
	}
	return ""
}

// boolOr 读取布尔字段，缺失或类型不符时返回 def。
func (a *keyedArchive) boolOr(m map[string]any, key string, def bool) bool {
	if b, ok := a.resolve(m[key]).(bool); ok {
		return b
	}
	return def
}
