package model

// PrecheckStatus 表示环境检查结果状态。
type PrecheckStatus string

const (
	// PrecheckPassed 表示检查通过。
	PrecheckPassed PrecheckStatus = "passed"
	// PrecheckFailed 表示检查失败。
	PrecheckFailed PrecheckStatus = "failed"
	// PrecheckSkipped 表示检查跳过（例如当前环境不支持该项）。
	PrecheckSkipped PrecheckStatus = "skipped"
)

// PrecheckResult 是一项运行环境检查（外部工具、目录权限、完全磁盘访问）。
type PrecheckResult struct {
	CheckCode string         `json:"check_code"`
	CheckName string         `json:"check_name"`
	Category  Category       `json:"category,omitempty"`
	Required  bool           `json:"required"`
	Status    PrecheckStatus `json:"status"`
	Message   string         `json:"message,omitempty"`
	Path      string         `json:"path,omitempty"`
	CheckedAt int64          `json:"checked_at"`
}
