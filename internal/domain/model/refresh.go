package model

// CategoryRefresh 是单个类别一次刷新的结果摘要。
type CategoryRefresh struct {
	RunID       string       `json:"run_id"`
	Category    Category     `json:"category"`
	Status      SourceStatus `json:"status"`
	Method      string       `json:"method,omitempty"`
	RecordCount int          `json:"record_count"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	// Committed 为 false 表示结果被丢弃（刷新被取消或超时）。
	Committed  bool   `json:"committed"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

// RefreshReport 是一次刷新（可能覆盖多个类别）的汇总。
type RefreshReport struct {
	RunID      string            `json:"run_id"`
	Categories []CategoryRefresh `json:"categories"`
	Aggregate  AggregateImpact   `json:"aggregate"`
	StartedAt  int64             `json:"started_at"`
	FinishedAt int64             `json:"finished_at"`
}

// Degraded 返回状态不是 ok 的类别。
func (r RefreshReport) Degraded() []CategoryRefresh {
	var out []CategoryRefresh
	for _, c := range r.Categories {
		if c.Status != SourceOK || !c.Committed {
			out = append(out, c)
		}
	}
	return out
}

// ExportRecord 登记一次导出产物（备份 JSON / PDF 报告）。
type ExportRecord struct {
	ExportID    string `json:"export_id"`
	ExportType  string `json:"export_type"`
	FilePath    string `json:"file_path"`
	SHA256      string `json:"sha256"`
	GeneratedAt int64  `json:"generated_at"`
	Status      string `json:"status"`
}
