package model

// SourceStatus 表示一次类别读取的整体状态。
type SourceStatus string

const (
	// SourceOK 读取成功（包括“确实没有任何条目”）。
	SourceOK SourceStatus = "ok"
	// SourceDegraded 全部读取方式均失败，结果为空但被显式标记。
	SourceDegraded SourceStatus = "degraded"
	// SourceAccessDenied 来源存在但权限不足，调用方应提示授予完全磁盘访问权限。
	SourceAccessDenied SourceStatus = "access_denied"
)

// DiagnosticKind 与错误分类保持一致，便于 UI/CLI 统一展示。
type DiagnosticKind string

const (
	DiagAccessDenied        DiagnosticKind = "access_denied"
	DiagMalformedRecord     DiagnosticKind = "malformed_record"
	DiagExternalToolFailure DiagnosticKind = "external_tool_failure"
	DiagSnapshot            DiagnosticKind = "snapshot"
)

// Diagnostic 是读取/合并过程中被局部吸收的问题。
type Diagnostic struct {
	Category Category       `json:"category"`
	Kind     DiagnosticKind `json:"kind"`
	Path     string         `json:"path,omitempty"`
	Message  string         `json:"message"`
}

// SourceResult 是一次来源读取的输出。读取从不返回 error，失败体现在 Status 与 Diagnostics。
type SourceResult struct {
	Category    Category       `json:"category"`
	Records     []LaunchRecord `json:"records"`
	Status      SourceStatus   `json:"status"`
	Method      string         `json:"method,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
}

// Declaration 是从 launchd plist 解析出的原始声明，校验通过后才会转换为记录。
type Declaration struct {
	Category   Category
	Scope      Scope
	SourcePath string
	Label      string
	// LabelFromFilename 表示 Label 缺失、由文件名推导。
	LabelFromFilename bool
	Program           string
	ProgramArguments  []string

	RunAtLoad          bool
	KeepAlive          bool
	HasStartInterval   bool
	HasWatchPaths      bool
	WatchPathsNonEmpty bool
	HasSockets         bool
	ProcessType        string
}
