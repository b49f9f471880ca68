package model

// ImpactLevel 表示启动影响的分级。
type ImpactLevel string

const (
	// ImpactLow 低影响。
	ImpactLow ImpactLevel = "Low"
	// ImpactMedium 中等影响。
	ImpactMedium ImpactLevel = "Medium"
	// ImpactHigh 高影响。
	ImpactHigh ImpactLevel = "High"
)

// ImpactMetrics 是单条记录的启动影响估算结果。
type ImpactMetrics struct {
	EstimatedStartupSeconds float64     `json:"estimated_startup_seconds"`
	MemoryImpactMB          int         `json:"memory_impact_mb"`
	CPUScore                int         `json:"cpu_score"`
	CPUImpact               ImpactLevel `json:"cpu_impact"`
	OverallScore            float64     `json:"overall_score"`
	OverallImpact           ImpactLevel `json:"overall_impact"`
}

// AggregateImpact 是全部已启用项的整体启动耗时估算。
type AggregateImpact struct {
	// EstimatedSeconds = 最大单项耗时 + 30% * 总和（近似部分并行启动）。
	EstimatedSeconds float64 `json:"estimated_seconds"`
	MaxSeconds       float64 `json:"max_seconds"`
	SumSeconds       float64 `json:"sum_seconds"`
	EnabledCount     int     `json:"enabled_count"`
}
