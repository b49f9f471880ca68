// Package impact 根据声明属性估算自启动项的启动影响。
//
// 所有常量都是固定值，不可调：同样的声明在任何机器上都得到同样的分数。
// 计分只依赖记录本身，不访问系统。
package impact

import (
	"math"

	"startup-inspector/internal/domain/model"
)

// 启动耗时（秒）。
const (
	loginItemSeconds = 0.2

	agentBaseSeconds      = 0.05
	agentRunAtLoadSeconds = 0.10
	agentKeepAliveSeconds = 0.15
	agentIntervalSeconds  = 0.05
	agentWatchSeconds     = 0.08

	daemonBaseSeconds      = 0.10
	daemonRunAtLoadSeconds = 0.15
	daemonKeepAliveSeconds = 0.20
	daemonSocketSeconds    = 0.12
)

// CPU 分值与内存估算（MB）。
const (
	loginItemCPU    = 1
	agentBaseCPU    = 1
	daemonBaseCPU   = 2
	keepAliveCPU    = 2
	agentTriggerCPU = 1
	daemonSocketCPU = 1

	loginItemMemoryMB       = 50
	agentBaseMemoryMB       = 30
	agentKeepAliveMemoryMB  = 20
	daemonBaseMemoryMB      = 50
	daemonKeepAliveMemoryMB = 30
)

// 分级阈值。
const (
	cpuHighThreshold       = 4
	cpuMediumThreshold     = 2
	overallHighThreshold   = 15.0
	overallMediumThreshold = 8.0

	// 聚合估算：最长单项 + 30% 总和（近似部分并行启动的串行尾部）。
	aggregateSerialShare = 0.3
)

// Score 计算单条记录的影响指标。后台项不参与计分，返回零值。
func Score(r model.LaunchRecord) model.ImpactMetrics {
	var (
		seconds float64
		cpu     int
		memory  int
	)

	switch r.Category {
	case model.CategoryLoginItems:
		seconds, cpu, memory = loginItemSeconds, loginItemCPU, loginItemMemoryMB
	case model.CategoryLaunchAgents:
		s, _ := r.ServiceDecl()
		seconds, cpu, memory = scoreAgent(s)
	case model.CategoryLaunchDaemons:
		s, _ := r.ServiceDecl()
		seconds, cpu, memory = scoreDaemon(s)
	default:
		return model.ImpactMetrics{CPUImpact: model.ImpactLow, OverallImpact: model.ImpactLow}
	}

	overall := round2(10*seconds + float64(cpu) + float64(memory)/30)
	return model.ImpactMetrics{
		EstimatedStartupSeconds: round2(seconds),
		MemoryImpactMB:          memory,
		CPUScore:                cpu,
		CPUImpact:               cpuLevel(cpu),
		OverallScore:            overall,
		OverallImpact:           overallLevel(overall),
	}
}

func scoreAgent(s model.ServiceAttrs) (seconds float64, cpu, memory int) {
	seconds, cpu, memory = agentBaseSeconds, agentBaseCPU, agentBaseMemoryMB
	if s.RunAtLoad {
		seconds += agentRunAtLoadSeconds
	}
	if s.KeepAlive {
		seconds += agentKeepAliveSeconds
		cpu += keepAliveCPU
		memory += agentKeepAliveMemoryMB
	}
	if s.HasStartInterval {
		seconds += agentIntervalSeconds
		cpu += agentTriggerCPU
	}
	// 耗时只计非空字符串列表；CPU 只看键是否存在。
	if s.WatchPathsNonEmpty {
		seconds += agentWatchSeconds
	}
	if s.HasWatchPaths {
		cpu += agentTriggerCPU
	}
	return seconds, cpu, memory
}

func scoreDaemon(s model.ServiceAttrs) (seconds float64, cpu, memory int) {
	seconds, cpu, memory = daemonBaseSeconds, daemonBaseCPU, daemonBaseMemoryMB
	if s.RunAtLoad {
		seconds += daemonRunAtLoadSeconds
	}
	if s.KeepAlive {
		seconds += daemonKeepAliveSeconds
		cpu += keepAliveCPU
		memory += daemonKeepAliveMemoryMB
	}
	if s.HasSockets {
		seconds += daemonSocketSeconds
		cpu += daemonSocketCPU
	}
	return seconds, cpu, memory
}

func cpuLevel(score int) model.ImpactLevel {
	switch {
	case score >= cpuHighThreshold:
		return model.ImpactHigh
	case score >= cpuMediumThreshold:
		return model.ImpactMedium
	default:
		return model.ImpactLow
	}
}

func overallLevel(score float64) model.ImpactLevel {
	switch {
	case score >= overallHighThreshold:
		return model.ImpactHigh
	case score >= overallMediumThreshold:
		return model.ImpactMedium
	default:
		return model.ImpactLow
	}
}

// Annotate 为每条记录写入指标，返回新切片，不修改入参。
func Annotate(records []model.LaunchRecord) []model.LaunchRecord {
	out := make([]model.LaunchRecord, len(records))
	for i, r := range records {
		m := Score(r)
		r.Metrics = &m
		r.Impact = m.OverallImpact
		out[i] = r
	}
	return out
}

// Aggregate 汇总所有已启用的登录项、代理与守护进程的启动耗时。
func Aggregate(records []model.LaunchRecord) model.AggregateImpact {
	var agg model.AggregateImpact
	for _, r := range records {
		if !r.Enabled || r.Category == model.CategoryBackgroundItems {
			continue
		}
		t := Score(r).EstimatedStartupSeconds
		agg.SumSeconds += t
		agg.MaxSeconds = math.Max(agg.MaxSeconds, t)
		agg.EnabledCount++
	}
	agg.SumSeconds = round2(agg.SumSeconds)
	agg.EstimatedSeconds = round2(agg.MaxSeconds + aggregateSerialShare*agg.SumSeconds)
	return agg
}

// round2 消除浮点累加误差（0.1+0.2 之类），保证阈值比较与输出稳定。
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
