// Package metrics 提供刷新与变更的可观测指标。
//
// 默认使用 NoopRecorder，调用方无需判空；需要采集时注入 PrometheusRecorder。
package metrics

import "time"

// Recorder 定义引擎上报的全部指标。
type Recorder interface {
	ObserveRefreshDuration(category string, d time.Duration)
	IncSourceStatus(category, status, method string)
	SetRecordCount(category string, n int)
	IncDiscardedRefresh(category string)
	IncMutation(op string, success bool)
	IncLoadStateFetch(success bool)
}

// NoopRecorder 什么也不做。
type NoopRecorder struct{}

func (NoopRecorder) ObserveRefreshDuration(string, time.Duration) {}
func (NoopRecorder) IncSourceStatus(string, string, string)       {}
func (NoopRecorder) SetRecordCount(string, int)                   {}
func (NoopRecorder) IncDiscardedRefresh(string)                   {}
func (NoopRecorder) IncMutation(string, bool)                     {}
func (NoopRecorder) IncLoadStateFetch(bool)                       {}
