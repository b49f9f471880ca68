package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder 用 Prometheus 实现 Recorder。
type PrometheusRecorder struct {
	once            sync.Once
	refreshDuration *prom.HistogramVec
	sourceStatus    *prom.CounterVec
	records         *prom.GaugeVec
	discarded       *prom.CounterVec
	mutations       *prom.CounterVec
	loadStateFetch  *prom.CounterVec
}

// NewPrometheusRecorder 创建并注册指标。reg 为 nil 时使用新的独立 Registry。
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.refreshDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "startup_inspector",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of per-category refresh passes",
			Buckets:   prom.DefBuckets,
		}, []string{"category"})
		pr.sourceStatus = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "startup_inspector",
			Name:      "source_reads_total",
			Help:      "Source reads by category, status and read method",
		}, []string{"category", "status", "method"})
		pr.records = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "startup_inspector",
			Name:      "records",
			Help:      "Records currently held per category",
		}, []string{"category"})
		pr.discarded = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "startup_inspector",
			Name:      "refresh_discarded_total",
			Help:      "Refresh results discarded because the pass was cancelled",
		}, []string{"category"})
		pr.mutations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "startup_inspector",
			Name:      "mutations_total",
			Help:      "Mutations by operation and result",
		}, []string{"op", "result"})
		pr.loadStateFetch = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "startup_inspector",
			Name:      "load_state_fetches_total",
			Help:      "Bulk launchctl list fetches by result",
		}, []string{"result"})
		reg.MustRegister(pr.refreshDuration, pr.sourceStatus, pr.records, pr.discarded, pr.mutations, pr.loadStateFetch)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveRefreshDuration(category string, d time.Duration) {
	if p == nil || p.refreshDuration == nil {
		return
	}
	p.refreshDuration.WithLabelValues(category).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSourceStatus(category, status, method string) {
	if p == nil || p.sourceStatus == nil {
		return
	}
	p.sourceStatus.WithLabelValues(category, status, method).Inc()
}

func (p *PrometheusRecorder) SetRecordCount(category string, n int) {
	if p == nil || p.records == nil {
		return
	}
	p.records.WithLabelValues(category).Set(float64(n))
}

func (p *PrometheusRecorder) IncDiscardedRefresh(category string) {
	if p == nil || p.discarded == nil {
		return
	}
	p.discarded.WithLabelValues(category).Inc()
}

func (p *PrometheusRecorder) IncMutation(op string, success bool) {
	if p == nil || p.mutations == nil {
		return
	}
	p.mutations.WithLabelValues(op, result(success)).Inc()
}

func (p *PrometheusRecorder) IncLoadStateFetch(success bool) {
	if p == nil || p.loadStateFetch == nil {
		return
	}
	p.loadStateFetch.WithLabelValues(result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

// HTTPHandler 返回暴露 reg 指标的 handler。
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

var _ Recorder = (*PrometheusRecorder)(nil)
