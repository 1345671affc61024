package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 派发结果标签值
const (
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Dispatch 一次派发（Fetch + Store）相关的指标
type Dispatch struct {
	Total    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewDispatch 创建派发指标
//
//	collector_dispatch_total{resource,status}: 按结果统计派发次数（done / failed / skipped）
//	collector_dispatch_duration_seconds{resource}: 一次派发的耗时（秒），跳过的派发不计入
func (f *MetricFactory) NewDispatch() *Dispatch {
	return &Dispatch{
		Total: promauto.With(f.reg).NewCounterVec(prometheus.CounterOpts{
			Name: "collector_dispatch_total",
			Help: "Dispatches per resource and outcome",
		}, []string{"resource", "status"}),
		Duration: promauto.With(f.reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_dispatch_duration_seconds",
			Help:    "Fetch and store duration per resource",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"resource"}),
	}
}

// Observe records one dispatch outcome. Nil receivers are ignored.
func (d *Dispatch) Observe(resource, status string, seconds float64) {
	if d == nil {
		return
	}
	d.Total.WithLabelValues(resource, status).Inc()
	if status != StatusSkipped {
		d.Duration.WithLabelValues(resource).Observe(seconds)
	}
}

// Forget drops the series of a removed resource.
func (d *Dispatch) Forget(resource string) {
	if d == nil {
		return
	}
	d.Total.DeletePartialMatch(prometheus.Labels{"resource": resource})
	d.Duration.DeleteLabelValues(resource)
}
