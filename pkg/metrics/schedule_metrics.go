package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Schedule 定时器与并发控制相关指标
type Schedule struct {
	Ticks     *prometheus.CounterVec // 定时器触发次数
	Coalesced *prometheus.CounterVec // 因上一次派发未结束而合并（丢弃）的触发次数
	InFlight  prometheus.Gauge       // 正在执行的派发数
	Active    prometheus.Gauge       // 当前有运行中定时器的资源数
}

// NewSchedule 创建调度指标
func (f *MetricFactory) NewSchedule() *Schedule {
	s := &Schedule{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_ticks_total",
			Help: "Timer firings per resource",
		}, []string{"resource"}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_ticks_coalesced_total",
			Help: "Ticks dropped because the previous dispatch of the resource was still running",
		}, []string{"resource"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_dispatch_inflight",
			Help: "Dispatches currently running",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_active_resources",
			Help: "Resources with a running timer",
		}),
	}
	f.reg.MustRegister(s.Ticks, s.Coalesced, s.InFlight, s.Active)
	return s
}

// Forget drops the series of a removed resource.
func (s *Schedule) Forget(resource string) {
	if s == nil {
		return
	}
	s.Ticks.DeleteLabelValues(resource)
	s.Coalesced.DeleteLabelValues(resource)
}
