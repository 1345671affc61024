package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registers 接口隔离 Prometheus 的默认实现，业务代码只依赖该接口，便于单测替换
type Registers interface {
	prometheus.Registerer
	Register(collector prometheus.Collector) error
}

// promRegistry 包裹官方的 *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry 创建 Prometheus 指标注册器
func NewPromRegistry(registry *prometheus.Registry) Registers {
	return &promRegistry{registry: registry}
}

// MustRegister 实现 prometheus.Registerer，重复注册直接 panic（属于编程错误）
func (p *promRegistry) MustRegister(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

// Unregister 实现 prometheus.Registerer
func (p *promRegistry) Unregister(collector prometheus.Collector) bool {
	return p.registry.Unregister(collector)
}

// Register 实现 Registers
func (p *promRegistry) Register(collector prometheus.Collector) error {
	return p.registry.Register(collector)
}

// NewRegistry returns a registry carrying only the process collector
// (when enabled) and a factory writing into it. Go runtime metrics are not registered.
func NewRegistry(enableProcess bool) (*prometheus.Registry, *MetricFactory) {
	reg := prometheus.NewRegistry()
	if enableProcess {
		reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	return reg, NewMetricFactory(NewPromRegistry(reg))
}
