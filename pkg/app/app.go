// Package app assembles the collector service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/terrama-collector/pkg/collector"
	"github.com/terrama-collector/pkg/config"
	"github.com/terrama-collector/pkg/dispatch"
	"github.com/terrama-collector/pkg/metrics"
	"github.com/terrama-collector/pkg/processlog"
	"github.com/terrama-collector/pkg/resource"
	"github.com/terrama-collector/pkg/schedule"
	"github.com/terrama-collector/pkg/storage"
)

var ErrUnknownResource = errors.New("unknown resource")

// ResourceStatus is the view of one configured resource.
type ResourceStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Semantics string     `json:"semantics,omitempty"`
	Interval  string     `json:"interval,omitempty"`
	Active    bool       `json:"active"`
	Scheduled bool       `json:"scheduled"`
	InFlight  bool       `json:"in_flight"`
	Strategy  string     `json:"strategy,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Output    string     `json:"output,omitempty"`
	Resumed   *time.Time `json:"resumed_from,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type options struct {
	clock    clockwork.Clock
	logger   *zap.Logger
	opener   storage.Opener
	client   *http.Client
	plog     processlog.Logger
	builders map[string]collector.Builder
}

// Option 可选依赖（测试替换时钟、数据库、过程日志）
type Option func(*options)

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }
func WithOpener(open storage.Opener) Option { return func(o *options) { o.opener = open } }
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }
func WithProcessLog(l processlog.Logger) Option { return func(o *options) { o.plog = l } }

// WithBuilder registers an additional strategy builder for semantics.
func WithBuilder(semantics string, b collector.Builder) Option {
	return func(o *options) {
		if o.builders == nil {
			o.builders = make(map[string]collector.Builder)
		}
		o.builders[semantics] = b
	}
}

// App owns every long-lived component of the service.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	pool        *storage.Pool
	plog        processlog.Logger
	strategies  *collector.Registry
	factory     *collector.Factory
	coordinator *dispatch.Coordinator
	scheduler   *schedule.Scheduler
	dispatchM   *metrics.Dispatch

	// regMu 串行化 Register/Unregister，保证查重与写入是原子的
	regMu     sync.Mutex
	mu        sync.RWMutex
	resources map[string]*entry
}

type entry struct {
	desc     resource.Descriptor
	strategy string
	resumed  time.Time
	err      error
}

// New 按配置创建所有组件，但不启动定时器
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: cfg.Collector.HTTPTimeout}
	}

	a := &App{cfg: cfg, logger: o.logger, resources: make(map[string]*entry)}

	var factory *metrics.MetricFactory
	a.registry, factory = metrics.NewRegistry(cfg.Collector.ProcessMetrics)
	a.dispatchM = factory.NewDispatch()

	db := cfg.Collector.Database
	a.pool = storage.NewPool(o.opener, storage.Options{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}, o.logger.Named("storage"))

	plog, err := a.openProcessLog(ctx, o)
	if err != nil {
		_ = a.pool.Close()
		return nil, err
	}
	a.plog = plog

	a.strategies = collector.NewRegistry()
	a.factory = collector.NewFactory(collector.Deps{
		Pool:       a.pool,
		HTTPClient: o.client,
		Clock:      o.clock,
		Logger:     o.logger.Named("collector"),
	})
	for semantics, b := range o.builders {
		a.factory.Register(semantics, b)
	}
	a.coordinator = dispatch.New(a.strategies, a.plog, dispatch.Options{
		Clock:   o.clock,
		Logger:  o.logger.Named("dispatch"),
		Metrics: a.dispatchM,
	})
	a.scheduler = schedule.New(a.coordinator, schedule.Options{
		MaxWorkers: cfg.Collector.MaxWorkers,
		Clock:      o.clock,
		Logger:     o.logger.Named("schedule"),
		Metrics:    factory.NewSchedule(),
	})
	return a, nil
}

func (a *App) openProcessLog(ctx context.Context, o *options) (processlog.Logger, error) {
	if o.plog != nil {
		return o.plog, nil
	}
	pl := a.cfg.Collector.ProcessLog
	switch pl.Driver {
	case "postgres":
		db, err := a.pool.Get(pl.DSN)
		if err != nil {
			return nil, fmt.Errorf("process log database: %w", err)
		}
		l, err := processlog.NewPostgresLogger(db, pl.Table, o.clock)
		if err != nil {
			return nil, err
		}
		if err := l.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("process log stored in postgres",
			zap.String("dsn", collector.RedactDSN(pl.DSN)), zap.String("table", pl.Table))
		return l, nil
	default:
		return processlog.NewMemoryLogger(o.clock, pl.Keep), nil
	}
}

// Start registers every configured resource and starts the timers of the
// active ones. Invalid entries are logged and skipped.
func (a *App) Start(ctx context.Context) error {
	descs, errs := a.cfg.Descriptors()
	for _, err := range errs {
		a.reject(err)
	}
	for _, d := range descs {
		if err := a.Register(ctx, d); err != nil {
			a.reject(err)
		}
	}
	a.logger.Info("collector started",
		zap.Int("configured", len(a.cfg.Resources)),
		zap.Int("registered", a.strategies.Len()),
		zap.Strings("scheduled", a.scheduler.Active()),
		zap.Strings("semantics", a.factory.Supported()))
	return nil
}

func (a *App) reject(err error) {
	var cerr *resource.ConfigurationError
	id := ""
	if errors.As(err, &cerr) {
		id = cerr.ResourceID
	}
	a.logger.Error("resource rejected", zap.String("resource", id), zap.Error(err))
	if id == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.resources[id]; !ok {
		a.resources[id] = &entry{err: err}
	}
}

// Register builds the strategy of d, registers it and schedules d when active.
func (a *App) Register(ctx context.Context, d resource.Descriptor) error {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	a.mu.RLock()
	existing, dup := a.resources[d.ID()]
	a.mu.RUnlock()
	if dup && existing.err == nil {
		return resource.NewConfigurationError(d.ID(), "duplicated resource id", nil)
	}

	s, err := a.factory.Build(d)
	if err != nil {
		return err
	}
	e := &entry{desc: d, strategy: s.Name()}
	if cp, ok := s.(collector.Checkpointer); ok && a.cfg.Collector.CheckpointResume {
		e.resumed = a.resume(ctx, d.ID(), cp)
	}

	a.strategies.Register(d.ID(), s)
	if d.Active() {
		if err := a.scheduler.Add(d); err != nil {
			a.strategies.Unregister(d.ID())
			return err
		}
	}
	a.mu.Lock()
	a.resources[d.ID()] = e
	a.mu.Unlock()
	a.logger.Info("resource registered", zap.Stringer("resource", d), zap.String("strategy", s.Name()))
	return nil
}

func (a *App) resume(ctx context.Context, id string, cp collector.Checkpointer) time.Time {
	h, ok := a.plog.(processlog.History)
	if !ok {
		return time.Time{}
	}
	ts, found, err := h.LastDataTimestamp(ctx, id)
	if err != nil {
		a.logger.Warn("failed to read checkpoint", zap.String("resource", id), zap.Error(err))
		return time.Time{}
	}
	if !found {
		return time.Time{}
	}
	cp.Resume(ts)
	a.logger.Info("resuming from checkpoint", zap.String("resource", id), zap.Time("data_timestamp", ts))
	return ts
}

// Unregister stops the timer of id and forgets its strategy.
func (a *App) Unregister(id string) error {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	a.mu.Lock()
	e, ok := a.resources[id]
	delete(a.resources, id)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	if e.err == nil && e.desc.Active() {
		if err := a.scheduler.Remove(id); err != nil && !errors.Is(err, schedule.ErrNotActive) {
			return err
		}
	}
	a.strategies.Unregister(id)
	a.dispatchM.Forget(id)
	return nil
}

// Trigger 手动触发一次采集，false 表示已有派发在执行（被合并）
func (a *App) Trigger(id string) (bool, error) {
	a.mu.RLock()
	_, ok := a.resources[id]
	a.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	return a.scheduler.Trigger(id)
}

// Resources lists every configured resource, rejected ones included.
func (a *App) Resources() []ResourceStatus {
	a.mu.RLock()
	out := make([]ResourceStatus, 0, len(a.resources))
	for id, e := range a.resources {
		st := ResourceStatus{ID: id}
		if e.err != nil {
			st.Error = e.err.Error()
			out = append(out, st)
			continue
		}
		d := e.desc
		st.Name, st.Semantics, st.Interval = d.Name(), d.Semantics(), d.Interval().String()
		st.Active, st.Strategy = d.Active(), e.strategy
		if !e.resumed.IsZero() {
			ts := e.resumed
			st.Resumed = &ts
		}
		st.Provider, st.Output = d.Provider().Kind, d.Output().Kind
		out = append(out, st)
	}
	a.mu.RUnlock()

	for i := range out {
		if out[i].Error != "" {
			continue
		}
		_, out[i].Scheduled = a.scheduler.Resource(out[i].ID)
		out[i].InFlight = a.scheduler.InFlight(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProcessLog returns the process log written by every dispatch.
func (a *App) ProcessLog() processlog.Logger { return a.plog }

// Registry returns the Prometheus registry holding the collector metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Ping 检查数据库连接
func (a *App) Ping(ctx context.Context) error { return a.pool.Ping(ctx) }

// Shutdown stops the scheduler (bounded by ctx) and closes the databases.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.scheduler.Shutdown(ctx)
	if cerr := a.pool.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
