// Package dispatch runs one collection cycle (fetch then store) for a tick
// and records it in the process log.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/terrama-collector/pkg/collector"
	"github.com/terrama-collector/pkg/metrics"
	"github.com/terrama-collector/pkg/processlog"
	"github.com/terrama-collector/pkg/schedule"
)

// Status 一次派发的结果
type Status string

const (
	StatusSkipped Status = metrics.StatusSkipped // 没有注册策略，未打开日志条目
	StatusFailed  Status = metrics.StatusFailed
	StatusDone    Status = metrics.StatusDone
)

// Outcome describes one finished dispatch.
type Outcome struct {
	Resource      string
	LogID         processlog.LogID
	Status        Status
	Err           error
	Count         int
	DataTimestamp time.Time
	Duration      time.Duration
}

// StrategySource resolves the strategy of a resource.
type StrategySource interface {
	Get(id string) (collector.Strategy, error)
}

// Options 协调器可选依赖
type Options struct {
	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *metrics.Dispatch
}

// Coordinator turns ticks into fetch/store cycles. Every process log entry it
// opens is closed as done or failed before Dispatch returns, and no error
// escapes to the caller.
type Coordinator struct {
	strategies StrategySource
	plog       processlog.Logger
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *metrics.Dispatch
}

// New 创建派发协调器
func New(strategies StrategySource, plog processlog.Logger, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		strategies: strategies,
		plog:       plog,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// OnTick implements schedule.Dispatcher.
func (c *Coordinator) OnTick(ctx context.Context, tick schedule.Tick) {
	c.Dispatch(ctx, tick)
}

// Dispatch runs one cycle for tick.Resource.
func (c *Coordinator) Dispatch(ctx context.Context, tick schedule.Tick) (out Outcome) {
	started := c.clock.Now()
	res := tick.Resource
	id := res.ID()
	out.Resource = id
	log := c.logger.With(zap.String("resource", id), zap.Uint64("seq", tick.Seq))
	defer func() {
		out.Duration = c.clock.Since(started)
		c.metrics.Observe(id, string(out.Status), out.Duration.Seconds())
	}()

	strategy, err := c.strategies.Get(id)
	if err != nil {
		log.Error("no collector strategy registered, tick skipped", zap.Error(err))
		out.Status, out.Err = StatusSkipped, err
		return out
	}

	// 进程日志写入不随派发上下文取消，保证条目能够关闭
	lctx := context.WithoutCancel(ctx)
	logID, err := c.plog.Start(lctx, id)
	if err != nil {
		log.Error("failed to open process log entry", zap.Error(err))
		out.Status, out.Err = StatusFailed, err
		return out
	}
	out.LogID = logID
	log = log.With(zap.Int64("log_id", int64(logID)), zap.String("strategy", strategy.Name()))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("strategy %s panicked: %v", strategy.Name(), r)
			log.Error("collector strategy panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = c.fail(lctx, log, out, err)
		}
	}()

	c.value(lctx, log, processlog.TagRun, uuid.NewString(), logID)
	seq := strconv.FormatUint(tick.Seq, 10)
	if tick.Manual {
		seq = "manual"
	}
	c.value(lctx, log, processlog.TagTick, seq, logID)

	ds, err := strategy.Fetch(ctx, res)
	if err != nil {
		return c.fail(lctx, log, out, err)
	}
	for _, in := range ds.Inputs() {
		c.value(lctx, log, processlog.TagInput, in, logID)
	}

	sr, err := strategy.Store(ctx, res, ds)
	if err != nil {
		return c.fail(lctx, log, out, err)
	}
	if sr == nil {
		sr = &collector.StoreResult{}
	}
	if sr.Location != "" {
		c.value(lctx, log, processlog.TagOutput, sr.Location, logID)
	}
	dataTS := sr.DataTimestamp
	if dataTS.IsZero() && ds != nil {
		dataTS = ds.DataTimestamp
	}

	msg := "no new data"
	if sr.Count > 0 {
		msg = fmt.Sprintf("%d item(s) stored into %s", sr.Count, sr.Location)
	}
	if err := c.plog.Info(lctx, msg, logID); err != nil {
		log.Warn("failed to write process log message", zap.Error(err))
	}
	if err := c.plog.Done(lctx, dataTS, logID); err != nil {
		log.Error("failed to close process log entry", zap.Error(err))
		return c.fail(lctx, log, out, fmt.Errorf("close process log entry: %w", err))
	}

	out.Status, out.Count, out.DataTimestamp = StatusDone, sr.Count, dataTS
	log.Info("collection done", zap.Int("count", sr.Count), zap.Time("data_timestamp", dataTS),
		zap.Duration("elapsed", c.clock.Since(started)))
	return out
}

func (c *Coordinator) fail(ctx context.Context, log *zap.Logger, out Outcome, err error) Outcome {
	log.Warn("collection failed", zap.Error(err))
	if perr := c.plog.Error(ctx, err.Error(), out.LogID); perr != nil {
		log.Error("failed to record collection error", zap.Error(perr))
	}
	out.Status, out.Err = StatusFailed, err
	return out
}

func (c *Coordinator) value(ctx context.Context, log *zap.Logger, tag, v string, id processlog.LogID) {
	if err := c.plog.LogValue(ctx, tag, v, id); err != nil {
		log.Warn("failed to record process log value", zap.String("tag", tag), zap.Error(err))
	}
}

var _ schedule.Dispatcher = (*Coordinator)(nil)
