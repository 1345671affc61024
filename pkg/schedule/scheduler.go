package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/terrama-collector/pkg/metrics"
	"github.com/terrama-collector/pkg/resource"
)

var (
	ErrAlreadyActive = errors.New("resource already scheduled")
	ErrNotActive     = errors.New("resource not scheduled")
	ErrInactive      = errors.New("resource is not active")
	ErrClosed        = errors.New("scheduler is shut down")
)

// Dispatcher runs one collection cycle for a tick. Implementations must
// contain their own errors; nothing is returned to the scheduler.
type Dispatcher interface {
	OnTick(ctx context.Context, tick Tick)
}

// Options 调度器参数
type Options struct {
	MaxWorkers int // 同时执行的派发数上限，<=0 表示 1；超出的派发排队等待空位
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Schedule
}

type scheduled struct {
	res   resource.Descriptor
	timer *Timer
}

// Scheduler owns one Timer per active resource and runs dispatches on a
// shared pool. Ticks for a resource whose previous dispatch is still running
// or waiting for a slot are dropped (coalesced).
//
// Timers never block each other, but dispatches do compete for the pool:
// with more active resources than MaxWorkers, a dispatch may wait for a slot
// held by slow dispatches of other resources. Size MaxWorkers to the number
// of active resources when that wait is not acceptable.
type Scheduler struct {
	dispatcher Dispatcher
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *metrics.Schedule
	sem        *semaphore.Weighted

	// queueCtx 取消后排队中的派发不再启动；runCtx 取消后通知执行中的派发放弃
	queueCtx    context.Context
	cancelQueue context.CancelFunc
	runCtx      context.Context
	cancelRun   context.CancelFunc

	mu       sync.Mutex
	timers   map[string]*scheduled
	inflight map[string]bool
	closed   bool
	wg       sync.WaitGroup
}

// New 创建调度器
func New(d Dispatcher, opts Options) *Scheduler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Scheduler{
		dispatcher: d,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		sem:        semaphore.NewWeighted(int64(opts.MaxWorkers)),
		timers:     make(map[string]*scheduled),
		inflight:   make(map[string]bool),
	}
	s.queueCtx, s.cancelQueue = context.WithCancel(context.Background())
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	return s
}

// Add starts the timer of res.
func (s *Scheduler) Add(res resource.Descriptor) error {
	if !res.Active() {
		return fmt.Errorf("%w: %s", ErrInactive, res.ID())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.timers[res.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, res.ID())
	}
	t := NewTimer(res, s.clock, func(tick Tick) { s.handle(tick) })
	if err := t.Start(res.Interval()); err != nil {
		return err
	}
	s.timers[res.ID()] = &scheduled{res: res, timer: t}
	s.setActive()
	s.logger.Info("resource scheduled", zap.String("resource", res.ID()), zap.Duration("interval", res.Interval()))
	return nil
}

// Remove stops and discards the timer of id. A dispatch already running
// for id is not interrupted.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.timers[id]
	if ok {
		delete(s.timers, id)
		s.setActive()
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	if err := e.timer.Stop(); err != nil && !errors.Is(err, ErrTimerIdle) {
		return err
	}
	if s.metrics != nil {
		s.metrics.Forget(id)
	}
	s.logger.Info("resource unscheduled", zap.String("resource", id))
	return nil
}

// Active returns the sorted ids with a running timer.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Resource 返回已调度资源的描述
func (s *Scheduler) Resource(id string) (resource.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok {
		return resource.Descriptor{}, false
	}
	return e.res, true
}

// InFlight reports whether a dispatch of id is running or waiting for a slot.
func (s *Scheduler) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}

// Trigger requests an immediate collection of id under the same overlap
// policy as timer ticks. It reports false when the request was coalesced.
func (s *Scheduler) Trigger(id string) (bool, error) {
	s.mu.Lock()
	e, ok := s.timers[id]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	now := s.clock.Now()
	return s.handle(Tick{Resource: e.res, Scheduled: now, Fired: now, Manual: true}), nil
}

// handle applies the overlap policy. It never blocks.
func (s *Scheduler) handle(tick Tick) bool {
	id := tick.Resource.ID()
	if s.metrics != nil {
		s.metrics.Ticks.WithLabelValues(id).Inc()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.inflight[id] {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.Coalesced.WithLabelValues(id).Inc()
		}
		s.logger.Debug("tick coalesced", zap.String("resource", id), zap.Uint64("seq", tick.Seq), zap.Bool("manual", tick.Manual))
		return false
	}
	s.inflight[id] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(tick)
	return true
}

func (s *Scheduler) run(tick Tick) {
	id := tick.Resource.ID()
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(s.queueCtx, 1); err != nil {
		s.logger.Debug("queued dispatch dropped", zap.String("resource", id), zap.Error(err))
		return
	}
	defer s.sem.Release(1)

	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}
	s.dispatcher.OnTick(s.runCtx, tick)
}

// Shutdown stops every timer, drops queued dispatches and waits for running
// ones until ctx is done. Running dispatches are then cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timers := s.timers
	s.timers = make(map[string]*scheduled)
	s.setActive()
	s.mu.Unlock()

	for id, e := range timers {
		if err := e.timer.Stop(); err != nil && !errors.Is(err, ErrTimerIdle) {
			s.logger.Warn("failed to stop timer", zap.String("resource", id), zap.Error(err))
		}
	}
	s.cancelQueue()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancelRun()
		s.logger.Info("scheduler stopped", zap.Int("resources", len(timers)))
		return nil
	case <-ctx.Done():
		s.cancelRun()
		s.logger.Warn("scheduler shutdown timed out, cancelling running dispatches")
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// setActive must be called with s.mu held.
func (s *Scheduler) setActive() {
	if s.metrics != nil {
		s.metrics.Active.Set(float64(len(s.timers)))
	}
}
