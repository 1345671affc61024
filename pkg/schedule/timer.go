// Package schedule fires periodic ticks per resource and hands them to a
// dispatcher through a bounded worker pool.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/looplab/fsm"

	"github.com/terrama-collector/pkg/resource"
)

// 定时器状态与事件
const (
	StateIdle    = "idle"
	StateRunning = "running"

	eventStart = "start"
	eventStop  = "stop"
)

var (
	ErrTimerRunning = errors.New("timer already running")
	ErrTimerIdle    = errors.New("timer not running")
	ErrInterval     = errors.New("timer interval must be positive")
)

// Tick is one firing of a resource timer.
// For periodic ticks Scheduled = start + Seq*interval.
type Tick struct {
	Resource  resource.Descriptor
	Seq       uint64
	Scheduled time.Time
	Fired     time.Time
	Manual    bool // "collect now" request, not produced by the timer
}

// FireFunc receives ticks. It runs on the timer goroutine and must not block.
type FireFunc func(Tick)

// Timer fires ticks for one resource at a fixed interval anchored to the
// instant it was started. Slots missed while the goroutine was stalled are skipped.
type Timer struct {
	res   resource.Descriptor
	clock clockwork.Clock
	fire  FireFunc

	mu    sync.Mutex
	state *fsm.FSM
	stop  chan struct{}
	done  chan struct{}
}

// NewTimer 创建处于 idle 状态的定时器
func NewTimer(res resource.Descriptor, clock clockwork.Clock, fire FireFunc) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{
		res:   res,
		clock: clock,
		fire:  fire,
		state: fsm.NewFSM(StateIdle, fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateIdle},
		}, fsm.Callbacks{}),
	}
}

// Start begins a new period anchored to now.
func (t *Timer) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInterval
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Can(eventStart) {
		return ErrTimerRunning
	}
	if err := t.state.Event(context.Background(), eventStart); err != nil {
		return err
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.clock.Now(), interval, t.stop, t.done)
	return nil
}

// Stop halts the timer and returns once its goroutine has exited; no tick
// fires after Stop returns. Dispatches already handed off keep running.
func (t *Timer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Can(eventStop) {
		return ErrTimerIdle
	}
	if err := t.state.Event(context.Background(), eventStop); err != nil {
		return err
	}
	close(t.stop)
	<-t.done
	return nil
}

// State 返回当前状态（idle / running）
func (t *Timer) State() string {
	return t.state.Current()
}

// Running reports whether the timer is started.
func (t *Timer) Running() bool { return t.State() == StateRunning }

func (t *Timer) loop(start time.Time, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	next := start.Add(interval)
	for {
		timer := t.clock.NewTimer(next.Sub(t.clock.Now()))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.Chan():
		}

		now := t.clock.Now()
		slot := uint64(now.Sub(start) / interval)
		if slot == 0 {
			slot = 1
		}
		scheduled := start.Add(time.Duration(slot) * interval)

		select {
		case <-stop:
			return
		default:
		}
		t.fire(Tick{Resource: t.res, Seq: slot, Scheduled: scheduled, Fired: now})
		next = scheduled.Add(interval)
	}
}
