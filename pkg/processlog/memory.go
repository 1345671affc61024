package processlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryLogger keeps entries in process memory. It backs the status API and tests.
type MemoryLogger struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	nextID  LogID
	keep    int
	entries map[LogID]*Entry
	byRes   map[string][]LogID
}

// NewMemoryLogger 创建内存日志；keep > 0 时每个资源只保留最近 keep 条
func NewMemoryLogger(clock clockwork.Clock, keep int) *MemoryLogger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLogger{
		clock:   clock,
		keep:    keep,
		entries: make(map[LogID]*Entry),
		byRes:   make(map[string][]LogID),
	}
}

func (m *MemoryLogger) Start(_ context.Context, resourceID string) (LogID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.clock.Now()
	e := &Entry{ID: m.nextID, ResourceID: resourceID, Status: StatusStart, Start: now, LastProcess: now}
	m.entries[e.ID] = e
	ids := append(m.byRes[resourceID], e.ID)
	// 只淘汰已结束的旧条目
	for m.keep > 0 && len(ids) > m.keep && m.entries[ids[0]].Status.Terminal() {
		delete(m.entries, ids[0])
		ids = ids[1:]
	}
	m.byRes[resourceID] = ids
	return e.ID, nil
}

func (m *MemoryLogger) update(id LogID, fn func(e *Entry, now time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	now := m.clock.Now()
	fn(e, now)
	e.LastProcess = now
	return nil
}

func (m *MemoryLogger) LogValue(_ context.Context, tag, value string, id LogID) error {
	return m.update(id, func(e *Entry, _ time.Time) {
		if e.Values == nil {
			e.Values = make(map[string][]string)
		}
		e.Values[tag] = append(e.Values[tag], value)
	})
}

func (m *MemoryLogger) Error(_ context.Context, message string, id LogID) error {
	return m.update(id, func(e *Entry, now time.Time) {
		e.Status = StatusError
		e.Messages = append(e.Messages, Message{Type: MessageError, Description: message, Timestamp: now})
	})
}

func (m *MemoryLogger) Info(_ context.Context, message string, id LogID) error {
	return m.update(id, func(e *Entry, now time.Time) {
		e.Messages = append(e.Messages, Message{Type: MessageInfo, Description: message, Timestamp: now})
	})
}

func (m *MemoryLogger) Done(_ context.Context, dataTimestamp time.Time, id LogID) error {
	return m.update(id, func(e *Entry, _ time.Time) {
		e.Status = StatusDone
		e.DataTimestamp = dataTimestamp
	})
}

// LastDataTimestamp implements History.
func (m *MemoryLogger) LastDataTimestamp(_ context.Context, resourceID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	found := false
	for _, id := range m.byRes[resourceID] {
		e := m.entries[id]
		if e.Status == StatusDone && !e.DataTimestamp.IsZero() && e.DataTimestamp.After(last) {
			last, found = e.DataTimestamp, true
		}
	}
	return last, found, nil
}

// Entries returns copies of the entries of resourceID, oldest first.
func (m *MemoryLogger) Entries(resourceID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byRes[resourceID]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.entries[id].clone())
	}
	return out
}

// All returns copies of every entry ordered by id.
func (m *MemoryLogger) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for id := LogID(1); id <= m.nextID; id++ {
		if e, ok := m.entries[id]; ok {
			out = append(out, e.clone())
		}
	}
	return out
}

var (
	_ Logger  = (*MemoryLogger)(nil)
	_ History = (*MemoryLogger)(nil)
)
