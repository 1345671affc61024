// Package processlog records the lifecycle of every collection run: when it
// started, what it read and wrote, the messages it produced and how it ended.
package processlog

import (
	"context"
	"errors"
	"time"
)

// LogID identifies one process log entry.
type LogID int64

// Status 日志条目状态（数值与数据库中保存的一致）
type Status int

const (
	StatusStart Status = 1
	StatusDone  Status = 2
	StatusError Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusStart:
		return "start"
	case StatusDone:
		return "done"
	case StatusError:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON writes the status name.
func (s Status) MarshalJSON() ([]byte, error) { return []byte(`"` + s.String() + `"`), nil }

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// MessageType 消息类型
type MessageType int

const (
	MessageError MessageType = 1
	MessageInfo  MessageType = 2
)

func (t MessageType) String() string {
	if t == MessageError {
		return "error"
	}
	return "info"
}

// MarshalJSON writes the type name.
func (t MessageType) MarshalJSON() ([]byte, error) { return []byte(`"` + t.String() + `"`), nil }

// 标准值标签
const (
	TagRun    = "run"
	TagTick   = "tick"
	TagInput  = "input"
	TagOutput = "output"
)

// ErrUnknownEntry is returned for operations on a LogID that was never started.
var ErrUnknownEntry = errors.New("unknown process log entry")

// Message 条目中的一条错误或提示
type Message struct {
	Type        MessageType `json:"type"`
	Description string      `json:"description"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Entry is one collection run of one resource.
type Entry struct {
	ID            LogID               `json:"id"`
	ResourceID    string              `json:"resource_id"`
	Status        Status              `json:"status"`
	Start         time.Time           `json:"start"`
	LastProcess   time.Time           `json:"last_process"`
	DataTimestamp time.Time           `json:"data_timestamp,omitempty"`
	Values        map[string][]string `json:"values,omitempty"`
	Messages      []Message           `json:"messages,omitempty"`
}

// Logger 采集过程日志
type Logger interface {
	// Start opens an entry for resourceID with status start.
	Start(ctx context.Context, resourceID string) (LogID, error)
	// LogValue appends value under tag.
	LogValue(ctx context.Context, tag, value string, id LogID) error
	// Error records an error message and marks the entry failed.
	Error(ctx context.Context, message string, id LogID) error
	// Info records an informational message.
	Info(ctx context.Context, message string, id LogID) error
	// Done marks the entry done with the newest data timestamp collected.
	Done(ctx context.Context, dataTimestamp time.Time, id LogID) error
}

// History is the read side used to resume a resource after a restart.
type History interface {
	// LastDataTimestamp returns the data timestamp of the newest done entry of resourceID.
	LastDataTimestamp(ctx context.Context, resourceID string) (time.Time, bool, error)
}

func (e *Entry) clone() Entry {
	c := *e
	if e.Values != nil {
		c.Values = make(map[string][]string, len(e.Values))
		for k, v := range e.Values {
			c.Values[k] = append([]string(nil), v...)
		}
	}
	c.Messages = append([]Message(nil), e.Messages...)
	return c
}
