package processlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLoggerLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	l := NewMemoryLogger(clock, 0)
	ctx := context.Background()

	id, err := l.Start(ctx, "R1")
	require.NoError(t, err)
	require.NoError(t, l.LogValue(ctx, TagInput, "a.tif", id))
	require.NoError(t, l.LogValue(ctx, TagInput, "b.tif", id))
	clock.Advance(time.Second)
	require.NoError(t, l.Info(ctx, "2 files stored", id))
	data := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, l.Done(ctx, data, id))

	entries := l.Entries("R1")
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, StatusDone, e.Status)
	assert.Equal(t, []string{"a.tif", "b.tif"}, e.Values[TagInput])
	assert.Equal(t, clock.Now(), e.LastProcess)
	assert.Equal(t, data, e.DataTimestamp)
	require.Len(t, e.Messages, 1)
	assert.Equal(t, MessageInfo, e.Messages[0].Type)

	last, ok, err := l.LastDataTimestamp(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, data, last)
}

func TestMemoryLoggerErrorMarksFailed(t *testing.T) {
	l := NewMemoryLogger(clockwork.NewFakeClock(), 0)
	ctx := context.Background()

	id, _ := l.Start(ctx, "R1")
	require.NoError(t, l.Error(ctx, "store failed", id))

	e := l.Entries("R1")[0]
	assert.Equal(t, StatusError, e.Status)
	assert.True(t, e.Status.Terminal())
	require.Len(t, e.Messages, 1)
	assert.Equal(t, MessageError, e.Messages[0].Type)

	// 失败的条目不参与断点恢复
	_, ok, _ := l.LastDataTimestamp(ctx, "R1")
	assert.False(t, ok)
}

func TestMemoryLoggerUnknownEntry(t *testing.T) {
	l := NewMemoryLogger(nil, 0)
	err := l.LogValue(context.Background(), TagRun, "x", 42)
	assert.True(t, errors.Is(err, ErrUnknownEntry))
	assert.ErrorIs(t, l.Done(context.Background(), time.Now(), 42), ErrUnknownEntry)
}

func TestMemoryLoggerEntriesAreCopies(t *testing.T) {
	l := NewMemoryLogger(nil, 0)
	ctx := context.Background()
	id, _ := l.Start(ctx, "R1")
	_ = l.LogValue(ctx, TagRun, "r", id)

	e := l.Entries("R1")[0]
	e.Values[TagRun][0] = "mutated"
	e.Status = StatusError

	again := l.Entries("R1")[0]
	assert.Equal(t, "r", again.Values[TagRun][0])
	assert.Equal(t, StatusStart, again.Status)
}

func TestMemoryLoggerKeepsLatest(t *testing.T) {
	l := NewMemoryLogger(nil, 2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id, _ := l.Start(ctx, "R1")
		_ = l.Done(ctx, time.Time{}, id)
	}
	entries := l.Entries("R1")
	require.Len(t, entries, 2)
	assert.Equal(t, LogID(5), entries[1].ID)
	assert.Len(t, l.All(), 2)
}

func TestMemoryLoggerConcurrent(t *testing.T) {
	l := NewMemoryLogger(nil, 0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := l.Start(ctx, "R1")
			_ = l.LogValue(ctx, TagTick, "1", id)
			_ = l.Done(ctx, time.Now(), id)
		}()
	}
	wg.Wait()
	all := l.All()
	require.Len(t, all, 20)
	for _, e := range all {
		assert.Equal(t, StatusDone, e.Status)
	}
}

func TestEntryJSON(t *testing.T) {
	e := Entry{ID: 1, ResourceID: "R1", Status: StatusError, Messages: []Message{{Type: MessageError, Description: "x"}}}
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"failed"`)
	assert.Contains(t, string(raw), `"type":"error"`)
}
