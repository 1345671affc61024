package collector

import (
	"context"
	"time"

	"github.com/terrama-collector/pkg/resource"
)

// Strategy 采集策略核心接口（每种资源类型一个实现）
// 新增数据类型只需实现该接口，并在 Factory 中注册 Builder
type Strategy interface {
	Name() string      // 策略名称
	Semantics() string // 支持的数据语义标签，如 GRID-geotiff
	Fetch(ctx context.Context, res resource.Descriptor) (*RawDataset, error)
	Store(ctx context.Context, res resource.Descriptor, ds *RawDataset) (*StoreResult, error)
}

// Checkpointer is implemented by strategies that only collect data newer
// than the last successfully stored data timestamp.
type Checkpointer interface {
	Checkpoint() time.Time
	Resume(t time.Time)
}

// FileItem is one file-like object produced by a file or http source.
type FileItem struct {
	Name      string
	Path      string // local path, empty when Content is set
	Content   []byte // in-memory payload for remote sources
	Size      int64
	Timestamp time.Time
}

// Occurrence is one point-in-time event row read from a PostGIS table.
// Geometry stays in WKT; it is never interpreted here.
type Occurrence struct {
	Timestamp  time.Time
	Geometry   string
	Attributes map[string]string
}

// RawDataset 一次 Fetch 的结果，内容对核心不透明
type RawDataset struct {
	ResourceID    string
	Source        string
	Files         []FileItem
	Occurrences   []Occurrence
	DataTimestamp time.Time // 数据中最新的时间
}

// Len returns the number of fetched items.
func (d *RawDataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Files) + len(d.Occurrences)
}

// Inputs lists a printable name for every fetched item.
func (d *RawDataset) Inputs() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, d.Len())
	for _, f := range d.Files {
		out = append(out, f.Name)
	}
	for _, o := range d.Occurrences {
		out = append(out, o.Timestamp.UTC().Format(time.RFC3339))
	}
	return out
}

// StoreResult 持久化结果
type StoreResult struct {
	Location      string
	Count         int
	DataTimestamp time.Time
}
