package collector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/terrama-collector/pkg/resource"
)

// SemanticsOccurrencePostGIS 点事件（如火点）存储于 PostGIS 表
const SemanticsOccurrencePostGIS = "OCCURRENCE-postgis"

// 单条 INSERT 语句最多携带的行数
const insertBatchRows = 500

// ----------------------------- PostGIS source -----------------------------

type postgisSource struct {
	db         *sql.DB
	uri        string
	table      string
	timeColumn string
	geomColumn string
	attributes []string
	limit      int
}

func (s *postgisSource) query(res resource.Descriptor, since time.Time) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, ST_AsText(%s)", s.timeColumn, s.geomColumn)
	for _, a := range s.attributes {
		fmt.Fprintf(&b, ", CAST(%s AS TEXT)", a)
	}
	fmt.Fprintf(&b, " FROM %s WHERE %s > $1", s.table, s.timeColumn)
	args := []any{since}

	f := res.Filter()
	if f.DiscardBefore != nil {
		args = append(args, *f.DiscardBefore)
		fmt.Fprintf(&b, " AND %s >= $%d", s.timeColumn, len(args))
	}
	if f.DiscardAfter != nil {
		args = append(args, *f.DiscardAfter)
		fmt.Fprintf(&b, " AND %s <= $%d", s.timeColumn, len(args))
	}
	fmt.Fprintf(&b, " ORDER BY %s", s.timeColumn)
	if s.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.limit)
	}
	return b.String(), args
}

func (s *postgisSource) read(ctx context.Context, res resource.Descriptor, since time.Time) ([]Occurrence, error) {
	q, args := s.query(res, since)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	out := make([]Occurrence, 0)
	for rows.Next() {
		var (
			ts   time.Time
			geom sql.NullString
		)
		attrs := make([]sql.NullString, len(s.attributes))
		dest := []any{&ts, &geom}
		for i := range attrs {
			dest = append(dest, &attrs[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		occ := Occurrence{Timestamp: ts, Geometry: geom.String}
		if len(s.attributes) > 0 {
			occ.Attributes = make(map[string]string, len(s.attributes))
			for i, name := range s.attributes {
				if attrs[i].Valid {
					occ.Attributes[name] = attrs[i].String
				}
			}
		}
		out = append(out, occ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	return out, nil
}

// trimTies drops the trailing rows sharing the last timestamp of a full page.
// The query is strict on the checkpoint, so they are read again on the next tick.
func trimTies(occ []Occurrence) []Occurrence {
	last := occ[len(occ)-1].Timestamp
	i := len(occ)
	for i > 0 && occ[i-1].Timestamp.Equal(last) {
		i--
	}
	return occ[:i]
}

// ----------------------------- PostGIS sink -----------------------------

type postgisSink struct {
	db         *sql.DB
	uri        string
	table      string
	timeColumn string
	geomColumn string
	attrColumn string
	srid       int
}

// write 在一个事务中批量写入（参考 TimescaleSink 的多行 INSERT）
func (s *postgisSink) write(ctx context.Context, occ []Occurrence) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for start := 0; start < len(occ); start += insertBatchRows {
		end := start + insertBatchRows
		if end > len(occ) {
			end = len(occ)
		}
		q, args, err := s.insert(occ[start:end])
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert into %s: %w", s.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *postgisSink) insert(batch []Occurrence) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s, %s, %s) VALUES ", s.table, s.timeColumn, s.geomColumn, s.attrColumn)
	args := make([]any, 0, len(batch)*3)
	for i, o := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($%d,ST_GeomFromText($%d,%d),$%d)", len(args)+1, len(args)+2, s.srid, len(args)+3)
		attrs, err := json.Marshal(o.Attributes)
		if err != nil {
			return "", nil, fmt.Errorf("marshal attributes: %w", err)
		}
		args = append(args, o.Timestamp, o.Geometry, string(attrs))
	}
	return b.String(), args, nil
}

// ----------------------------- OccurrenceCollector -----------------------------

// OccurrenceCollector copies new occurrence rows from a provider PostGIS
// table into the output table.
type OccurrenceCollector struct {
	source *postgisSource
	sink   *postgisSink
	logger *zap.Logger
	checkpoint
}

// Name 返回策略名称
func (c *OccurrenceCollector) Name() string { return "occurrence-collector" }

// Semantics 返回支持的语义
func (c *OccurrenceCollector) Semantics() string { return SemanticsOccurrencePostGIS }

// Fetch reads rows newer than the checkpoint and inside the resource filter.
func (c *OccurrenceCollector) Fetch(ctx context.Context, res resource.Descriptor) (*RawDataset, error) {
	src := c.source.uri + "#" + c.source.table
	occ, err := c.source.read(ctx, res, c.Checkpoint())
	if err != nil {
		return nil, fetchErr(res.ID(), src, err)
	}
	if n := c.source.limit; n > 0 && len(occ) == n {
		kept := trimTies(occ)
		if len(kept) == 0 {
			// 整页同一时刻，无法分页，只能整页写入
			c.logger.Warn("page limit reached within a single timestamp, rows beyond the limit at this timestamp are skipped",
				zap.String("resource", res.ID()), zap.Int("limit", n), zap.Time("timestamp", occ[0].Timestamp))
		} else {
			occ = kept
		}
	}
	ds := &RawDataset{ResourceID: res.ID(), Source: src, Occurrences: occ}
	for _, o := range occ {
		if o.Timestamp.After(ds.DataTimestamp) {
			ds.DataTimestamp = o.Timestamp
		}
	}
	c.logger.Debug("occurrences fetched", zap.String("resource", res.ID()), zap.Int("rows", len(occ)))
	return ds, nil
}

// Store inserts the rows and advances the checkpoint on commit.
func (c *OccurrenceCollector) Store(ctx context.Context, res resource.Descriptor, ds *RawDataset) (*StoreResult, error) {
	target := c.sink.uri + "#" + c.sink.table
	if ds.Len() == 0 {
		return &StoreResult{Location: target}, nil
	}
	if err := c.sink.write(ctx, ds.Occurrences); err != nil {
		return nil, storeErr(res.ID(), target, err)
	}
	c.Resume(ds.DataTimestamp)
	return &StoreResult{Location: target, Count: len(ds.Occurrences), DataTimestamp: ds.DataTimestamp}, nil
}

var (
	_ Strategy     = (*OccurrenceCollector)(nil)
	_ Checkpointer = (*OccurrenceCollector)(nil)
)
