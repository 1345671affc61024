package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/terrama-collector/pkg/resource"
)

// SemanticsGridGeoTiff 栅格 GeoTIFF 数据
const SemanticsGridGeoTiff = "GRID-geotiff"

const maxRemoteObjectBytes = 1 << 30

var (
	tiffLittleEndian = []byte{'I', 'I', 0x2A, 0x00}
	tiffBigEndian    = []byte{'M', 'M', 0x00, 0x2A}
)

// fileSource lists the file objects of a resource newer than since.
type fileSource interface {
	list(ctx context.Context, res resource.Descriptor, since time.Time) ([]FileItem, error)
	location() string
}

// ----------------------------- local directory source -----------------------------

type localSource struct {
	root string
	mask *Mask
}

func (s *localSource) location() string { return "file://" + s.root }

func (s *localSource) list(ctx context.Context, res resource.Descriptor, since time.Time) ([]FileItem, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(s.mask.Dir()))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	filter := res.Filter()
	items := make([]FileItem, 0)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		ts, ok := s.mask.Match(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		// 掩码没有日期占位符时使用文件修改时间
		if !s.mask.HasTime() {
			ts = info.ModTime().UTC()
		}
		if !filter.Accepts(ts) || !ts.After(since) {
			continue
		}
		items = append(items, FileItem{
			Name:      e.Name(),
			Path:      filepath.Join(dir, e.Name()),
			Size:      info.Size(),
			Timestamp: ts,
		})
	}
	return items, nil
}

// ----------------------------- remote http source -----------------------------

type httpSource struct {
	base   string
	mask   *Mask
	client *http.Client
	clock  clockwork.Clock
}

func (s *httpSource) location() string { return s.base }

func (s *httpSource) list(ctx context.Context, res resource.Descriptor, since time.Time) ([]FileItem, error) {
	name, err := s.mask.Expand(s.clock.Now())
	if err != nil {
		return nil, err
	}
	ts, _ := s.mask.Match(filepath.Base(name))
	if s.mask.HasTime() && (!res.Filter().Accepts(ts) || !ts.After(since)) {
		return nil, nil
	}

	url := strings.TrimSuffix(s.base, "/") + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	// 远端尚未发布该时刻的数据，不视为错误
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) > maxRemoteObjectBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", url, maxRemoteObjectBytes)
	}
	if !s.mask.HasTime() {
		ts = s.clock.Now().UTC()
	}
	return []FileItem{{
		Name:      filepath.Base(name),
		Content:   body,
		Size:      int64(len(body)),
		Timestamp: ts,
	}}, nil
}

// ----------------------------- directory sink -----------------------------

type fileSink struct {
	root string
}

// manifest 每次入库写出的清单文件
type manifest struct {
	Resource      string          `yaml:"resource"`
	Source        string          `yaml:"source"`
	StoredAt      time.Time       `yaml:"stored_at"`
	DataTimestamp time.Time       `yaml:"data_timestamp"`
	Files         []manifestEntry `yaml:"files"`
}

type manifestEntry struct {
	Name      string    `yaml:"name"`
	Size      int64     `yaml:"size"`
	Timestamp time.Time `yaml:"timestamp"`
}

func (s *fileSink) location(res resource.Descriptor) string {
	return filepath.Join(s.root, res.ID())
}

func (s *fileSink) store(res resource.Descriptor, ds *RawDataset, now time.Time) (string, error) {
	dir := s.location(res)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	m := manifest{
		Resource:      res.ID(),
		Source:        ds.Source,
		StoredAt:      now.UTC(),
		DataTimestamp: ds.DataTimestamp.UTC(),
	}
	for _, f := range ds.Files {
		if err := writeItem(dir, f); err != nil {
			return "", err
		}
		m.Files = append(m.Files, manifestEntry{Name: f.Name, Size: f.Size, Timestamp: f.Timestamp.UTC()})
	}
	raw, err := yaml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := atomicWrite(filepath.Join(dir, "manifest.yaml"), bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return dir, nil
}

func writeItem(dir string, f FileItem) error {
	target := filepath.Join(dir, filepath.Base(f.Name))
	if f.Path == "" {
		return atomicWrite(target, bytes.NewReader(f.Content))
	}
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer src.Close()
	return atomicWrite(target, src)
}

// atomicWrite 先写临时文件再 rename，避免留下半个文件
func atomicWrite(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename %s: %w", target, err)
	}
	return nil
}

// ----------------------------- GridCollector -----------------------------

// GridCollector collects GeoTIFF files from a directory or an HTTP server
// into an output directory. Raster contents are only checked for a TIFF header.
type GridCollector struct {
	source fileSource
	sink   *fileSink
	clock  clockwork.Clock
	logger *zap.Logger
	checkpoint
}

// Name 返回策略名称
func (c *GridCollector) Name() string { return "grid-collector" }

// Semantics 返回支持的语义
func (c *GridCollector) Semantics() string { return SemanticsGridGeoTiff }

// Fetch lists new files and verifies each one is a TIFF.
func (c *GridCollector) Fetch(ctx context.Context, res resource.Descriptor) (*RawDataset, error) {
	src := c.source.location()
	items, err := c.source.list(ctx, res, c.Checkpoint())
	if err != nil {
		return nil, fetchErr(res.ID(), src, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp.Before(items[j].Timestamp) })

	ds := &RawDataset{ResourceID: res.ID(), Source: src, Files: items}
	for _, it := range items {
		if err := checkTIFF(it); err != nil {
			return nil, fetchErr(res.ID(), src, err)
		}
		if it.Timestamp.After(ds.DataTimestamp) {
			ds.DataTimestamp = it.Timestamp
		}
	}
	c.logger.Debug("grid files fetched", zap.String("resource", res.ID()), zap.Int("files", len(items)))
	return ds, nil
}

// Store copies the fetched files and advances the checkpoint on success.
func (c *GridCollector) Store(ctx context.Context, res resource.Descriptor, ds *RawDataset) (*StoreResult, error) {
	target := c.sink.location(res)
	if ds.Len() == 0 {
		return &StoreResult{Location: target}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, storeErr(res.ID(), target, err)
	}
	loc, err := c.sink.store(res, ds, c.clock.Now())
	if err != nil {
		return nil, storeErr(res.ID(), target, err)
	}
	c.Resume(ds.DataTimestamp)
	return &StoreResult{Location: loc, Count: len(ds.Files), DataTimestamp: ds.DataTimestamp}, nil
}

func checkTIFF(it FileItem) error {
	header := make([]byte, 4)
	if it.Path != "" {
		f, err := os.Open(it.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", it.Name, err)
		}
		defer f.Close()
		if _, err := io.ReadFull(f, header); err != nil {
			return fmt.Errorf("malformed %s: %w", it.Name, err)
		}
	} else {
		if len(it.Content) < 4 {
			return fmt.Errorf("malformed %s: too short", it.Name)
		}
		copy(header, it.Content[:4])
	}
	if !bytes.Equal(header, tiffLittleEndian) && !bytes.Equal(header, tiffBigEndian) {
		return fmt.Errorf("malformed %s: not a TIFF file", it.Name)
	}
	return nil
}

var (
	_ Strategy     = (*GridCollector)(nil)
	_ Checkpointer = (*GridCollector)(nil)
)
