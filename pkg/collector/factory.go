package collector

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/terrama-collector/pkg/resource"
	"github.com/terrama-collector/pkg/storage"
)

// Deps 策略构建时共享的外部依赖
type Deps struct {
	Pool       *storage.Pool
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// Builder creates the strategy instance for one resource.
type Builder func(res resource.Descriptor, deps Deps) (Strategy, error)

// Module 一条策略注册项（新增数据类型只需在 defaultModules 添加一条）
type Module struct {
	Semantics string
	Builder   Builder
}

func defaultModules() []Module {
	return []Module{
		{Semantics: SemanticsGridGeoTiff, Builder: buildGrid},
		{Semantics: SemanticsOccurrencePostGIS, Builder: buildOccurrence},
	}
}

// Factory selects and builds strategies by semantics tag. It is constructed
// explicitly and passed to whoever assembles the scheduler.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
	deps     Deps
}

// NewFactory 创建策略工厂并注册内置模块
func NewFactory(deps Deps) *Factory {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if deps.Pool == nil {
		deps.Pool = storage.NewPool(nil, storage.Options{}, deps.Logger)
	}
	f := &Factory{builders: make(map[string]Builder), deps: deps}
	for _, m := range defaultModules() {
		f.Register(m.Semantics, m.Builder)
	}
	return f
}

// Register adds or replaces the builder for semantics.
func (f *Factory) Register(semantics string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[semantics] = b
}

// Supported 返回支持的语义标签
func (f *Factory) Supported() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.builders))
	for s := range f.builders {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Build returns a new strategy for res or a *resource.ConfigurationError.
func (f *Factory) Build(res resource.Descriptor) (Strategy, error) {
	f.mu.RLock()
	b, ok := f.builders[res.Semantics()]
	f.mu.RUnlock()
	if !ok {
		return nil, resource.NewConfigurationError(res.ID(),
			fmt.Sprintf("unsupported semantics %q (supported: %s)", res.Semantics(), strings.Join(f.Supported(), ", ")), nil)
	}
	s, err := b(res, f.deps)
	if err != nil {
		return nil, asConfigurationError(res.ID(), err)
	}
	return s, nil
}

func asConfigurationError(id string, err error) error {
	if _, ok := err.(*resource.ConfigurationError); ok {
		return err
	}
	return resource.NewConfigurationError(id, "build strategy", err)
}

func buildGrid(res resource.Descriptor, deps Deps) (Strategy, error) {
	loc := time.UTC
	if tz := res.Format("timezone"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("format.timezone: %w", err)
		}
		loc = l
	}
	mask, err := ParseMask(res.Format("mask"), loc)
	if err != nil {
		return nil, fmt.Errorf("format.mask: %w", err)
	}

	var src fileSource
	switch res.Provider().Kind {
	case resource.KindFile:
		root := strings.TrimPrefix(res.Provider().URI, "file://")
		if root == "" {
			return nil, fmt.Errorf("provider.uri cannot be empty")
		}
		src = &localSource{root: root, mask: mask}
	case resource.KindHTTP:
		u, err := url.Parse(res.Provider().URI)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("provider.uri must be an http(s) url, got %q", res.Provider().URI)
		}
		if mask.HasWildcard() {
			return nil, fmt.Errorf("http provider cannot list wildcard mask %q", mask)
		}
		src = &httpSource{base: res.Provider().URI, mask: mask, client: deps.HTTPClient, clock: deps.Clock}
	default:
		return nil, fmt.Errorf("provider kind %q is not supported by %s", res.Provider().Kind, SemanticsGridGeoTiff)
	}

	if res.Output().Kind != resource.KindFile {
		return nil, fmt.Errorf("output kind %q is not supported by %s", res.Output().Kind, SemanticsGridGeoTiff)
	}
	out := strings.TrimPrefix(res.Output().URI, "file://")
	if out == "" {
		return nil, fmt.Errorf("output.uri cannot be empty")
	}
	return &GridCollector{
		source: src,
		sink:   &fileSink{root: out},
		clock:  deps.Clock,
		logger: deps.Logger.With(zap.String("strategy", "grid-collector")),
	}, nil
}

func buildOccurrence(res resource.Descriptor, deps Deps) (Strategy, error) {
	if res.Provider().Kind != resource.KindPostGIS {
		return nil, fmt.Errorf("provider kind %q is not supported by %s", res.Provider().Kind, SemanticsOccurrencePostGIS)
	}
	if res.Output().Kind != resource.KindPostGIS {
		return nil, fmt.Errorf("output kind %q is not supported by %s", res.Output().Kind, SemanticsOccurrencePostGIS)
	}

	opt := func(key, def string) string {
		if v := strings.TrimSpace(res.Format(key)); v != "" {
			return v
		}
		return def
	}
	src := &postgisSource{
		uri:        RedactDSN(res.Provider().URI),
		table:      opt("table", ""),
		timeColumn: opt("timestamp_property", "datetime"),
		geomColumn: opt("geometry_property", "geom"),
	}
	if attrs := opt("attributes", ""); attrs != "" {
		for _, a := range strings.Split(attrs, ",") {
			src.attributes = append(src.attributes, strings.TrimSpace(a))
		}
	}
	if l := opt("limit", ""); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("format.limit must be a non-negative integer, got %q", l)
		}
		src.limit = n
	}
	sink := &postgisSink{
		uri:        RedactDSN(res.Output().URI),
		table:      opt("output_table", ""),
		timeColumn: opt("output_timestamp_property", src.timeColumn),
		geomColumn: opt("output_geometry_property", src.geomColumn),
		attrColumn: opt("output_attributes_property", "attributes"),
	}
	srid, err := strconv.Atoi(opt("srid", "4326"))
	if err != nil {
		return nil, fmt.Errorf("format.srid: %w", err)
	}
	sink.srid = srid

	// 表名、列名会拼接进 SQL，必须是合法标识符
	idents := map[string]string{
		"format.table":                      src.table,
		"format.timestamp_property":         src.timeColumn,
		"format.geometry_property":          src.geomColumn,
		"format.output_table":               sink.table,
		"format.output_timestamp_property":  sink.timeColumn,
		"format.output_geometry_property":   sink.geomColumn,
		"format.output_attributes_property": sink.attrColumn,
	}
	for i, a := range src.attributes {
		idents[fmt.Sprintf("format.attributes[%d]", i)] = a
	}
	for key, v := range idents {
		if !storage.ValidIdentifier(v) {
			return nil, fmt.Errorf("%s must be a valid SQL identifier, got %q", key, v)
		}
	}

	in, err := deps.Pool.Get(res.Provider().URI)
	if err != nil {
		return nil, err
	}
	out, err := deps.Pool.Get(res.Output().URI)
	if err != nil {
		return nil, err
	}
	src.db, sink.db = in, out
	return &OccurrenceCollector{
		source: src,
		sink:   sink,
		logger: deps.Logger.With(zap.String("strategy", "occurrence-collector")),
	}, nil
}

// RedactDSN hides the password of a connection url so it can be logged.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
