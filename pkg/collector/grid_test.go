package collector

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/terrama-collector/pkg/resource"
)

var tiffPayload = []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}

func gridResource(t *testing.T, provider resource.Endpoint, out string, mask string, filter resource.Filter) resource.Descriptor {
	t.Helper()
	res, err := resource.New(resource.Spec{
		ID:        "goes13",
		Semantics: SemanticsGridGeoTiff,
		Interval:  time.Minute,
		Active:    true,
		Provider:  provider,
		Output:    resource.Endpoint{Kind: resource.KindFile, URI: out},
		Format:    map[string]string{"mask": mask},
		Filter:    filter,
	})
	require.NoError(t, err)
	return res
}

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func newGrid(t *testing.T, res resource.Descriptor, clock clockwork.Clock, client *http.Client) *GridCollector {
	t.Helper()
	s, err := NewFactory(Deps{Clock: clock, HTTPClient: client}).Build(res)
	require.NoError(t, err)
	g, ok := s.(*GridCollector)
	require.True(t, ok)
	return g
}

func TestGridCollectorLocalFetchStore(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeFile(t, in, "g_202401010000.tif", tiffPayload)
	writeFile(t, in, "g_202401010010.tif", tiffPayload)
	writeFile(t, in, "readme.txt", []byte("skip"))

	res := gridResource(t, resource.Endpoint{Kind: resource.KindFile, URI: in}, out, "g_%YYYY%MM%DD%hh%mm.tif", resource.Filter{})
	g := newGrid(t, res, clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	ds, err := g.Fetch(ctx, res)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"g_202401010000.tif", "g_202401010010.tif"}, ds.Inputs())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC), ds.DataTimestamp)

	sr, err := g.Store(ctx, res, ds)
	require.NoError(t, err)
	assert.Equal(t, 2, sr.Count)
	assert.Equal(t, filepath.Join(out, "goes13"), sr.Location)
	assert.FileExists(t, filepath.Join(sr.Location, "g_202401010010.tif"))

	raw, err := os.ReadFile(filepath.Join(sr.Location, "manifest.yaml"))
	require.NoError(t, err)
	var m manifest
	require.NoError(t, yaml.Unmarshal(raw, &m))
	assert.Equal(t, "goes13", m.Resource)
	assert.Len(t, m.Files, 2)

	// 检查点推进后，同样的文件不会再次采集
	assert.Equal(t, ds.DataTimestamp, g.Checkpoint())
	ds, err = g.Fetch(ctx, res)
	require.NoError(t, err)
	assert.Zero(t, ds.Len())

	writeFile(t, in, "g_202401010020.tif", tiffPayload)
	ds, err = g.Fetch(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
}

func TestGridCollectorFilter(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "g_20231231.tif", tiffPayload)
	writeFile(t, in, "g_20240115.tif", tiffPayload)
	writeFile(t, in, "g_20240301.tif", tiffPayload)

	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	res := gridResource(t, resource.Endpoint{Kind: resource.KindFile, URI: in}, t.TempDir(), "g_%YYYY%MM%DD.tif",
		resource.Filter{DiscardBefore: &before, DiscardAfter: &after})
	g := newGrid(t, res, clockwork.NewFakeClock(), nil)

	ds, err := g.Fetch(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, []string{"g_20240115.tif"}, ds.Inputs())
}

func TestGridCollectorMalformedFile(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "g_20240115.tif", []byte("not a tiff"))
	res := gridResource(t, resource.Endpoint{Kind: resource.KindFile, URI: in}, t.TempDir(), "g_%YYYY%MM%DD.tif", resource.Filter{})
	g := newGrid(t, res, clockwork.NewFakeClock(), nil)

	_, err := g.Fetch(context.Background(), res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))
	assert.ErrorContains(t, err, "not a TIFF")
}

func TestGridCollectorMissingDirectory(t *testing.T) {
	res := gridResource(t, resource.Endpoint{Kind: resource.KindFile, URI: filepath.Join(t.TempDir(), "nope")}, t.TempDir(), "g_%YYYY.tif", resource.Filter{})
	g := newGrid(t, res, clockwork.NewFakeClock(), nil)

	_, err := g.Fetch(context.Background(), res)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "goes13", fe.ResourceID)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestGridCollectorStoreFailureKeepsCheckpoint(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "g_20240115.tif", tiffPayload)
	// 输出路径是一个普通文件，无法创建目录
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	res := gridResource(t, resource.Endpoint{Kind: resource.KindFile, URI: in}, blocker, "g_%YYYY%MM%DD.tif", resource.Filter{})
	g := newGrid(t, res, clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	ds, err := g.Fetch(ctx, res)
	require.NoError(t, err)
	_, err = g.Store(ctx, res, ds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))
	assert.True(t, g.Checkpoint().IsZero())
}

func TestGridCollectorHTTP(t *testing.T) {
	defer gock.Off()
	client := &http.Client{}
	gock.InterceptClient(client)
	defer gock.RestoreClient(client)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	res := gridResource(t, resource.Endpoint{Kind: resource.KindHTTP, URI: "http://data.example.com/goes"}, t.TempDir(),
		"g_%YYYY%MM%DD%hh.tif", resource.Filter{})
	g := newGrid(t, res, clock, client)
	ctx := context.Background()

	gock.New("http://data.example.com").Get("/goes/g_2024050612.tif").Reply(200).Body(bytes.NewReader(tiffPayload))
	ds, err := g.Fetch(ctx, res)
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	assert.Equal(t, time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC), ds.DataTimestamp)

	sr, err := g.Store(ctx, res, ds)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(sr.Location, "g_2024050612.tif"))
	require.NoError(t, err)
	assert.Equal(t, tiffPayload, got)

	// 未发布的数据返回 404，视为没有新数据
	clock.Advance(time.Hour)
	gock.New("http://data.example.com").Get("/goes/g_2024050613.tif").Reply(404)
	ds, err = g.Fetch(ctx, res)
	require.NoError(t, err)
	assert.Zero(t, ds.Len())

	gock.New("http://data.example.com").Get("/goes/g_2024050613.tif").Reply(503)
	_, err = g.Fetch(ctx, res)
	assert.ErrorIs(t, err, ErrFetch)
	assert.True(t, gock.IsDone())
}
