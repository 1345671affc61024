package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrama-collector/pkg/resource"
)

type stubStrategy struct{ name string }

func (s *stubStrategy) Name() string      { return s.name }
func (s *stubStrategy) Semantics() string { return "STUB" }
func (s *stubStrategy) Fetch(context.Context, resource.Descriptor) (*RawDataset, error) {
	return &RawDataset{}, nil
}
func (s *stubStrategy) Store(context.Context, resource.Descriptor, *RawDataset) (*StoreResult, error) {
	return &StoreResult{}, nil
}

func TestRegistryRegisterGet(t *testing.T) {
	r := NewRegistry()
	a := &stubStrategy{name: "a"}
	r.Register("R1", a)

	got, err := r.Get("R1")
	require.NoError(t, err)
	assert.Same(t, a, got)

	// 重复注册覆盖旧策略
	b := &stubStrategy{name: "b"}
	r.Register("R1", b)
	got, err = r.Get("R1")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ResourceID)

	r.Register("R1", &stubStrategy{})
	r.Unregister("R1")
	r.Unregister("R1")
	_, err = r.Get("R1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryIDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(id, &stubStrategy{})
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.IDs())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		id := fmt.Sprintf("R%d", i)
		go func() {
			defer wg.Done()
			r.Register(id, &stubStrategy{name: id})
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Get(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, r.Len())
}
