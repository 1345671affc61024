package collector

import (
	"errors"
	"fmt"
)

// 错误分类（使用 errors.Is 判断）
var (
	ErrNotFound = errors.New("collector strategy not found")
	ErrFetch    = errors.New("fetch failed")
	ErrStore    = errors.New("store failed")
)

// NotFoundError 未为该资源注册任何采集策略
type NotFoundError struct {
	ResourceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no collector strategy registered for resource %q", e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// FetchError 数据源不可达、格式错误或远端失败
type FetchError struct {
	ResourceID string
	Source     string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q from %s: %v", e.ResourceID, e.Source, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }

// StoreError 持久化失败
type StoreError struct {
	ResourceID string
	Target     string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %q into %s: %v", e.ResourceID, e.Target, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

func fetchErr(id, source string, err error) error {
	return &FetchError{ResourceID: id, Source: source, Err: err}
}

func storeErr(id, target string, err error) error {
	return &StoreError{ResourceID: id, Target: target, Err: err}
}
