package collector

import (
	"sort"
	"sync"
)

// Registry 资源标识 -> 采集策略 的映射
// 读（Get）可以并发；写（Register/Unregister）与其它操作互斥
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry 创建采集策略注册表
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register registers or replaces the strategy for id.
func (r *Registry) Register(id string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[id] = s
}

// Get returns the strategy registered for id or a *NotFoundError.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok || s == nil {
		return nil, &NotFoundError{ResourceID: id}
	}
	return s, nil
}

// Unregister removes the mapping for id. No-op if absent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.strategies, id)
}

// IDs 返回已注册资源标识（排序后的副本）
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}
