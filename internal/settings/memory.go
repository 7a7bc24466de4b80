package settings

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore 是进程内的配置存储，适用于测试和无持久化需求的部署。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemoryStore 使用初始值创建存储。
func NewMemoryStore(initial map[string]any) *MemoryStore {
	values := maps.Clone(initial)
	if values == nil {
		values = make(map[string]any)
	}
	return &MemoryStore{values: values}
}

// Get 返回配置值，不存在时返回 nil。
func (s *MemoryStore) Get(_ context.Context, key string) (any, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// Set 写入配置值。
func (s *MemoryStore) Set(_ context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Snapshot 返回当前全部配置的副本。
func (s *MemoryStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}
