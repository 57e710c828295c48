// Package cache memoizes retrieval results.
package cache

import (
	"container/list"
	"context"
	"sync"

	"lawbot/internal/domain"
)

// Cache stores retrieval results by key. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (domain.RetrievalResult, bool, error)
	Set(ctx context.Context, key string, result domain.RetrievalResult) error
	Close() error
}

// Memory is a fixed-size least-recently-used cache.
type Memory struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

type memoryItem struct {
	key    string
	result domain.RetrievalResult
}

// NewMemory returns an LRU cache holding at most size results.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{size: size, order: list.New(), items: make(map[string]*list.Element, size)}
}

func (m *Memory) Get(_ context.Context, key string) (domain.RetrievalResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	m.order.MoveToFront(el)
	return clone(el.Value.(*memoryItem).result), true, nil
}

func (m *Memory) Set(_ context.Context, key string, result domain.RetrievalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		el.Value.(*memoryItem).result = clone(result)
		m.order.MoveToFront(el)
		return nil
	}
	m.items[key] = m.order.PushFront(&memoryItem{key: key, result: clone(result)})
	for m.order.Len() > m.size {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*memoryItem).key)
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) Close() error { return nil }

func clone(r domain.RetrievalResult) domain.RetrievalResult {
	return append(domain.RetrievalResult(nil), r...)
}
