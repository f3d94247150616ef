package cache

import (
	"container/list"
	"context"
	"sync"
)

// Memory is an in-process LRU cache.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	metrics Metrics
}

type memoryItem struct {
	key   string
	value []byte
}

// NewMemory creates an LRU cache holding at most maxSize values.
func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 1024
	}

	return &Memory{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// SetMetrics sets the metrics recorder for this cache.
func (c *Memory) SetMetrics(metrics Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
}

// Get returns a copy of the value stored under key.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(TypeMemory)
		}
		return nil, false, nil
	}

	c.order.MoveToFront(el)
	if c.metrics != nil {
		c.metrics.RecordCacheHit(TypeMemory)
	}

	value := el.Value.(*memoryItem).value
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set stores a copy of value, evicting the least recently used entries.
func (c *Memory) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*memoryItem).value = v
		c.order.MoveToFront(el)
		return nil
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryItem).key)
	}

	c.items[key] = c.order.PushFront(&memoryItem{key: key, value: v})

	if c.metrics != nil {
		c.metrics.UpdateCacheSize(TypeMemory, len(c.items))
	}
	return nil
}

// Len returns the number of cached values.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops every value.
func (c *Memory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()

	if c.metrics != nil {
		c.metrics.UpdateCacheSize(TypeMemory, 0)
	}
}

// Close is a no-op.
func (c *Memory) Close() error {
	return nil
}
