package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/sptensor/tnsample/internal/config"
)

type countingMetrics struct {
	mu     sync.Mutex
	hits   int
	misses int
	size   int
}

func (m *countingMetrics) RecordCacheHit(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *countingMetrics) RecordCacheMiss(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *countingMetrics) UpdateCacheSize(_ string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = size
}

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("value")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, want hit", ok, err)
	}
	if string(got) != "value" {
		t.Errorf("Get() = %q, want %q", got, "value")
	}
}

func TestMemory_Miss(t *testing.T) {
	c := NewMemory(10)

	_, ok, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("expected cache miss")
	}
}

func TestMemory_CopiesValues(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()

	in := []byte("abc")
	c.Set(ctx, "k", in)
	in[0] = 'X'

	got, _, _ := c.Get(ctx, "k")
	if !bytes.Equal(got, []byte("abc")) {
		t.Errorf("stored value changed with caller's slice: %q", got)
	}

	got[1] = 'Y'
	again, _, _ := c.Get(ctx, "k")
	if !bytes.Equal(again, []byte("abc")) {
		t.Errorf("stored value changed with returned slice: %q", again)
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	c := NewMemory(3)
	ctx := context.Background()

	c.Set(ctx, "a", []byte{1})
	c.Set(ctx, "b", []byte{2})
	c.Set(ctx, "c", []byte{3})

	// Touch "a" so "b" becomes least recently used
	c.Get(ctx, "a")
	c.Set(ctx, "d", []byte{4})

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("expected 'b' to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Errorf("expected %q to be present", k)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestMemory_Overwrite(t *testing.T) {
	c := NewMemory(2)
	ctx := context.Background()

	c.Set(ctx, "a", []byte{1})
	c.Set(ctx, "a", []byte{2})

	got, _, _ := c.Get(ctx, "a")
	if !bytes.Equal(got, []byte{2}) {
		t.Errorf("Get() = %v, want [2]", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestMemory_Metrics(t *testing.T) {
	m := &countingMetrics{}
	c := NewMemory(5)
	c.SetMetrics(m)
	ctx := context.Background()

	c.Get(ctx, "a")
	c.Set(ctx, "a", []byte{1})
	c.Get(ctx, "a")
	c.Get(ctx, "a")

	if m.hits != 2 || m.misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", m.hits, m.misses)
	}
	if m.size != 1 {
		t.Errorf("size = %d, want 1", m.size)
	}

	c.Clear()
	if m.size != 0 || c.Len() != 0 {
		t.Errorf("after Clear() size = %d, Len() = %d, want 0", m.size, c.Len())
	}
}

func TestMemory_Concurrent(t *testing.T) {
	c := NewMemory(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := string(rune('a' + (i+j)%20))
				c.Set(ctx, key, []byte{byte(j)})
				c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("Len() = %d, exceeds max size 16", c.Len())
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		want    string
		wantErr bool
	}{
		{"memory", config.CacheConfig{Type: "memory", Size: 4}, "*cache.Memory", false},
		{"none", config.CacheConfig{Type: "none"}, "cache.None", false},
		{"empty", config.CacheConfig{}, "cache.None", false},
		{"unknown", config.CacheConfig{Type: "memcached"}, "", true},
		{"redis bad url", config.CacheConfig{Type: "redis", RedisURL: "invalid://url"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer c.Close()
			if got := typeName(c); got != tt.want {
				t.Errorf("New() type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(c Cache) string {
	switch c.(type) {
	case *Memory:
		return "*cache.Memory"
	case None:
		return "cache.None"
	case *Redis:
		return "*cache.Redis"
	default:
		return "unknown"
	}
}

func TestNone(t *testing.T) {
	var c None
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte{1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("None should never hit")
	}
}
