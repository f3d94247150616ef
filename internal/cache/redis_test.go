package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func redisURL() string {
	if url := os.Getenv("TNS_TEST_REDIS_URL"); url != "" {
		return url
	}
	return "redis://localhost:6379/15"
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis("invalid://url", "", 0)
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedis_ConnectionFailure(t *testing.T) {
	// Try to connect to non-existent Redis
	_, err := NewRedis("redis://localhost:9999", "", 0)
	if err == nil {
		t.Fatal("expected error for connection failure")
	}
}

func TestRedis_SetGet(t *testing.T) {
	// Skip if Redis not available
	c, err := NewRedis(redisURL(), "tns:test:", time.Minute)
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer c.Close()

	m := &countingMetrics{}
	c.SetMetrics(m)
	ctx := context.Background()
	defer c.Delete(ctx, "roundtrip")

	if _, ok, err := c.Get(ctx, "roundtrip"); err != nil || ok {
		t.Fatalf("Get() before Set = %v, %v, want miss", ok, err)
	}

	if err := c.Set(ctx, "roundtrip", []byte("payload")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "roundtrip")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, want hit", ok, err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want payload", got)
	}

	if m.hits != 1 || m.misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", m.hits, m.misses)
	}
}
