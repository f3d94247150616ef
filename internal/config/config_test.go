package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	// Set environment variables
	os.Setenv("TNS_RESOLUTION", "64")
	os.Setenv("TNS_LOG_LEVEL", "debug")
	os.Setenv("TNS_TIMEOUT", "90s")
	defer func() {
		os.Unsetenv("TNS_RESOLUTION")
		os.Unsetenv("TNS_LOG_LEVEL")
		os.Unsetenv("TNS_TIMEOUT")
	}()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Sample.Resolution != 64 {
		t.Errorf("Sample.Resolution = %d, want 64", cfg.Sample.Resolution)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}

	if cfg.Sample.Timeout != 90*time.Second {
		t.Errorf("Sample.Timeout = %v, want 90s", cfg.Sample.Timeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
sample:
  resolution: 32
  workers: 3
  timeout: 10s
  on_error: abort
  index_base: 0
  map_agg: max-fiber
cache:
  type: memory
  size: 16
bus:
  type: kafka
  kafka_brokers: "k1:9092, k2:9092"
log:
  level: warn
  format: json
qdrant:
  enabled: true
  url: "http://custom:6334"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sample.Resolution != 32 {
		t.Errorf("Sample.Resolution = %d, want 32", cfg.Sample.Resolution)
	}

	if cfg.Sample.Timeout != 10*time.Second {
		t.Errorf("Sample.Timeout = %v, want 10s", cfg.Sample.Timeout)
	}

	if cfg.Sample.OnError != "abort" {
		t.Errorf("Sample.OnError = %s, want abort", cfg.Sample.OnError)
	}

	if cfg.Sample.IndexBase != 0 {
		t.Errorf("Sample.IndexBase = %d, want 0", cfg.Sample.IndexBase)
	}

	if cfg.Sample.MapAgg != "max-fiber" {
		t.Errorf("Sample.MapAgg = %s, want max-fiber", cfg.Sample.MapAgg)
	}

	// Unset keys keep their defaults
	if cfg.Sample.FlattenAgg != "count" {
		t.Errorf("Sample.FlattenAgg = %s, want count", cfg.Sample.FlattenAgg)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %s, want warn", cfg.Log.Level)
	}

	if cfg.Qdrant.URL != "http://custom:6334" {
		t.Errorf("Qdrant.URL = %s, want http://custom:6334", cfg.Qdrant.URL)
	}

	if cfg.Qdrant.Collection != "tensor_features" {
		t.Errorf("Qdrant.Collection = %s, want tensor_features", cfg.Qdrant.Collection)
	}

	want := []string{"k1:9092", "k2:9092"}
	if got := cfg.Bus.KafkaBrokerList(); !reflect.DeepEqual(got, want) {
		t.Errorf("KafkaBrokerList() = %v, want %v", got, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "zero resolution",
			modify: func(c *Config) {
				c.Sample.Resolution = 0
			},
			wantErr: true,
		},
		{
			name: "negative max_resolution",
			modify: func(c *Config) {
				c.Sample.MaxResolution = -1
			},
			wantErr: true,
		},
		{
			name: "unbounded max_resolution",
			modify: func(c *Config) {
				c.Sample.MaxResolution = 0
			},
			wantErr: false,
		},
		{
			name: "zero workers",
			modify: func(c *Config) {
				c.Sample.Workers = 0
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			modify: func(c *Config) {
				c.Sample.Timeout = -time.Second
			},
			wantErr: true,
		},
		{
			name: "invalid on_error",
			modify: func(c *Config) {
				c.Sample.OnError = "retry"
			},
			wantErr: true,
		},
		{
			name: "invalid index base",
			modify: func(c *Config) {
				c.Sample.IndexBase = 2
			},
			wantErr: true,
		},
		{
			name: "invalid duplicates",
			modify: func(c *Config) {
				c.Sample.Duplicates = "max"
			},
			wantErr: true,
		},
		{
			name: "invalid flatten aggregation",
			modify: func(c *Config) {
				c.Sample.FlattenAgg = "median"
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid cache type",
			modify: func(c *Config) {
				c.Cache.Type = "invalid"
			},
			wantErr: true,
		},
		{
			name: "memory cache without size",
			modify: func(c *Config) {
				c.Cache.Type = "memory"
				c.Cache.Size = 0
			},
			wantErr: true,
		},
		{
			name: "invalid bus type",
			modify: func(c *Config) {
				c.Bus.Type = "nats"
			},
			wantErr: true,
		},
		{
			name: "kafka without brokers",
			modify: func(c *Config) {
				c.Bus.Type = "kafka"
			},
			wantErr: true,
		},
		{
			name: "qdrant without collection",
			modify: func(c *Config) {
				c.Qdrant.Enabled = true
				c.Qdrant.Collection = ""
			},
			wantErr: true,
		},
		{
			name: "negative rate limit",
			modify: func(c *Config) {
				c.GRPC.RateLimit = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidation_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Sample.Resolution = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}

	msg := err.Error()
	for _, want := range []string{"resolution must be positive", "invalid log format: xml"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Validate() error = %q, want it to contain %q", msg, want)
		}
	}
}

func TestMaxResolution(t *testing.T) {
	if got := Default().Sample.MaxResolution; got != 1024 {
		t.Errorf("default Sample.MaxResolution = %d, want 1024", got)
	}

	t.Setenv("TNS_MAX_RESOLUTION", "4096")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Sample.MaxResolution != 4096 {
		t.Errorf("Sample.MaxResolution = %d, want 4096", cfg.Sample.MaxResolution)
	}
}

func TestCacheTTL(t *testing.T) {
	c := CacheConfig{TTL: 90}
	if got := c.CacheTTL(); got != 90*time.Second {
		t.Errorf("CacheTTL() = %v, want 90s", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{}

	cfg.Log.Level = "debug"
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true for debug level")
	}

	cfg.Log.Level = "info"
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false for info level")
	}
}
