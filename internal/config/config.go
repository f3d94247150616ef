// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Sampling configuration
	Sample SampleConfig `yaml:"sample"`

	// Result cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Qdrant configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// gRPC service configuration
	GRPC GRPCConfig `yaml:"grpc"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// SampleConfig holds per-tensor sampling settings.
type SampleConfig struct {
	Resolution    int           `envconfig:"TNS_RESOLUTION" yaml:"resolution"`
	MaxResolution int           `envconfig:"TNS_MAX_RESOLUTION" yaml:"max_resolution"` // 0 = unbounded
	Workers       int           `envconfig:"TNS_WORKERS" yaml:"workers"`
	Timeout       time.Duration `envconfig:"TNS_TIMEOUT" yaml:"timeout"` // per tensor, 0 = none
	OnError       string        `envconfig:"TNS_ON_ERROR" yaml:"on_error"`
	IndexBase     int           `envconfig:"TNS_INDEX_BASE" yaml:"index_base"`
	Duplicates    string        `envconfig:"TNS_DUPLICATES" yaml:"duplicates"`
	FlattenAgg    string        `envconfig:"TNS_FLATTEN_AGG" yaml:"flatten_agg"`
	MapAgg        string        `envconfig:"TNS_MAP_AGG" yaml:"map_agg"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Type     string `envconfig:"TNS_CACHE_TYPE" yaml:"type"`
	Size     int    `envconfig:"TNS_CACHE_SIZE" yaml:"size"`
	TTL      int    `envconfig:"TNS_CACHE_TTL" yaml:"ttl"` // seconds, 0 = no expiry
	RedisURL string `envconfig:"TNS_REDIS_URL" yaml:"redis_url"`
	Prefix   string `envconfig:"TNS_CACHE_PREFIX" yaml:"prefix"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type            string `envconfig:"TNS_BUS_TYPE" yaml:"type"`
	KafkaBrokers    string `envconfig:"TNS_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup      string `envconfig:"TNS_KAFKA_GROUP" yaml:"kafka_group"`
	EventLogEnabled bool   `envconfig:"TNS_EVENT_LOG_ENABLED" yaml:"event_log_enabled"`
	EventLogPath    string `envconfig:"TNS_EVENT_LOG_PATH" yaml:"event_log_path"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Enabled    bool   `envconfig:"TNS_QDRANT_ENABLED" yaml:"enabled"`
	URL        string `envconfig:"QDRANT_URL" yaml:"url"`
	APIKey     string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	Collection string `envconfig:"TNS_QDRANT_COLLECTION" yaml:"collection"`
	Recreate   bool   `envconfig:"TNS_QDRANT_RECREATE" yaml:"recreate"` // drop the collection before exporting
}

// GRPCConfig holds settings for the remote sampler service.
type GRPCConfig struct {
	Addr          string `envconfig:"TNS_GRPC_ADDR" yaml:"addr"`
	DataRoot      string `envconfig:"TNS_GRPC_DATA_ROOT" yaml:"data_root"` // request paths resolve under this directory
	MaxResolution int    `envconfig:"TNS_GRPC_MAX_RESOLUTION" yaml:"max_resolution"`
	RateLimit     int    `envconfig:"TNS_GRPC_RATE_LIMIT" yaml:"rate_limit"` // requests/s per peer, 0 = disabled
	MaxRecvMB     int    `envconfig:"TNS_GRPC_MAX_RECV_MB" yaml:"max_recv_mb"`
}

// MetricsConfig holds run metrics settings.
type MetricsConfig struct {
	OutPath string `envconfig:"TNS_METRICS_OUT" yaml:"out_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"TNS_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"TNS_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns the built-in defaults without reading the environment.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Sample = SampleConfig{
		Resolution:    128,
		MaxResolution: 1024,
		Workers:       runtime.NumCPU(),
		Timeout:       5 * time.Minute,
		OnError:       "skip",
		IndexBase:     1,
		Duplicates:    "sum",
		FlattenAgg:    "count",
		MapAgg:        "presence",
	}

	cfg.Cache = CacheConfig{
		Type:     "none",
		Size:     1024,
		TTL:      0,
		RedisURL: "redis://localhost:6379",
		Prefix:   "tns:result:",
	}

	cfg.Bus = BusConfig{
		Type:         "memory",
		KafkaGroup:   "tnsample",
		EventLogPath: "./data/events.jsonl",
	}

	cfg.Qdrant = QdrantConfig{
		URL:        "http://localhost:6334",
		Collection: "tensor_features",
	}

	cfg.GRPC = GRPCConfig{
		Addr:          ":50061",
		DataRoot:      "./data/tensors",
		MaxResolution: 1024,
		RateLimit:     0,
		MaxRecvMB:     16,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Sample validation
	if c.Sample.Resolution < 1 {
		errs = append(errs, "resolution must be positive")
	}

	if c.Sample.MaxResolution < 0 {
		errs = append(errs, "max_resolution must not be negative")
	}

	if c.Sample.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}

	if c.Sample.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}

	validOnError := map[string]bool{"skip": true, "abort": true}
	if !validOnError[c.Sample.OnError] {
		errs = append(errs, fmt.Sprintf("invalid on_error: %s (must be skip or abort)", c.Sample.OnError))
	}

	if c.Sample.IndexBase != 0 && c.Sample.IndexBase != 1 {
		errs = append(errs, fmt.Sprintf("invalid index_base: %d (must be 0 or 1)", c.Sample.IndexBase))
	}

	validDuplicates := map[string]bool{"sum": true, "reject": true}
	if !validDuplicates[c.Sample.Duplicates] {
		errs = append(errs, fmt.Sprintf("invalid duplicates: %s (must be sum or reject)", c.Sample.Duplicates))
	}

	validAggs := map[string]bool{"count": true, "sum": true, "presence": true, "max-fiber": true}
	if !validAggs[c.Sample.FlattenAgg] {
		errs = append(errs, fmt.Sprintf("invalid flatten_agg: %s (must be count, sum, presence, or max-fiber)", c.Sample.FlattenAgg))
	}
	if !validAggs[c.Sample.MapAgg] {
		errs = append(errs, fmt.Sprintf("invalid map_agg: %s (must be count, sum, presence, or max-fiber)", c.Sample.MapAgg))
	}

	// Cache validation
	validCacheTypes := map[string]bool{"memory": true, "redis": true, "none": true}
	if !validCacheTypes[c.Cache.Type] {
		errs = append(errs, fmt.Sprintf("invalid cache type: %s (must be memory, redis, or none)", c.Cache.Type))
	}

	if c.Cache.Type == "memory" && c.Cache.Size < 1 {
		errs = append(errs, "cache size must be positive")
	}

	if c.Cache.TTL < 0 {
		errs = append(errs, "cache ttl must not be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && c.Bus.KafkaBrokers == "" {
		errs = append(errs, "kafka_brokers is required for the kafka bus")
	}

	// Qdrant validation
	if c.Qdrant.Enabled && c.Qdrant.Collection == "" {
		errs = append(errs, "qdrant collection is required when qdrant is enabled")
	}

	// gRPC validation
	if c.GRPC.RateLimit < 0 {
		errs = append(errs, "grpc rate_limit must not be negative")
	}

	if c.GRPC.MaxResolution < 0 {
		errs = append(errs, "grpc max_resolution must not be negative")
	}

	if c.GRPC.MaxRecvMB < 1 {
		errs = append(errs, "grpc max_recv_mb must be positive")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// KafkaBrokerList splits the comma-separated broker setting.
func (b BusConfig) KafkaBrokerList() []string {
	var out []string
	for _, s := range strings.Split(b.KafkaBrokers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CacheTTL returns the cache TTL as a duration.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
