package config

import "time"

// Default values applied before any config source is loaded.
const (
	DefaultCacheRoot   = ".gridetl/cache"
	DefaultStatePath   = ".gridetl/state.db"
	DefaultLogLevel    = "info"
	DefaultWorkers     = 4
	DefaultStrictness  = "strict"
	DefaultDestination = "sqlite"
	DefaultDBPath      = "gridetl.sqlite"
	DefaultParquetDir  = "parquet"
	DefaultCompression = "snappy"

	DefaultFetchTimeout = 15 * time.Second
	DefaultFetchRetries = 3
	DefaultFetchBackoff = 2 * time.Second
)

// defaultsMap feeds the confmap provider, the lowest-precedence layer.
func defaultsMap() map[string]interface{} {
	return map[string]interface{}{
		"cache_root":          DefaultCacheRoot,
		"state_path":          DefaultStatePath,
		"sandbox":             false,
		"cached_only":         false,
		"log_level":           DefaultLogLevel,
		"workers":             DefaultWorkers,
		"strictness":          DefaultStrictness,
		"fetch.timeout":       DefaultFetchTimeout.String(),
		"fetch.retries":       DefaultFetchRetries,
		"fetch.backoff":       DefaultFetchBackoff.String(),
		"destination.type":    DefaultDestination,
		"destination.path":    DefaultDBPath,
		"parquet.dir":         DefaultParquetDir,
		"parquet.compression": DefaultCompression,
	}
}

// Default returns the built-in configuration, the lowest-precedence
// layer made concrete.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values that the layered load can leave behind,
// for configs constructed directly in code.
func (c *Config) ApplyDefaults() {
	if c.CacheRoot == "" {
		c.CacheRoot = DefaultCacheRoot
	}
	if c.StatePath == "" {
		c.StatePath = DefaultStatePath
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Strictness == "" {
		c.Strictness = DefaultStrictness
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = DefaultFetchTimeout
	}
	if c.Fetch.Retries == 0 {
		c.Fetch.Retries = DefaultFetchRetries
	}
	if c.Fetch.Backoff == 0 {
		c.Fetch.Backoff = DefaultFetchBackoff
	}
	if c.Destination.Type == "" {
		c.Destination.Type = DefaultDestination
	}
	if c.Destination.Path == "" {
		c.Destination.Path = DefaultDBPath
	}
	if c.Parquet.Dir == "" {
		c.Parquet.Dir = DefaultParquetDir
	}
	if c.Parquet.Compression == "" {
		c.Parquet.Compression = DefaultCompression
	}
}
