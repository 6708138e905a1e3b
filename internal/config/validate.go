package config

import "fmt"

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.CacheRoot == "" {
		return fmt.Errorf("cache_root must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.Strictness {
	case "strict", "lenient":
	default:
		return fmt.Errorf("strictness must be strict or lenient, got %q", c.Strictness)
	}
	switch c.Destination.Type {
	case "sqlite", "duckdb", "postgres":
	default:
		return fmt.Errorf("unknown destination type %q (supported: sqlite, duckdb, postgres)", c.Destination.Type)
	}
	if c.Destination.Type == "postgres" && c.Destination.DSN == "" {
		return fmt.Errorf("destination.dsn is required for postgres")
	}
	switch c.Parquet.Compression {
	case "snappy", "zstd", "gzip", "uncompressed":
	default:
		return fmt.Errorf("unknown parquet compression %q", c.Parquet.Compression)
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must not be negative, got %d", c.Fetch.Retries)
	}
	if c.RemoteCache.Enabled && c.RemoteCache.Bucket == "" {
		return fmt.Errorf("remote_cache.bucket is required when remote_cache.enabled is set")
	}
	return nil
}
