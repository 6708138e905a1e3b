// Package config defines the pipeline configuration and its layered loader.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
package config

import "time"

// Config is the root configuration shared by every command.
type Config struct {
	// CacheRoot is the directory holding the raw archive cache. Every
	// component receives this path explicitly; there is no fallback
	// global location.
	CacheRoot string `koanf:"cache_root"`

	// StatePath is the SQLite database tracking runs and fetch events.
	StatePath string `koanf:"state_path"`

	// Sandbox selects the sandbox archive service DOIs instead of
	// production ones.
	Sandbox bool `koanf:"sandbox"`

	// CachedOnly disables all network access; a cache miss is an error.
	CachedOnly bool `koanf:"cached_only"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Workers bounds the number of partitions processed concurrently.
	Workers int `koanf:"workers"`

	// Sources restricts the run to the named sources. Empty means all
	// known sources.
	Sources []string `koanf:"sources"`

	// Years restricts the run to the named report years. Empty means
	// every year the source advertises.
	Years []int `koanf:"years"`

	// Strictness controls cell-coercion failures: "strict" rejects the
	// partition, "lenient" nulls the cell and records it.
	Strictness string `koanf:"strictness"`

	Fetch       FetchConfig       `koanf:"fetch"`
	RemoteCache RemoteCacheConfig `koanf:"remote_cache"`
	Destination DestinationConfig `koanf:"destination"`
	Parquet     ParquetConfig     `koanf:"parquet"`
	Glue        GlueConfig        `koanf:"glue"`
}

// FetchConfig tunes the datastore's HTTP behavior.
type FetchConfig struct {
	// Timeout applies per fetch attempt, not per partition.
	Timeout time.Duration `koanf:"timeout"`

	// Retries is the number of re-attempts after the first failure.
	Retries int `koanf:"retries"`

	// Backoff is the base delay; attempts back off exponentially from it.
	Backoff time.Duration `koanf:"backoff"`

	// Token is a bearer token for the archive service. Supports ${VAR}
	// expansion so secrets stay out of config files.
	Token string `koanf:"token"`
}

// RemoteCacheConfig describes an optional shared S3 cache layer consulted
// before fetching from the origin archive service.
type RemoteCacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	Bucket  string `koanf:"bucket"`
	Prefix  string `koanf:"prefix"`
	Region  string `koanf:"region"`
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string `koanf:"endpoint"`
	// ReadOnly prevents populating the layer after origin fetches.
	ReadOnly bool `koanf:"read_only"`
}

// DestinationConfig selects and configures the relational destination.
type DestinationConfig struct {
	// Type is one of: sqlite, duckdb, postgres.
	Type string `koanf:"type"`

	// Path is the database file for file-backed destinations.
	Path string `koanf:"path"`

	// DSN is the connection string for server destinations. Supports
	// ${VAR} expansion.
	DSN string `koanf:"dsn"`

	// Schema is the namespace tables are created in, where the
	// destination supports schemas.
	Schema string `koanf:"schema"`
}

// ParquetConfig configures the columnar destination.
type ParquetConfig struct {
	Dir string `koanf:"dir"`
	// Compression is one of: snappy, zstd, gzip, uncompressed.
	Compression string `koanf:"compression"`
}

// GlueConfig configures entity resolution.
type GlueConfig struct {
	// Precedence orders sources for attribute conflicts on a shared
	// entity: earlier sources win.
	Precedence []string `koanf:"precedence"`
}
