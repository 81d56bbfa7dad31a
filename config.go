package querygrid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config groups the configuration of every querygrid component. The core
// pipeline itself has no knobs; configuration covers the surrounding
// connection, console, cache, catalog, streaming, and publishing layers.
type Config struct {
	// Connection configures the database connection.
	Connection ConnConfig `yaml:"connection"`

	// Console configures the HTTP query console.
	Console ConsoleConfig `yaml:"console"`

	// Cache configures result caching.
	Cache CacheConfig `yaml:"cache"`

	// Catalog configures the table catalog store.
	Catalog CatalogConfig `yaml:"catalog"`

	// Stream configures WebSocket live queries.
	Stream StreamConfig `yaml:"stream"`

	// RemoteWrite configures result publishing to Prometheus remote write.
	// If nil, publishing is disabled.
	RemoteWrite *RemoteWriteConfig `yaml:"remote_write"`

	// S3Export configures the S3 export sink.
	// If nil, exports are local-file only.
	S3Export *S3ExporterConfig `yaml:"s3_export"`
}

// DefaultConfig returns a configuration with sensible defaults for the given
// database endpoint.
func DefaultConfig(url string) Config {
	return Config{
		Connection: DefaultConnConfig(url),
		Console:    DefaultConsoleConfig(),
		Cache:      DefaultCacheConfig(),
		Catalog:    DefaultCatalogConfig("querygrid.db"),
		Stream:     DefaultStreamConfig(),
	}
}

// LoadConfig reads a YAML configuration file. Settings absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig("")
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if c.Connection.URL == "" {
		return fmt.Errorf("config: connection.url is required")
	}
	if c.RemoteWrite != nil && c.RemoteWrite.URL == "" {
		return fmt.Errorf("config: remote_write.url is required when remote_write is set")
	}
	if c.S3Export != nil && c.S3Export.Bucket == "" {
		return fmt.Errorf("config: s3_export.bucket is required when s3_export is set")
	}
	return nil
}
