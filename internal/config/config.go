// Package config provides unified configuration for asqldb processes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration shared by the CLI, the reference engine
// server, and any embedding host.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Remote array engine endpoint and credentials
	Remote RemoteConfig `json:"remote" yaml:"remote"`

	// gRPC configuration for the engine server
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Host relational store configuration
	Host HostConfig `json:"host" yaml:"host"`

	// Storage configuration for externalized results
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// RemoteConfig describes how to reach the array engine.
type RemoteConfig struct {
	Server   string `json:"server" yaml:"server"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`

	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`
	AdminUsername string `json:"admin_username" yaml:"admin_username"`
	AdminPassword string `json:"admin_password" yaml:"admin_password"`

	// MaxAttempts bounds connection-open attempts while the engine has no
	// free server
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// RetryDelay is the fixed sleep between open attempts
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// LogQueries prints every dispatched query
	LogQueries bool `json:"log_queries" yaml:"log_queries"`
}

// Addr returns host:port of the engine.
func (r RemoteConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Server, r.Port)
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC listen address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BusyOpens makes the reference engine refuse the first N opens with
	// "no free server", for exercising client retries
	BusyOpens int `json:"busy_opens" yaml:"busy_opens"`

	// MaxCells bounds the cells one engine query may materialize; 0 is
	// unlimited
	MaxCells int64 `json:"max_cells" yaml:"max_cells"`

	// Snapshot is the file the engine state is restored from at start and
	// saved to at shutdown
	Snapshot string `json:"snapshot" yaml:"snapshot"`

	// SnapshotInterval additionally saves the state periodically; 0
	// disables it
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`
}

// HostConfig holds the host relational store configuration.
type HostConfig struct {
	// Path is the sqlite database path; ":memory:" keeps it in memory
	Path string `json:"path" yaml:"path"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Concurrency bounds parallel artifact fetches
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// CacheBytes bounds the in-memory cache of read artifacts; 0 disables it
	CacheBytes int64 `json:"cache_bytes" yaml:"cache_bytes"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/asqldb",
		Remote: RemoteConfig{
			Server:        "127.0.0.1",
			Port:          7001,
			Database:      "RASBASE",
			Username:      "rasguest",
			Password:      "rasguest",
			AdminUsername: "rasadmin",
			AdminPassword: "rasadmin",
			MaxAttempts:   5,
			RetryDelay:    1000 * time.Millisecond,
		},
		GRPC: GRPCConfig{
			Addr:    ":7001",
			Enabled: true,
		},
		Storage: StorageConfig{
			Type:        "local",
			Concurrency: 4,
			CacheBytes:  64 << 20,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/asqldb"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "artifacts")
	}
	if c.Host.Path == "" {
		c.Host.Path = filepath.Join(c.DataDir, "host.db")
	}
	if c.GRPC.Snapshot == "" {
		c.GRPC.Snapshot = filepath.Join(c.DataDir, "engine.snap")
	}
	if c.Storage.Concurrency <= 0 {
		c.Storage.Concurrency = 4
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Remote.Server == "" {
		return fmt.Errorf("remote.server is required")
	}
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return fmt.Errorf("remote.port must be between 1 and 65535, got %d", c.Remote.Port)
	}
	if c.Remote.Database == "" {
		return fmt.Errorf("remote.database is required")
	}
	if c.Remote.MaxAttempts < 1 {
		return fmt.Errorf("remote.max_attempts must be at least 1, got %d", c.Remote.MaxAttempts)
	}
	if c.Remote.RetryDelay < 0 {
		return fmt.Errorf("remote.retry_delay must not be negative")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ASQLDB_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ASQLDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Remote engine
	if v := os.Getenv("ASQLDB_REMOTE_SERVER"); v != "" {
		cfg.Remote.Server = v
	}
	if v := os.Getenv("ASQLDB_REMOTE_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Remote.Port)
	}
	if v := os.Getenv("ASQLDB_REMOTE_DATABASE"); v != "" {
		cfg.Remote.Database = v
	}
	if v := os.Getenv("ASQLDB_REMOTE_USERNAME"); v != "" {
		cfg.Remote.Username = v
	}
	if v := os.Getenv("ASQLDB_REMOTE_PASSWORD"); v != "" {
		cfg.Remote.Password = v
	}
	if v := os.Getenv("ASQLDB_REMOTE_ADMIN_USERNAME"); v != "" {
		cfg.Remote.AdminUsername = v
	}
	if v := os.Getenv("ASQLDB_REMOTE_ADMIN_PASSWORD"); v != "" {
		cfg.Remote.AdminPassword = v
	}
	if v := os.Getenv("ASQLDB_REMOTE_MAX_ATTEMPTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Remote.MaxAttempts)
	}
	if v := os.Getenv("ASQLDB_REMOTE_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.RetryDelay = d
		}
	}
	if v := os.Getenv("ASQLDB_REMOTE_LOG_QUERIES"); v != "" {
		cfg.Remote.LogQueries = v == "true" || v == "1"
	}

	// gRPC configuration
	if v := os.Getenv("ASQLDB_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("ASQLDB_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ASQLDB_GRPC_SNAPSHOT"); v != "" {
		cfg.GRPC.Snapshot = v
	}

	// Host store
	if v := os.Getenv("ASQLDB_HOST_PATH"); v != "" {
		cfg.Host.Path = v
	}

	// Storage configuration
	if v := os.Getenv("ASQLDB_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("ASQLDB_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("ASQLDB_STORAGE_CACHE_BYTES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Storage.CacheBytes)
	}
	if v := os.Getenv("ASQLDB_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("ASQLDB_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("ASQLDB_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Host.Path != "" && c.Host.Path != ":memory:" {
		dirs = append(dirs, filepath.Dir(c.Host.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
