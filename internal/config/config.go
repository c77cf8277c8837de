// Package config loads chfsd configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	s3chunks "github.com/AnishMulay/chfs/internal/chunk_service/s3"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Backend string `yaml:"backend"` // zap or localdisc
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // json or console, zap only
	Output  string `yaml:"output"` // stdout, stderr or file path, zap only
}

type StorageConfig struct {
	Backend   string          `yaml:"backend"` // local or s3
	ChunkSize int64           `yaml:"chunk_size"`
	S3        s3chunks.Config `yaml:"s3"`
}

type Config struct {
	NodeID      string `yaml:"node_id"`
	ListenAddr  string `yaml:"listen_addr"`
	Transport   string `yaml:"transport"` // grpc or http
	MetricsAddr string `yaml:"metrics_addr"`
	DataDir     string `yaml:"data_dir"`

	// AdvertiseAddr is published to etcd; defaults to the bound address.
	AdvertiseAddr string `yaml:"advertise_addr"`

	// Register with etcd when non-empty.
	EtcdEndpoints []string `yaml:"etcd_endpoints,omitempty"`

	SyncJournal bool `yaml:"sync_journal"`

	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
}

func Default() *Config {
	return &Config{
		NodeID:      "chfs-1",
		ListenAddr:  ":8080",
		Transport:   "grpc",
		MetricsAddr: ":9090",
		DataDir:     "./run/chfs",
		Log: LogConfig{
			Backend: "zap",
			Level:   "info",
			Format:  "json",
			Output:  "stderr",
		},
		Storage: StorageConfig{
			Backend:   "local",
			ChunkSize: 8 * 1024 * 1024,
			S3: s3chunks.Config{
				Endpoint: "http://localhost:9000",
				Bucket:   "chfs",
				Region:   "us-east-1",
			},
		},
	}
}

// Load reads path, writing the defaults there first if it does not
// exist. An empty path skips the file. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
			// An explicit empty list means no etcd, same as omitting it.
			if len(cfg.EtcdEndpoints) == 0 {
				cfg.EtcdEndpoints = nil
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.NodeID = envOr("CHFS_NODE_ID", c.NodeID)
	c.ListenAddr = envOr("CHFS_LISTEN", c.ListenAddr)
	c.Transport = envOr("CHFS_TRANSPORT", c.Transport)
	c.MetricsAddr = envOr("CHFS_METRICS_ADDR", c.MetricsAddr)
	c.AdvertiseAddr = envOr("CHFS_ADVERTISE_ADDR", c.AdvertiseAddr)
	c.DataDir = envOr("CHFS_DATA_DIR", c.DataDir)
	c.SyncJournal = envBool("CHFS_SYNC_JOURNAL", c.SyncJournal)
	c.Log.Level = envOr("CHFS_LOG_LEVEL", c.Log.Level)
	c.Log.Backend = envOr("CHFS_LOG_BACKEND", c.Log.Backend)
	c.Storage.Backend = envOr("CHFS_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.ChunkSize = envInt64("CHFS_CHUNK_SIZE", c.Storage.ChunkSize)
	c.Storage.S3.Endpoint = envOr("S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.Bucket = envOr("S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.Region = envOr("S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.AccessKey = envOr("S3_ACCESS_KEY", c.Storage.S3.AccessKey)
	c.Storage.S3.SecretKey = envOr("S3_SECRET_KEY", c.Storage.S3.SecretKey)

	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = SplitList(v)
	}
}

func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	switch c.Transport {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.ChunkSize <= 0 {
		return fmt.Errorf("storage.chunk_size must be positive")
	}
	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
