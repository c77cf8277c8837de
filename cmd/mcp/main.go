package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/AnishMulay/chfs/internal/log_service/zaplog"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"
)

type ServerEntry struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
}

type MCPConfig struct {
	Servers        []ServerEntry `yaml:"servers"`
	DefaultServer  string        `yaml:"default_server"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
}

func defaultConfig() *MCPConfig {
	return &MCPConfig{
		Servers: []ServerEntry{
			{ID: "server1", Endpoint: "localhost:8080"},
		},
		DefaultServer:  "server1",
		RequestTimeout: chfslib.DefaultRequestTimeout,
		LogLevel:       "info",
	}
}

// LoadConfig reads the YAML config at path, writing the defaults there
// first if the file does not exist.
func LoadConfig(path string) (*MCPConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Servers and the default come only from the file.
	cfg := defaultConfig()
	cfg.Servers = nil
	cfg.DefaultServer = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("config %s lists no servers", path)
	}
	if cfg.DefaultServer == "" {
		cfg.DefaultServer = cfg.Servers[0].ID
	}
	if !slices.ContainsFunc(cfg.Servers, func(e ServerEntry) bool { return e.ID == cfg.DefaultServer }) {
		return nil, fmt.Errorf("default_server %q is not among the configured servers", cfg.DefaultServer)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "config/mcp.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// stdout carries the MCP protocol, so logs go to stderr.
	ls, err := zaplog.New(zaplog.Config{Level: cfg.LogLevel, Format: "json", OutputPath: "stderr"}, "chfs-mcp")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer ls.Sync()

	registry := NewRegistry(cfg, ls, chfslib.WithRequestTimeout(cfg.RequestTimeout))
	defer registry.Close(context.Background())

	s := server.NewMCPServer(
		"chfs",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, registry)

	if err := server.ServeStdio(s); err != nil {
		log.Printf("Server error: %v", err)
	}
}
