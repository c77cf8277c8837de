package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnishMulay/chfs/internal/config"
	"github.com/AnishMulay/chfs/servers/node"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (written with defaults if missing)")
		nodeID     = flag.String("node-id", "", "Node ID")
		listen     = flag.String("listen", "", "Listen address")
		transport  = flag.String("transport", "", "Transport (grpc or http)")
		dataDir    = flag.String("data-dir", "", "Data directory")
		metrics    = flag.String("metrics-addr", "", "Prometheus listen address")
		etcd       = flag.String("etcd", "", "Comma-separated etcd endpoints")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			cfg.NodeID = *nodeID
		case "listen":
			cfg.ListenAddr = *listen
		case "transport":
			cfg.Transport = *transport
		case "data-dir":
			cfg.DataDir = *dataDir
		case "metrics-addr":
			cfg.MetricsAddr = *metrics
		case "etcd":
			cfg.EtcdEndpoints = config.SplitList(*etcd)
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build node: %v", err)
	}
	if err := n.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
