package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/AnishMulay/chfs/internal/chunk_service"
	"github.com/AnishMulay/chfs/internal/chunk_service/localdisc"
	s3chunks "github.com/AnishMulay/chfs/internal/chunk_service/s3"
	"github.com/AnishMulay/chfs/internal/cluster_service"
	clusteretcd "github.com/AnishMulay/chfs/internal/cluster_service/etcd"
	"github.com/AnishMulay/chfs/internal/communication"
	grpccomm "github.com/AnishMulay/chfs/internal/communication/grpc"
	httpcomm "github.com/AnishMulay/chfs/internal/communication/http"
	"github.com/AnishMulay/chfs/internal/config"
	fileservice "github.com/AnishMulay/chfs/internal/file_service/simple"
	logservice "github.com/AnishMulay/chfs/internal/log_service"
	locallog "github.com/AnishMulay/chfs/internal/log_service/localdisc"
	"github.com/AnishMulay/chfs/internal/log_service/zaplog"
	"github.com/AnishMulay/chfs/internal/metadata_replicator/journal"
	metadataservice "github.com/AnishMulay/chfs/internal/metadata_service/inmemory"
	"github.com/AnishMulay/chfs/internal/metrics"
	simpleserver "github.com/AnishMulay/chfs/internal/server/simple"
)

// Node is one single-node CHFS server with its optional etcd
// registration and metrics listener.
type Node struct {
	cfg     *config.Config
	ls      logservice.LogService
	server  *simpleserver.SimpleServer
	cluster cluster_service.ClusterService

	metricsSrv *http.Server
	closers    []func() error
}

func Build(ctx context.Context, cfg *config.Config) (*Node, error) {
	// 1. Logging
	ls, closeLog, err := buildLogService(cfg)
	if err != nil {
		return nil, err
	}
	n := &Node{cfg: cfg, ls: ls}
	if closeLog != nil {
		n.closers = append(n.closers, closeLog)
	}

	// 2. Communication
	var comm communication.Communicator
	switch cfg.Transport {
	case "http":
		var opts []httpcomm.Option
		if cfg.MetricsAddr == "" {
			opts = append(opts, httpcomm.WithRoute("/metrics", metrics.Handler()))
		}
		comm = httpcomm.NewHTTPCommunicator(cfg.ListenAddr, ls, opts...)
	default:
		comm = grpccomm.NewGRPCCommunicator(cfg.ListenAddr, ls)
	}

	// 3. Chunks
	chunks, err := buildChunkService(ctx, cfg, ls)
	if err != nil {
		n.close()
		return nil, err
	}

	// 4. Metadata, journaled to the data dir
	repl := journal.NewJournalReplicator(
		filepath.Join(cfg.DataDir, "metadata.journal"), ls,
		journal.WithSyncWrites(cfg.SyncJournal),
	)
	ms := metadataservice.NewInMemoryMetadataService(repl, ls, metadataservice.WithChunkSize(cfg.Storage.ChunkSize))

	// 5. File service and router
	fs := fileservice.NewSimpleFileService(ms, chunks, ls)
	n.server = simpleserver.NewSimpleServer(cfg.NodeID, comm, fs, ls)

	// 6. Optional cluster registration
	if len(cfg.EtcdEndpoints) > 0 {
		n.cluster = clusteretcd.NewEtcdClusterService(cfg.EtcdEndpoints, ls)
	}

	return n, nil
}

func buildLogService(cfg *config.Config) (logservice.LogService, func() error, error) {
	switch cfg.Log.Backend {
	case "localdisc":
		ls, err := locallog.NewLocalDiscLogService(filepath.Join(cfg.DataDir, "logs"), cfg.NodeID, cfg.Log.Level)
		if err != nil {
			return nil, nil, err
		}
		return ls, ls.Close, nil
	default:
		ls, err := zaplog.New(zaplog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: cfg.Log.Output}, cfg.NodeID)
		if err != nil {
			return nil, nil, err
		}
		return ls, func() error { _ = ls.Sync(); return nil }, nil
	}
}

func buildChunkService(ctx context.Context, cfg *config.Config, ls logservice.LogService) (chunk_service.ChunkService, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return s3chunks.NewS3ChunkService(ctx, cfg.Storage.S3, ls)
	default:
		return localdisc.NewLocalDiscChunkService(filepath.Join(cfg.DataDir, "chunks"), ls)
	}
}

func (n *Node) Start(ctx context.Context) error {
	if err := n.server.Start(); err != nil {
		return err
	}

	if n.cfg.MetricsAddr != "" {
		lis, err := net.Listen("tcp", n.cfg.MetricsAddr)
		if err != nil {
			_ = n.server.Stop()
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		n.metricsSrv = &http.Server{Handler: mux}
		go func() {
			if err := n.metricsSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.ls.Error(logservice.LogEvent{Message: "Metrics server error", Metadata: map[string]any{"error": err.Error()}})
			}
		}()
	}

	if n.cluster != nil {
		if err := n.cluster.Start(ctx); err != nil {
			_ = n.Stop(ctx)
			return err
		}
		advertise := n.cfg.AdvertiseAddr
		if advertise == "" {
			advertise = n.Address()
		}
		if err := n.cluster.RegisterNode(ctx, cluster_service.ClusterNode{ID: n.cfg.NodeID, Address: advertise}); err != nil {
			_ = n.Stop(ctx)
			return err
		}
	}

	n.ls.Info(logservice.LogEvent{
		Message:  "CHFS node started",
		Metadata: map[string]any{"nodeId": n.cfg.NodeID, "address": n.Address(), "transport": n.cfg.Transport},
	})
	return nil
}

// Address is the address the server is bound to.
func (n *Node) Address() string {
	return n.server.Address()
}

func (n *Node) Stop(ctx context.Context) error {
	var errs []error
	if n.cluster != nil {
		errs = append(errs, n.cluster.Stop(ctx))
	}
	if n.metricsSrv != nil {
		errs = append(errs, n.metricsSrv.Shutdown(ctx))
	}
	errs = append(errs, n.server.Stop())
	n.close()
	return errors.Join(errs...)
}

func (n *Node) close() {
	for _, c := range n.closers {
		_ = c()
	}
	n.closers = nil
}

// Run starts the node and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return n.Stop(stopCtx)
}
