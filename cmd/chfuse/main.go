package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnishMulay/chfs/clients/chfuse"
	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/log_service/zaplog"
)

func main() {
	var (
		server     = flag.String("server", os.Getenv(chfslib.EnvServer), "CHFS endpoint (defaults to $CHFS_SERVER)")
		mountPoint = flag.String("mount", "", "Mount point (or the first argument)")
		level      = flag.String("log-level", "info", "Log level")
		debug      = flag.Bool("debug", false, "Log FUSE traffic")
	)
	flag.Parse()
	if *mountPoint == "" {
		*mountPoint = flag.Arg(0)
	}
	if *mountPoint == "" {
		log.Fatal("usage: chfuse [-server endpoint] mountpoint")
	}

	ls, err := zaplog.New(zaplog.Config{Level: *level, Format: "console", OutputPath: "stderr"}, "chfuse")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer ls.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := chfslib.Dial(ctx, *server, chfslib.WithLogService(ls))
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *server, err)
	}
	defer session.Term(context.Background())

	srv, err := chfuse.Mount(*mountPoint, session, ls, *debug)
	if err != nil {
		log.Fatalf("Failed to mount: %v", err)
	}

	go func() {
		<-ctx.Done()
		if err := srv.Unmount(); err != nil {
			ls.Error(log_service.LogEvent{
				Message:  "Unmount failed",
				Metadata: map[string]any{"mountPoint": *mountPoint, "error": err.Error()},
			})
		}
	}()
	srv.Wait()
}
