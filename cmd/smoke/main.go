package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	logservice "github.com/AnishMulay/chfs/internal/log_service"
	locallog "github.com/AnishMulay/chfs/internal/log_service/localdisc"
)

func main() {
	server := flag.String("server", os.Getenv(chfslib.EnvServer), "CHFS endpoint (defaults to $CHFS_SERVER)")
	workers := flag.Int("workers", 8, "Concurrent openers in the race check")
	flag.Parse()
	if *server == "" {
		*server = "127.0.0.1:8080"
	}

	ls, err := locallog.NewLocalDiscLogService(filepath.Join("run", "smoke", "logs"), "smoke", logservice.InfoLevel)
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}
	defer ls.Close()

	ctx := context.Background()
	s, err := chfslib.Dial(ctx, *server, chfslib.WithLogService(ls))
	if err != nil {
		log.Fatalf("Init failed on %s: %v", *server, err)
	}
	defer s.Term(ctx)

	dir := fmt.Sprintf("/chfs-smoke-%d", time.Now().UnixNano())
	if err := s.Mkdir(ctx, dir, 0); err != nil {
		log.Fatalf("Mkdir %s failed: %v", dir, err)
	}
	log.Printf("PASS: Mkdir %s", dir)

	path := dir + "/file.txt"
	fd, err := s.Create(ctx, path, os.O_RDWR, 0)
	if err != nil {
		log.Fatalf("Create %s failed: %v", path, err)
	}
	buf := make([]byte, 64)
	n, err := s.Read(ctx, fd, buf)
	if err != nil || n != 0 {
		log.Fatalf("Read on new file returned n=%d err=%v, want empty", n, err)
	}
	log.Printf("PASS: Create+Read fd=%d returned no data", fd)

	payload := []byte("chfs smoke payload")
	if _, err := s.Write(ctx, fd, payload); err != nil {
		log.Fatalf("Write fd=%d failed: %v", fd, err)
	}
	if err := s.Close(ctx, fd); err != nil {
		log.Fatalf("Close fd=%d failed: %v", fd, err)
	}

	fd, err = s.Open(ctx, path, os.O_RDONLY)
	if err != nil {
		log.Fatalf("Open %s failed: %v", path, err)
	}
	n, err = s.Read(ctx, fd, buf)
	if err != nil || !bytes.Equal(buf[:n], payload) {
		log.Fatalf("Read after reopen returned %q err=%v", buf[:n], err)
	}
	_ = s.Close(ctx, fd)
	log.Printf("PASS: reopen read back %d bytes", n)

	racePath := dir + "/race.txt"
	var wg sync.WaitGroup
	errCh := make(chan error, *workers)
	inodes := make(chan uint64, *workers)
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			fd, err := s.OpenFile(ctx, racePath, os.O_CREATE|os.O_RDWR, 0)
			if err != nil {
				errCh <- fmt.Errorf("worker %d: %w", worker, err)
				return
			}
			defer s.Close(ctx, fd)
			st, err := s.Fstat(ctx, fd)
			if err != nil {
				errCh <- fmt.Errorf("worker %d: fstat fd=%d: %w", worker, fd, err)
				return
			}
			inodes <- st.Ino
		}(i)
	}
	wg.Wait()
	close(errCh)
	close(inodes)
	for err := range errCh {
		log.Fatalf("Open race failed: %v", err)
	}
	var first uint64
	for ino := range inodes {
		if first == 0 {
			first = ino
		} else if ino != first {
			log.Fatalf("Open race created distinct inodes %d and %d", first, ino)
		}
	}
	log.Printf("PASS: %d concurrent O_CREATE opens resolved to inode %d", *workers, first)

	names := 0
	for _, err := range s.ReadDir(ctx, dir) {
		if err != nil {
			log.Fatalf("ReadDir %s failed: %v", dir, err)
		}
		names++
	}
	if names != 2 {
		log.Fatalf("ReadDir %s returned %d entries, want 2", dir, names)
	}
	log.Printf("PASS: ReadDir %s", dir)

	for _, p := range []string{path, racePath} {
		if err := s.Unlink(ctx, p); err != nil {
			log.Fatalf("Unlink %s failed: %v", p, err)
		}
	}
	if err := s.Rmdir(ctx, dir); err != nil {
		log.Fatalf("Rmdir %s failed: %v", dir, err)
	}
	if _, err := s.Stat(ctx, dir); !errors.Is(err, chfslib.ErrNotFound) {
		log.Fatalf("Stat after Rmdir returned %v, want not found", err)
	}
	log.Printf("Smoke test complete. target=%s open=%d", *server, s.OpenHandles())
}
