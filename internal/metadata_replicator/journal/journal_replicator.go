package journal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AnishMulay/chfs/internal/log_service"
	pmr "github.com/AnishMulay/chfs/internal/metadata_replicator"
)

// JournalReplicator is the single-node replicator: operations are appended
// to a JSON-lines journal and then applied locally in submission order. The
// journal is replayed on Start. An empty path keeps the journal in memory only.
type JournalReplicator struct {
	mu sync.Mutex

	path       string
	syncWrites bool
	ls         log_service.LogService

	applier pmr.ApplyFunc
	file    *os.File
	writer  *bufio.Writer
	applied int64
}

type Option func(*JournalReplicator)

// WithSyncWrites fsyncs the journal after every operation.
func WithSyncWrites(enabled bool) Option {
	return func(r *JournalReplicator) { r.syncWrites = enabled }
}

func NewJournalReplicator(path string, ls log_service.LogService, opts ...Option) *JournalReplicator {
	r := &JournalReplicator{path: path, ls: ls}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *JournalReplicator) Start(applier pmr.ApplyFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applier = applier
	r.ls.Info(log_service.LogEvent{
		Message:  "Starting journal metadata replicator",
		Metadata: map[string]any{"path": r.path},
	})
	if r.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalOpenFailed, err)
	}
	if err := r.replay(); err != nil {
		return err
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalOpenFailed, err)
	}
	r.file = f
	r.writer = bufio.NewWriter(f)
	return nil
}

func (r *JournalReplicator) replay() error {
	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalOpenFailed, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	var replayed, skipped int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := r.applier(line); err != nil {
			skipped++
			r.ls.Warn(log_service.LogEvent{
				Message:  "Skipping journal entry that failed to apply",
				Metadata: map[string]any{"error": err.Error()},
			})
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalOpenFailed, err)
	}
	r.applied = int64(replayed)

	r.ls.Info(log_service.LogEvent{
		Message:  "Replayed metadata journal",
		Metadata: map[string]any{"entries": replayed, "skipped": skipped},
	})
	return nil
}

func (r *JournalReplicator) Replicate(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.applier == nil {
		return pmr.ErrNotStarted
	}
	if err := r.append(data); err != nil {
		return err
	}
	if err := r.applier(data); err != nil {
		return err
	}
	r.applied++
	return nil
}

// append makes data durable before it is applied. Entries the applier
// later rejects stay in the journal and are skipped again on replay.
func (r *JournalReplicator) append(data []byte) error {
	if r.writer == nil {
		return nil
	}
	if _, err := r.writer.Write(data); err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalWriteFailed, err)
	}
	if err := r.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalWriteFailed, err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalWriteFailed, err)
	}
	if r.syncWrites {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("%w: %v", pmr.ErrJournalSyncFailed, err)
		}
	}
	return nil
}

func (r *JournalReplicator) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalSyncFailed, err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalSyncFailed, err)
	}
	return nil
}

// Applied reports how many operations have been applied, replay included.
func (r *JournalReplicator) Applied() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}

func (r *JournalReplicator) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ls.Info(log_service.LogEvent{Message: "Stopping journal metadata replicator"})
	if r.file == nil {
		return nil
	}
	flushErr := r.writer.Flush()
	closeErr := r.file.Close()
	r.file, r.writer = nil, nil
	if flushErr != nil {
		return fmt.Errorf("%w: %v", pmr.ErrJournalWriteFailed, flushErr)
	}
	return closeErr
}

var _ pmr.MetadataReplicator = (*JournalReplicator)(nil)
