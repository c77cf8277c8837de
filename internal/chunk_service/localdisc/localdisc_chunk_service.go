package localdisc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cs "github.com/AnishMulay/chfs/internal/chunk_service"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/metrics"
)

const backendName = "localdisc"

type LocalDiscChunkService struct {
	baseDir string
	ls      log_service.LogService
}

func NewLocalDiscChunkService(baseDir string, ls log_service.LogService) (*LocalDiscChunkService, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir %q: %w", baseDir, err)
	}
	return &LocalDiscChunkService{
		baseDir: baseDir,
		ls:      ls,
	}, nil
}

func (s *LocalDiscChunkService) chunkPath(chunkID string) (string, error) {
	if chunkID == "" || strings.ContainsAny(chunkID, `/\`) || chunkID == "." || chunkID == ".." {
		return "", cs.ErrInvalidChunkID
	}
	return filepath.Join(s.baseDir, chunkID+".chunk"), nil
}

// WriteChunk replaces the chunk through a temp file and rename so a reader
// never observes a torn chunk.
func (s *LocalDiscChunkService) WriteChunk(ctx context.Context, chunkID string, data []byte) error {
	start := time.Now()
	s.ls.Debug(log_service.LogEvent{
		Message:  "Writing chunk",
		Metadata: map[string]any{"chunkID": chunkID, "size": len(data)},
	})

	path, err := s.chunkPath(chunkID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.baseDir, chunkID+".*.tmp")
	if err == nil {
		_, err = tmp.Write(data)
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err == nil {
			err = os.Rename(tmp.Name(), path)
		}
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}
	metrics.RecordChunkOperation(backendName, "write", time.Since(start), err == nil)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to write chunk",
			Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
		})
		return fmt.Errorf("%w: %v", cs.ErrChunkWriteFailed, err)
	}
	return nil
}

func (s *LocalDiscChunkService) ReadChunk(ctx context.Context, chunkID string) ([]byte, error) {
	start := time.Now()
	path, err := s.chunkPath(chunkID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	metrics.RecordChunkOperation(backendName, "read", time.Since(start), err == nil)
	if errors.Is(err, os.ErrNotExist) {
		return nil, cs.ErrChunkNotFound
	}
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to read chunk",
			Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", cs.ErrChunkReadFailed, err)
	}
	return data, nil
}

func (s *LocalDiscChunkService) DeleteChunk(ctx context.Context, chunkID string) error {
	start := time.Now()
	s.ls.Debug(log_service.LogEvent{
		Message:  "Deleting chunk",
		Metadata: map[string]any{"chunkID": chunkID},
	})

	path, err := s.chunkPath(chunkID)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	metrics.RecordChunkOperation(backendName, "delete", time.Since(start), err == nil)
	if errors.Is(err, os.ErrNotExist) {
		return cs.ErrChunkNotFound
	}
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to delete chunk",
			Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
		})
		return fmt.Errorf("%w: %v", cs.ErrChunkDeleteFailed, err)
	}
	return nil
}

var _ cs.ChunkService = (*LocalDiscChunkService)(nil)
