package simple

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	cs "github.com/AnishMulay/chfs/internal/chunk_service"
	fsvc "github.com/AnishMulay/chfs/internal/file_service"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/metrics"
	pms "github.com/AnishMulay/chfs/internal/metadata_service"
	"github.com/google/uuid"
)

type SimpleFileService struct {
	ms          pms.MetadataService
	cs          cs.ChunkService
	ls          log_service.LogService
	chunkSize   int64
	maxFileSize int64

	// Per-inode locks serialize read-modify-write of a file's chunks. An
	// entry lives only while some request holds it.
	locksMu sync.Mutex
	locks   map[string]*inodeLock
}

type inodeLock struct {
	sync.RWMutex
	refs int
}

func NewSimpleFileService(
	ms pms.MetadataService,
	chunks cs.ChunkService,
	ls log_service.LogService,
) *SimpleFileService {
	return &SimpleFileService{
		ms:    ms,
		cs:    chunks,
		ls:    ls,
		locks: make(map[string]*inodeLock),
	}
}

// --- Lifecycle ---

func (s *SimpleFileService) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting simple file service"})

	if err := s.ms.Start(); err != nil {
		return err
	}

	info, err := s.ms.GetFsInfo(context.Background())
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to fetch FS info during startup",
			Metadata: map[string]any{"error": err.Error()},
		})
		return err
	}
	s.chunkSize = info.ChunkSize
	s.maxFileSize = info.MaxFileSize
	s.ls.Info(log_service.LogEvent{
		Message:  "Configured file service",
		Metadata: map[string]any{"chunkSize": s.chunkSize, "maxFileSize": s.maxFileSize},
	})
	return nil
}

func (s *SimpleFileService) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping simple file service"})
	return s.ms.Stop()
}

// --- Helpers ---

func (s *SimpleFileService) acquireLock(inodeID string) *inodeLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[inodeID]
	if !ok {
		l = &inodeLock{}
		s.locks[inodeID] = l
	}
	l.refs++
	return l
}

func (s *SimpleFileService) releaseLock(inodeID string, l *inodeLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, inodeID)
	}
}

// fits reports whether n bytes at offset stay within the maximum file size.
func (s *SimpleFileService) fits(offset, n int64) bool {
	return offset <= s.maxFileSize-n
}

// splitPath cleans an absolute path into its parent directory and leaf.
// The root has an empty leaf.
func splitPath(p string) (string, string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", "", pms.ErrInvalid
	}
	clean := path.Clean(p)
	if clean == "/" {
		return "/", "", nil
	}
	return path.Dir(clean), path.Base(clean), nil
}

func (s *SimpleFileService) resolveParent(ctx context.Context, p string) (string, string, error) {
	parent, name, err := splitPath(p)
	if err != nil {
		return "", "", err
	}
	parentID, err := s.ms.LookupPath(ctx, parent)
	if err != nil {
		return "", "", err
	}
	return parentID, name, nil
}

// collect deletes chunks that are no longer referenced by any inode.
func (s *SimpleFileService) collect(ctx context.Context, chunkIDs []string) {
	for _, id := range chunkIDs {
		if err := s.cs.DeleteChunk(ctx, id); err != nil && !errors.Is(err, cs.ErrChunkNotFound) {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Failed to GC chunk",
				Metadata: map[string]any{"chunkID": id, "error": err.Error()},
			})
		}
	}
}

func (s *SimpleFileService) fileInode(ctx context.Context, inodeID string) (*pms.Inode, error) {
	inode, err := s.ms.GetInode(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	if inode.Type != pms.TypeFile {
		return nil, pms.ErrIsDir
	}
	return inode, nil
}

func (s *SimpleFileService) readChunk(ctx context.Context, chunkID string) ([]byte, error) {
	data, err := s.cs.ReadChunk(ctx, chunkID)
	if errors.Is(err, cs.ErrChunkNotFound) {
		return nil, nil
	}
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to read chunk",
			Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", fsvc.ErrChunkActionFailed, err)
	}
	return data, nil
}

// --- Data Operations ---

func (s *SimpleFileService) Read(ctx context.Context, inodeID string, offset int64, length int64) ([]byte, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Read request",
		Metadata: map[string]any{"inodeID": inodeID, "offset": offset, "length": length},
	})
	if offset < 0 || length < 0 {
		return nil, pms.ErrInvalid
	}

	l := s.acquireLock(inodeID)
	defer s.releaseLock(inodeID, l)
	l.RLock()
	defer l.RUnlock()

	inode, err := s.fileInode(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	if offset >= inode.FileSize || length == 0 {
		return []byte{}, nil
	}
	if length > inode.FileSize-offset {
		length = inode.FileSize - offset
	}

	// Holes and short chunks read as zeros.
	result := make([]byte, length)
	end := offset + length
	for i := offset / s.chunkSize; i <= (end-1)/s.chunkSize; i++ {
		if int(i) >= len(inode.ChunkList) || inode.ChunkList[i] == "" {
			continue
		}
		data, err := s.readChunk(ctx, inode.ChunkList[i])
		if err != nil {
			return nil, err
		}

		chunkStart := i * s.chunkSize
		from := max(offset, chunkStart) - chunkStart
		to := min(end, chunkStart+s.chunkSize) - chunkStart
		if from >= int64(len(data)) {
			continue
		}
		to = min(to, int64(len(data)))
		copy(result[chunkStart+from-offset:], data[from:to])
	}

	metrics.RecordRead(len(result))
	return result, nil
}

func (s *SimpleFileService) Write(ctx context.Context, inodeID string, offset int64, data []byte) (int64, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Write request",
		Metadata: map[string]any{"inodeID": inodeID, "offset": offset, "len": len(data)},
	})
	if offset < 0 {
		return 0, pms.ErrInvalid
	}
	if !s.fits(offset, int64(len(data))) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d exceeds max file size %d", pms.ErrInvalid, len(data), offset, s.maxFileSize)
	}

	l := s.acquireLock(inodeID)
	defer s.releaseLock(inodeID, l)
	l.Lock()
	defer l.Unlock()

	inode, err := s.fileInode(ctx, inodeID)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	end := offset + int64(len(data))
	chunks := append([]string(nil), inode.ChunkList...)
	for int64(len(chunks))*s.chunkSize < end {
		chunks = append(chunks, "")
	}

	for i := offset / s.chunkSize; i <= (end-1)/s.chunkSize; i++ {
		chunkStart := i * s.chunkSize
		from := max(offset, chunkStart) - chunkStart
		to := min(end, chunkStart+s.chunkSize) - chunkStart
		piece := data[chunkStart+from-offset : chunkStart+to-offset]

		// Read-modify-write unless the piece covers the whole chunk. Bytes
		// past the old EOF are never trusted.
		var existing []byte
		if chunks[i] != "" && (from != 0 || to != s.chunkSize) {
			existing, err = s.readChunk(ctx, chunks[i])
			if err != nil {
				return 0, err
			}
			valid := max(min(inode.FileSize-chunkStart, s.chunkSize), 0)
			if int64(len(existing)) > valid {
				existing = existing[:valid]
			}
		}

		buf := make([]byte, max(int64(len(existing)), to))
		copy(buf, existing)
		copy(buf[from:], piece)

		if chunks[i] == "" {
			chunks[i] = uuid.New().String()
		}
		if err := s.cs.WriteChunk(ctx, chunks[i], buf); err != nil {
			return 0, fmt.Errorf("%w: %v", fsvc.ErrChunkActionFailed, err)
		}
	}

	newSize := max(inode.FileSize, end)
	if err := s.ms.UpdateInode(ctx, inodeID, newSize, chunks, time.Now().UnixNano()); err != nil {
		return 0, fmt.Errorf("%w: %w", fsvc.ErrMetadataActionFailed, err)
	}

	metrics.RecordWrite(len(data))
	return int64(len(data)), nil
}

func (s *SimpleFileService) Truncate(ctx context.Context, inodeID string, size int64) error {
	if size < 0 {
		return pms.ErrInvalid
	}
	if !s.fits(size, 0) {
		return fmt.Errorf("%w: size %d exceeds max file size %d", pms.ErrInvalid, size, s.maxFileSize)
	}

	l := s.acquireLock(inodeID)
	defer s.releaseLock(inodeID, l)
	l.Lock()
	defer l.Unlock()

	return s.truncateLocked(ctx, inodeID, size)
}

func (s *SimpleFileService) truncateLocked(ctx context.Context, inodeID string, size int64) error {
	inode, err := s.fileInode(ctx, inodeID)
	if err != nil {
		return err
	}
	if size == inode.FileSize {
		return nil
	}

	keep := int((size + s.chunkSize - 1) / s.chunkSize)
	chunks := append([]string(nil), inode.ChunkList...)
	var dropped []string

	if size < inode.FileSize {
		if keep < len(chunks) {
			dropped = append(dropped, chunks[keep:]...)
			chunks = chunks[:keep]
		}
		// Trim the new last chunk so a later extension reads zeros.
		if tail := size % s.chunkSize; tail != 0 && keep > 0 && keep <= len(chunks) && chunks[keep-1] != "" {
			data, err := s.readChunk(ctx, chunks[keep-1])
			if err != nil {
				return err
			}
			if int64(len(data)) > tail {
				if err := s.cs.WriteChunk(ctx, chunks[keep-1], data[:tail]); err != nil {
					return fmt.Errorf("%w: %v", fsvc.ErrChunkActionFailed, err)
				}
			}
		}
	}
	if err := s.ms.UpdateInode(ctx, inodeID, size, chunks, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("%w: %w", fsvc.ErrMetadataActionFailed, err)
	}

	live := dropped[:0]
	for _, id := range dropped {
		if id != "" {
			live = append(live, id)
		}
	}
	s.collect(ctx, live)
	return nil
}

func (s *SimpleFileService) Fsync(ctx context.Context, inodeID string) error {
	if _, err := s.ms.GetAttributes(ctx, inodeID); err != nil {
		return err
	}
	return s.ms.Sync(ctx)
}

// --- Open Handles ---

func (s *SimpleFileService) Create(ctx context.Context, p string, mode, uid, gid uint32, exclusive bool) (*pms.Attributes, error) {
	return s.Open(ctx, p, fsvc.OpenFlags{Create: true, Exclusive: exclusive, Truncate: true}, mode, uid, gid)
}

func (s *SimpleFileService) Open(ctx context.Context, p string, flags fsvc.OpenFlags, mode, uid, gid uint32) (*pms.Attributes, error) {
	parentID, name, err := s.resolveParent(ctx, p)
	if err != nil {
		return nil, err
	}

	var inodeID string
	if name == "" {
		if flags.Create {
			return nil, pms.ErrIsDir
		}
		inodeID, err = s.ms.LookupPath(ctx, "/")
	} else {
		inodeID, err = s.ms.Lookup(ctx, parentID, name)
	}

	created := false
	switch {
	case err == nil && flags.Create && flags.Exclusive:
		return nil, pms.ErrAlreadyExists
	case errors.Is(err, pms.ErrNotFound) && flags.Create:
		inode, cerr := s.ms.Create(ctx, parentID, name, mode, uid, gid)
		if errors.Is(cerr, pms.ErrAlreadyExists) && !flags.Exclusive {
			inodeID, err = s.ms.Lookup(ctx, parentID, name)
			break
		}
		if cerr != nil {
			return nil, cerr
		}
		inodeID, err, created = inode.InodeID, nil, true
	}
	if err != nil {
		return nil, err
	}

	if err := s.ms.Pin(ctx, inodeID); err != nil {
		return nil, err
	}
	metrics.HandleOpened()

	if flags.Truncate && !created {
		attrs, err := s.ms.GetAttributes(ctx, inodeID)
		if err == nil && attrs.Type == pms.TypeDirectory {
			err = pms.ErrIsDir
		}
		if err == nil {
			err = s.Truncate(ctx, inodeID, 0)
		}
		if err != nil {
			_ = s.Release(ctx, inodeID)
			return nil, err
		}
	}

	s.ls.Debug(log_service.LogEvent{
		Message:  "Opened inode",
		Metadata: map[string]any{"path": p, "inodeID": inodeID, "created": created},
	})
	return s.ms.GetAttributes(ctx, inodeID)
}

func (s *SimpleFileService) Release(ctx context.Context, inodeID string) error {
	chunks, err := s.ms.Unpin(ctx, inodeID)
	if err != nil {
		return err
	}
	metrics.HandleReleased()
	s.collect(ctx, chunks)
	return nil
}

// --- Namespace Operations ---

func (s *SimpleFileService) GetAttr(ctx context.Context, inodeID string) (*pms.Attributes, error) {
	return s.ms.GetAttributes(ctx, inodeID)
}

func (s *SimpleFileService) LookupPath(ctx context.Context, p string) (string, error) {
	return s.ms.LookupPath(ctx, p)
}

func (s *SimpleFileService) StatPath(ctx context.Context, p string) (*pms.Attributes, error) {
	inodeID, err := s.ms.LookupPath(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.ms.GetAttributes(ctx, inodeID)
}

func (s *SimpleFileService) SetAttr(ctx context.Context, p string, mode *uint32, uid, gid *uint32, atime, mtime *int64) (*pms.Attributes, error) {
	inodeID, err := s.ms.LookupPath(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.ms.SetAttributes(ctx, inodeID, mode, uid, gid, atime, mtime)
}

func (s *SimpleFileService) Mkdir(ctx context.Context, p string, mode, uid, gid uint32) (*pms.Attributes, error) {
	parentID, name, err := s.resolveParent(ctx, p)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, pms.ErrAlreadyExists
	}
	inode, err := s.ms.Mkdir(ctx, parentID, name, mode, uid, gid)
	if err != nil {
		return nil, err
	}
	return pms.AttributesOf(inode), nil
}

func (s *SimpleFileService) Remove(ctx context.Context, p string) error {
	parentID, name, err := s.resolveParent(ctx, p)
	if err != nil {
		return err
	}
	if name == "" {
		return pms.ErrIsDir
	}

	chunks, err := s.ms.Remove(ctx, parentID, name)
	if err != nil {
		return err
	}
	s.collect(ctx, chunks)
	return nil
}

func (s *SimpleFileService) Rmdir(ctx context.Context, p string) error {
	parentID, name, err := s.resolveParent(ctx, p)
	if err != nil {
		return err
	}
	if name == "" {
		return pms.ErrInvalid
	}
	return s.ms.Rmdir(ctx, parentID, name)
}

func (s *SimpleFileService) Rename(ctx context.Context, srcPath, dstPath string) error {
	srcParentID, srcName, err := s.resolveParent(ctx, srcPath)
	if err != nil {
		return err
	}
	dstParentID, dstName, err := s.resolveParent(ctx, dstPath)
	if err != nil {
		return err
	}
	if srcName == "" || dstName == "" {
		return pms.ErrInvalid
	}

	chunks, err := s.ms.Rename(ctx, srcParentID, srcName, dstParentID, dstName)
	if err != nil {
		return err
	}
	s.collect(ctx, chunks)
	return nil
}

func (s *SimpleFileService) ReadDirPlus(ctx context.Context, p string, cookie int, maxEntries int) ([]pms.DirEntryPlus, int, bool, error) {
	inodeID, err := s.ms.LookupPath(ctx, p)
	if err != nil {
		return nil, 0, false, err
	}
	return s.ms.ReadDirPlus(ctx, inodeID, cookie, maxEntries)
}

func (s *SimpleFileService) GetFsStat(ctx context.Context) (*pms.FileSystemStats, error) {
	return s.ms.GetFsStat(ctx)
}

func (s *SimpleFileService) GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error) {
	return s.ms.GetFsInfo(ctx)
}

var _ fsvc.FileService = (*SimpleFileService)(nil)
