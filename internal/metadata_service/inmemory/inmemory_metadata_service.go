package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AnishMulay/chfs/internal/log_service"
	pmr "github.com/AnishMulay/chfs/internal/metadata_replicator"
	pms "github.com/AnishMulay/chfs/internal/metadata_service"
	"github.com/google/uuid"
)

const (
	RootInodeID = "00000000-0000-0000-0000-000000000001"
	rootIno     = 1

	DefaultChunkSize   = 8 * 1024 * 1024
	DefaultMaxFileSize = 1 << 40
)

type InMemoryMetadataService struct {
	mu         sync.RWMutex
	inodes     map[string]*pms.Inode
	superblock *pms.Superblock
	nextIno    uint64

	// Open-handle pins and unlinked-but-open inodes.
	pins    map[string]int
	orphans map[string]struct{}

	// Chunks released by an applied op, keyed by op id, until the caller
	// that submitted the op collects them.
	reaped map[string][]string

	chunkSize   int64
	maxFileSize int64
	replicator  pmr.MetadataReplicator
	ls          log_service.LogService
}

type Option func(*InMemoryMetadataService)

func WithChunkSize(size int64) Option {
	return func(s *InMemoryMetadataService) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithMaxFileSize caps how large a regular file may grow.
func WithMaxFileSize(size int64) Option {
	return func(s *InMemoryMetadataService) {
		if size > 0 {
			s.maxFileSize = size
		}
	}
}

func NewInMemoryMetadataService(
	replicator pmr.MetadataReplicator,
	ls log_service.LogService,
	opts ...Option,
) *InMemoryMetadataService {
	s := &InMemoryMetadataService{
		inodes:     make(map[string]*pms.Inode),
		pins:       make(map[string]int),
		orphans:    make(map[string]struct{}),
		reaped:     make(map[string][]string),
		chunkSize:   DefaultChunkSize,
		maxFileSize: DefaultMaxFileSize,
		replicator:  replicator,
		ls:          ls,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Lifecycle ---

func (s *InMemoryMetadataService) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting in-memory metadata service"})

	// The root has to exist before the journal is replayed on top of it.
	s.mu.Lock()
	if s.superblock == nil {
		now := time.Now()
		s.superblock = &pms.Superblock{
			FsID:            "00000000-0000-0000-0000-000000000000",
			RootInodeID:     RootInodeID,
			ChunkSize:       s.chunkSize,
			MaxFilenameSize: 255,
			MaxFileSize:     s.maxFileSize,
			CreatedAt:       now,
		}
		s.inodes[RootInodeID] = &pms.Inode{
			InodeID:    RootInodeID,
			Ino:        rootIno,
			ParentID:   RootInodeID,
			Type:       pms.TypeDirectory,
			LinkCount:  2,
			Mode:       0o755,
			AccessTime: now,
			ModifyTime: now,
			ChangeTime: now,
			Children:   make(map[string]string),
		}
		s.nextIno = rootIno
		s.ls.Info(log_service.LogEvent{Message: "Bootstrapped root inode", Metadata: map[string]any{"id": RootInodeID}})
	}
	s.mu.Unlock()

	if err := s.replicator.Start(s.ApplyTransaction); err != nil {
		return err
	}

	// Chunks of files removed before a restart were collected at the time.
	s.mu.Lock()
	s.reaped = make(map[string][]string)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryMetadataService) Stop() error {
	return s.replicator.Stop()
}

func (s *InMemoryMetadataService) Sync(ctx context.Context) error {
	return s.replicator.Sync(ctx)
}

// --- Replication Helper ---

func (s *InMemoryMetadataService) replicateOp(ctx context.Context, op *pms.MetadataOperation) error {
	op.OpID = uuid.New().String()
	op.Timestamp = time.Now().UnixNano()

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal op: %w", err)
	}

	// Blocks until ApplyTransaction has run for this op.
	return s.replicator.Replicate(ctx, data)
}

func (s *InMemoryMetadataService) takeReaped(opID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := s.reaped[opID]
	delete(s.reaped, opID)
	return chunks
}

// --- State Machine Application ---

func (s *InMemoryMetadataService) ApplyTransaction(data []byte) error {
	var op pms.MetadataOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ls.Debug(log_service.LogEvent{
		Message:  "Applying operation",
		Metadata: map[string]any{"type": op.Type.String(), "opID": op.OpID},
	})

	switch op.Type {
	case pms.OpCreate:
		return s.applyCreate(op)
	case pms.OpRemove:
		return s.applyRemove(op)
	case pms.OpRename:
		return s.applyRename(op)
	case pms.OpSetAttr:
		return s.applySetAttr(op)
	case pms.OpUpdateInode:
		return s.applyUpdateInode(op)
	default:
		return fmt.Errorf("unknown operation type: %v", op.Type)
	}
}

// Appliers must be called with the lock held.

func (s *InMemoryMetadataService) dir(id string) (*pms.Inode, error) {
	inode, ok := s.inodes[id]
	if !ok {
		return nil, pms.ErrNotFound
	}
	if inode.Type != pms.TypeDirectory {
		return nil, pms.ErrNotDir
	}
	return inode, nil
}

func (s *InMemoryMetadataService) applyCreate(op pms.MetadataOperation) error {
	parent, err := s.dir(op.ParentID)
	if err != nil {
		return err
	}
	if _, exists := parent.Children[op.Name]; exists {
		return pms.ErrAlreadyExists
	}

	now := time.Unix(0, op.Timestamp)
	inode := &pms.Inode{
		InodeID:    op.InodeID,
		Ino:        op.Ino,
		ParentID:   op.ParentID,
		Type:       op.FileType,
		LinkCount:  1,
		Mode:       op.Mode & 0o7777,
		OwnerUID:   op.UID,
		OwnerGID:   op.GID,
		AccessTime: now,
		ModifyTime: now,
		ChangeTime: now,
	}
	if op.FileType == pms.TypeDirectory {
		inode.Children = make(map[string]string)
		inode.LinkCount = 2
		parent.LinkCount++
	} else {
		inode.ChunkList = []string{}
	}
	if op.Ino > s.nextIno {
		s.nextIno = op.Ino
	}

	s.inodes[op.InodeID] = inode
	parent.Children[op.Name] = op.InodeID
	parent.ModifyTime = now
	parent.ChangeTime = now
	return nil
}

// unlinkLocked drops one link to child. Files that are still pinned become
// orphans; everything else is deleted and its chunks reaped under opID.
func (s *InMemoryMetadataService) unlinkLocked(parent, child *pms.Inode, opID string, now time.Time) {
	if child.Type == pms.TypeDirectory {
		parent.LinkCount--
		delete(s.inodes, child.InodeID)
		return
	}

	child.LinkCount--
	child.ChangeTime = now
	if child.LinkCount > 0 {
		return
	}
	if s.pins[child.InodeID] > 0 {
		s.orphans[child.InodeID] = struct{}{}
		return
	}
	delete(s.inodes, child.InodeID)
	s.reaped[opID] = append(s.reaped[opID], liveChunks(child.ChunkList)...)
}

func (s *InMemoryMetadataService) applyRemove(op pms.MetadataOperation) error {
	parent, err := s.dir(op.ParentID)
	if err != nil {
		return err
	}
	childID, exists := parent.Children[op.Name]
	if !exists {
		return pms.ErrNotFound
	}
	child, exists := s.inodes[childID]
	if !exists {
		return pms.ErrNotFound
	}

	// FileType says which of unlink or rmdir was requested.
	switch {
	case op.FileType == pms.TypeFile && child.Type == pms.TypeDirectory:
		return pms.ErrIsDir
	case op.FileType == pms.TypeDirectory && child.Type != pms.TypeDirectory:
		return pms.ErrNotDir
	case child.Type == pms.TypeDirectory && len(child.Children) > 0:
		return pms.ErrNotEmpty
	}

	now := time.Unix(0, op.Timestamp)
	delete(parent.Children, op.Name)
	s.unlinkLocked(parent, child, op.OpID, now)
	parent.ModifyTime = now
	parent.ChangeTime = now
	return nil
}

// isAncestorLocked reports whether ancestorID is dirID or one of its parents.
func (s *InMemoryMetadataService) isAncestorLocked(ancestorID, dirID string) bool {
	for id := dirID; ; {
		if id == ancestorID {
			return true
		}
		inode, ok := s.inodes[id]
		if !ok || id == RootInodeID {
			return false
		}
		id = inode.ParentID
	}
}

func (s *InMemoryMetadataService) applyRename(op pms.MetadataOperation) error {
	srcParent, err := s.dir(op.ParentID)
	if err != nil {
		return err
	}
	dstParent, err := s.dir(op.DstParentID)
	if err != nil {
		return err
	}
	childID, ok := srcParent.Children[op.Name]
	if !ok {
		return pms.ErrNotFound
	}
	child := s.inodes[childID]

	if child.Type == pms.TypeDirectory && s.isAncestorLocked(childID, op.DstParentID) {
		return pms.ErrInvalid
	}

	now := time.Unix(0, op.Timestamp)
	if existingID, exists := dstParent.Children[op.DstName]; exists {
		if existingID == childID {
			return nil
		}
		existing := s.inodes[existingID]
		switch {
		case child.Type == pms.TypeDirectory && existing.Type != pms.TypeDirectory:
			return pms.ErrNotDir
		case child.Type != pms.TypeDirectory && existing.Type == pms.TypeDirectory:
			return pms.ErrIsDir
		case existing.Type == pms.TypeDirectory && len(existing.Children) > 0:
			return pms.ErrNotEmpty
		}
		delete(dstParent.Children, op.DstName)
		s.unlinkLocked(dstParent, existing, op.OpID, now)
	}

	delete(srcParent.Children, op.Name)
	dstParent.Children[op.DstName] = childID
	child.ParentID = op.DstParentID
	child.ChangeTime = now

	if child.Type == pms.TypeDirectory && srcParent != dstParent {
		srcParent.LinkCount--
		dstParent.LinkCount++
	}

	srcParent.ModifyTime = now
	srcParent.ChangeTime = now
	dstParent.ModifyTime = now
	dstParent.ChangeTime = now
	return nil
}

func (s *InMemoryMetadataService) applySetAttr(op pms.MetadataOperation) error {
	inode, exists := s.inodes[op.InodeID]
	if !exists {
		return pms.ErrNotFound
	}

	if op.SetMode != nil {
		inode.Mode = *op.SetMode & 0o7777
	}
	if op.SetUID != nil {
		inode.OwnerUID = *op.SetUID
	}
	if op.SetGID != nil {
		inode.OwnerGID = *op.SetGID
	}
	if op.SetATime != nil {
		inode.AccessTime = time.Unix(0, *op.SetATime)
	}
	if op.SetMTime != nil {
		inode.ModifyTime = time.Unix(0, *op.SetMTime)
	}

	inode.ChangeTime = time.Unix(0, op.Timestamp)
	return nil
}

func (s *InMemoryMetadataService) applyUpdateInode(op pms.MetadataOperation) error {
	inode, exists := s.inodes[op.InodeID]
	if !exists {
		// A write to an orphan that was reaped before a restart.
		return nil
	}
	if inode.Type != pms.TypeFile {
		return pms.ErrIsDir
	}

	// Size and chunk list always travel together; an empty list is
	// dropped by omitempty.
	if op.NewSize != nil {
		inode.FileSize = *op.NewSize
		inode.ChunkList = append([]string{}, op.NewChunkList...)
	}
	if op.SetMTime != nil {
		inode.ModifyTime = time.Unix(0, *op.SetMTime)
	}

	inode.VersionNumber++
	inode.ChangeTime = time.Unix(0, op.Timestamp)
	return nil
}

// --- Read Operations ---

func (s *InMemoryMetadataService) GetAttributes(ctx context.Context, inodeID string) (*pms.Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inode, exists := s.inodes[inodeID]
	if !exists {
		return nil, pms.ErrNotFound
	}
	return pms.AttributesOf(inode), nil
}

func (s *InMemoryMetadataService) Lookup(ctx context.Context, parentInodeID string, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, err := s.dir(parentInodeID)
	if err != nil {
		return "", err
	}
	childID, exists := parent.Children[name]
	if !exists {
		return "", pms.ErrNotFound
	}
	return childID, nil
}

func (s *InMemoryMetadataService) LookupPath(ctx context.Context, path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", pms.ErrInvalid
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	currentID := s.superblock.RootInodeID
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" || part == "." {
			continue
		}
		inode, err := s.dir(currentID)
		if err != nil {
			return "", err
		}
		if part == ".." {
			currentID = inode.ParentID
			continue
		}
		nextID, found := inode.Children[part]
		if !found {
			return "", pms.ErrNotFound
		}
		currentID = nextID
	}
	return currentID, nil
}

func (s *InMemoryMetadataService) GetInode(ctx context.Context, inodeID string) (*pms.Inode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inode, exists := s.inodes[inodeID]
	if !exists {
		return nil, pms.ErrNotFound
	}

	clone := *inode
	clone.ChunkList = append([]string(nil), inode.ChunkList...)
	if inode.Children != nil {
		clone.Children = make(map[string]string, len(inode.Children))
		for k, v := range inode.Children {
			clone.Children[k] = v
		}
	}
	return &clone, nil
}

func (s *InMemoryMetadataService) ReadDirPlus(ctx context.Context, inodeID string, cookie int, maxEntries int) ([]pms.DirEntryPlus, int, bool, error) {
	if cookie < 0 {
		return nil, 0, false, pms.ErrInvalid
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.dir(inodeID)
	if err != nil {
		return nil, 0, false, err
	}

	// Children are served in name order so a cookie is a stable position
	// as long as the directory does not change.
	names := make([]string, 0, len(dir.Children))
	for name := range dir.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	if cookie >= len(names) {
		return []pms.DirEntryPlus{}, cookie, true, nil
	}
	end := cookie + maxEntries
	if end > len(names) {
		end = len(names)
	}

	entries := make([]pms.DirEntryPlus, 0, end-cookie)
	for i := cookie; i < end; i++ {
		id := dir.Children[names[i]]
		inode, ok := s.inodes[id]
		if !ok {
			continue
		}
		entries = append(entries, pms.DirEntryPlus{
			Name:    names[i],
			InodeID: id,
			Type:    inode.Type,
			Inode:   pms.AttributesOf(inode),
			Cookie:  i + 1,
		})
	}
	return entries, end, end == len(names), nil
}

func (s *InMemoryMetadataService) GetFsStat(ctx context.Context) (*pms.FileSystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used int64
	for _, inode := range s.inodes {
		used += inode.FileSize
	}
	var open int64
	for _, n := range s.pins {
		if n > 0 {
			open++
		}
	}
	return &pms.FileSystemStats{
		TotalInodes: 1 << 32,
		UsedInodes:  int64(len(s.inodes)),
		OpenInodes:  open,
		Orphans:     int64(len(s.orphans)),
		TotalSpace:  s.superblock.MaxFileSize,
		UsedSpace:   used,
		BlockSize:   s.superblock.ChunkSize,
	}, nil
}

func (s *InMemoryMetadataService) GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &pms.FileSystemInfo{
		FsID:            s.superblock.FsID,
		MaxFileSize:     s.superblock.MaxFileSize,
		MaxFilenameSize: s.superblock.MaxFilenameSize,
		ChunkSize:       s.superblock.ChunkSize,
	}, nil
}

// --- Open Handles ---

func (s *InMemoryMetadataService) Pin(ctx context.Context, inodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.inodes[inodeID]; !exists {
		return pms.ErrNotFound
	}
	s.pins[inodeID]++
	return nil
}

func (s *InMemoryMetadataService) Unpin(ctx context.Context, inodeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.pins[inodeID]
	if n == 0 {
		return nil, pms.ErrNotPinned
	}
	if n > 1 {
		s.pins[inodeID] = n - 1
		return nil, nil
	}
	delete(s.pins, inodeID)

	if _, orphan := s.orphans[inodeID]; !orphan {
		return nil, nil
	}
	delete(s.orphans, inodeID)
	inode := s.inodes[inodeID]
	delete(s.inodes, inodeID)

	s.ls.Debug(log_service.LogEvent{
		Message:  "Reaped orphan inode",
		Metadata: map[string]any{"inodeID": inodeID},
	})
	if inode == nil {
		return nil, nil
	}
	return liveChunks(inode.ChunkList), nil
}

// --- Write Operations (Replicated) ---

func validName(name string, max int) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") || len(name) > max {
		return pms.ErrInvalid
	}
	return nil
}

func (s *InMemoryMetadataService) create(ctx context.Context, parentInodeID, name string, fileType pms.InodeType, mode, uid, gid uint32) (*pms.Inode, error) {
	s.mu.Lock()
	if err := validName(name, s.superblock.MaxFilenameSize); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	parent, err := s.dir(parentInodeID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, exists := parent.Children[name]; exists {
		s.mu.Unlock()
		return nil, pms.ErrAlreadyExists
	}
	s.nextIno++
	ino := s.nextIno
	s.mu.Unlock()

	newID := uuid.New().String()
	op := pms.MetadataOperation{
		Type:     pms.OpCreate,
		InodeID:  newID,
		Ino:      ino,
		ParentID: parentInodeID,
		Name:     name,
		FileType: fileType,
		Mode:     mode,
		UID:      uid,
		GID:      gid,
	}
	if err := s.replicateOp(ctx, &op); err != nil {
		return nil, err
	}
	return s.GetInode(ctx, newID)
}

func (s *InMemoryMetadataService) Create(ctx context.Context, parentInodeID string, name string, mode uint32, uid, gid uint32) (*pms.Inode, error) {
	return s.create(ctx, parentInodeID, name, pms.TypeFile, mode, uid, gid)
}

func (s *InMemoryMetadataService) Mkdir(ctx context.Context, parentInodeID string, name string, mode uint32, uid, gid uint32) (*pms.Inode, error) {
	return s.create(ctx, parentInodeID, name, pms.TypeDirectory, mode, uid, gid)
}

func (s *InMemoryMetadataService) Remove(ctx context.Context, parentInodeID string, name string) ([]string, error) {
	op := pms.MetadataOperation{
		Type:     pms.OpRemove,
		ParentID: parentInodeID,
		Name:     name,
		FileType: pms.TypeFile,
	}
	if err := s.replicateOp(ctx, &op); err != nil {
		return nil, err
	}
	return s.takeReaped(op.OpID), nil
}

func (s *InMemoryMetadataService) Rmdir(ctx context.Context, parentInodeID string, name string) error {
	op := pms.MetadataOperation{
		Type:     pms.OpRemove,
		ParentID: parentInodeID,
		Name:     name,
		FileType: pms.TypeDirectory,
	}
	if err := s.replicateOp(ctx, &op); err != nil {
		return err
	}
	s.takeReaped(op.OpID)
	return nil
}

func (s *InMemoryMetadataService) Rename(ctx context.Context, srcParentID, srcName, dstParentID, dstName string) ([]string, error) {
	s.mu.RLock()
	err := validName(dstName, s.superblock.MaxFilenameSize)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	op := pms.MetadataOperation{
		Type:        pms.OpRename,
		ParentID:    srcParentID,
		Name:        srcName,
		DstParentID: dstParentID,
		DstName:     dstName,
	}
	if err := s.replicateOp(ctx, &op); err != nil {
		return nil, err
	}
	return s.takeReaped(op.OpID), nil
}

func (s *InMemoryMetadataService) SetAttributes(ctx context.Context, inodeID string, mode *uint32, uid, gid *uint32, atime, mtime *int64) (*pms.Attributes, error) {
	op := pms.MetadataOperation{
		Type:     pms.OpSetAttr,
		InodeID:  inodeID,
		SetMode:  mode,
		SetUID:   uid,
		SetGID:   gid,
		SetATime: atime,
		SetMTime: mtime,
	}
	if err := s.replicateOp(ctx, &op); err != nil {
		return nil, err
	}
	return s.GetAttributes(ctx, inodeID)
}

func (s *InMemoryMetadataService) UpdateInode(ctx context.Context, inodeID string, newSize int64, newChunkList []string, mtime int64) error {
	if newChunkList == nil {
		newChunkList = []string{}
	}
	op := pms.MetadataOperation{
		Type:         pms.OpUpdateInode,
		InodeID:      inodeID,
		NewSize:      &newSize,
		NewChunkList: newChunkList,
		SetMTime:     &mtime,
	}
	return s.replicateOp(ctx, &op)
}

func liveChunks(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

var _ pms.MetadataService = (*InMemoryMetadataService)(nil)
