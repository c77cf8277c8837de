package metadata_service

import (
	"context"
)

type MetadataService interface {
	Start() error
	Stop() error

	GetAttributes(ctx context.Context, inodeID string) (*Attributes, error)

	// SetAttributes updates specific metadata fields; nil leaves a field as is.
	SetAttributes(ctx context.Context, inodeID string, mode *uint32, uid, gid *uint32, atime, mtime *int64) (*Attributes, error)

	Lookup(ctx context.Context, parentInodeID string, name string) (string, error)
	LookupPath(ctx context.Context, path string) (string, error)

	// GetInode returns a copy of the full inode, chunk list included.
	GetInode(ctx context.Context, inodeID string) (*Inode, error)

	// UpdateInode records a new size and chunk list after a data change.
	UpdateInode(ctx context.Context, inodeID string, newSize int64, newChunkList []string, mtime int64) error

	Create(ctx context.Context, parentInodeID string, name string, mode uint32, uid, gid uint32) (*Inode, error)
	Mkdir(ctx context.Context, parentInodeID string, name string, mode uint32, uid, gid uint32) (*Inode, error)

	// Remove unlinks a file. The returned chunk ids are no longer referenced
	// and may be deleted; a file that is still open yields none until its
	// last Unpin.
	Remove(ctx context.Context, parentInodeID string, name string) ([]string, error)
	Rmdir(ctx context.Context, parentInodeID string, name string) error

	// Rename moves an entry, replacing a compatible destination. Chunks of a
	// replaced file are returned as with Remove.
	Rename(ctx context.Context, srcParentID, srcName, dstParentID, dstName string) ([]string, error)

	// ReadDirPlus pages through a directory's children sorted by name.
	// cookie 0 starts at the first child.
	ReadDirPlus(ctx context.Context, inodeID string, cookie int, maxEntries int) ([]DirEntryPlus, int, bool, error)

	// Pin and Unpin track open handles. Unlinked inodes stay readable while
	// pinned; Unpin of the last pin on an orphan returns its chunks.
	Pin(ctx context.Context, inodeID string) error
	Unpin(ctx context.Context, inodeID string) ([]string, error)

	// Sync flushes durable metadata state.
	Sync(ctx context.Context) error

	GetFsStat(ctx context.Context) (*FileSystemStats, error)
	GetFsInfo(ctx context.Context) (*FileSystemInfo, error)
}
