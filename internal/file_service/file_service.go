package file_service

import (
	"context"

	pms "github.com/AnishMulay/chfs/internal/metadata_service"
)

// OpenFlags are the create-time behaviors of Open.
type OpenFlags struct {
	Create    bool
	Exclusive bool
	Truncate  bool
}

// FileService is the path-addressed facade the server exposes. Data
// operations address inodes so that open handles survive unlink.
type FileService interface {
	Start() error
	Stop() error

	GetAttr(ctx context.Context, inodeID string) (*pms.Attributes, error)
	StatPath(ctx context.Context, path string) (*pms.Attributes, error)
	LookupPath(ctx context.Context, path string) (string, error)
	SetAttr(ctx context.Context, path string, mode *uint32, uid, gid *uint32, atime, mtime *int64) (*pms.Attributes, error)

	// Create truncates or creates the file at path and pins it, in one step.
	Create(ctx context.Context, path string, mode, uid, gid uint32, exclusive bool) (*pms.Attributes, error)
	// Open resolves path, applying flags, and pins the inode.
	Open(ctx context.Context, path string, flags OpenFlags, mode, uid, gid uint32) (*pms.Attributes, error)
	Release(ctx context.Context, inodeID string) error

	Read(ctx context.Context, inodeID string, offset int64, length int64) ([]byte, error)
	Write(ctx context.Context, inodeID string, offset int64, data []byte) (int64, error)
	Truncate(ctx context.Context, inodeID string, size int64) error
	Fsync(ctx context.Context, inodeID string) error

	Mkdir(ctx context.Context, path string, mode, uid, gid uint32) (*pms.Attributes, error)
	Remove(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Rename(ctx context.Context, srcPath, dstPath string) error
	ReadDirPlus(ctx context.Context, path string, cookie int, maxEntries int) ([]pms.DirEntryPlus, int, bool, error)

	GetFsStat(ctx context.Context) (*pms.FileSystemStats, error)
	GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error)
}
